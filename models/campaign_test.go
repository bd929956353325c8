package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    CampaignStatus
		to      CampaignStatus
		allowed bool
	}{
		{"draft launches", CampaignDraft, CampaignActive, true},
		{"draft cancels", CampaignDraft, CampaignCancelled, true},
		{"draft cannot pause", CampaignDraft, CampaignPaused, false},
		{"draft cannot complete", CampaignDraft, CampaignCompleted, false},
		{"active pauses", CampaignActive, CampaignPaused, true},
		{"active completes", CampaignActive, CampaignCompleted, true},
		{"active cancels", CampaignActive, CampaignCancelled, true},
		{"active cannot relaunch", CampaignActive, CampaignDraft, false},
		{"paused resumes", CampaignPaused, CampaignActive, true},
		{"paused cancels", CampaignPaused, CampaignCancelled, true},
		{"paused cannot complete", CampaignPaused, CampaignCompleted, false},
		{"completed is terminal", CampaignCompleted, CampaignActive, false},
		{"completed cannot cancel", CampaignCompleted, CampaignCancelled, false},
		{"cancelled is terminal", CampaignCancelled, CampaignActive, false},
		{"cancelled cannot complete", CampaignCancelled, CampaignCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Campaign{Status: tt.from}
			assert.Equal(t, tt.allowed, c.CanTransition(tt.to))
		})
	}
}

func TestTransitionRejectsWithoutMutating(t *testing.T) {
	c := Campaign{Status: CampaignCompleted}
	err := c.Transition(CampaignActive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, CampaignCompleted, c.Status)
}

func TestTransitionMoves(t *testing.T) {
	c := Campaign{Status: CampaignDraft}
	require.NoError(t, c.Transition(CampaignActive))
	assert.Equal(t, CampaignActive, c.Status)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, CampaignCompleted.IsTerminal())
	assert.True(t, CampaignCancelled.IsTerminal())
	assert.False(t, CampaignDraft.IsTerminal())
	assert.False(t, CampaignActive.IsTerminal())
	assert.False(t, CampaignPaused.IsTerminal())
}

func TestCanEditStepsOnlyInDraft(t *testing.T) {
	for _, status := range []CampaignStatus{CampaignActive, CampaignPaused, CampaignCompleted, CampaignCancelled} {
		c := Campaign{Status: status}
		assert.False(t, c.CanEditSteps(), "steps must be frozen in %s", status)
	}
	c := Campaign{Status: CampaignDraft}
	assert.True(t, c.CanEditSteps())
}

func TestValidateSteps(t *testing.T) {
	step := func(n, days, hours int) CampaignStep {
		return CampaignStep{StepNumber: n, DelayDays: days, DelayHours: hours}
	}

	tests := []struct {
		name    string
		steps   []CampaignStep
		wantErr bool
	}{
		{"single step", []CampaignStep{step(1, 0, 0)}, false},
		{"sequence", []CampaignStep{step(1, 0, 0), step(2, 3, 0), step(3, 0, 12)}, false},
		{"empty", nil, true},
		{"starts at two", []CampaignStep{step(2, 0, 0)}, true},
		{"gap", []CampaignStep{step(1, 0, 0), step(3, 0, 0)}, true},
		{"duplicate", []CampaignStep{step(1, 0, 0), step(1, 0, 0)}, true},
		{"negative delay", []CampaignStep{step(1, -1, 0)}, true},
		{"hours out of range", []CampaignStep{step(1, 0, 24)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSteps(tt.steps)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidState))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStepDelay(t *testing.T) {
	s := CampaignStep{DelayDays: 2, DelayHours: 3}
	assert.Equal(t, 51*time.Hour, s.Delay())

	immediate := CampaignStep{}
	assert.Equal(t, time.Duration(0), immediate.Delay())
}

func TestStepByNumber(t *testing.T) {
	steps := []CampaignStep{
		{StepNumber: 1, SubjectTemplate: "first"},
		{StepNumber: 2, SubjectTemplate: "second"},
	}
	require.NotNil(t, StepByNumber(steps, 2))
	assert.Equal(t, "second", StepByNumber(steps, 2).SubjectTemplate)
	assert.Nil(t, StepByNumber(steps, 3))
}

func TestRecipientStatusIsAbsorbing(t *testing.T) {
	absorbing := []RecipientStatus{RecipientBounced, RecipientUnsubscribed, RecipientCompleted, RecipientFailed}
	for _, s := range absorbing {
		assert.True(t, s.IsAbsorbing(), "%s", s)
	}
	for _, s := range []RecipientStatus{RecipientPending, RecipientSending, RecipientSent} {
		assert.False(t, s.IsAbsorbing(), "%s", s)
	}
}
