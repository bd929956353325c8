package controller

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"recompose/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func launchSteps() []models.CampaignStep {
	return []models.CampaignStep{
		{StepNumber: 1, SubjectTemplate: "hi", DelayHours: 2},
		{StepNumber: 2, SubjectTemplate: "again", DelayDays: 1},
	}
}

func TestLaunchRejectsNonDraft(t *testing.T) {
	now := time.Now()
	for _, status := range []models.CampaignStatus{
		models.CampaignActive, models.CampaignPaused, models.CampaignCompleted, models.CampaignCancelled,
	} {
		campaign := &models.Campaign{Status: status}
		err := LaunchCampaignTx(nil, campaign, launchSteps(), 5, now)
		require.Error(t, err, "%s", status)
		assert.Equal(t, status, campaign.Status, "a rejected launch must not mutate")
	}
}

func TestLaunchRejectsWithoutSteps(t *testing.T) {
	campaign := &models.Campaign{Status: models.CampaignDraft}
	err := LaunchCampaignTx(nil, campaign, nil, 5, time.Now())
	require.Error(t, err)
	assert.Equal(t, models.CampaignDraft, campaign.Status)
}

func TestLaunchRejectsWithoutRecipients(t *testing.T) {
	campaign := &models.Campaign{Status: models.CampaignDraft}
	err := LaunchCampaignTx(nil, campaign, launchSteps(), 0, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient")
	assert.Equal(t, models.CampaignDraft, campaign.Status)
}

func TestLaunchSchedulesFirstStep(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	campaign := &models.Campaign{Status: models.CampaignDraft}
	campaign.ID = 3

	mock.ExpectExec(`UPDATE "campaigns" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Step 1 carries a two hour delay from launch time
	mock.ExpectExec(`UPDATE "recipient_progresses" SET`).
		WillReturnResult(sqlmock.NewResult(0, 5))

	err := LaunchCampaignTx(db, campaign, launchSteps(), 5, now)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignActive, campaign.Status)
	require.NotNil(t, campaign.LaunchedAt)
	assert.Equal(t, now, *campaign.LaunchedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddRecipientRejectsSuppressedContact(t *testing.T) {
	db, mock := newMockDB(t)
	cc := NewCampaignController(db, testLogger())

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		user := &models.User{PlanName: "pro"}
		user.ID = 1
		c.Locals("user", user)
		return c.Next()
	})
	app.Post("/campaigns/:id/recipients", cc.AddRecipient)

	mock.ExpectQuery(`SELECT \* FROM "campaigns" WHERE \(id = \$\d+ AND user_id = \$\d+\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow(3, 1, "active"))
	mock.ExpectQuery(`SELECT \* FROM "contacts" WHERE \(id = \$\d+ AND user_id = \$\d+\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "is_unsubscribed"}).
			AddRow(7, 1, "gone@example.com", true))

	req := httptest.NewRequest("POST", "/campaigns/3/recipients", strings.NewReader(`{"contact_id":7}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}
