package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeKeyBucketsByUTCDay(t *testing.T) {
	morning := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	nextDay := time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, "42:2:open:2025-06-01", DedupeKey(42, 2, EventOpen, morning))
	assert.Equal(t, DedupeKey(42, 2, EventOpen, morning), DedupeKey(42, 2, EventOpen, evening))
	assert.NotEqual(t, DedupeKey(42, 2, EventOpen, morning), DedupeKey(42, 2, EventOpen, nextDay))
}

func TestDedupeKeySeparatesDimensions(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	base := DedupeKey(1, 1, EventOpen, at)
	assert.NotEqual(t, base, DedupeKey(2, 1, EventOpen, at), "different recipients")
	assert.NotEqual(t, base, DedupeKey(1, 2, EventOpen, at), "different steps")
	assert.NotEqual(t, base, DedupeKey(1, 1, EventClick, at), "different event types")
}

func TestDedupeKeyNormalizesToUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 23:00 in New York is already the next day in UTC
	local := time.Date(2025, 6, 1, 23, 0, 0, 0, loc)
	assert.Equal(t, "7:1:click:2025-06-02", DedupeKey(7, 1, EventClick, local))
}

func TestPeriodKeyUsesReferenceTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 03:00 UTC on June 2 is still June 1 in New York
	at := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-02", PeriodKey(at, time.UTC))
	assert.Equal(t, "2025-06-01", PeriodKey(at, ny))
}

func TestPeriodKeyRollsAtLocalMidnight(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	before := time.Date(2025, 6, 2, 3, 59, 0, 0, time.UTC) // 23:59 NY June 1
	after := time.Date(2025, 6, 2, 4, 1, 0, 0, time.UTC)   // 00:01 NY June 2
	assert.NotEqual(t, PeriodKey(before, ny), PeriodKey(after, ny))
}
