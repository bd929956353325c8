package controller

import (
	"io"
	"net/http/httptest"
	"testing"

	"recompose/utils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackingApp(t *testing.T) (*fiber.App, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	tc := NewTrackingController(db, testLogger())

	app := fiber.New()
	app.Get("/track/open/:token", tc.HandleOpenTracking)
	app.Get("/track/click/:token", tc.HandleClickTracking)
	return app, mock
}

func emptyRecipientRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "campaign_id", "contact_id", "current_step_number"})
}

func TestOpenTrackingUnknownTokenStillServesPixel(t *testing.T) {
	app, mock := trackingApp(t)

	mock.ExpectQuery(`SELECT \* FROM "recipient_progresses" WHERE last_send_token = `).
		WillReturnRows(emptyRecipientRows())

	resp, err := app.Test(httptest.NewRequest("GET", "/track/open/unknown-token", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, utils.TransparentPixel(), body)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickTrackingUnknownTokenStillRedirects(t *testing.T) {
	app, mock := trackingApp(t)

	mock.ExpectQuery(`SELECT \* FROM "recipient_progresses" WHERE last_send_token = `).
		WillReturnRows(emptyRecipientRows())

	resp, err := app.Test(httptest.NewRequest("GET", "/track/click/unknown-token?to=https%3A%2F%2Fdest.example.com%2Fpage", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://dest.example.com/page", resp.Header.Get("Location"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickTrackingRequiresDestination(t *testing.T) {
	app, mock := trackingApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/track/click/tok-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenTrackingFirstOfDayBumpsAggregates(t *testing.T) {
	app, mock := trackingApp(t)

	mock.ExpectQuery(`SELECT \* FROM "recipient_progresses" WHERE last_send_token = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "contact_id", "current_step_number"}).
			AddRow(4, 2, 3, 1))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "tracking_events" .* ON CONFLICT DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectExec(`UPDATE "recipient_progresses" SET "open_count"=open_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "campaigns" SET "unique_open_count"=unique_open_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := app.Test(httptest.NewRequest("GET", "/track/open/tok-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenTrackingRepeatOfDayLeavesAggregates(t *testing.T) {
	app, mock := trackingApp(t)

	mock.ExpectQuery(`SELECT \* FROM "recipient_progresses" WHERE last_send_token = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "contact_id", "current_step_number"}).
			AddRow(4, 2, 3, 1))
	mock.ExpectBegin()
	// Dedupe key collision: the conditional insert touches nothing
	mock.ExpectQuery(`INSERT INTO "tracking_events" .* ON CONFLICT DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	resp, err := app.Test(httptest.NewRequest("GET", "/track/open/tok-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}
