package controller

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"recompose/models"
	"recompose/utils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUsageReportsRewriteAndSendQuotas(t *testing.T) {
	db, mock := newMockDB(t)
	quota := utils.NewQuotaCounter(db, time.UTC)
	quota.Now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	rc := NewRewriteController(db, quota, nil, testLogger())

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		user := &models.User{PlanName: "pro"}
		user.ID = 7
		c.Locals("user", user)
		return c.Next()
	})
	app.Get("/usage", rc.GetUsage)

	mock.ExpectQuery(`SELECT \* FROM "plans" WHERE name = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "daily_rewrite_limit", "daily_send_limit"}).
			AddRow(2, "pro", 100, 2000))
	mock.ExpectQuery(`SELECT \* FROM "usage_counters" WHERE \(user_id = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "period_key", "count"}).
			AddRow(1, 7, "2025-06-01", 5))
	mock.ExpectQuery(`SELECT \* FROM "usage_counters" WHERE \(user_id = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "period_key", "count"}).
			AddRow(2, 7, "send:2025-06-01", 40))

	resp, err := app.Test(httptest.NewRequest("GET", "/usage", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Rewrite utils.QuotaState `json:"rewrite"`
		Send    utils.QuotaState `json:"send"`
	}
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, 5, payload.Rewrite.Used)
	assert.Equal(t, 95, payload.Rewrite.Remaining)
	assert.Equal(t, 40, payload.Send.Used)
	assert.Equal(t, "send:2025-06-01", payload.Send.PeriodKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}
