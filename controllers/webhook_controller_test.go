package controller

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"recompose/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func testLogger() *log.Logger {
	return log.New(os.Stdout, "TEST: ", log.LstdFlags)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	wc := &WebhookController{Secret: "shh"}
	body := []byte(`{"event_id":"e1"}`)

	assert.True(t, wc.verifySignature(body, signBody("shh", body)))
	assert.False(t, wc.verifySignature(body, signBody("wrong-secret", body)))
	assert.False(t, wc.verifySignature(body, ""))
	assert.False(t, wc.verifySignature([]byte("tampered"), signBody("shh", body)))
}

func TestVerifySignatureRequiresConfiguredSecret(t *testing.T) {
	wc := &WebhookController{Secret: ""}
	body := []byte(`{}`)
	assert.False(t, wc.verifySignature(body, signBody("", body)))
}

func webhookApp(t *testing.T) (*fiber.App, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	wc := NewWebhookController(db, "shh", testLogger())

	app := fiber.New()
	app.Post("/webhooks/email", wc.HandleEmailWebhook)
	return app, mock
}

func TestHandleEmailWebhookRejectsBadSignature(t *testing.T) {
	app, mock := webhookApp(t)

	body := []byte(`{"event_id":"e1","event_type":"bounce","message_id":"<m1@x>"}`)
	req := httptest.NewRequest("POST", "/webhooks/email", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "deadbeef")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	// No DB interaction happens before the signature check passes
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleEmailWebhookRejectsMalformedPayload(t *testing.T) {
	app, mock := webhookApp(t)

	body := []byte(`not json at all`)
	req := httptest.NewRequest("POST", "/webhooks/email", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody("shh", body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleEmailWebhookRejectsMissingIdentifiers(t *testing.T) {
	app, mock := webhookApp(t)

	body := []byte(`{"event_type":"bounce"}`)
	req := httptest.NewRequest("POST", "/webhooks/email", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody("shh", body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleEmailWebhookDuplicateIsNoOp(t *testing.T) {
	app, mock := webhookApp(t)

	// Ledger lookup finds the event already processed; nothing else runs
	mock.ExpectQuery(`SELECT count\(\*\) FROM "webhook_events" WHERE \(provider = .* AND event_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	body := []byte(`{"event_id":"e1","event_type":"bounce","message_id":"<m1@x>"}`)
	req := httptest.NewRequest("POST", "/webhooks/email", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody("shh", body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReplyEndsSequence(t *testing.T) {
	db, mock := newMockDB(t)
	row := &models.RecipientProgress{CampaignID: 2, ContactID: 3, CurrentStepNumber: 1}
	row.ID = 4
	occurredAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "recipient_progresses" SET .* WHERE \(id = \$\d+ AND replied_at IS NULL AND status NOT IN`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "campaigns" SET "reply_count"=reply_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "tracking_events" .* ON CONFLICT DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	// Other recipients are still open, so the campaign stays active
	mock.ExpectExec(`UPDATE "recipient_progresses" SET .* WHERE \(campaign_id = \$\d+ AND status = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "recipient_progresses" WHERE \(campaign_id = \$\d+ AND status IN `).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectCommit()

	require.NoError(t, ApplyReply(db, row, occurredAt, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReplySecondDeliveryIsNoOp(t *testing.T) {
	db, mock := newMockDB(t)
	row := &models.RecipientProgress{CampaignID: 2, ContactID: 3, CurrentStepNumber: 1}
	row.ID = 4

	mock.ExpectBegin()
	// replied_at already set: the guarded update touches nothing
	mock.ExpectExec(`UPDATE "recipient_progresses" SET `).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, ApplyReply(db, row, time.Now(), ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBounceFlagsContactAndCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	row := &models.RecipientProgress{CampaignID: 2, ContactID: 3, CurrentStepNumber: 2}
	row.ID = 4

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "recipient_progresses" SET .* WHERE \(id = \$\d+ AND status NOT IN`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "contacts" SET "is_bounced"=`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "campaigns" SET "bounce_count"=bounce_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "tracking_events" .* ON CONFLICT DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectExec(`UPDATE "recipient_progresses" SET .* WHERE \(campaign_id = \$\d+ AND status = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "recipient_progresses" WHERE \(campaign_id = \$\d+ AND status IN `).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	require.NoError(t, HandleBounce(db, row, time.Now(), "550 user unknown"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBounceOnLastOpenRowCompletesCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	row := &models.RecipientProgress{CampaignID: 2, ContactID: 3, CurrentStepNumber: 1}
	row.ID = 4

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "recipient_progresses" SET .* WHERE \(id = \$\d+ AND status NOT IN`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "contacts" SET "is_bounced"=`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "campaigns" SET "bounce_count"=bounce_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "tracking_events" .* ON CONFLICT DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(13))
	// The bounced row was the last open one: the campaign closes without
	// waiting for another dispatcher tick
	mock.ExpectExec(`UPDATE "recipient_progresses" SET .* WHERE \(campaign_id = \$\d+ AND status = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "recipient_progresses" WHERE \(campaign_id = \$\d+ AND status IN `).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE "campaigns" SET .* WHERE \(id = \$\d+ AND status = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, HandleBounce(db, row, time.Now(), "550 user unknown"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleEmailWebhookUnsupportedEventType(t *testing.T) {
	app, mock := webhookApp(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "webhook_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT \* FROM "recipient_progresses" WHERE last_message_id = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "contact_id", "current_step_number"}).
			AddRow(4, 2, 3, 1))

	body := []byte(`{"event_id":"e1","event_type":"delivered","message_id":"<m1@x>"}`)
	req := httptest.NewRequest("POST", "/webhooks/email", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody("shh", body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}
