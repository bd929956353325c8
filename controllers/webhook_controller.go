package controller

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"time"

	"recompose/models"
	"recompose/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookController struct {
	DB     *gorm.DB
	Secret string
	Logger *log.Logger
}

func NewWebhookController(db *gorm.DB, secret string, logger *log.Logger) *WebhookController {
	return &WebhookController{DB: db, Secret: secret, Logger: logger}
}

// EmailWebhookPayload is the provider event body. Recipients are correlated
// by the Message-ID of the outbound email the event refers to.
type EmailWebhookPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	MessageID  string    `json:"message_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Reason     string    `json:"reason,omitempty"`
}

// HandleEmailWebhook ingests bounce/reply/unsubscribe notifications from the
// email provider. Requests are authenticated with an HMAC-SHA256 signature
// over the raw body; replays of an already-processed event_id are
// acknowledged without reapplying effects.
func (wc *WebhookController) HandleEmailWebhook(c *fiber.Ctx) error {
	body := c.Body()

	if !wc.verifySignature(body, c.Get("X-Webhook-Signature")) {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid webhook signature", nil)
	}

	var payload EmailWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Malformed webhook payload", err)
	}
	if payload.EventID == "" || payload.MessageID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Missing event_id or message_id", nil)
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now()
	}

	seen, err := wc.alreadyProcessed("email", payload.EventID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check event ledger", err)
	}
	if seen {
		return c.JSON(fiber.Map{"success": true, "duplicate": true})
	}

	var row models.RecipientProgress
	err = wc.DB.Where("last_message_id = ?", payload.MessageID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Unknown message id: record the event so the provider stops retrying
		wc.Logger.Printf("email webhook %s references unknown message %s", payload.EventID, payload.MessageID)
		if err := wc.recordProcessed("email", payload.EventID, payload.EventType); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record event", err)
		}
		return c.JSON(fiber.Map{"success": true, "matched": false})
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to look up recipient", err)
	}

	switch payload.EventType {
	case "bounce":
		err = HandleBounce(wc.DB, &row, payload.OccurredAt, payload.Reason)
	case "reply":
		err = ApplyReply(wc.DB, &row, payload.OccurredAt, payload.Reason)
	case "unsubscribe":
		err = HandleUnsubscribe(wc.DB, &row, payload.OccurredAt)
	default:
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unsupported event type: "+payload.EventType, nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to apply event", err)
	}

	if err := wc.recordProcessed("email", payload.EventID, payload.EventType); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record event", err)
	}

	wc.Logger.Printf("email webhook %s applied %s to recipient %d", payload.EventID, payload.EventType, row.ID)
	return c.JSON(fiber.Map{"success": true, "matched": true})
}

func (wc *WebhookController) verifySignature(body []byte, signature string) bool {
	if wc.Secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(wc.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (wc *WebhookController) alreadyProcessed(provider, eventID string) (bool, error) {
	var count int64
	err := wc.DB.Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Count(&count).Error
	return count > 0, err
}

func (wc *WebhookController) recordProcessed(provider, eventID, eventType string) error {
	return wc.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.WebhookEvent{
		Provider:   provider,
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: time.Now(),
	}).Error
}

// HandleBounce marks the recipient bounced, flags the contact so future
// campaigns skip them, and records the event.
func HandleBounce(db *gorm.DB, row *models.RecipientProgress, occurredAt time.Time, reason string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RecipientProgress{}).
			Where("id = ? AND status NOT IN ?", row.ID, absorbedStatuses()).
			Updates(map[string]interface{}{
				"status":        models.RecipientBounced,
				"next_send_at":  nil,
				"error_message": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&models.Contact{}).Where("id = ?", row.ContactID).
			Update("is_bounced", true).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Campaign{}).Where("id = ?", row.CampaignID).
			Update("bounce_count", gorm.Expr("bounce_count + 1")).Error; err != nil {
			return err
		}
		if err := recordEvent(tx, row, models.EventBounce, occurredAt, reason); err != nil {
			return err
		}
		_, err := CompleteCampaignIfDone(tx, row.CampaignID)
		return err
	})
}

// ApplyReply marks the recipient as replied and stops the sequence for them.
// Also called by the IMAP reply worker when it matches an inbound message.
func ApplyReply(db *gorm.DB, row *models.RecipientProgress, occurredAt time.Time, meta string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RecipientProgress{}).
			Where("id = ? AND replied_at IS NULL AND status NOT IN ?", row.ID, absorbedStatuses()).
			Updates(map[string]interface{}{
				"status":       models.RecipientCompleted,
				"next_send_at": nil,
				"replied_at":   occurredAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&models.Campaign{}).Where("id = ?", row.CampaignID).
			Update("reply_count", gorm.Expr("reply_count + 1")).Error; err != nil {
			return err
		}
		if err := recordEvent(tx, row, models.EventReply, occurredAt, meta); err != nil {
			return err
		}
		_, err := CompleteCampaignIfDone(tx, row.CampaignID)
		return err
	})
}

// HandleUnsubscribe marks the contact unsubscribed and removes them from
// every active campaign owned by the same user, not just the one the event
// arrived for.
func HandleUnsubscribe(db *gorm.DB, row *models.RecipientProgress, occurredAt time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Contact{}).Where("id = ?", row.ContactID).
			Update("is_unsubscribed", true).Error; err != nil {
			return err
		}

		var contact models.Contact
		if err := tx.First(&contact, row.ContactID).Error; err != nil {
			return err
		}

		var rows []models.RecipientProgress
		if err := tx.Joins("JOIN campaigns ON campaigns.id = recipient_progresses.campaign_id").
			Where("recipient_progresses.contact_id = ? AND campaigns.user_id = ?", contact.ID, contact.UserID).
			Where("recipient_progresses.status IN ?", []models.RecipientStatus{models.RecipientPending, models.RecipientSending, models.RecipientSent}).
			Find(&rows).Error; err != nil {
			return err
		}

		absorbed := make(map[uint]bool)
		for i := range rows {
			res := tx.Model(&models.RecipientProgress{}).
				Where("id = ? AND status NOT IN ?", rows[i].ID, absorbedStatuses()).
				Updates(map[string]interface{}{
					"status":       models.RecipientUnsubscribed,
					"next_send_at": nil,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			if err := tx.Model(&models.Campaign{}).Where("id = ?", rows[i].CampaignID).
				Update("unsubscribe_count", gorm.Expr("unsubscribe_count + 1")).Error; err != nil {
				return err
			}
			absorbed[rows[i].CampaignID] = true
		}

		for campaignID := range absorbed {
			if _, err := CompleteCampaignIfDone(tx, campaignID); err != nil {
				return err
			}
		}

		// Unsubscribes live on the contact and the campaign counters; the
		// tracking ledger only carries delivery engagement events.
		return nil
	})
}

func recordEvent(tx *gorm.DB, row *models.RecipientProgress, eventType models.EventType, occurredAt time.Time, meta string) error {
	event := models.TrackingEvent{
		RecipientProgressID: row.ID,
		StepNumber:          row.CurrentStepNumber,
		EventType:           eventType,
		OccurredAt:          occurredAt,
		DedupeKey:           models.DedupeKey(row.ID, row.CurrentStepNumber, eventType, occurredAt),
		Link:                meta,
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&event).Error
}

func absorbedStatuses() []models.RecipientStatus {
	return []models.RecipientStatus{
		models.RecipientBounced,
		models.RecipientUnsubscribed,
		models.RecipientCompleted,
		models.RecipientFailed,
	}
}
