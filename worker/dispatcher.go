package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"recompose/config"
	controller "recompose/controllers"
	"recompose/models"
	"recompose/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dispatcher turns due recipient rows into sent messages, exactly once per
// (recipient, step). Multiple instances may run concurrently across
// processes; mutual exclusion rests entirely on the atomic row claim in
// claimRecipient.
type Dispatcher struct {
	DB       *gorm.DB
	Mailer   utils.Mailer
	Cfg      config.DispatcherConfig
	BaseURL  string
	From     string
	FromName string
	Logger   *log.Logger

	// SendQuota enforces the per-user daily send cap; nil disables the cap.
	SendQuota *utils.QuotaCounter

	// Now is injected so scheduling decisions are deterministically testable.
	Now func() time.Time
}

func NewDispatcher(db *gorm.DB, mailer utils.Mailer, cfg *config.Config, logger *log.Logger) *Dispatcher {
	quota := utils.NewQuotaCounter(db, cfg.QuotaLocation())
	quota.Scope = "send"
	return &Dispatcher{
		DB:        db,
		Mailer:    mailer,
		Cfg:       cfg.Dispatcher,
		BaseURL:   cfg.TrackingBaseURL,
		From:      cfg.FromEmail,
		FromName:  cfg.FromName,
		Logger:    logger,
		SendQuota: quota,
		Now:       time.Now,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.Logger.Println("Dispatcher started")

	ticker := time.NewTicker(d.Cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Logger.Println("Dispatcher shutting down...")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick performs one claim-and-process cycle over a bounded batch of due
// rows. One recipient's failure never aborts the batch.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.Now()

	d.reclaimStale(now)
	d.failCancelledRows()

	ids, err := d.dueRecipientIDs(now)
	if err != nil {
		d.Logger.Printf("Error selecting due recipients: %v", err)
		return
	}

	touched := make(map[uint]bool)
	for _, id := range ids {
		claimed, campaignID, err := d.claimRecipient(id)
		if err != nil {
			d.Logger.Printf("Error claiming recipient %d: %v", id, err)
			continue
		}
		if !claimed {
			// Another dispatcher instance won the row
			continue
		}
		touched[campaignID] = true
		d.processClaimed(ctx, id)
	}

	for campaignID := range touched {
		if err := d.sweepCampaign(campaignID); err != nil {
			d.Logger.Printf("Error sweeping campaign %d: %v", campaignID, err)
		}
	}
}

// dueRecipientIDs selects the batch to attempt: pending rows past their due
// time whose campaign is active, earliest due first, ties broken by id.
func (d *Dispatcher) dueRecipientIDs(now time.Time) ([]uint, error) {
	var ids []uint
	err := d.DB.Model(&models.RecipientProgress{}).
		Joins("JOIN campaigns ON campaigns.id = recipient_progresses.campaign_id").
		Where("recipient_progresses.status = ? AND recipient_progresses.next_send_at <= ? AND campaigns.status = ?",
			models.RecipientPending, now, models.CampaignActive).
		Order("recipient_progresses.next_send_at ASC, recipient_progresses.id ASC").
		Limit(d.Cfg.BatchSize).
		Pluck("recipient_progresses.id", &ids).Error
	return ids, err
}

// claimRecipient flips one pending row to the in-flight marker with a
// conditional update. Zero rows affected means another instance already
// holds the row. The attempt counter rides along with the claim so
// consecutive transient failures are counted even across crashes.
func (d *Dispatcher) claimRecipient(id uint) (bool, uint, error) {
	res := d.DB.Model(&models.RecipientProgress{}).
		Where("id = ? AND status = ?", id, models.RecipientPending).
		Updates(map[string]interface{}{
			"status":        models.RecipientSending,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if res.Error != nil {
		return false, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return false, 0, nil
	}

	var row models.RecipientProgress
	if err := d.DB.Select("campaign_id").First(&row, id).Error; err != nil {
		return false, 0, err
	}
	return true, row.CampaignID, nil
}

func (d *Dispatcher) processClaimed(ctx context.Context, id uint) {
	var row models.RecipientProgress
	if err := d.DB.Preload("Contact").First(&row, id).Error; err != nil {
		d.Logger.Printf("Claimed recipient %d not found: %v", id, err)
		return
	}

	var steps []models.CampaignStep
	if err := d.DB.Where("campaign_id = ?", row.CampaignID).Order("step_number ASC").Find(&steps).Error; err != nil {
		d.Logger.Printf("Error loading steps for campaign %d: %v", row.CampaignID, err)
		d.writeBack(row.ID, failureUpdates(&row, utils.TransientError(err), d.Now(), d.Cfg.MaxSendAttempts, d.Cfg.RetryBackoff))
		return
	}

	targetStep := row.CurrentStepNumber + 1
	step := models.StepByNumber(steps, targetStep)
	if step == nil {
		// Nothing left to send; settle the row
		d.writeBack(row.ID, map[string]interface{}{"status": models.RecipientSent, "next_send_at": nil})
		return
	}

	if deferred, err := d.consumeSendQuota(&row); err != nil {
		d.Logger.Printf("Error checking send quota for recipient %d: %v", row.ID, err)
		d.writeBack(row.ID, failureUpdates(&row, utils.TransientError(err), d.Now(), d.Cfg.MaxSendAttempts, d.Cfg.RetryBackoff))
		return
	} else if deferred {
		return
	}

	fields := row.Contact.TemplateFields()
	subject := utils.MergeTemplate(step.SubjectTemplate, fields)
	body := utils.MergeTemplate(step.BodyTemplate, fields)

	token := models.NewTrackingToken()
	body = utils.InjectTracking(body, d.BaseURL, token)

	idempotencyKey := fmt.Sprintf("rp-%d-step-%d", row.ID, targetStep)

	sendCtx, cancel := context.WithTimeout(ctx, d.Cfg.SendTimeout)
	defer cancel()

	messageID, err := d.Mailer.Send(sendCtx, utils.Email{
		From:     d.From,
		FromName: d.FromName,
		To:       row.Contact.Email,
		Subject:  subject,
		Body:     body,
	}, idempotencyKey)

	sentAt := d.Now()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"recipient_id": row.ID,
			"campaign_id":  row.CampaignID,
			"step":         targetStep,
			"attempt":      row.AttemptCount,
			"permanent":    utils.IsPermanent(err),
		}).Warnf("send failed: %v", err)
		d.writeBack(row.ID, failureUpdates(&row, err, sentAt, d.Cfg.MaxSendAttempts, d.Cfg.RetryBackoff))
		return
	}

	d.writeBack(row.ID, successUpdates(&row, steps, sentAt, token, messageID))

	if err := d.DB.Model(&models.Campaign{}).Where("id = ?", row.CampaignID).
		Update("sent_count", gorm.Expr("sent_count + 1")).Error; err != nil {
		d.Logger.Printf("Error updating campaign %d sent count: %v", row.CampaignID, err)
	}

	logrus.WithFields(logrus.Fields{
		"recipient_id": row.ID,
		"campaign_id":  row.CampaignID,
		"step":         targetStep,
		"message_id":   messageID,
	}).Info("step sent")
}

// consumeSendQuota spends one unit of the campaign owner's daily send cap.
// A quota hit is not a failure: the row goes back to pending, due at the
// next period boundary, and the attempt taken by the claim is returned.
func (d *Dispatcher) consumeSendQuota(row *models.RecipientProgress) (deferred bool, err error) {
	if d.SendQuota == nil {
		return false, nil
	}

	var campaign models.Campaign
	if err := d.DB.First(&campaign, row.CampaignID).Error; err != nil {
		return false, err
	}
	var user models.User
	if err := d.DB.First(&user, campaign.UserID).Error; err != nil {
		return false, err
	}
	var plan models.Plan
	if err := d.DB.Where("name = ?", user.PlanName).First(&plan).Error; err != nil {
		return false, err
	}

	state, err := d.SendQuota.TryConsume(user.ID, plan.DailySendLimit)
	if err != nil {
		return false, err
	}
	if !state.Exceeded {
		return false, nil
	}

	resumeAt := d.SendQuota.NextReset()
	d.writeBack(row.ID, map[string]interface{}{
		"status":        models.RecipientPending,
		"next_send_at":  resumeAt,
		"attempt_count": gorm.Expr("attempt_count - 1"),
	})
	logrus.WithFields(logrus.Fields{
		"recipient_id": row.ID,
		"campaign_id":  row.CampaignID,
		"user_id":      user.ID,
		"resume_at":    resumeAt,
	}).Info("daily send limit reached, deferring")
	return true, nil
}

// writeBack settles a claimed row. The condition on the in-flight marker
// keeps webhook-applied absorbing states (bounced, unsubscribed) from being
// overwritten by a slower dispatcher.
func (d *Dispatcher) writeBack(id uint, updates map[string]interface{}) {
	res := d.DB.Model(&models.RecipientProgress{}).
		Where("id = ? AND status = ?", id, models.RecipientSending).
		Updates(updates)
	if res.Error != nil {
		d.Logger.Printf("Error writing back recipient %d: %v", id, res.Error)
	}
}

// successUpdates computes the row state after a durable send: advance to the
// next step with its delay applied from the send time, or settle the final
// step as sent.
func successUpdates(row *models.RecipientProgress, steps []models.CampaignStep, sentAt time.Time, token, messageID string) map[string]interface{} {
	targetStep := row.CurrentStepNumber + 1
	updates := map[string]interface{}{
		"current_step_number": targetStep,
		"last_sent_at":        sentAt,
		"last_send_token":     token,
		"last_message_id":     messageID,
		"attempt_count":       0,
		"error_message":       "",
	}

	if next := models.StepByNumber(steps, targetStep+1); next != nil {
		updates["status"] = models.RecipientPending
		updates["next_send_at"] = sentAt.Add(next.Delay())
	} else {
		updates["status"] = models.RecipientSent
		updates["next_send_at"] = nil
	}
	return updates
}

// failureUpdates computes the row state after a failed send. Transient
// failures revert to pending with a short backoff until the attempt bound is
// hit; permanent failures (and exhausted retries) fail the row for good.
func failureUpdates(row *models.RecipientProgress, sendErr error, now time.Time, maxAttempts int, backoff time.Duration) map[string]interface{} {
	if utils.IsPermanent(sendErr) || row.AttemptCount >= maxAttempts {
		return map[string]interface{}{
			"status":        models.RecipientFailed,
			"next_send_at":  nil,
			"error_message": sendErr.Error(),
		}
	}
	return map[string]interface{}{
		"status":        models.RecipientPending,
		"next_send_at":  now.Add(backoff),
		"error_message": sendErr.Error(),
	}
}

// reclaimStale returns rows stuck in the in-flight marker to pending. A
// claim only outlives its tick when the dispatcher died between claim and
// write-back; the attempt taken by the claim stays counted.
func (d *Dispatcher) reclaimStale(now time.Time) {
	if d.Cfg.StaleClaimAfter <= 0 {
		return
	}
	res := d.DB.Model(&models.RecipientProgress{}).
		Where("status = ? AND updated_at < ?", models.RecipientSending, now.Add(-d.Cfg.StaleClaimAfter)).
		Update("status", models.RecipientPending)
	if res.Error != nil {
		d.Logger.Printf("Error reclaiming stale claims: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		d.Logger.Printf("Reclaimed %d stale in-flight rows", res.RowsAffected)
	}
}

// failCancelledRows settles pending rows of cancelled campaigns. The cancel
// handler fails everything pending at cancel time, but a row that was
// in-flight during the cancel is written back to pending afterwards and
// would otherwise sit there forever.
func (d *Dispatcher) failCancelledRows() {
	res := d.DB.Model(&models.RecipientProgress{}).
		Where("status = ? AND campaign_id IN (?)", models.RecipientPending,
			d.DB.Model(&models.Campaign{}).Select("id").Where("status = ?", models.CampaignCancelled)).
		Updates(map[string]interface{}{
			"status":        models.RecipientFailed,
			"next_send_at":  nil,
			"error_message": "campaign cancelled",
		})
	if res.Error != nil {
		d.Logger.Printf("Error settling rows of cancelled campaigns: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		d.Logger.Printf("Failed %d leftover rows of cancelled campaigns", res.RowsAffected)
	}
}

// sweepCampaign settles a campaign after its rows were touched this tick.
func (d *Dispatcher) sweepCampaign(campaignID uint) error {
	completed, err := controller.CompleteCampaignIfDone(d.DB, campaignID)
	if err != nil {
		return err
	}
	if completed {
		d.Logger.Printf("Campaign %d completed", campaignID)
	}
	return nil
}
