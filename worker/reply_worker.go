package worker

import (
	"context"
	"log"
	"strings"
	"time"

	"recompose/config"
	controller "recompose/controllers"
	"recompose/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"gorm.io/gorm"
)

// replyScanWindow bounds how many recent inbox messages one pass inspects.
const replyScanWindow = 100

// ReplyWorker periodically scans the configured IMAP inbox for replies to
// campaign sends. A reply ends the recipient's sequence through the same
// path the webhook uses, so both detection channels stay consistent.
type ReplyWorker struct {
	DB       *gorm.DB
	Cfg      config.IMAPConfig
	Interval time.Duration
	Logger   *log.Logger
}

func NewReplyWorker(db *gorm.DB, cfg config.IMAPConfig, logger *log.Logger) *ReplyWorker {
	return &ReplyWorker{
		DB:       db,
		Cfg:      cfg,
		Interval: 5 * time.Minute,
		Logger:   logger,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	if !rw.Cfg.Enabled {
		rw.Logger.Println("Reply worker disabled (IMAP not configured)")
		return
	}
	rw.Logger.Println("Reply worker started")

	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Println("Reply worker shutting down...")
			return
		case <-ticker.C:
			if err := rw.checkReplies(); err != nil {
				rw.Logger.Printf("Reply scan failed: %v", err)
			}
		}
	}
}

func (rw *ReplyWorker) checkReplies() error {
	c, err := client.DialTLS(rw.Cfg.Address, nil)
	if err != nil {
		return err
	}
	defer c.Logout()

	if err := c.Login(rw.Cfg.Username, rw.Cfg.Password); err != nil {
		return err
	}

	mbox, err := c.Select(rw.Cfg.Mailbox, true)
	if err != nil {
		return err
	}
	if mbox.Messages == 0 {
		return nil
	}

	from := uint32(1)
	if mbox.Messages > replyScanWindow {
		from = mbox.Messages - replyScanWindow + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}

	messages := make(chan *imap.Message, replyScanWindow)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope}, messages)
	}()

	for msg := range messages {
		rw.handleMessage(msg, section)
	}
	return <-done
}

func (rw *ReplyWorker) handleMessage(msg *imap.Message, section *imap.BodySectionName) {
	body := msg.GetBody(section)
	if body == nil {
		return
	}

	parsed, err := message.Read(body)
	if err != nil {
		return
	}

	// A reply names the original send in In-Reply-To or References
	candidates := parsed.Header.Get("In-Reply-To") + " " + parsed.Header.Get("References")
	for _, ref := range strings.Fields(candidates) {
		var row models.RecipientProgress
		if err := rw.DB.Where("last_message_id = ?", ref).First(&row).Error; err != nil {
			continue
		}

		occurredAt := time.Now()
		if msg.Envelope != nil && !msg.Envelope.Date.IsZero() {
			occurredAt = msg.Envelope.Date
		}
		if err := controller.ApplyReply(rw.DB, &row, occurredAt, ""); err != nil {
			rw.Logger.Printf("Error recording reply for recipient %d: %v", row.ID, err)
		} else {
			rw.Logger.Printf("Reply detected for recipient %d (campaign %d)", row.ID, row.CampaignID)
		}
		return
	}
}
