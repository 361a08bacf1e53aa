package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"mailpilot/mailer"
	"mailpilot/models"
	"mailpilot/utils"
)

const syncMaxResults = 100

// SyncStats summarizes one inbox sync pass.
type SyncStats struct {
	Fetched int `json:"fetched"`
	Saved   int `json:"saved"`
}

// InboxSync pulls new inbound mail from each owner's provider, normalizes it
// into InboundMessage rows and classifies it. The reply and follow-up engines
// only ever read from the local tables, never from the provider directly.
type InboxSync struct {
	db         *gorm.DB
	classifier *Classifier
	logger     *log.Logger
	provider   func(*models.User) (mailer.Provider, error)
	now        func() time.Time
}

func NewInboxSync(db *gorm.DB) *InboxSync {
	return &InboxSync{
		db:         db,
		classifier: NewClassifier(db),
		logger:     log.New(os.Stdout, "[INBOX-SYNC] ", log.LstdFlags),
		provider:   mailer.ForUser,
		now:        time.Now,
	}
}

// SyncAll syncs every active owner. Provider failures are isolated per owner.
func (s *InboxSync) SyncAll(ctx context.Context) (SyncStats, error) {
	var total SyncStats
	var users []models.User
	if err := s.db.Where("is_active = ?", true).Find(&users).Error; err != nil {
		return total, fmt.Errorf("failed to load users: %w", err)
	}

	for i := range users {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		stats, err := s.SyncUser(ctx, &users[i])
		total.Fetched += stats.Fetched
		total.Saved += stats.Saved
		if err != nil {
			utils.LogError("inbox_sync", err, map[string]interface{}{
				"user_id": users[i].ID,
			})
		}
	}
	return total, nil
}

func (s *InboxSync) SyncUser(ctx context.Context, user *models.User) (SyncStats, error) {
	var stats SyncStats

	p, err := s.provider(user)
	if err != nil {
		return stats, fmt.Errorf("failed to build provider for user %d: %w", user.ID, err)
	}

	since := s.now().Add(-24 * time.Hour)
	if user.LastInboxSyncAt != nil {
		since = *user.LastInboxSyncAt
	}

	envelopes, err := p.FetchInbound(ctx, since, syncMaxResults)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch inbound for user %d: %w", user.ID, err)
	}
	stats.Fetched = len(envelopes)

	for i := range envelopes {
		saved, err := s.saveEnvelope(user, &envelopes[i])
		if err != nil {
			utils.LogError("inbox_sync_save", err, map[string]interface{}{
				"user_id":     user.ID,
				"provider_id": envelopes[i].ProviderID,
			})
			continue
		}
		if saved {
			stats.Saved++
		}
	}

	now := s.now()
	if err := s.db.Model(user).Update("last_inbox_sync_at", now).Error; err != nil {
		return stats, fmt.Errorf("failed to record sync time for user %d: %w", user.ID, err)
	}
	if stats.Saved > 0 {
		s.logger.Printf("Synced %d new messages for user %d", stats.Saved, user.ID)
	}
	return stats, nil
}

func (s *InboxSync) saveEnvelope(user *models.User, env *mailer.Envelope) (bool, error) {
	if env.ProviderID == "" {
		return false, nil
	}
	var n int64
	s.db.Model(&models.InboundMessage{}).
		Where("user_id = ? AND provider_id = ?", user.ID, env.ProviderID).
		Count(&n)
	if n > 0 {
		return false, nil
	}

	// Mail the owner sent shows up in some IMAP setups too. Track it on the
	// sent side instead of treating it as inbound.
	if strings.EqualFold(models.ExtractAddress(env.Sender), user.Email) {
		return false, s.saveSent(user, env)
	}

	msg := models.InboundMessage{
		UserID:     user.ID,
		ProviderID: env.ProviderID,
		ThreadID:   env.ThreadID,
		Sender:     env.Sender,
		Recipient:  env.Recipient,
		Subject:    env.Subject,
		Snippet:    env.Snippet,
		BodyText:   env.BodyText,
		ReceivedAt: env.ReceivedAt,
		IsRead:     !env.Unread,
		IsUrgent:   detectUrgency(env),
		RawHeaders: env.Headers,
	}

	if categoryID, err := s.classifier.Classify(user.ID, &msg); err == nil {
		msg.CategoryID = categoryID
	}

	if err := s.db.Create(&msg).Error; err != nil {
		return false, fmt.Errorf("failed to save message %s: %w", env.ProviderID, err)
	}
	return true, nil
}

func (s *InboxSync) saveSent(user *models.User, env *mailer.Envelope) error {
	var n int64
	s.db.Model(&models.SentMessage{}).
		Where("user_id = ? AND provider_id = ?", user.ID, env.ProviderID).
		Count(&n)
	if n > 0 {
		return nil
	}
	return s.db.Create(&models.SentMessage{
		UserID:     user.ID,
		ProviderID: env.ProviderID,
		ThreadID:   env.ThreadID,
		Recipient:  env.Recipient,
		Subject:    env.Subject,
		SentAt:     env.ReceivedAt,
	}).Error
}

// detectUrgency flags messages whose subject or importance headers signal
// urgency. The urgent condition additionally requires the word in the
// subject, so a header-only flag alone never matches it.
func detectUrgency(env *mailer.Envelope) bool {
	subject := strings.ToLower(env.Subject)
	if strings.Contains(subject, "urgent") || strings.Contains(subject, "asap") {
		return true
	}
	for name, value := range env.Headers {
		switch strings.ToLower(name) {
		case "importance", "x-priority", "priority":
			v := strings.ToLower(value)
			if strings.Contains(v, "high") || strings.HasPrefix(v, "1") || strings.Contains(v, "urgent") {
				return true
			}
		}
	}
	return false
}
