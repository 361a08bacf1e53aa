package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailpilot/config"
	"mailpilot/mailer"
	"mailpilot/models"
	"mailpilot/utils"
)

const followUpBatchSize = 200

// FollowUpStats summarizes one creation or dispatch pass.
type FollowUpStats struct {
	Created   int `json:"created"`
	Sent      int `json:"sent"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (s *FollowUpStats) add(o FollowUpStats) {
	s.Created += o.Created
	s.Sent += o.Sent
	s.Completed += o.Completed
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// FollowUpEngine tracks the owner's sent messages and drives no-reply
// follow-up lineages. Creation and dispatch are separate passes so a crash
// between them never loses or duplicates a step.
type FollowUpEngine struct {
	db       *gorm.DB
	logger   *log.Logger
	provider func(*models.User) (mailer.Provider, error)
	now      func() time.Time
}

func NewFollowUpEngine(db *gorm.DB) *FollowUpEngine {
	return &FollowUpEngine{
		db:       db,
		logger:   log.New(os.Stdout, "[FOLLOW-UP] ", log.LstdFlags),
		provider: mailer.ForUser,
		now:      time.Now,
	}
}

// CreateFromRules scans recent sent messages and opens step-one follow-ups
// for every active rule whose delay has elapsed without a reply.
func (e *FollowUpEngine) CreateFromRules(ctx context.Context) (FollowUpStats, error) {
	var total FollowUpStats
	var users []models.User
	sub := e.db.Model(&models.FollowUpRule{}).Select("user_id").Where("is_active = ?", true)
	if err := e.db.Where("is_active = ? AND id IN (?)", true, sub).Find(&users).Error; err != nil {
		return total, fmt.Errorf("failed to load users: %w", err)
	}

	for i := range users {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		stats, err := e.CreateForUser(&users[i])
		total.add(stats)
		if err != nil {
			utils.LogError("follow_up_create", err, map[string]interface{}{
				"user_id": users[i].ID,
			})
		}
	}
	return total, nil
}

// CreateForUser runs the creation pass for one owner.
func (e *FollowUpEngine) CreateForUser(user *models.User) (FollowUpStats, error) {
	var stats FollowUpStats
	now := e.now()

	var rules []models.FollowUpRule
	if err := e.db.Preload("Sequences").
		Where("user_id = ? AND is_active = ?", user.ID, true).
		Find(&rules).Error; err != nil {
		return stats, fmt.Errorf("failed to load follow-up rules: %w", err)
	}
	if len(rules) == 0 {
		return stats, nil
	}

	lookback := now.Add(-time.Duration(config.AppConfig.FollowUpLookbackHours) * time.Hour)
	var sent []models.SentMessage
	if err := e.db.
		Where("user_id = ? AND sent_at > ?", user.ID, lookback).
		Order("sent_at asc").
		Limit(followUpBatchSize).
		Find(&sent).Error; err != nil {
		return stats, fmt.Errorf("failed to load sent messages: %w", err)
	}

	tw := NewTimeWindow(userLocation(user))
	for r := range rules {
		rule := &rules[r]
		for m := range sent {
			msg := &sent[m]
			if !MatchesSent(rule.Conditions, msg) {
				continue
			}
			delay := stepDelay(rule, 1)
			if now.Before(msg.SentAt.Add(delay)) {
				continue
			}
			if e.replyReceived(user.ID, msg.ThreadID, models.ExtractAddress(msg.Recipient), msg.SentAt) {
				continue
			}
			created, err := e.openLineage(user, tw, rule, msg, delay)
			if err != nil {
				utils.LogError("follow_up_open", err, map[string]interface{}{
					"user_id": user.ID,
					"rule_id": rule.ID,
				})
				continue
			}
			if created {
				stats.Created++
			}
		}
	}
	return stats, nil
}

// openLineage inserts the step-one row. The partial unique index on
// (rule_id, message_id) where sequence_number = 1 makes repeat scans no-ops.
func (e *FollowUpEngine) openLineage(user *models.User, tw *TimeWindow, rule *models.FollowUpRule, msg *models.SentMessage, delay time.Duration) (bool, error) {
	scheduledAt := msg.SentAt.Add(delay)
	if rule.BusinessDaysOnly || rule.SendWindowStart < rule.SendWindowEnd {
		scheduledAt = tw.AdjustToWindow(scheduledAt, rule.SendWindowStart, rule.SendWindowEnd, rule.BusinessDaysOnly)
	}
	daysSince := int(scheduledAt.Sub(msg.SentAt).Hours() / 24)

	msgID := msg.ID
	fu := models.FollowUp{
		UserID:           user.ID,
		RuleID:           rule.ID,
		MessageID:        &msgID,
		ThreadID:         msg.ThreadID,
		RecipientEmail:   models.ExtractAddress(msg.Recipient),
		ScheduledAt:      scheduledAt,
		Status:           models.FollowUpPending,
		Content:          e.renderStep(rule, msg, 1, daysSince),
		SequenceNumber:   1,
		Count:            1,
		MaxCount:         rule.MaxCount,
		StopOnReply:      rule.StopOnReply,
		BusinessDaysOnly: rule.BusinessDaysOnly,
		SendWindowStart:  rule.SendWindowStart,
		SendWindowEnd:    rule.SendWindowEnd,
	}
	res := e.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&fu)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create follow-up for message %d: %w", msg.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DispatchDue sends due pending follow-ups, re-checking every guard at send
// time, and advances each lineage to its next step.
func (e *FollowUpEngine) DispatchDue(ctx context.Context) (FollowUpStats, error) {
	var stats FollowUpStats
	now := e.now()

	var due []models.FollowUp
	if err := e.db.
		Preload("Rule").Preload("Rule.Sequences").Preload("Message").
		Where("status = ? AND scheduled_at <= ?", models.FollowUpPending, now).
		Order("scheduled_at asc").
		Limit(followUpBatchSize).
		Find(&due).Error; err != nil {
		return stats, fmt.Errorf("failed to load due follow-ups: %w", err)
	}

	users := map[uint]*models.User{}
	providers := map[uint]mailer.Provider{}
	authFailed := map[uint]bool{}

	for i := range due {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		fu := &due[i]
		if authFailed[fu.UserID] {
			continue
		}

		user, ok := users[fu.UserID]
		if !ok {
			user = &models.User{}
			if err := e.db.First(user, fu.UserID).Error; err != nil {
				e.finish(fu, models.FollowUpCancelled)
				stats.Skipped++
				continue
			}
			users[fu.UserID] = user
		}

		p, ok := providers[fu.UserID]
		if !ok {
			var err error
			p, err = e.provider(user)
			if err != nil {
				authFailed[fu.UserID] = true
				utils.LogError("follow_up_provider", err, map[string]interface{}{"user_id": fu.UserID})
				continue
			}
			providers[fu.UserID] = p
		}

		if err := e.dispatchOne(ctx, p, user, fu, now, &stats); err != nil {
			if errors.Is(err, mailer.ErrAuth) {
				authFailed[fu.UserID] = true
			}
			utils.LogError("follow_up_dispatch", err, map[string]interface{}{
				"user_id":      fu.UserID,
				"follow_up_id": fu.ID,
			})
		}
	}
	return stats, nil
}

func (e *FollowUpEngine) dispatchOne(ctx context.Context, p mailer.Provider, user *models.User, fu *models.FollowUp, now time.Time, stats *FollowUpStats) error {
	// Claim the row before anything that must happen at most once. The
	// manual trigger and the periodic job are not serialized against each
	// other, so the conditional update is the mutual exclusion: the loser
	// sees zero affected rows and walks away. This also covers a
	// cancellation that landed after the batch read.
	res := e.db.Model(&models.FollowUp{}).
		Where("id = ? AND status = ?", fu.ID, models.FollowUpPending).
		Update("status", models.FollowUpProcessing)
	if res.Error != nil {
		return fmt.Errorf("failed to claim follow-up %d: %w", fu.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	fu.Status = models.FollowUpProcessing

	if !user.IsActive || fu.Rule.ID == 0 || !fu.Rule.IsActive {
		e.finish(fu, models.FollowUpCancelled)
		e.logAttempt(user, fu, models.StatusSkipped, "rule no longer active", nil)
		stats.Skipped++
		return nil
	}

	// Window gates. An out-of-window row goes back to pending and is
	// retried until the window opens.
	tw := NewTimeWindow(userLocation(user))
	if fu.BusinessDaysOnly && !tw.IsBusinessDay(now) {
		e.finish(fu, models.FollowUpPending)
		return nil
	}
	if fu.SendWindowStart < fu.SendWindowEnd && !tw.IsWithinWindow(now, fu.SendWindowStart, fu.SendWindowEnd) {
		e.finish(fu, models.FollowUpPending)
		return nil
	}

	if fu.StopOnReply {
		var since time.Time
		if fu.Message != nil {
			since = fu.Message.SentAt
		}
		if e.replyReceived(user.ID, fu.ThreadID, fu.RecipientEmail, since) {
			e.finish(fu, models.FollowUpCompleted)
			e.logAttempt(user, fu, models.StatusSkipped, "reply received", nil)
			stats.Completed++
			return nil
		}
	}

	out := &mailer.Outbound{
		To:       fu.RecipientEmail,
		Subject:  e.stepSubject(fu),
		BodyText: fu.Content,
		ThreadID: fu.ThreadID,
	}
	providerID, err := mailer.SendWithRetry(ctx, p, out)
	if err != nil {
		e.finish(fu, models.FollowUpFailed)
		e.logAttempt(user, fu, models.StatusFailed, err.Error(), nil)
		stats.Failed++
		return fmt.Errorf("failed to send follow-up %d: %w", fu.ID, err)
	}

	sentAt := e.now()
	e.db.Create(&models.SentMessage{
		UserID:     user.ID,
		ProviderID: providerID,
		ThreadID:   fu.ThreadID,
		Recipient:  fu.RecipientEmail,
		Subject:    out.Subject,
		SentAt:     sentAt,
	})
	e.logAttempt(user, fu, models.StatusSent, "", &sentAt)

	if fu.Count >= fu.MaxCount {
		e.db.Model(fu).Updates(map[string]interface{}{
			"status":  models.FollowUpCompleted,
			"sent_at": sentAt,
		})
		stats.Completed++
		e.logger.Printf("Completed follow-up lineage %d after step %d", fu.ID, fu.SequenceNumber)
		return nil
	}

	e.db.Model(fu).Updates(map[string]interface{}{
		"status":  models.FollowUpSent,
		"sent_at": sentAt,
	})
	stats.Sent++
	if err := e.advance(user, fu); err != nil {
		return fmt.Errorf("failed to advance follow-up %d: %w", fu.ID, err)
	}
	return nil
}

// advance creates the next step anchored to the previous step's scheduled
// time, not its actual send time, so repeated late sends never drift the
// cadence.
func (e *FollowUpEngine) advance(user *models.User, prev *models.FollowUp) error {
	nextNumber := prev.SequenceNumber + 1
	delay := stepDelay(&prev.Rule, nextNumber)

	tw := NewTimeWindow(userLocation(user))
	scheduledAt := prev.ScheduledAt.Add(delay)
	if prev.BusinessDaysOnly || prev.SendWindowStart < prev.SendWindowEnd {
		scheduledAt = tw.AdjustToWindow(scheduledAt, prev.SendWindowStart, prev.SendWindowEnd, prev.BusinessDaysOnly)
	}

	// Re-render so per-step placeholders track the incremented number. When
	// the original message is gone the row's own fields stand in and the
	// lineage opening approximates the anchor.
	msg := prev.Message
	anchor := prev.CreatedAt
	if msg != nil {
		anchor = msg.SentAt
	} else {
		msg = &models.SentMessage{Recipient: prev.RecipientEmail}
	}
	daysSince := int(scheduledAt.Sub(anchor).Hours() / 24)
	content := e.renderStep(&prev.Rule, msg, nextNumber, daysSince)

	next := models.FollowUp{
		UserID:           prev.UserID,
		RuleID:           prev.RuleID,
		MessageID:        prev.MessageID,
		ThreadID:         prev.ThreadID,
		RecipientEmail:   prev.RecipientEmail,
		ScheduledAt:      scheduledAt,
		Status:           models.FollowUpPending,
		Content:          content,
		SequenceNumber:   nextNumber,
		Count:            prev.Count + 1,
		MaxCount:         prev.MaxCount,
		StopOnReply:      prev.StopOnReply,
		BusinessDaysOnly: prev.BusinessDaysOnly,
		SendWindowStart:  prev.SendWindowStart,
		SendWindowEnd:    prev.SendWindowEnd,
	}
	// The unique (rule_id, message_id, sequence_number) index makes a raced
	// second advance a no-op.
	return e.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&next).Error
}

func (e *FollowUpEngine) finish(fu *models.FollowUp, status string) {
	e.db.Model(fu).Update("status", status)
}

func (e *FollowUpEngine) logAttempt(user *models.User, fu *models.FollowUp, status, reason string, sentAt *time.Time) {
	ruleID, fuID := fu.RuleID, fu.ID
	entry := models.FollowUpLog{
		UserID:         user.ID,
		RuleID:         &ruleID,
		FollowUpID:     &fuID,
		MessageID:      fu.MessageID,
		FollowUpNumber: fu.SequenceNumber,
		RecipientEmail: fu.RecipientEmail,
		Status:         status,
		Reason:         reason,
		ScheduledAt:    fu.ScheduledAt,
		SentAt:         sentAt,
	}
	if err := e.db.Create(&entry).Error; err != nil {
		utils.LogError("follow_up_log", err, map[string]interface{}{"follow_up_id": fu.ID})
	}
}

// replyReceived reports whether the recipient wrote back after since, by
// thread when one exists, otherwise by sender address.
func (e *FollowUpEngine) replyReceived(userID uint, threadID, recipient string, since time.Time) bool {
	q := e.db.Model(&models.InboundMessage{}).
		Where("user_id = ? AND received_at > ?", userID, since)
	if threadID != "" {
		q = q.Where("thread_id = ?", threadID)
	} else {
		q = q.Where("sender ILIKE ?", "%"+recipient+"%")
	}
	var n int64
	q.Count(&n)
	return n > 0
}

func (e *FollowUpEngine) renderStep(rule *models.FollowUpRule, msg *models.SentMessage, number, daysSince int) string {
	body := rule.TemplateText
	if step := rule.SequenceStep(number); step != nil && step.Message != "" {
		body = step.Message
	}
	return RenderFollowUp(body, msg, number, daysSince)
}

func (e *FollowUpEngine) stepSubject(fu *models.FollowUp) string {
	if step := fu.Rule.SequenceStep(fu.SequenceNumber); step != nil && step.Subject != "" {
		return step.Subject
	}
	if fu.Message != nil && fu.Message.Subject != "" {
		return ReplySubject("", fu.Message.Subject)
	}
	return "Following up"
}

// stepDelay resolves the wait before a given step: the explicit sequence
// step's day count when one exists, otherwise the rule's flat hour delay.
func stepDelay(rule *models.FollowUpRule, number int) time.Duration {
	if step := rule.SequenceStep(number); step != nil && step.DelayDays > 0 {
		return time.Duration(step.DelayDays) * 24 * time.Hour
	}
	return time.Duration(rule.DelayHours) * time.Hour
}
