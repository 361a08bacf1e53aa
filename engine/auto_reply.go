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

const replyBatchSize = 200

// ReplyStats summarizes one auto-reply pass.
type ReplyStats struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Scheduled int `json:"scheduled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (s *ReplyStats) add(o ReplyStats) {
	s.Processed += o.Processed
	s.Sent += o.Sent
	s.Scheduled += o.Scheduled
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// AutoReplyEngine walks unprocessed inbound messages, evaluates the owner's
// rules in priority order and sends or schedules replies. All dedup relies on
// the unique (rule_id, message_id) log index so a concurrent second pass can
// never double-send.
type AutoReplyEngine struct {
	db       *gorm.DB
	logger   *log.Logger
	provider func(*models.User) (mailer.Provider, error)
	now      func() time.Time
}

func NewAutoReplyEngine(db *gorm.DB) *AutoReplyEngine {
	return &AutoReplyEngine{
		db:       db,
		logger:   log.New(os.Stdout, "[AUTO-REPLY] ", log.LstdFlags),
		provider: mailer.ForUser,
		now:      time.Now,
	}
}

// ProcessAll runs one pass for every active owner that has at least one
// active rule. Failures are isolated per owner.
func (e *AutoReplyEngine) ProcessAll(ctx context.Context) (ReplyStats, error) {
	var total ReplyStats
	var users []models.User
	sub := e.db.Model(&models.AutoReplyRule{}).Select("user_id").Where("is_active = ?", true)
	if err := e.db.Where("is_active = ? AND id IN (?)", true, sub).Find(&users).Error; err != nil {
		return total, fmt.Errorf("failed to load users: %w", err)
	}

	for i := range users {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		stats, err := e.ProcessUser(ctx, &users[i])
		total.add(stats)
		if err != nil {
			utils.LogError("auto_reply_pass", err, map[string]interface{}{
				"user_id": users[i].ID,
			})
		}
	}
	return total, nil
}

// ProcessUser evaluates all unprocessed inbound messages for one owner. An
// authentication failure aborts the owner's pass; any other send failure is
// recorded and the pass continues with the next message.
func (e *AutoReplyEngine) ProcessUser(ctx context.Context, user *models.User) (ReplyStats, error) {
	var stats ReplyStats

	var rules []models.AutoReplyRule
	if err := e.db.Preload("Template").
		Where("user_id = ? AND is_active = ?", user.ID, true).
		Order("priority asc, id asc").
		Find(&rules).Error; err != nil {
		return stats, fmt.Errorf("failed to load rules for user %d: %w", user.ID, err)
	}
	if len(rules) == 0 {
		return stats, nil
	}

	var messages []models.InboundMessage
	if err := e.db.
		Where("user_id = ? AND processed_for_auto_reply = ?", user.ID, false).
		Order("received_at asc").
		Limit(replyBatchSize).
		Find(&messages).Error; err != nil {
		return stats, fmt.Errorf("failed to load messages for user %d: %w", user.ID, err)
	}
	if len(messages) == 0 {
		return stats, nil
	}

	p, err := e.provider(user)
	if err != nil {
		return stats, fmt.Errorf("failed to build provider for user %d: %w", user.ID, err)
	}

	tw := NewTimeWindow(userLocation(user))
	for i := range messages {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		stats.Processed++
		if err := e.processMessage(ctx, p, user, tw, rules, &messages[i], &stats); err != nil {
			if errors.Is(err, mailer.ErrAuth) {
				return stats, err
			}
			utils.LogError("auto_reply_message", err, map[string]interface{}{
				"user_id":    user.ID,
				"message_id": messages[i].ID,
			})
		}
	}
	return stats, nil
}

func (e *AutoReplyEngine) processMessage(ctx context.Context, p mailer.Provider, user *models.User, tw *TimeWindow, rules []models.AutoReplyRule, msg *models.InboundMessage, stats *ReplyStats) error {
	now := e.now()

	var gated bool
	for i := range rules {
		rule := &rules[i]
		if !rule.InSchedule(now) {
			continue
		}
		if !rule.ApplyToExistingMessages && msg.ReceivedAt.Before(rule.CreatedAt) {
			continue
		}
		if !Matches(rule.Conditions, msg) {
			continue
		}
		if rule.BusinessDaysOnly && !tw.IsBusinessDay(now) {
			gated = true
			continue
		}
		if rule.BusinessHoursOnly && !tw.IsWithinWindow(now, rule.BusinessStart, rule.BusinessEnd) {
			gated = true
			continue
		}
		return e.applyRule(ctx, p, user, rule, msg, now, stats)
	}

	if gated {
		// A rule matched but its hours gate blocked it. The message stays
		// unprocessed so the next pass inside the window picks it up.
		return nil
	}
	return e.markProcessed(msg)
}

func (e *AutoReplyEngine) applyRule(ctx context.Context, p mailer.Provider, user *models.User, rule *models.AutoReplyRule, msg *models.InboundMessage, now time.Time, stats *ReplyStats) error {
	if ok, reason := SafeToReply(msg, rule.IgnoreMailingLists); !ok {
		stats.Skipped++
		return e.logSkip(user, rule, msg, reason)
	}
	if rule.PreventReplyToAutomated && e.repliesToOwnSend(user, msg) {
		stats.Skipped++
		return e.logSkip(user, rule, msg, "incoming message replies to our own outbound message")
	}
	if rule.ReplyOncePerThread && msg.ThreadID != "" && e.threadAlreadyReplied(user, msg.ThreadID) {
		stats.Skipped++
		return e.logSkip(user, rule, msg, "already replied in this thread")
	}
	if rule.StopOnRecipientReply && e.ownerRepliedInThread(user, msg) {
		stats.Skipped++
		return e.logSkip(user, rule, msg, "owner already replied in this thread")
	}
	if rule.Conditions.ApplyToAll && e.sentCurrentVersion(user, rule, msg.SenderAddress()) {
		stats.Skipped++
		return e.logSkip(user, rule, msg, "current template version already sent to this sender")
	}
	if rule.DelayMinutes > 0 {
		due := msg.ReceivedAt.Add(time.Duration(rule.DelayMinutes) * time.Minute)
		if now.Before(due) {
			// Cooldown is deliberately not checked here. It may well have
			// expired by the due time, so the dispatch pass re-evaluates it.
			stats.Scheduled++
			return e.schedule(user, rule, msg, due)
		}
	}

	if e.inCooldown(user, msg.SenderAddress(), now) {
		stats.Skipped++
		reason := fmt.Sprintf("recipient in cooldown window (%dh)", config.AppConfig.CooldownHours)
		return e.logSkip(user, rule, msg, reason)
	}

	sent, err := e.sendReply(ctx, p, user, rule, msg, now)
	if err != nil {
		stats.Failed++
		e.markProcessed(msg)
		return err
	}
	if sent {
		stats.Sent++
	} else {
		stats.Skipped++
	}
	return e.markProcessed(msg)
}

// schedule records a delayed reply. The unique (rule_id, message_id) index
// makes re-scheduling on subsequent passes a no-op.
func (e *AutoReplyEngine) schedule(user *models.User, rule *models.AutoReplyRule, msg *models.InboundMessage, due time.Time) error {
	sr := models.ScheduledReply{
		UserID:      user.ID,
		RuleID:      rule.ID,
		MessageID:   msg.ID,
		TemplateID:  rule.TemplateID,
		ScheduledAt: due,
		Status:      models.StatusScheduled,
	}
	if err := e.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&sr).Error; err != nil {
		return fmt.Errorf("failed to schedule reply for message %d: %w", msg.ID, err)
	}
	return e.markProcessed(msg)
}

// sendReply claims the (rule, message) pair by inserting the Processing log
// row, then delivers. Returns false when another pass already claimed it.
func (e *AutoReplyEngine) sendReply(ctx context.Context, p mailer.Provider, user *models.User, rule *models.AutoReplyRule, msg *models.InboundMessage, now time.Time) (bool, error) {
	ruleID, msgID, tplID := rule.ID, msg.ID, rule.TemplateID
	entry := models.AutoReplyLog{
		UserID:          user.ID,
		RuleID:          &ruleID,
		MessageID:       &msgID,
		TemplateID:      &tplID,
		TemplateVersion: rule.Template.Version,
		ProviderID:      msg.ProviderID,
		ThreadID:        msg.ThreadID,
		RecipientEmail:  msg.SenderAddress(),
		IncomingSubject: msg.Subject,
		Status:          models.StatusProcessing,
	}
	res := e.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create log row: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	body := RenderReply(rule.Template.Body, msg, user, e.categoryFor(msg), now)
	out := &mailer.Outbound{
		To:       msg.SenderAddress(),
		Subject:  ReplySubject(rule.Template.Subject, msg.Subject),
		BodyText: body,
		ThreadID: msg.ThreadID,
	}
	if id, ok := msg.RawHeaders.Get("Message-ID"); ok {
		out.InReplyTo = id
		out.References = id
		if refs, ok := msg.RawHeaders.Get("References"); ok {
			out.References = refs + " " + id
		}
	}

	providerID, err := mailer.SendWithRetry(ctx, p, out)
	if err != nil {
		e.db.Model(&entry).Updates(map[string]interface{}{
			"status":     models.StatusFailed,
			"error_text": err.Error(),
		})
		return false, fmt.Errorf("failed to send reply for message %d: %w", msg.ID, err)
	}

	sentAt := e.now()
	e.db.Model(&entry).Updates(map[string]interface{}{
		"status":        models.StatusSent,
		"sent_at":       sentAt,
		"reply_content": body,
	})
	e.db.Model(rule).Update("last_triggered_at", sentAt)
	e.db.Create(&models.SentMessage{
		UserID:     user.ID,
		ProviderID: providerID,
		ThreadID:   msg.ThreadID,
		Recipient:  out.To,
		Subject:    out.Subject,
		SentAt:     sentAt,
	})
	e.logger.Printf("Sent auto-reply to %s (rule %d, message %d)", out.To, rule.ID, msg.ID)
	return true, nil
}

// ProcessScheduled dispatches due delayed replies. Every guard is re-checked
// at dispatch time; a reply cancelled after scheduling is never sent.
func (e *AutoReplyEngine) ProcessScheduled(ctx context.Context) (ReplyStats, error) {
	var stats ReplyStats
	now := e.now()

	var due []models.ScheduledReply
	if err := e.db.
		Preload("Rule").Preload("Rule.Template").Preload("Message").
		Where("status = ? AND scheduled_at <= ?", models.StatusScheduled, now).
		Order("scheduled_at asc").
		Limit(replyBatchSize).
		Find(&due).Error; err != nil {
		return stats, fmt.Errorf("failed to load due scheduled replies: %w", err)
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
		sr := &due[i]
		if authFailed[sr.UserID] {
			continue
		}
		stats.Processed++

		user, ok := users[sr.UserID]
		if !ok {
			user = &models.User{}
			if err := e.db.First(user, sr.UserID).Error; err != nil {
				e.resolve(sr, models.StatusCancelled, "owner no longer exists", "")
				stats.Skipped++
				continue
			}
			users[sr.UserID] = user
		}

		p, ok := providers[sr.UserID]
		if !ok {
			var err error
			p, err = e.provider(user)
			if err != nil {
				authFailed[sr.UserID] = true
				utils.LogError("scheduled_reply_provider", err, map[string]interface{}{"user_id": sr.UserID})
				continue
			}
			providers[sr.UserID] = p
		}

		if err := e.dispatchScheduled(ctx, p, user, sr, now, &stats); err != nil {
			if errors.Is(err, mailer.ErrAuth) {
				authFailed[sr.UserID] = true
			}
			utils.LogError("scheduled_reply_dispatch", err, map[string]interface{}{
				"user_id":            sr.UserID,
				"scheduled_reply_id": sr.ID,
			})
		}
	}
	return stats, nil
}

func (e *AutoReplyEngine) dispatchScheduled(ctx context.Context, p mailer.Provider, user *models.User, sr *models.ScheduledReply, now time.Time, stats *ReplyStats) error {
	// Last-moment cancellation check. The status may have flipped between
	// the batch read and now.
	var fresh models.ScheduledReply
	if err := e.db.Select("status").First(&fresh, sr.ID).Error; err != nil {
		return fmt.Errorf("failed to re-read scheduled reply %d: %w", sr.ID, err)
	}
	if fresh.Status != models.StatusScheduled {
		return nil
	}

	rule, msg := &sr.Rule, &sr.Message
	if !user.IsActive || rule.ID == 0 || !rule.IsActive {
		e.resolve(sr, models.StatusCancelled, "rule no longer active", "")
		stats.Skipped++
		return nil
	}
	if !rule.InSchedule(now) {
		e.resolve(sr, models.StatusCancelled, "rule schedule window has closed", "")
		stats.Skipped++
		return nil
	}
	// The rule may have been narrowed since the reply was scheduled.
	if !Matches(rule.Conditions, msg) {
		e.resolve(sr, models.StatusSkipped, "rule conditions no longer match this message", "")
		stats.Skipped++
		return nil
	}
	if ok, reason := SafeToReply(msg, rule.IgnoreMailingLists); !ok {
		e.resolve(sr, models.StatusSkipped, reason, "")
		stats.Skipped++
		return nil
	}
	if rule.StopOnRecipientReply && e.ownerRepliedInThread(user, msg) {
		e.resolve(sr, models.StatusSkipped, "owner already replied in this thread", "")
		stats.Skipped++
		return nil
	}
	if e.inCooldown(user, msg.SenderAddress(), now) {
		e.resolve(sr, models.StatusSkipped, fmt.Sprintf("recipient in cooldown window (%dh)", config.AppConfig.CooldownHours), "")
		stats.Skipped++
		return nil
	}
	if rule.Conditions.ApplyToAll && e.sentCurrentVersion(user, rule, msg.SenderAddress()) {
		e.resolve(sr, models.StatusSkipped, "current template version already sent to this sender", "")
		stats.Skipped++
		return nil
	}

	sent, err := e.sendReply(ctx, p, user, rule, msg, now)
	if err != nil {
		e.resolve(sr, models.StatusFailed, "", err.Error())
		stats.Failed++
		return err
	}
	if !sent {
		e.resolve(sr, models.StatusSkipped, "reply already handled by another pass", "")
		stats.Skipped++
		return nil
	}
	sentAt := e.now()
	e.db.Model(sr).Updates(map[string]interface{}{
		"status":  models.StatusSent,
		"sent_at": sentAt,
	})
	stats.Sent++
	return nil
}

func (e *AutoReplyEngine) resolve(sr *models.ScheduledReply, status, reason, errText string) {
	e.db.Model(sr).Updates(map[string]interface{}{
		"status":      status,
		"skip_reason": reason,
		"error_text":  errText,
	})
}

// logSkip records a terminal skip for the (rule, message) pair and marks the
// message processed.
func (e *AutoReplyEngine) logSkip(user *models.User, rule *models.AutoReplyRule, msg *models.InboundMessage, reason string) error {
	ruleID, msgID := rule.ID, msg.ID
	entry := models.AutoReplyLog{
		UserID:          user.ID,
		RuleID:          &ruleID,
		MessageID:       &msgID,
		ProviderID:      msg.ProviderID,
		ThreadID:        msg.ThreadID,
		RecipientEmail:  msg.SenderAddress(),
		IncomingSubject: msg.Subject,
		Status:          models.StatusSkipped,
		SkipReason:      reason,
	}
	if err := e.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to log skip for message %d: %w", msg.ID, err)
	}
	return e.markProcessed(msg)
}

func (e *AutoReplyEngine) markProcessed(msg *models.InboundMessage) error {
	return e.db.Model(msg).Update("processed_for_auto_reply", true).Error
}

// threadAlreadyReplied reports whether any rule of the owner already sent
// (or is sending) a reply in this thread.
func (e *AutoReplyEngine) threadAlreadyReplied(user *models.User, threadID string) bool {
	var n int64
	e.db.Model(&models.AutoReplyLog{}).
		Where("user_id = ? AND thread_id = ? AND status IN ?", user.ID, threadID,
			[]string{models.StatusProcessing, models.StatusSent}).
		Count(&n)
	return n > 0
}

// ownerRepliedInThread reports whether the owner sent anything in the
// message's thread after it arrived.
func (e *AutoReplyEngine) ownerRepliedInThread(user *models.User, msg *models.InboundMessage) bool {
	if msg.ThreadID == "" {
		return false
	}
	var n int64
	e.db.Model(&models.SentMessage{}).
		Where("user_id = ? AND thread_id = ? AND sent_at > ?", user.ID, msg.ThreadID, msg.ReceivedAt).
		Count(&n)
	return n > 0
}

// repliesToOwnSend reports whether the inbound message is itself a reply to
// one of our outbound messages, which must never trigger another reply.
func (e *AutoReplyEngine) repliesToOwnSend(user *models.User, msg *models.InboundMessage) bool {
	if !hasReplyPrefix(msg.Subject) {
		return false
	}
	base := StripReplyPrefix(msg.Subject)
	var n int64
	e.db.Model(&models.SentMessage{}).
		Where("user_id = ? AND recipient ILIKE ? AND (subject = ? OR subject = ?)",
			user.ID, "%"+msg.SenderAddress()+"%", base, "Re: "+base).
		Count(&n)
	return n > 0
}

// inCooldown reports whether the recipient got any reply from us within the
// configured cooldown window.
func (e *AutoReplyEngine) inCooldown(user *models.User, recipient string, now time.Time) bool {
	hours := config.AppConfig.CooldownHours
	if hours <= 0 {
		return false
	}
	var n int64
	e.db.Model(&models.AutoReplyLog{}).
		Where("user_id = ? AND recipient_email = ? AND status = ? AND sent_at > ?",
			user.ID, recipient, models.StatusSent, now.Add(-time.Duration(hours)*time.Hour)).
		Count(&n)
	return n > 0
}

// sentCurrentVersion reports whether an apply-to-all rule already sent the
// template's current version to this sender. Bumping the template version
// makes every sender eligible again.
func (e *AutoReplyEngine) sentCurrentVersion(user *models.User, rule *models.AutoReplyRule, recipient string) bool {
	var n int64
	e.db.Model(&models.AutoReplyLog{}).
		Where("user_id = ? AND rule_id = ? AND recipient_email = ? AND status = ? AND template_version = ?",
			user.ID, rule.ID, recipient, models.StatusSent, rule.Template.Version).
		Count(&n)
	return n > 0
}

func (e *AutoReplyEngine) categoryFor(msg *models.InboundMessage) *models.EmailCategory {
	if msg.CategoryID == nil {
		return nil
	}
	var cat models.EmailCategory
	if err := e.db.First(&cat, *msg.CategoryID).Error; err != nil {
		return nil
	}
	return &cat
}

// userLocation resolves the owner's IANA zone, falling back to the
// deployment zone.
func userLocation(user *models.User) *time.Location {
	if user.Timezone != "" {
		if loc, err := time.LoadLocation(user.Timezone); err == nil {
			return loc
		}
	}
	return config.Location()
}
