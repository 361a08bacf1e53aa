package engine

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"log"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailpilot/config"
	"mailpilot/mailer"
	"mailpilot/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

type stubProvider struct {
	sends int
	err   error
}

func (s *stubProvider) Send(ctx context.Context, out *mailer.Outbound) (string, error) {
	s.sends++
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("prov-%d", s.sends), nil
}

func (s *stubProvider) FetchInbound(ctx context.Context, since time.Time, maxResults int64) ([]mailer.Envelope, error) {
	return nil, nil
}

// timeEq matches a time.Time argument exactly.
type timeEq struct{ want time.Time }

func (m timeEq) Match(v driver.Value) bool {
	tv, ok := v.(time.Time)
	return ok && tv.Equal(m.want)
}

func quietFollowUpEngine(db *gorm.DB) *FollowUpEngine {
	e := NewFollowUpEngine(db)
	e.logger = log.New(io.Discard, "", 0)
	return e
}

func quietReplyEngine(db *gorm.DB) *AutoReplyEngine {
	e := NewAutoReplyEngine(db)
	e.logger = log.New(io.Discard, "", 0)
	return e
}

func activeUser() *models.User {
	return &models.User{
		Model:    gorm.Model{ID: 1},
		Email:    "owner@corp.com",
		IsActive: true,
		Timezone: "UTC",
	}
}

func dueFollowUp() *models.FollowUp {
	msgID := uint(5)
	return &models.FollowUp{
		Model:          gorm.Model{ID: 7, CreatedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)},
		UserID:         1,
		RuleID:         3,
		MessageID:      &msgID,
		ThreadID:       "thread-1",
		RecipientEmail: "ana@corp.com",
		ScheduledAt:    time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
		Status:         models.FollowUpPending,
		Content:        "Just checking in.",
		SequenceNumber: 2,
		Count:          2,
		MaxCount:       2,
		Rule: models.FollowUpRule{
			Model:        gorm.Model{ID: 3},
			UserID:       1,
			IsActive:     true,
			DelayHours:   48,
			MaxCount:     2,
			TemplateText: "Just checking in.",
		},
		Message: &models.SentMessage{
			Model:     gorm.Model{ID: 5},
			UserID:    1,
			Recipient: "ana@corp.com",
			Subject:   "Quote",
			SentAt:    time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		},
	}
}

// Two overlapping dispatch passes race on the same pending row. The loser of
// the conditional status update must not send or advance anything.
func TestFollowUpDispatchSecondPassLosesClaim(t *testing.T) {
	db, mock := newMockDB(t)
	e := quietFollowUpEngine(db)
	p := &stubProvider{}
	fu := dueFollowUp()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "follow_ups" SET "status"=`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	var stats FollowUpStats
	err := e.dispatchOne(context.Background(), p, activeUser(), fu, time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC), &stats)
	require.NoError(t, err)

	assert.Zero(t, p.sends, "losing pass must not send")
	assert.Equal(t, FollowUpStats{}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The max_count-th successful send must terminate the lineage: status goes to
// completed and no next-step row is created.
func TestFollowUpDispatchFinalStepCompletesLineage(t *testing.T) {
	db, mock := newMockDB(t)
	e := quietFollowUpEngine(db)
	p := &stubProvider{}
	fu := dueFollowUp() // Count == MaxCount == 2

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "follow_ups" SET "status"=`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "sent_messages"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "follow_up_logs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(31))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "follow_ups" SET "sent_at"=`)).
		WithArgs(sqlmock.AnyArg(), models.FollowUpCompleted, sqlmock.AnyArg(), fu.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	var stats FollowUpStats
	err := e.dispatchOne(context.Background(), p, activeUser(), fu, time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC), &stats)
	require.NoError(t, err)

	assert.Equal(t, 1, p.sends)
	assert.Equal(t, 1, stats.Completed)
	assert.Zero(t, stats.Sent)
	// No expectation for a next-step insert was set, so any advance attempt
	// would have errored the dispatch.
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An out-of-window row is released back to pending instead of staying claimed.
func TestFollowUpDispatchOutOfWindowReleasesClaim(t *testing.T) {
	db, mock := newMockDB(t)
	e := quietFollowUpEngine(db)
	p := &stubProvider{}
	fu := dueFollowUp()
	fu.BusinessDaysOnly = true
	saturday := time.Date(2026, 8, 22, 11, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "follow_ups" SET "status"=`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "follow_ups" SET "status"=`)).
		WithArgs(models.FollowUpPending, sqlmock.AnyArg(), fu.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	var stats FollowUpStats
	err := e.dispatchOne(context.Background(), p, activeUser(), fu, saturday, &stats)
	require.NoError(t, err)

	assert.Zero(t, p.sends)
	assert.Equal(t, FollowUpStats{}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The next step is anchored to the previous step's scheduled time plus the
// step delay, never to the actual send time, so late sends don't drift the
// cadence.
func TestFollowUpAdvanceAnchorsToPreviousScheduledAt(t *testing.T) {
	db, mock := newMockDB(t)
	e := quietFollowUpEngine(db)
	prev := dueFollowUp()
	prev.Count, prev.MaxCount = 1, 3
	prev.SequenceNumber = 1

	wantAt := prev.ScheduledAt.Add(48 * time.Hour)
	args := make([]driver.Value, 19)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[8] = timeEq{want: wantAt} // scheduled_at column
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "follow_ups"`)).
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

	require.NoError(t, e.advance(activeUser(), prev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A rule narrowed after a reply was scheduled must not send; the revalidation
// re-runs the condition match at dispatch time.
func TestScheduledReplySkippedWhenConditionsNoLongerMatch(t *testing.T) {
	db, mock := newMockDB(t)
	e := quietReplyEngine(db)
	p := &stubProvider{}
	config.AppConfig.CooldownHours = 0

	sr := &models.ScheduledReply{
		Model:       gorm.Model{ID: 11},
		UserID:      1,
		RuleID:      3,
		MessageID:   5,
		TemplateID:  2,
		ScheduledAt: time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
		Status:      models.StatusScheduled,
		Rule: models.AutoReplyRule{
			Model:      gorm.Model{ID: 3},
			UserID:     1,
			TemplateID: 2,
			IsActive:   true,
			Conditions: models.ConditionSet{Keywords: []string{"invoice"}},
			Template:   models.Template{Model: gorm.Model{ID: 2}, Body: "Hi {{name}}", Version: 1},
		},
		Message: models.InboundMessage{
			Model:      gorm.Model{ID: 5},
			UserID:     1,
			Sender:     "Ana <ana@corp.com>",
			Subject:    "vacation photos",
			ReceivedAt: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
		},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "status" FROM "scheduled_replies"`)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusScheduled))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "scheduled_replies" SET`)).
		WithArgs("", "rule conditions no longer match this message", models.StatusSkipped, sqlmock.AnyArg(), sr.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	var stats ReplyStats
	err := e.dispatchScheduled(context.Background(), p, activeUser(), sr, time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC), &stats)
	require.NoError(t, err)

	assert.Zero(t, p.sends, "narrowed rule must not send")
	assert.Equal(t, 1, stats.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The Processing log insert is the at-most-once claim: when the unique
// (rule_id, message_id) index swallows the insert, the pass must not send.
func TestSendReplyClaimAlreadyTaken(t *testing.T) {
	db, mock := newMockDB(t)
	e := quietReplyEngine(db)
	p := &stubProvider{}

	rule := &models.AutoReplyRule{
		Model:      gorm.Model{ID: 3},
		UserID:     1,
		TemplateID: 2,
		IsActive:   true,
		Template:   models.Template{Model: gorm.Model{ID: 2}, Body: "Hi {{name}}", Version: 1},
	}
	msg := &models.InboundMessage{
		Model:   gorm.Model{ID: 5},
		UserID:  1,
		Sender:  "Ana <ana@corp.com>",
		Subject: "Quote",
	}

	// ON CONFLICT DO NOTHING returns no row for the loser.
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "auto_reply_logs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sent, err := e.sendReply(context.Background(), p, activeUser(), rule, msg, time.Now())
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Zero(t, p.sends)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The winner's insert returns a row and exactly one send happens.
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "auto_reply_logs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "auto_reply_logs" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "auto_reply_rules" SET "last_triggered_at"=`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "sent_messages"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(22))

	sent, err = e.sendReply(context.Background(), p, activeUser(), rule, msg, time.Now())
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 1, p.sends)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A Sent log inside the window blocks, one outside lets the recipient through,
// and a zero cooldown never queries at all.
func TestCooldownWindow(t *testing.T) {
	db, mock := newMockDB(t)
	e := quietReplyEngine(db)
	user := activeUser()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	config.AppConfig.CooldownHours = 24
	t.Cleanup(func() { config.AppConfig.CooldownHours = 0 })

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "auto_reply_logs"`)).
		WithArgs(user.ID, "ana@corp.com", models.StatusSent, timeEq{want: now.Add(-24 * time.Hour)}).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	assert.True(t, e.inCooldown(user, "ana@corp.com", now))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "auto_reply_logs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	assert.False(t, e.inCooldown(user, "ana@corp.com", now))

	config.AppConfig.CooldownHours = 0
	assert.False(t, e.inCooldown(user, "ana@corp.com", now))

	assert.NoError(t, mock.ExpectationsWereMet())
}
