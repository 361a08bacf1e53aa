package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"mailpilot/config"
	"mailpilot/engine"
	"mailpilot/models"
	"mailpilot/utils"
)

// Job is one recurring unit of background work. Run receives a context that
// is cancelled on shutdown.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	running int32
}

// Dispatcher owns the background jobs. Each job ticks on its own goroutine;
// a tick that fires while the previous run is still in flight is dropped, so
// a job never overlaps itself no matter how slow a run gets.
type Dispatcher struct {
	DB     *gorm.DB
	Logger *log.Logger

	jobs []*Job
	wg   sync.WaitGroup
}

func NewDispatcher(db *gorm.DB) *Dispatcher {
	d := &Dispatcher{
		DB:     db,
		Logger: log.New(os.Stdout, "[DISPATCHER] ", log.LstdFlags),
	}

	replies := engine.NewAutoReplyEngine(db)
	followUps := engine.NewFollowUpEngine(db)
	inboxSync := engine.NewInboxSync(db)
	sched := config.AppConfig.Scheduler

	d.jobs = []*Job{
		{
			Name:     "inbox_sync",
			Interval: sched.InboxSyncInterval,
			Run: func(ctx context.Context) error {
				stats, err := inboxSync.SyncAll(ctx)
				if stats.Saved > 0 {
					d.Logger.Printf("inbox_sync: fetched=%d saved=%d", stats.Fetched, stats.Saved)
				}
				return err
			},
		},
		{
			Name:     "auto_reply",
			Interval: sched.AutoReplyInterval,
			Run: func(ctx context.Context) error {
				stats, err := replies.ProcessAll(ctx)
				if stats.Processed > 0 {
					d.Logger.Printf("auto_reply: processed=%d sent=%d scheduled=%d skipped=%d failed=%d",
						stats.Processed, stats.Sent, stats.Scheduled, stats.Skipped, stats.Failed)
				}
				return err
			},
		},
		{
			Name:     "scheduled_replies",
			Interval: sched.ScheduledReplyInterval,
			Run: func(ctx context.Context) error {
				stats, err := replies.ProcessScheduled(ctx)
				if stats.Processed > 0 {
					d.Logger.Printf("scheduled_replies: processed=%d sent=%d skipped=%d failed=%d",
						stats.Processed, stats.Sent, stats.Skipped, stats.Failed)
				}
				return err
			},
		},
		{
			Name:     "follow_up_create",
			Interval: sched.FollowUpCreateInterval,
			Run: func(ctx context.Context) error {
				stats, err := followUps.CreateFromRules(ctx)
				if stats.Created > 0 {
					d.Logger.Printf("follow_up_create: created=%d", stats.Created)
				}
				return err
			},
		},
		{
			Name:     "follow_up_dispatch",
			Interval: sched.FollowUpDispatchInterval,
			Run: func(ctx context.Context) error {
				stats, err := followUps.DispatchDue(ctx)
				if stats.Sent+stats.Completed+stats.Failed > 0 {
					d.Logger.Printf("follow_up_dispatch: sent=%d completed=%d skipped=%d failed=%d",
						stats.Sent, stats.Completed, stats.Skipped, stats.Failed)
				}
				return err
			},
		},
		{
			Name:     "rule_window_activation",
			Interval: sched.RuleWindowInterval,
			Run:      d.expireRuleWindows,
		},
		{
			Name:     "log_cleanup",
			Interval: sched.LogCleanupInterval,
			Run:      d.cleanupLogs,
		},
	}
	return d
}

// Start launches every job. It returns immediately; Stop waits for in-flight
// runs to finish.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, job := range d.jobs {
		d.wg.Add(1)
		go d.loop(ctx, job)
	}
	d.Logger.Printf("Started %d background jobs", len(d.jobs))
}

// Stop blocks until all job goroutines have exited. Callers cancel the Start
// context first.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
	d.Logger.Println("All background jobs stopped")
}

func (d *Dispatcher) loop(ctx context.Context, job *Job) {
	defer d.wg.Done()

	// Let the server finish booting before the first tick.
	select {
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
	}

	d.runOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.Logger.Printf("Job %s shutting down...", job.Name)
			return
		case <-ticker.C:
			d.runOnce(ctx, job)
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context, job *Job) {
	if !atomic.CompareAndSwapInt32(&job.running, 0, 1) {
		d.Logger.Printf("Job %s still running, skipping tick", job.Name)
		return
	}
	defer atomic.StoreInt32(&job.running, 0)

	started := time.Now()
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("job %s panicked: %v", job.Name, r)
				sentry.CurrentHub().Recover(r)
			}
		}()
		runErr = job.Run(ctx)
	}()

	run := models.JobRun{
		JobName:    job.Name,
		StartedAt:  started,
		DurationMS: time.Since(started).Milliseconds(),
		Succeeded:  runErr == nil,
	}
	if runErr != nil {
		run.ErrorText = runErr.Error()
		utils.LogError("job_run", runErr, map[string]interface{}{"job": job.Name})
	}
	if err := d.DB.Create(&run).Error; err != nil {
		d.Logger.Printf("Failed to record run of %s: %v", job.Name, err)
	}
}

// expireRuleWindows deactivates rules whose schedule window has closed and
// cancels any replies they still had scheduled.
func (d *Dispatcher) expireRuleWindows(ctx context.Context) error {
	now := time.Now()

	var expired []models.AutoReplyRule
	if err := d.DB.
		Where("is_active = ? AND schedule_end IS NOT NULL AND schedule_end < ?", true, now).
		Find(&expired).Error; err != nil {
		return fmt.Errorf("failed to load expired rules: %w", err)
	}

	for i := range expired {
		rule := &expired[i]
		if err := d.DB.Model(rule).Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate rule %d: %w", rule.ID, err)
		}
		if err := d.DB.Model(&models.ScheduledReply{}).
			Where("rule_id = ? AND status = ?", rule.ID, models.StatusScheduled).
			Updates(map[string]interface{}{
				"status":      models.StatusCancelled,
				"skip_reason": "rule schedule window has closed",
			}).Error; err != nil {
			return fmt.Errorf("failed to cancel scheduled replies for rule %d: %w", rule.ID, err)
		}
		d.Logger.Printf("Deactivated rule %d, schedule window closed", rule.ID)
	}
	return nil
}

// cleanupLogs prunes terminal log rows past the retention horizon. Pending
// and scheduled work is never touched.
func (d *Dispatcher) cleanupLogs(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -config.AppConfig.LogRetentionDays)

	if err := d.DB.Unscoped().
		Where("created_at < ? AND status <> ?", cutoff, models.StatusProcessing).
		Delete(&models.AutoReplyLog{}).Error; err != nil {
		return fmt.Errorf("failed to prune auto-reply logs: %w", err)
	}
	if err := d.DB.Unscoped().
		Where("created_at < ?", cutoff).
		Delete(&models.FollowUpLog{}).Error; err != nil {
		return fmt.Errorf("failed to prune follow-up logs: %w", err)
	}
	if err := d.DB.Unscoped().
		Where("created_at < ?", cutoff).
		Delete(&models.JobRun{}).Error; err != nil {
		return fmt.Errorf("failed to prune job runs: %w", err)
	}
	if err := d.DB.Unscoped().
		Where("created_at < ? AND status IN ?", cutoff,
			[]string{models.StatusSent, models.StatusFailed, models.StatusSkipped, models.StatusCancelled}).
		Delete(&models.ScheduledReply{}).Error; err != nil {
		return fmt.Errorf("failed to prune scheduled replies: %w", err)
	}
	return nil
}
