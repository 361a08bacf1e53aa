package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailpilot/engine"
	"mailpilot/models"
	"mailpilot/utils"
)

// TriggerController runs the background engines on demand, scoped to the
// calling owner. Responses carry pass counters only; provider errors land in
// the logs, never in the HTTP body.
type TriggerController struct {
	DB        *gorm.DB
	Logger    *log.Logger
	Replies   *engine.AutoReplyEngine
	FollowUps *engine.FollowUpEngine
	Sync      *engine.InboxSync
}

func NewTriggerController(db *gorm.DB, logger *log.Logger) *TriggerController {
	return &TriggerController{
		DB:        db,
		Logger:    logger,
		Replies:   engine.NewAutoReplyEngine(db),
		FollowUps: engine.NewFollowUpEngine(db),
		Sync:      engine.NewInboxSync(db),
	}
}

func (tc *TriggerController) TriggerAutoReply(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	stats, err := tc.Replies.ProcessUser(c.Context(), user)
	if err != nil {
		utils.LogError("trigger_auto_reply", err, map[string]interface{}{"user_id": user.ID})
	}
	tc.Logger.Printf("Manual auto-reply pass for user %d: %+v", user.ID, stats)
	return c.JSON(stats)
}

func (tc *TriggerController) TriggerFollowUps(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	created, err := tc.FollowUps.CreateForUser(user)
	if err != nil {
		utils.LogError("trigger_follow_up_create", err, map[string]interface{}{"user_id": user.ID})
	}
	dispatched, err := tc.FollowUps.DispatchDue(c.Context())
	if err != nil {
		utils.LogError("trigger_follow_up_dispatch", err, map[string]interface{}{"user_id": user.ID})
	}

	tc.Logger.Printf("Manual follow-up pass for user %d: created=%d sent=%d", user.ID, created.Created, dispatched.Sent)
	return c.JSON(fiber.Map{
		"created":   created.Created,
		"sent":      dispatched.Sent,
		"completed": dispatched.Completed,
		"skipped":   dispatched.Skipped,
		"failed":    dispatched.Failed,
	})
}

func (tc *TriggerController) TriggerInboxSync(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	stats, err := tc.Sync.SyncUser(c.Context(), user)
	if err != nil {
		utils.LogError("trigger_inbox_sync", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "Inbox sync failed, check provider credentials",
			"fetched": stats.Fetched,
			"saved":   stats.Saved,
		})
	}
	return c.JSON(stats)
}
