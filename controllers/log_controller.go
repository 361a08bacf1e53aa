package controller

import (
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailpilot/models"
	"mailpilot/utils"
)

type LogController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewLogController(db *gorm.DB, logger *log.Logger) *LogController {
	return &LogController{DB: db, Logger: logger}
}

func pageParams(c *fiber.Ctx) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// ListReplyLogs returns auto-reply log rows, newest first, optionally
// filtered by status or rule.
func (lc *LogController) ListReplyLogs(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	limit, offset := pageParams(c)

	q := lc.DB.Model(&models.AutoReplyLog{}).Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if ruleID := c.Query("rule_id"); ruleID != "" {
		q = q.Where("rule_id = ?", ruleID)
	}

	var total int64
	q.Count(&total)

	var logs []models.AutoReplyLog
	if err := q.Order("created_at desc").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		utils.LogError("reply_log_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list logs"})
	}
	return c.JSON(fiber.Map{"logs": logs, "total": total})
}

func (lc *LogController) ListFollowUpLogs(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	limit, offset := pageParams(c)

	q := lc.DB.Model(&models.FollowUpLog{}).Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	q.Count(&total)

	var logs []models.FollowUpLog
	if err := q.Order("created_at desc").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		utils.LogError("follow_up_log_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list logs"})
	}
	return c.JSON(fiber.Map{"logs": logs, "total": total})
}

func (lc *LogController) ListScheduledReplies(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	limit, offset := pageParams(c)

	q := lc.DB.Model(&models.ScheduledReply{}).Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var scheduled []models.ScheduledReply
	if err := q.Order("scheduled_at asc").Limit(limit).Offset(offset).Find(&scheduled).Error; err != nil {
		utils.LogError("scheduled_reply_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list scheduled replies"})
	}
	return c.JSON(fiber.Map{"scheduled_replies": scheduled})
}

// CancelScheduledReply cancels one pending delayed reply.
func (lc *LogController) CancelScheduledReply(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sr models.ScheduledReply
	if err := lc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sr).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Scheduled reply not found"})
	}
	if sr.Status != models.StatusScheduled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Only scheduled replies can be cancelled"})
	}

	if err := lc.DB.Model(&sr).Updates(map[string]interface{}{
		"status":      models.StatusCancelled,
		"skip_reason": "cancelled by owner",
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to cancel scheduled reply"})
	}
	return c.JSON(fiber.Map{"id": sr.ID, "status": models.StatusCancelled})
}

func (lc *LogController) ListMessages(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	limit, offset := pageParams(c)

	q := lc.DB.Model(&models.InboundMessage{}).Where("user_id = ?", user.ID)
	if category := c.Query("category_id"); category != "" {
		q = q.Where("category_id = ?", category)
	}
	if c.Query("unread") == "true" {
		q = q.Where("is_read = ?", false)
	}

	var messages []models.InboundMessage
	if err := q.Order("received_at desc").Limit(limit).Offset(offset).Find(&messages).Error; err != nil {
		utils.LogError("message_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list messages"})
	}
	return c.JSON(fiber.Map{"messages": messages})
}

// ListJobRuns exposes recent dispatcher activity for operational checks.
func (lc *LogController) ListJobRuns(c *fiber.Ctx) error {
	limit, offset := pageParams(c)

	q := lc.DB.Model(&models.JobRun{})
	if name := c.Query("job"); name != "" {
		q = q.Where("job_name = ?", name)
	}

	var runs []models.JobRun
	if err := q.Order("started_at desc").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		utils.LogError("job_run_list", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list job runs"})
	}
	return c.JSON(fiber.Map{"runs": runs})
}
