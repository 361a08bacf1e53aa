package controller

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailpilot/models"
	"mailpilot/utils"
)

type RuleController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewRuleController(db *gorm.DB, logger *log.Logger) *RuleController {
	return &RuleController{DB: db, Logger: logger}
}

type ruleInput struct {
	Name       string              `json:"name" validate:"required,min=1,max=200"`
	TemplateID uint                `json:"template_id" validate:"required"`
	Priority   int                 `json:"priority" validate:"min=0,max=100"`
	IsActive   *bool               `json:"is_active"`
	Conditions models.ConditionSet `json:"conditions"`

	ReplyOncePerThread      *bool `json:"reply_once_per_thread"`
	PreventReplyToAutomated *bool `json:"prevent_reply_to_automated"`
	IgnoreMailingLists      *bool `json:"ignore_mailing_lists"`
	StopOnRecipientReply    *bool `json:"stop_on_recipient_reply"`
	ApplyToExistingMessages *bool `json:"apply_to_existing_messages"`

	DelayMinutes      int        `json:"delay_minutes" validate:"min=0,max=10080"`
	ScheduleStart     *time.Time `json:"schedule_start"`
	ScheduleEnd       *time.Time `json:"schedule_end"`
	BusinessHoursOnly bool       `json:"business_hours_only"`
	BusinessDaysOnly  bool       `json:"business_days_only"`
	BusinessStart     *int       `json:"business_start"`
	BusinessEnd       *int       `json:"business_end"`
}

// validateConditions rejects condition sets that could never match or that
// carry malformed entries.
func validateConditions(cs models.ConditionSet) error {
	if cs.IsEmpty() {
		return errors.New("conditions must set apply_to_all or at least one predicate")
	}
	if cs.Logic != "" &&
		!strings.EqualFold(cs.Logic, models.ConditionLogicAnd) &&
		!strings.EqualFold(cs.Logic, models.ConditionLogicOr) {
		return errors.New("condition_logic must be AND or OR")
	}
	for _, s := range cs.Senders {
		if strings.TrimSpace(s) == "" {
			return errors.New("senders must not contain empty entries")
		}
		// Entries that look like full addresses must be valid ones
		if strings.Contains(s, "@") && strings.Contains(s, ".") {
			if err := checkmail.ValidateFormat(s); err != nil {
				return errors.New("invalid sender address: " + s)
			}
		}
	}
	for _, d := range cs.Domains {
		if strings.TrimSpace(d) == "" || strings.Contains(d, "@") {
			return errors.New("domains must be bare domain names")
		}
	}
	for _, k := range cs.Keywords {
		if strings.TrimSpace(k) == "" {
			return errors.New("keywords must not contain empty entries")
		}
	}
	return nil
}

func (rc *RuleController) validateRule(userID uint, in *ruleInput, ruleID uint) error {
	if err := utils.ValidateStruct(in); err != nil {
		return err
	}
	if err := validateConditions(in.Conditions); err != nil {
		return err
	}
	if in.ScheduleStart != nil && in.ScheduleEnd != nil && !in.ScheduleEnd.After(*in.ScheduleStart) {
		return errors.New("schedule_end must be after schedule_start")
	}
	if in.BusinessStart != nil && in.BusinessEnd != nil && *in.BusinessEnd <= *in.BusinessStart {
		return errors.New("business_end must be after business_start")
	}

	var template models.Template
	if err := rc.DB.Where("id = ? AND user_id = ?", in.TemplateID, userID).First(&template).Error; err != nil {
		return errors.New("template not found")
	}

	// Only one active catch-all rule per owner, otherwise priority ties
	// between catch-alls make outcomes order-dependent.
	active := in.IsActive == nil || *in.IsActive
	if in.Conditions.ApplyToAll && active {
		q := rc.DB.Model(&models.AutoReplyRule{}).
			Where("user_id = ? AND is_active = ? AND conditions ->> 'apply_to_all' = 'true'", userID, true)
		if ruleID != 0 {
			q = q.Where("id <> ?", ruleID)
		}
		var n int64
		q.Count(&n)
		if n > 0 {
			return errors.New("an active apply-to-all rule already exists")
		}
	}
	return nil
}

func (rc *RuleController) ListRules(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rules []models.AutoReplyRule
	if err := rc.DB.Where("user_id = ?", user.ID).
		Order("priority asc, id asc").
		Find(&rules).Error; err != nil {
		utils.LogError("rule_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list rules",
		})
	}
	return c.JSON(fiber.Map{"rules": rules})
}

func (rc *RuleController) GetRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.AutoReplyRule
	if err := rc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Rule not found"})
	}
	return c.JSON(rule)
}

func (rc *RuleController) CreateRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input ruleInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := rc.validateRule(user.ID, &input, 0); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rule := models.AutoReplyRule{
		UserID:       user.ID,
		TemplateID:   input.TemplateID,
		Name:         input.Name,
		Priority:     input.Priority,
		IsActive:     input.IsActive == nil || *input.IsActive,
		Conditions:   input.Conditions,
		DelayMinutes: input.DelayMinutes,

		ReplyOncePerThread:      boolOr(input.ReplyOncePerThread, true),
		PreventReplyToAutomated: boolOr(input.PreventReplyToAutomated, true),
		IgnoreMailingLists:      boolOr(input.IgnoreMailingLists, true),
		StopOnRecipientReply:    boolOr(input.StopOnRecipientReply, true),
		ApplyToExistingMessages: boolOr(input.ApplyToExistingMessages, false),

		ScheduleStart:     input.ScheduleStart,
		ScheduleEnd:       input.ScheduleEnd,
		BusinessHoursOnly: input.BusinessHoursOnly,
		BusinessDaysOnly:  input.BusinessDaysOnly,
		BusinessStart:     models.NewClockTime(9, 0),
		BusinessEnd:       models.NewClockTime(18, 0),
	}
	if input.BusinessStart != nil {
		rule.BusinessStart = models.ClockTime(*input.BusinessStart)
	}
	if input.BusinessEnd != nil {
		rule.BusinessEnd = models.ClockTime(*input.BusinessEnd)
	}

	if err := rc.DB.Create(&rule).Error; err != nil {
		utils.LogError("rule_create", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create rule"})
	}

	rc.Logger.Printf("Created rule %d for user %d", rule.ID, user.ID)
	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (rc *RuleController) UpdateRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.AutoReplyRule
	if err := rc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Rule not found"})
	}

	var input ruleInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := rc.validateRule(user.ID, &input, rule.ID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rule.TemplateID = input.TemplateID
	rule.Name = input.Name
	rule.Priority = input.Priority
	rule.Conditions = input.Conditions
	rule.DelayMinutes = input.DelayMinutes
	rule.ScheduleStart = input.ScheduleStart
	rule.ScheduleEnd = input.ScheduleEnd
	rule.BusinessHoursOnly = input.BusinessHoursOnly
	rule.BusinessDaysOnly = input.BusinessDaysOnly
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}
	if input.ReplyOncePerThread != nil {
		rule.ReplyOncePerThread = *input.ReplyOncePerThread
	}
	if input.PreventReplyToAutomated != nil {
		rule.PreventReplyToAutomated = *input.PreventReplyToAutomated
	}
	if input.IgnoreMailingLists != nil {
		rule.IgnoreMailingLists = *input.IgnoreMailingLists
	}
	if input.StopOnRecipientReply != nil {
		rule.StopOnRecipientReply = *input.StopOnRecipientReply
	}
	if input.ApplyToExistingMessages != nil {
		rule.ApplyToExistingMessages = *input.ApplyToExistingMessages
	}
	if input.BusinessStart != nil {
		rule.BusinessStart = models.ClockTime(*input.BusinessStart)
	}
	if input.BusinessEnd != nil {
		rule.BusinessEnd = models.ClockTime(*input.BusinessEnd)
	}

	if err := rc.DB.Save(&rule).Error; err != nil {
		utils.LogError("rule_update", err, map[string]interface{}{"rule_id": rule.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update rule"})
	}

	if !rule.IsActive {
		rc.cancelScheduled(rule.ID)
	}
	return c.JSON(rule)
}

// ToggleRule flips a rule's active flag. Deactivating cancels its pending
// scheduled replies.
func (rc *RuleController) ToggleRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.AutoReplyRule
	if err := rc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Rule not found"})
	}

	rule.IsActive = !rule.IsActive
	if rule.IsActive && rule.Conditions.ApplyToAll {
		var n int64
		rc.DB.Model(&models.AutoReplyRule{}).
			Where("user_id = ? AND is_active = ? AND id <> ? AND conditions ->> 'apply_to_all' = 'true'",
				user.ID, true, rule.ID).
			Count(&n)
		if n > 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "an active apply-to-all rule already exists",
			})
		}
	}

	if err := rc.DB.Model(&rule).Update("is_active", rule.IsActive).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to toggle rule"})
	}
	if !rule.IsActive {
		rc.cancelScheduled(rule.ID)
	}
	return c.JSON(fiber.Map{"id": rule.ID, "is_active": rule.IsActive})
}

// DuplicateRule clones a rule as an inactive copy.
func (rc *RuleController) DuplicateRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.AutoReplyRule
	if err := rc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Rule not found"})
	}

	clone := rule
	clone.ID = 0
	clone.CreatedAt = time.Time{}
	clone.UpdatedAt = time.Time{}
	clone.Name = rule.Name + " (copy)"
	clone.IsActive = false
	clone.LastTriggeredAt = nil

	if err := rc.DB.Create(&clone).Error; err != nil {
		utils.LogError("rule_duplicate", err, map[string]interface{}{"rule_id": rule.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to duplicate rule"})
	}
	return c.Status(fiber.StatusCreated).JSON(clone)
}

func (rc *RuleController) DeleteRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.AutoReplyRule
	if err := rc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Rule not found"})
	}

	rc.cancelScheduled(rule.ID)
	if err := rc.DB.Delete(&rule).Error; err != nil {
		utils.LogError("rule_delete", err, map[string]interface{}{"rule_id": rule.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete rule"})
	}

	rc.Logger.Printf("Deleted rule %d for user %d", rule.ID, user.ID)
	return c.JSON(fiber.Map{"message": "Rule deleted"})
}

func (rc *RuleController) cancelScheduled(ruleID uint) {
	if err := rc.DB.Model(&models.ScheduledReply{}).
		Where("rule_id = ? AND status = ?", ruleID, models.StatusScheduled).
		Updates(map[string]interface{}{
			"status":      models.StatusCancelled,
			"skip_reason": "rule deactivated or deleted",
		}).Error; err != nil {
		utils.LogError("rule_cancel_scheduled", err, map[string]interface{}{"rule_id": ruleID})
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
