package controller

import (
	"errors"
	"log"
	"sort"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailpilot/models"
	"mailpilot/utils"
)

type FollowUpController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewFollowUpController(db *gorm.DB, logger *log.Logger) *FollowUpController {
	return &FollowUpController{DB: db, Logger: logger}
}

type sequenceInput struct {
	SequenceNumber int    `json:"sequence_number" validate:"required,min=1,max=20"`
	DelayDays      int    `json:"delay_days" validate:"required,min=1,max=90"`
	Subject        string `json:"subject" validate:"max=500"`
	Message        string `json:"message"`
}

type followUpRuleInput struct {
	Name         string              `json:"name" validate:"required,min=1,max=200"`
	IsActive     *bool               `json:"is_active"`
	DelayHours   int                 `json:"delay_hours" validate:"min=1,max=2160"`
	MaxCount     int                 `json:"max_count" validate:"min=1,max=20"`
	TemplateText string              `json:"template_text" validate:"required,min=1"`
	Conditions   models.ConditionSet `json:"conditions"`

	StopOnReply      *bool           `json:"stop_on_reply"`
	BusinessDaysOnly *bool           `json:"business_days_only"`
	SendWindowStart  *int            `json:"send_window_start"`
	SendWindowEnd    *int            `json:"send_window_end"`
	Sequences        []sequenceInput `json:"sequences" validate:"dive"`
}

func validateFollowUpInput(in *followUpRuleInput) error {
	if err := utils.ValidateStruct(in); err != nil {
		return err
	}
	if err := validateConditions(in.Conditions); err != nil {
		return err
	}
	if in.SendWindowStart != nil && in.SendWindowEnd != nil && *in.SendWindowEnd <= *in.SendWindowStart {
		return errors.New("send_window_end must be after send_window_start")
	}
	seen := map[int]bool{}
	for _, s := range in.Sequences {
		if seen[s.SequenceNumber] {
			return errors.New("duplicate sequence_number in sequences")
		}
		seen[s.SequenceNumber] = true
	}
	return nil
}

func (fc *FollowUpController) ListRules(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rules []models.FollowUpRule
	if err := fc.DB.Preload("Sequences").
		Where("user_id = ?", user.ID).
		Order("id asc").
		Find(&rules).Error; err != nil {
		utils.LogError("follow_up_rule_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list follow-up rules"})
	}
	for i := range rules {
		sort.Slice(rules[i].Sequences, func(a, b int) bool {
			return rules[i].Sequences[a].SequenceNumber < rules[i].Sequences[b].SequenceNumber
		})
	}
	return c.JSON(fiber.Map{"rules": rules})
}

func (fc *FollowUpController) GetRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.FollowUpRule
	if err := fc.DB.Preload("Sequences").
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Follow-up rule not found"})
	}
	return c.JSON(rule)
}

func (fc *FollowUpController) CreateRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input followUpRuleInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validateFollowUpInput(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rule := models.FollowUpRule{
		UserID:           user.ID,
		Name:             input.Name,
		IsActive:         input.IsActive == nil || *input.IsActive,
		DelayHours:       input.DelayHours,
		MaxCount:         input.MaxCount,
		TemplateText:     input.TemplateText,
		Conditions:       input.Conditions,
		StopOnReply:      boolOr(input.StopOnReply, true),
		BusinessDaysOnly: boolOr(input.BusinessDaysOnly, true),
		SendWindowStart:  models.NewClockTime(9, 0),
		SendWindowEnd:    models.NewClockTime(18, 0),
	}
	if input.SendWindowStart != nil {
		rule.SendWindowStart = models.ClockTime(*input.SendWindowStart)
	}
	if input.SendWindowEnd != nil {
		rule.SendWindowEnd = models.ClockTime(*input.SendWindowEnd)
	}
	for _, s := range input.Sequences {
		rule.Sequences = append(rule.Sequences, models.FollowUpSequence{
			SequenceNumber: s.SequenceNumber,
			DelayDays:      s.DelayDays,
			Subject:        s.Subject,
			Message:        s.Message,
		})
	}

	if err := fc.DB.Create(&rule).Error; err != nil {
		utils.LogError("follow_up_rule_create", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create follow-up rule"})
	}

	fc.Logger.Printf("Created follow-up rule %d for user %d", rule.ID, user.ID)
	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (fc *FollowUpController) UpdateRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.FollowUpRule
	if err := fc.DB.Preload("Sequences").
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Follow-up rule not found"})
	}

	var input followUpRuleInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validateFollowUpInput(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	err := fc.DB.Transaction(func(tx *gorm.DB) error {
		rule.Name = input.Name
		rule.DelayHours = input.DelayHours
		rule.MaxCount = input.MaxCount
		rule.TemplateText = input.TemplateText
		rule.Conditions = input.Conditions
		if input.IsActive != nil {
			rule.IsActive = *input.IsActive
		}
		if input.StopOnReply != nil {
			rule.StopOnReply = *input.StopOnReply
		}
		if input.BusinessDaysOnly != nil {
			rule.BusinessDaysOnly = *input.BusinessDaysOnly
		}
		if input.SendWindowStart != nil {
			rule.SendWindowStart = models.ClockTime(*input.SendWindowStart)
		}
		if input.SendWindowEnd != nil {
			rule.SendWindowEnd = models.ClockTime(*input.SendWindowEnd)
		}
		if err := tx.Omit("Sequences").Save(&rule).Error; err != nil {
			return err
		}

		// Sequences are replaced wholesale; in-flight lineages keep their
		// frozen copies of the rule settings.
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&models.FollowUpSequence{}).Error; err != nil {
			return err
		}
		rule.Sequences = nil
		for _, s := range input.Sequences {
			seq := models.FollowUpSequence{
				RuleID:         rule.ID,
				SequenceNumber: s.SequenceNumber,
				DelayDays:      s.DelayDays,
				Subject:        s.Subject,
				Message:        s.Message,
			}
			if err := tx.Create(&seq).Error; err != nil {
				return err
			}
			rule.Sequences = append(rule.Sequences, seq)
		}
		return nil
	})
	if err != nil {
		utils.LogError("follow_up_rule_update", err, map[string]interface{}{"rule_id": rule.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update follow-up rule"})
	}

	if !rule.IsActive {
		fc.cancelPending(rule.ID)
	}
	return c.JSON(rule)
}

func (fc *FollowUpController) DeleteRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.FollowUpRule
	if err := fc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Follow-up rule not found"})
	}

	fc.cancelPending(rule.ID)
	err := fc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&models.FollowUpSequence{}).Error; err != nil {
			return err
		}
		return tx.Delete(&rule).Error
	})
	if err != nil {
		utils.LogError("follow_up_rule_delete", err, map[string]interface{}{"rule_id": rule.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete follow-up rule"})
	}
	return c.JSON(fiber.Map{"message": "Follow-up rule deleted"})
}

// ListFollowUps returns the owner's follow-up lineage rows, optionally
// filtered by status.
func (fc *FollowUpController) ListFollowUps(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	q := fc.DB.Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var followUps []models.FollowUp
	if err := q.Order("scheduled_at desc").Limit(200).Find(&followUps).Error; err != nil {
		utils.LogError("follow_up_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list follow-ups"})
	}
	return c.JSON(fiber.Map{"follow_ups": followUps})
}

// CancelFollowUp marks one pending follow-up cancelled before it sends.
func (fc *FollowUpController) CancelFollowUp(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var fu models.FollowUp
	if err := fc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&fu).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Follow-up not found"})
	}
	if fu.Status != models.FollowUpPending {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Only pending follow-ups can be cancelled"})
	}

	if err := fc.DB.Model(&fu).Update("status", models.FollowUpCancelled).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to cancel follow-up"})
	}
	return c.JSON(fiber.Map{"id": fu.ID, "status": models.FollowUpCancelled})
}

func (fc *FollowUpController) cancelPending(ruleID uint) {
	if err := fc.DB.Model(&models.FollowUp{}).
		Where("rule_id = ? AND status = ?", ruleID, models.FollowUpPending).
		Update("status", models.FollowUpCancelled).Error; err != nil {
		utils.LogError("follow_up_cancel_pending", err, map[string]interface{}{"rule_id": ruleID})
	}
}
