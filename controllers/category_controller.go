package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailpilot/models"
	"mailpilot/utils"
)

type CategoryController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewCategoryController(db *gorm.DB, logger *log.Logger) *CategoryController {
	return &CategoryController{DB: db, Logger: logger}
}

type categoryInput struct {
	Name  string `json:"name" validate:"required,min=1,max=100"`
	Color string `json:"color" validate:"max=20"`
}

type classificationRuleInput struct {
	CategoryID uint                `json:"category_id" validate:"required"`
	Conditions models.ConditionSet `json:"conditions"`
	Priority   int                 `json:"priority" validate:"min=0,max=100"`
	IsActive   *bool               `json:"is_active"`
}

func (cc *CategoryController) ListCategories(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var categories []models.EmailCategory
	if err := cc.DB.Where("user_id = ?", user.ID).Order("id asc").Find(&categories).Error; err != nil {
		utils.LogError("category_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list categories"})
	}
	return c.JSON(fiber.Map{"categories": categories})
}

func (cc *CategoryController) CreateCategory(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input categoryInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	category := models.EmailCategory{UserID: user.ID, Name: input.Name, Color: input.Color}
	if err := cc.DB.Create(&category).Error; err != nil {
		utils.LogError("category_create", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create category"})
	}
	return c.Status(fiber.StatusCreated).JSON(category)
}

func (cc *CategoryController) DeleteCategory(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var category models.EmailCategory
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&category).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Category not found"})
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category_id = ?", category.ID).Delete(&models.ClassificationRule{}).Error; err != nil {
			return err
		}
		// Messages keep existing; they just lose the label.
		if err := tx.Model(&models.InboundMessage{}).
			Where("category_id = ?", category.ID).
			Update("category_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&category).Error
	})
	if err != nil {
		utils.LogError("category_delete", err, map[string]interface{}{"category_id": category.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete category"})
	}
	return c.JSON(fiber.Map{"message": "Category deleted"})
}

func (cc *CategoryController) ListClassificationRules(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rules []models.ClassificationRule
	if err := cc.DB.Where("user_id = ?", user.ID).
		Order("priority asc, id asc").
		Find(&rules).Error; err != nil {
		utils.LogError("classification_rule_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list classification rules"})
	}
	return c.JSON(fiber.Map{"rules": rules})
}

func (cc *CategoryController) CreateClassificationRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input classificationRuleInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := validateConditions(input.Conditions); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var category models.EmailCategory
	if err := cc.DB.Where("id = ? AND user_id = ?", input.CategoryID, user.ID).First(&category).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Category not found"})
	}

	rule := models.ClassificationRule{
		UserID:     user.ID,
		CategoryID: input.CategoryID,
		Conditions: input.Conditions,
		Priority:   input.Priority,
		IsActive:   input.IsActive == nil || *input.IsActive,
	}
	if err := cc.DB.Create(&rule).Error; err != nil {
		utils.LogError("classification_rule_create", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create classification rule"})
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (cc *CategoryController) DeleteClassificationRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.ClassificationRule
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Classification rule not found"})
	}
	if err := cc.DB.Delete(&rule).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete classification rule"})
	}
	return c.JSON(fiber.Map{"message": "Classification rule deleted"})
}
