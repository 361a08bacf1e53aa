package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailpilot/models"
	"mailpilot/utils"
)

type TemplateController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTemplateController(db *gorm.DB, logger *log.Logger) *TemplateController {
	return &TemplateController{DB: db, Logger: logger}
}

type templateInput struct {
	Name    string `json:"name" validate:"required,min=1,max=200"`
	Subject string `json:"subject" validate:"max=500"`
	Body    string `json:"body" validate:"required,min=1"`
}

func (tc *TemplateController) ListTemplates(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var templates []models.Template
	if err := tc.DB.Where("user_id = ?", user.ID).Order("id asc").Find(&templates).Error; err != nil {
		utils.LogError("template_list", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list templates"})
	}
	return c.JSON(fiber.Map{"templates": templates})
}

func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.Template
	if err := tc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Template not found"})
	}
	return c.JSON(template)
}

func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input templateInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	template := models.Template{
		UserID:  user.ID,
		Name:    input.Name,
		Subject: input.Subject,
		Body:    input.Body,
		Version: 1,
	}
	if err := tc.DB.Create(&template).Error; err != nil {
		utils.LogError("template_create", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create template"})
	}
	return c.Status(fiber.StatusCreated).JSON(template)
}

// UpdateTemplate bumps the version counter whenever the rendered output
// could change. Log rows carry the version that was actually sent.
func (tc *TemplateController) UpdateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.Template
	if err := tc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Template not found"})
	}

	var input templateInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if input.Body != template.Body || input.Subject != template.Subject {
		template.Version++
	}
	template.Name = input.Name
	template.Subject = input.Subject
	template.Body = input.Body

	if err := tc.DB.Save(&template).Error; err != nil {
		utils.LogError("template_update", err, map[string]interface{}{"template_id": template.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update template"})
	}
	return c.JSON(template)
}

func (tc *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.Template
	if err := tc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Template not found"})
	}

	// A template referenced by a rule must outlive the rule
	var n int64
	tc.DB.Model(&models.AutoReplyRule{}).Where("template_id = ?", template.ID).Count(&n)
	if n > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Template is still referenced by rules",
		})
	}

	if err := tc.DB.Delete(&template).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete template"})
	}
	return c.JSON(fiber.Map{"message": "Template deleted"})
}
