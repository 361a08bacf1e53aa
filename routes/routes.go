package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "mailpilot/controllers"
	"mailpilot/middleware"
)

// Setup registers every route group. All API routes except auth sit behind
// the JWT middleware.
func Setup(app *fiber.App, db *gorm.DB) {
	routeLogger := log.New(os.Stdout, "ROUTES: ", log.Ldate|log.Ltime)

	requestLog := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})

	auth := controller.NewAuthController(db, log.New(os.Stdout, "AUTH: ", log.LstdFlags))
	rules := controller.NewRuleController(db, log.New(os.Stdout, "RULES: ", log.LstdFlags))
	templates := controller.NewTemplateController(db, log.New(os.Stdout, "TEMPLATES: ", log.LstdFlags))
	followUps := controller.NewFollowUpController(db, log.New(os.Stdout, "FOLLOW-UPS: ", log.LstdFlags))
	categories := controller.NewCategoryController(db, log.New(os.Stdout, "CATEGORIES: ", log.LstdFlags))
	logs := controller.NewLogController(db, log.New(os.Stdout, "LOGS: ", log.LstdFlags))
	triggers := controller.NewTriggerController(db, log.New(os.Stdout, "TRIGGERS: ", log.LstdFlags))

	// Public auth endpoints
	authGroup := app.Group("/auth", requestLog)
	authGroup.Get("/google", auth.GoogleOAuth)
	authGroup.Get("/google/callback", auth.GoogleOAuthCallback)
	authGroup.Post("/refresh", auth.RefreshToken)

	protectedAuth := authGroup.Group("", middleware.Protected())
	protectedAuth.Get("/me", auth.GetCurrentUser)
	protectedAuth.Post("/logout", auth.Logout)

	api := app.Group("/api", requestLog, middleware.Protected())

	ruleGroup := api.Group("/rules")
	ruleGroup.Get("/", rules.ListRules)
	ruleGroup.Post("/", rules.CreateRule)
	ruleGroup.Get("/:id", rules.GetRule)
	ruleGroup.Put("/:id", rules.UpdateRule)
	ruleGroup.Delete("/:id", rules.DeleteRule)
	ruleGroup.Post("/:id/toggle", rules.ToggleRule)
	ruleGroup.Post("/:id/duplicate", rules.DuplicateRule)

	templateGroup := api.Group("/templates")
	templateGroup.Get("/", templates.ListTemplates)
	templateGroup.Post("/", templates.CreateTemplate)
	templateGroup.Get("/:id", templates.GetTemplate)
	templateGroup.Put("/:id", templates.UpdateTemplate)
	templateGroup.Delete("/:id", templates.DeleteTemplate)

	followUpGroup := api.Group("/follow-up-rules")
	followUpGroup.Get("/", followUps.ListRules)
	followUpGroup.Post("/", followUps.CreateRule)
	followUpGroup.Get("/:id", followUps.GetRule)
	followUpGroup.Put("/:id", followUps.UpdateRule)
	followUpGroup.Delete("/:id", followUps.DeleteRule)

	api.Get("/follow-ups", followUps.ListFollowUps)
	api.Post("/follow-ups/:id/cancel", followUps.CancelFollowUp)

	categoryGroup := api.Group("/categories")
	categoryGroup.Get("/", categories.ListCategories)
	categoryGroup.Post("/", categories.CreateCategory)
	categoryGroup.Delete("/:id", categories.DeleteCategory)

	classificationGroup := api.Group("/classification-rules")
	classificationGroup.Get("/", categories.ListClassificationRules)
	classificationGroup.Post("/", categories.CreateClassificationRule)
	classificationGroup.Delete("/:id", categories.DeleteClassificationRule)

	api.Get("/messages", logs.ListMessages)
	api.Get("/logs/replies", logs.ListReplyLogs)
	api.Get("/logs/follow-ups", logs.ListFollowUpLogs)
	api.Get("/scheduled-replies", logs.ListScheduledReplies)
	api.Post("/scheduled-replies/:id/cancel", logs.CancelScheduledReply)
	api.Get("/jobs/runs", logs.ListJobRuns)

	// Manual engine triggers are rate limited, they run full passes inline
	triggerGroup := api.Group("/trigger", middleware.TriggerRateLimiter())
	triggerGroup.Post("/auto-reply", triggers.TriggerAutoReply)
	triggerGroup.Post("/follow-ups", triggers.TriggerFollowUps)
	triggerGroup.Post("/inbox-sync", triggers.TriggerInboxSync)

	routeLogger.Println("Routes initialized successfully")
}
