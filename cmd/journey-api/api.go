// Package main provides the Journey API server implementation.
package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/bloomcrm/journey/pkg/cache"
	"github.com/bloomcrm/journey/pkg/eventbus"
	"github.com/bloomcrm/journey/pkg/persistence"
	"github.com/bloomcrm/journey/pkg/services"
	"github.com/bloomcrm/journey/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	definitions cache.DefinitionCache
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	definitions cache.DefinitionCache,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		definitions: definitions,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence, a.definitions)
	enrollmentService := services.NewEnrollment(a.logger, a.persistence, a.eventBus)

	handlers := web.NewAPIHandlers(workflowService, enrollmentService, a.eventBus, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Journey API")
	})

	v1 := app.Group("/v1")
	v1.Post("/triggers", handlers.SubmitTrigger)

	w := v1.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Post("/:id/versions", handlers.CreateWorkflowVersion)
	w.Get("/:id/versions/:version", handlers.GetWorkflowVersion)
	w.Post("/:id/versions/:version/activate", handlers.ActivateWorkflowVersion)
	w.Post("/:id/versions/:version/deactivate", handlers.DeactivateWorkflowVersion)
	w.Get("/:id/analytics", handlers.GetWorkflowAnalytics)
	w.Get("/:id/enrollments", handlers.GetWorkflowEnrollments)

	e := v1.Group("/enrollments")
	e.Get("/:id", handlers.GetEnrollment)
	e.Post("/:id/resume", handlers.ResumeEnrollment)
	e.Post("/:id/pause", handlers.PauseEnrollment)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

const definitionCacheTTL = 30 * time.Second
