// Package main provides the approvalflow API server implementation.
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/lumahr/approvalflow/pkg/eventbus"
	"github.com/lumahr/approvalflow/pkg/locker"
	"github.com/lumahr/approvalflow/pkg/otelhelper"
	"github.com/lumahr/approvalflow/pkg/persistence"
	"github.com/lumahr/approvalflow/pkg/resolver"
	"github.com/lumahr/approvalflow/pkg/services"
	"github.com/lumahr/approvalflow/pkg/web"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	resolver    resolver.ApproverResolver
	locker      locker.Locker
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	approverResolver resolver.ApproverResolver,
	instanceLocker locker.Locker,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		resolver:    approverResolver,
		locker:      instanceLocker,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App(ctx context.Context) *fiber.App {
	registry := services.NewRegistry(a.persistence, a.logger)
	engine := services.NewEngine(a.persistence, a.resolver, a.locker, a.eventBus, a.tracer(ctx), a.logger)

	handlers := web.NewAPIHandlers(registry, engine, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Approvalflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	app := a.App(ctx)

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}

// tracer enables OTLP tracing when an exporter endpoint is configured in the
// environment; otherwise spans are no-ops.
func (a *API) tracer(ctx context.Context) trace.Tracer {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return nil
	}

	tracer, err := otelhelper.NewTracer(ctx, "approvalflow-api")
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to initialize tracer", "error", err)

		return nil
	}

	return tracer
}
