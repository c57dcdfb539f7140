// Package web provides HTTP handlers and REST API endpoints for the approval
// engine.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
	"github.com/lumahr/approvalflow/pkg/services"
)

type APIHandlers struct {
	registry  *services.Registry
	engine    *services.Engine
	validator *validator.Validate
}

func NewAPIHandlers(
	registry *services.Registry,
	engine *services.Engine,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		registry:  registry,
		engine:    engine,
		validator: validator,
	}
}

// Register mounts every route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	definitions := app.Group("/definitions")
	definitions.Get("/", h.GetDefinitions)
	definitions.Post("/", h.RegisterDefinition)
	definitions.Get("/active/:entityType", h.GetActiveDefinition)
	definitions.Get("/:name", h.GetDefinition)
	definitions.Post("/:name/activate", h.ActivateDefinition)
	definitions.Post("/:name/deactivate", h.DeactivateDefinition)

	instances := app.Group("/instances")
	instances.Get("/", h.GetInstances)
	instances.Post("/", h.CreateInstance)
	instances.Get("/:id", h.GetInstance)
	instances.Post("/:id/decisions", h.DecideInstance)
	instances.Post("/:id/skip", h.SkipStep)
	instances.Post("/:id/cancel", h.CancelInstance)
	instances.Get("/:id/history", h.GetInstanceHistory)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) RegisterDefinition(c fiber.Ctx) error {
	var req RegisterDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.registry.Register(c.Context(), req.ToModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	opts := persistence.ListDefinitionsOptions{
		EntityType: c.Query("entity_type"),
		ActiveOnly: c.Query("active") == "true",
	}

	definitions, err := h.registry.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definitions)
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Definition name is required")
	}

	definition, err := h.registry.Get(c.Context(), name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) GetActiveDefinition(c fiber.Ctx) error {
	entityType := c.Params("entityType")
	if entityType == "" {
		return badRequest(c, "Entity type is required")
	}

	definition, err := h.registry.ActiveFor(c.Context(), entityType)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) ActivateDefinition(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Definition name is required")
	}

	if err := h.registry.Activate(c.Context(), name); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DeactivateDefinition(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Definition name is required")
	}

	if err := h.registry.Deactivate(c.Context(), name); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req CreateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.Create(c.Context(), services.CreateInstanceRequest{
		DefinitionName: req.DefinitionName,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		Initiator:      req.Initiator,
		Facts:          models.FactSet(req.Facts),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

// GetInstances lists instances. With ?actor= the listing narrows to open
// instances whose current step that actor may decide.
func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	if actor := c.Query("actor"); actor != "" {
		pending, err := h.engine.ListPendingForActor(c.Context(), actor)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(pending)
	}

	opts := persistence.ListInstancesOptions{
		OpenOnly:   c.Query("open") == "true",
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.InstanceStatus(statusStr)
		opts.Status = &status
	}

	instances, err := h.engine.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instances)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.engine.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) DecideInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req DecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.Decide(c.Context(), services.DecideRequest{
		InstanceID:       id,
		Actor:            req.Actor,
		Kind:             models.DecisionKind(req.Decision),
		Comment:          req.Comment,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) SkipStep(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req SkipRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.Skip(c.Context(), services.SkipRequest{
		InstanceID:       id,
		Actor:            req.Actor,
		Comment:          req.Comment,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req CancelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.Cancel(c.Context(), services.CancelRequest{
		InstanceID: id,
		Actor:      req.Actor,
		Comment:    req.Comment,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetInstanceHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	trail, err := h.engine.History(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trail)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.engine.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Approvalflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Approvalflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
