package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lumahr/approvalflow/pkg/eventbus"
	"github.com/lumahr/approvalflow/pkg/events"
	"github.com/lumahr/approvalflow/pkg/locker"
	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/otelhelper"
	"github.com/lumahr/approvalflow/pkg/persistence"
	"github.com/lumahr/approvalflow/pkg/resolver"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Engine drives the instance state machine: creation with the initial
// condition scan, decisions, skips and cancellation. All step progression
// happens here; repositories only persist what the engine computed.
type Engine struct {
	persistence persistence.Persistence
	resolver    resolver.ApproverResolver
	locker      locker.Locker
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewEngine creates the approval engine. The publisher may be nil, in which
// case lifecycle events are not emitted. The tracer may be nil.
func NewEngine(
	persistence persistence.Persistence,
	approverResolver resolver.ApproverResolver,
	instanceLocker locker.Locker,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("approvalflow")
	}

	return &Engine{
		persistence: persistence,
		resolver:    approverResolver,
		locker:      instanceLocker,
		publisher:   publisher,
		tracer:      tracer,
		validator:   validator.New(),
		logger:      logger.With("module", "engine"),
	}
}

// CreateInstanceRequest starts one workflow execution for a business entity.
// DefinitionName is optional; when empty the active definition for EntityType
// is used.
type CreateInstanceRequest struct {
	DefinitionName string
	EntityType     string `validate:"required"`
	EntityID       string `validate:"required"`
	Initiator      string `validate:"required"`
	Facts          models.FactSet
}

// DecideRequest applies one approve or reject decision to an instance's
// current step.
type DecideRequest struct {
	InstanceID       string              `validate:"required"`
	Actor            string              `validate:"required"`
	Kind             models.DecisionKind `validate:"required,oneof=APPROVED REJECTED"`
	Comment          string
	IdempotencyToken string
}

// SkipRequest waves through an optional current step without approving it.
type SkipRequest struct {
	InstanceID       string `validate:"required"`
	Actor            string `validate:"required"`
	Comment          string
	IdempotencyToken string
}

// CancelRequest withdraws an open instance. The initiator may always cancel;
// anyone else must hold the current step's approver role.
type CancelRequest struct {
	InstanceID string `validate:"required"`
	Actor      string `validate:"required"`
	Comment    string
}

// Create resolves the definition, snapshots its steps onto a new instance,
// evaluates every step condition against the facts and fast-forwards over
// excluded and auto-passing steps. An instance whose scan exhausts all steps
// is approved on the spot.
func (e *Engine) Create(ctx context.Context, req CreateInstanceRequest) (*models.Instance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.create",
		attribute.String(otelhelper.EntityTypeKey, req.EntityType),
		attribute.String(otelhelper.EntityIDKey, req.EntityID),
	)
	defer span.End()

	if err := e.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if req.Facts == nil {
		req.Facts = models.FactSet{}
	}

	definition, err := e.resolveDefinition(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := e.checkFacts(definition, req.Facts); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance id: %w", err)
	}

	now := time.Now().UTC()

	instance := &models.Instance{
		ID:             id.String(),
		DefinitionName: definition.Name,
		EntityType:     definition.EntityType,
		EntityID:       req.EntityID,
		Status:         models.InstanceStatusPending,
		Initiator:      req.Initiator,
		Facts:          req.Facts,
		Steps:          make([]*models.StepState, 0, len(definition.Steps)),
		Version:        1,
		CreatedAt:      now,
	}

	for _, step := range definition.Steps {
		included, err := step.Included(req.Facts)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		instance.Steps = append(instance.Steps, &models.StepState{Step: *step, Included: included})
	}

	seq := 0
	decisions := e.advance(instance, 1, &seq, now)

	if err := e.persistence.Instances().Create(ctx, instance, decisions); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	e.logger.InfoContext(ctx, "instance created",
		"instance_id", instance.ID,
		"definition", definition.Name,
		"entity_type", instance.EntityType,
		"entity_id", instance.EntityID,
		"status", instance.Status)

	e.publish(ctx, instance.ID, events.InstanceCreated{
		BaseEvent:      e.baseEvent(events.InstanceCreatedEvent, instance, now),
		DefinitionName: definition.Name,
		Initiator:      req.Initiator,
		Status:         instance.Status,
		CurrentStep:    instance.CurrentStep,
	})

	if instance.Status.Terminal() {
		e.publishCompleted(ctx, instance, now)
	}

	return instance, nil
}

// Decide applies one approve or reject decision to the instance's current
// step. Rejection is final for the whole instance. A repeated idempotency
// token returns the instance unchanged.
func (e *Engine) Decide(ctx context.Context, req DecideRequest) (*models.Instance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.decide",
		attribute.String(otelhelper.InstanceIDKey, req.InstanceID),
		attribute.String(otelhelper.ActorKey, req.Actor),
		attribute.String(otelhelper.DecisionKindKey, string(req.Kind)),
	)
	defer span.End()

	if err := e.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	unlock, err := e.locker.Acquire(ctx, req.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock instance %s: %w", req.InstanceID, err)
	}
	defer unlock()

	instance, trail, replayed, err := e.loadForUpdate(ctx, req.InstanceID, req.IdempotencyToken)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if replayed {
		return instance, nil
	}

	current, err := e.actionableStep(instance)
	if err != nil {
		return nil, err
	}

	if err := e.authorize(ctx, instance, current.ApproverRole, req.Actor); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	now := time.Now().UTC()
	seq := len(trail)

	seq++
	decisions := []*models.Decision{{
		InstanceID:       instance.ID,
		Seq:              seq,
		StepOrder:        current.Order,
		Kind:             req.Kind,
		Actor:            req.Actor,
		Comment:          req.Comment,
		IdempotencyToken: req.IdempotencyToken,
		CreatedAt:        now,
	}}

	if req.Kind == models.DecisionRejected {
		e.terminate(instance, models.InstanceStatusRejected, now)
	} else {
		instance.Status = models.InstanceStatusInProgress
		decisions = append(decisions, e.advanceAfter(instance, current.Order, &seq, now)...)
	}

	return e.commit(ctx, span, instance, decisions, now)
}

// Skip waves through the current step without an approval. Only optional
// steps can be skipped, and only by an actor holding the step's role.
func (e *Engine) Skip(ctx context.Context, req SkipRequest) (*models.Instance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.skip",
		attribute.String(otelhelper.InstanceIDKey, req.InstanceID),
		attribute.String(otelhelper.ActorKey, req.Actor),
	)
	defer span.End()

	if err := e.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	unlock, err := e.locker.Acquire(ctx, req.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock instance %s: %w", req.InstanceID, err)
	}
	defer unlock()

	instance, trail, replayed, err := e.loadForUpdate(ctx, req.InstanceID, req.IdempotencyToken)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if replayed {
		return instance, nil
	}

	current, err := e.actionableStep(instance)
	if err != nil {
		return nil, err
	}

	if !current.Optional {
		return nil, fmt.Errorf("%w: step %d", ErrStepNotOptional, current.Order)
	}

	if err := e.authorize(ctx, instance, current.ApproverRole, req.Actor); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	now := time.Now().UTC()
	seq := len(trail)

	seq++
	decisions := []*models.Decision{{
		InstanceID:       instance.ID,
		Seq:              seq,
		StepOrder:        current.Order,
		Kind:             models.DecisionSkipped,
		Actor:            req.Actor,
		Comment:          req.Comment,
		IdempotencyToken: req.IdempotencyToken,
		CreatedAt:        now,
	}}

	instance.Status = models.InstanceStatusInProgress
	decisions = append(decisions, e.advanceAfter(instance, current.Order, &seq, now)...)

	return e.commit(ctx, span, instance, decisions, now)
}

// Cancel withdraws an open instance. The cancellation lands in the trail like
// any other decision so the history stays complete.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (*models.Instance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.cancel",
		attribute.String(otelhelper.InstanceIDKey, req.InstanceID),
		attribute.String(otelhelper.ActorKey, req.Actor),
	)
	defer span.End()

	if err := e.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	unlock, err := e.locker.Acquire(ctx, req.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock instance %s: %w", req.InstanceID, err)
	}
	defer unlock()

	instance, trail, _, err := e.loadForUpdate(ctx, req.InstanceID, "")
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if req.Actor != instance.Initiator {
		if err := e.authorize(ctx, instance, instance.CurrentRole, req.Actor); err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}
	}

	now := time.Now().UTC()

	stepOrder := 0
	if instance.CurrentStep != nil {
		stepOrder = *instance.CurrentStep
	}

	decisions := []*models.Decision{{
		InstanceID: instance.ID,
		Seq:        len(trail) + 1,
		StepOrder:  stepOrder,
		Kind:       models.DecisionCancelled,
		Actor:      req.Actor,
		Comment:    req.Comment,
		CreatedAt:  now,
	}}

	e.terminate(instance, models.InstanceStatusCancelled, now)

	return e.commit(ctx, span, instance, decisions, now)
}

// HealthCheck checks the health of the persistence layer.
func (e *Engine) HealthCheck(ctx context.Context) (string, bool) {
	if e.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := e.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Get returns the instance by ID.
func (e *Engine) Get(ctx context.Context, instanceID string) (*models.Instance, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}

	if instance == nil {
		return nil, persistence.NewInstanceError("get", instanceID, ErrInstanceNotFound)
	}

	return instance, nil
}

// History returns the instance's full decision trail in order.
func (e *Engine) History(ctx context.Context, instanceID string) ([]*models.Decision, error) {
	if _, err := e.Get(ctx, instanceID); err != nil {
		return nil, err
	}

	trail, err := e.persistence.Instances().Decisions(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load decisions for %s: %w", instanceID, err)
	}

	return trail, nil
}

// List returns instances matching the given filter.
func (e *Engine) List(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	instances, err := e.persistence.Instances().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return instances, nil
}

// ListPendingForActor returns the open instances whose current step the actor
// is authorized to decide.
func (e *Engine) ListPendingForActor(ctx context.Context, actor string) ([]*models.Instance, error) {
	if actor == "" {
		return nil, ErrActorRequired
	}

	open, err := e.persistence.Instances().List(ctx, persistence.ListInstancesOptions{OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list open instances: %w", err)
	}

	pending := make([]*models.Instance, 0, len(open))

	for _, instance := range open {
		ok, err := e.resolver.AuthorizedFor(ctx, instance.CurrentRole, instance.EntityType, instance.EntityID, actor)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %s: %w", instance.CurrentRole, err)
		}

		if ok {
			pending = append(pending, instance)
		}
	}

	return pending, nil
}

func (e *Engine) resolveDefinition(ctx context.Context, req CreateInstanceRequest) (*models.Definition, error) {
	if req.DefinitionName == "" {
		definition, err := e.persistence.Definitions().ActiveByEntityType(ctx, req.EntityType)
		if err != nil {
			return nil, fmt.Errorf("failed to load active definition for %s: %w", req.EntityType, err)
		}

		if definition == nil {
			return nil, persistence.NewDefinitionError("create", req.EntityType, ErrActiveDefinitionNotFound)
		}

		return definition, nil
	}

	definition, err := e.persistence.Definitions().GetByName(ctx, req.DefinitionName)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", req.DefinitionName, err)
	}

	if definition == nil {
		return nil, persistence.NewDefinitionError("create", req.DefinitionName, ErrDefinitionNotFound)
	}

	if definition.EntityType != req.EntityType {
		return nil, fmt.Errorf("%w: definition %s applies to %s, got %s",
			ErrEntityTypeMismatch, definition.Name, definition.EntityType, req.EntityType)
	}

	return definition, nil
}

func (e *Engine) checkFacts(definition *models.Definition, facts models.FactSet) error {
	if definition.FactSchema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(definition.FactSchema),
		gojsonschema.NewGoLoader(map[string]any(facts)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFactSchema, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %v", ErrFactsRejected, result.Errors())
	}

	return nil
}

// advance fast-forwards the instance from the given step order, synthesizing a
// SKIPPED decision for each excluded step and an AUTO_PASSED one for each
// included step that requires no approval. It stops at the first step that
// needs a human, or approves the instance when none is left.
func (e *Engine) advance(instance *models.Instance, fromOrder int, seq *int, now time.Time) []*models.Decision {
	var decisions []*models.Decision

	for order := fromOrder; order <= len(instance.Steps); order++ {
		step := instance.StepByOrder(order)

		if step.Included && step.RequiresApproval {
			instance.CurrentStep = &step.Order
			instance.CurrentRole = step.ApproverRole

			return decisions
		}

		kind := models.DecisionSkipped
		if step.Included {
			kind = models.DecisionAutoPassed
		}

		*seq++
		decisions = append(decisions, &models.Decision{
			InstanceID: instance.ID,
			Seq:        *seq,
			StepOrder:  step.Order,
			Kind:       kind,
			Actor:      models.SystemActor,
			CreatedAt:  now,
		})
	}

	e.terminate(instance, models.InstanceStatusApproved, now)

	return decisions
}

func (e *Engine) advanceAfter(instance *models.Instance, decidedOrder int, seq *int, now time.Time) []*models.Decision {
	return e.advance(instance, decidedOrder+1, seq, now)
}

func (e *Engine) terminate(instance *models.Instance, status models.InstanceStatus, now time.Time) {
	instance.Status = status
	instance.CurrentStep = nil
	instance.CurrentRole = ""
	instance.CompletedAt = &now
}

// loadForUpdate loads the instance and its trail under the caller's lock. When
// the idempotency token already appears in the trail the decision was applied
// before; the caller returns the instance as-is.
func (e *Engine) loadForUpdate(ctx context.Context, instanceID, token string) (*models.Instance, []*models.Decision, bool, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}

	if instance == nil {
		return nil, nil, false, persistence.NewInstanceError("load", instanceID, ErrInstanceNotFound)
	}

	trail, err := e.persistence.Instances().Decisions(ctx, instanceID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to load decisions for %s: %w", instanceID, err)
	}

	if token != "" {
		for _, decision := range trail {
			if decision.IdempotencyToken == token {
				e.logger.DebugContext(ctx, "idempotency token replayed",
					"instance_id", instanceID, "token", token)

				return instance, trail, true, nil
			}
		}
	}

	if instance.Status.Terminal() {
		return nil, nil, false, fmt.Errorf("%w: instance %s is %s", ErrInstanceTerminal, instanceID, instance.Status)
	}

	return instance, trail, false, nil
}

func (e *Engine) actionableStep(instance *models.Instance) (*models.StepState, error) {
	current := instance.CurrentStepState()
	if current == nil || !current.Included || !current.RequiresApproval {
		return nil, fmt.Errorf("%w: instance %s", ErrStepNotActionable, instance.ID)
	}

	return current, nil
}

func (e *Engine) authorize(ctx context.Context, instance *models.Instance, role, actor string) error {
	ok, err := e.resolver.AuthorizedFor(ctx, role, instance.EntityType, instance.EntityID, actor)
	if err != nil {
		return fmt.Errorf("failed to resolve role %s: %w", role, err)
	}

	if !ok {
		return fmt.Errorf("%w: actor %s lacks role %s", ErrNotAuthorized, actor, role)
	}

	return nil
}

func (e *Engine) commit(ctx context.Context, span trace.Span, instance *models.Instance, decisions []*models.Decision, now time.Time) (*models.Instance, error) {
	err := e.persistence.Instances().CommitTransition(ctx, instance, decisions)
	if err != nil {
		otelhelper.SetError(span, err)

		if errors.Is(err, persistence.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: instance %s", ErrConcurrencyConflict, instance.ID)
		}

		return nil, fmt.Errorf("failed to commit transition for %s: %w", instance.ID, err)
	}

	e.logger.InfoContext(ctx, "transition committed",
		"instance_id", instance.ID,
		"status", instance.Status,
		"decisions", len(decisions))

	for _, decision := range decisions {
		if decision.Actor == models.SystemActor {
			continue
		}

		e.publish(ctx, instance.ID, events.DecisionRecorded{
			BaseEvent: e.baseEvent(events.DecisionRecordedEvent, instance, now),
			StepOrder: decision.StepOrder,
			Kind:      decision.Kind,
			Actor:     decision.Actor,
			NextStep:  instance.CurrentStep,
		})
	}

	if instance.Status.Terminal() {
		e.publishCompleted(ctx, instance, now)
	}

	return instance, nil
}

func (e *Engine) baseEvent(eventType events.EventType, instance *models.Instance, now time.Time) events.BaseEvent {
	id, _ := uuid.NewV7()

	return events.BaseEvent{
		ID:         id.String(),
		Type:       eventType,
		Timestamp:  now,
		InstanceID: instance.ID,
		EntityType: instance.EntityType,
		EntityID:   instance.EntityID,
	}
}

func (e *Engine) publishCompleted(ctx context.Context, instance *models.Instance, now time.Time) {
	e.publish(ctx, instance.ID, events.InstanceCompleted{
		BaseEvent: e.baseEvent(events.InstanceCompletedEvent, instance, now),
		Status:    instance.Status,
		Duration:  now.Sub(instance.CreatedAt),
	})
}

// publish emits an event best-effort; a broker failure never fails the
// already-committed transition.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "instance_id", key, "error", err)
	}
}
