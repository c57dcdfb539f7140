package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
)

// InstanceRepository stores one JSON file per instance under <root>/instances
// and the decision trail as a JSON array under <root>/decisions. A single
// mutex serializes transitions; the version check still runs so callers get
// the same conflict semantics as the SQL implementation.
type InstanceRepository struct {
	root string
	mu   sync.Mutex
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: root}
}

func (ir *InstanceRepository) instancePath(id string) string {
	return filepath.Clean(path.Join(ir.root, "instances", id+".json"))
}

func (ir *InstanceRepository) decisionsPath(id string) string {
	return filepath.Clean(path.Join(ir.root, "decisions", id+".json"))
}

// Create persists a new instance together with its creation-time decisions.
func (ir *InstanceRepository) Create(_ context.Context, instance *models.Instance, decisions []*models.Decision) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	if _, err := os.Stat(ir.instancePath(instance.ID)); err == nil {
		return persistence.NewInstanceError("Create", instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	if err := ir.writeInstance(instance); err != nil {
		return err
	}

	return ir.writeDecisions(instance.ID, decisions)
}

// GetByID retrieves an instance by its identifier, or nil when absent.
func (ir *InstanceRepository) GetByID(_ context.Context, id string) (*models.Instance, error) {
	return ir.readInstance(id)
}

func (ir *InstanceRepository) readInstance(id string) (*models.Instance, error) {
	body, err := os.ReadFile(ir.instancePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch instance %s: %w", id, err)
	}

	var instance models.Instance

	if err := json.Unmarshal(body, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", id, err)
	}

	return &instance, nil
}

// List returns instances matching the options, oldest first.
func (ir *InstanceRepository) List(_ context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	dir := path.Join(ir.root, "instances")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.Instance{}, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list instance files: %w", err)
	}

	instances := make([]*models.Instance, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		instance, err := ir.readInstance(file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		if instance == nil || !matches(instance, opts) {
			continue
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}

func matches(instance *models.Instance, opts persistence.ListInstancesOptions) bool {
	if opts.Status != nil && instance.Status != *opts.Status {
		return false
	}

	if opts.OpenOnly && !instance.Status.Open() {
		return false
	}

	if opts.EntityType != "" && instance.EntityType != opts.EntityType {
		return false
	}

	if opts.EntityID != "" && instance.EntityID != opts.EntityID {
		return false
	}

	if opts.CurrentRole != "" && instance.CurrentRole != opts.CurrentRole {
		return false
	}

	return true
}

// CommitTransition persists the instance's new state and appends decisions,
// guarded by the optimistic version check.
func (ir *InstanceRepository) CommitTransition(_ context.Context, instance *models.Instance, decisions []*models.Decision) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	stored, err := ir.readInstance(instance.ID)
	if err != nil {
		return err
	}

	if stored == nil {
		return persistence.NewInstanceError("CommitTransition", instance.ID, persistence.ErrInstanceNotFound)
	}

	if stored.Version != instance.Version {
		return persistence.NewInstanceError("CommitTransition", instance.ID, persistence.ErrVersionConflict)
	}

	instance.Version++

	if err := ir.writeInstance(instance); err != nil {
		return err
	}

	existing, err := ir.readDecisions(instance.ID)
	if err != nil {
		return err
	}

	return ir.writeDecisions(instance.ID, append(existing, decisions...))
}

// Decisions returns the instance's trail ordered by sequence.
func (ir *InstanceRepository) Decisions(_ context.Context, instanceID string) ([]*models.Decision, error) {
	decisions, err := ir.readDecisions(instanceID)
	if err != nil {
		return nil, err
	}

	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].Seq < decisions[j].Seq
	})

	return decisions, nil
}

func (ir *InstanceRepository) writeInstance(instance *models.Instance) error {
	if err := os.MkdirAll(path.Join(ir.root, "instances"), 0750); err != nil {
		return fmt.Errorf("failed to create instances directory: %w", err)
	}

	data, err := json.MarshalIndent(instance, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", instance.ID, err)
	}

	return os.WriteFile(ir.instancePath(instance.ID), data, 0600)
}

func (ir *InstanceRepository) readDecisions(instanceID string) ([]*models.Decision, error) {
	body, err := os.ReadFile(ir.decisionsPath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Decision{}, nil
		}

		return nil, fmt.Errorf("failed to fetch decisions for instance %s: %w", instanceID, err)
	}

	var decisions []*models.Decision

	if err := json.Unmarshal(body, &decisions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decisions for instance %s: %w", instanceID, err)
	}

	return decisions, nil
}

func (ir *InstanceRepository) writeDecisions(instanceID string, decisions []*models.Decision) error {
	if err := os.MkdirAll(path.Join(ir.root, "decisions"), 0750); err != nil {
		return fmt.Errorf("failed to create decisions directory: %w", err)
	}

	if decisions == nil {
		decisions = []*models.Decision{}
	}

	data, err := json.MarshalIndent(decisions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal decisions for instance %s: %w", instanceID, err)
	}

	return os.WriteFile(ir.decisionsPath(instanceID), data, 0600)
}
