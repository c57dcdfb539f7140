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
	"time"

	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
)

// DefinitionRepository stores one JSON file per definition under
// <root>/definitions. A single mutex serializes activation so the
// exclusive-active invariant holds within the process.
type DefinitionRepository struct {
	root string
	mu   sync.Mutex
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(root string) *DefinitionRepository {
	return &DefinitionRepository{root: root}
}

func (dr *DefinitionRepository) dir() string {
	return path.Join(dr.root, "definitions")
}

func (dr *DefinitionRepository) filePath(name string) string {
	return filepath.Clean(path.Join(dr.dir(), name+".json"))
}

// Save upserts a definition by name.
func (dr *DefinitionRepository) Save(_ context.Context, definition *models.Definition) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	return dr.write(definition)
}

func (dr *DefinitionRepository) write(definition *models.Definition) error {
	if err := os.MkdirAll(dr.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create definitions directory: %w", err)
	}

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	data, err := json.MarshalIndent(definition, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal definition %s: %w", definition.Name, err)
	}

	return os.WriteFile(dr.filePath(definition.Name), data, 0600)
}

// GetByName retrieves a definition by its unique name, or nil when absent.
func (dr *DefinitionRepository) GetByName(_ context.Context, name string) (*models.Definition, error) {
	return dr.read(name)
}

func (dr *DefinitionRepository) read(name string) (*models.Definition, error) {
	body, err := os.ReadFile(dr.filePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch definition %s: %w", name, err)
	}

	var definition models.Definition

	if err := json.Unmarshal(body, &definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition %s: %w", name, err)
	}

	return &definition, nil
}

// List returns definitions matching the options, sorted by name.
func (dr *DefinitionRepository) List(ctx context.Context, opts persistence.ListDefinitionsOptions) ([]*models.Definition, error) {
	if _, err := os.Stat(dr.dir()); os.IsNotExist(err) {
		return []*models.Definition{}, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(dr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list definition files: %w", err)
	}

	definitions := make([]*models.Definition, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		name := file[:len(file)-5] // strip .json

		definition, err := dr.read(name)
		if err != nil {
			return nil, err
		}

		if definition == nil {
			continue
		}

		if opts.EntityType != "" && definition.EntityType != opts.EntityType {
			continue
		}

		if opts.ActiveOnly && !definition.Active {
			continue
		}

		definitions = append(definitions, definition)
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Name < definitions[j].Name
	})

	return definitions, nil
}

// ActiveByEntityType returns the active definition for the type, or nil.
func (dr *DefinitionRepository) ActiveByEntityType(ctx context.Context, entityType string) (*models.Definition, error) {
	definitions, err := dr.List(ctx, persistence.ListDefinitionsOptions{
		EntityType: entityType,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}

	if len(definitions) == 0 {
		return nil, nil
	}

	return definitions[0], nil
}

// SetActive deactivates every other active definition of the same entity type
// and activates the named one, as a single serialized operation.
func (dr *DefinitionRepository) SetActive(ctx context.Context, name string) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	target, err := dr.read(name)
	if err != nil {
		return err
	}

	if target == nil {
		return persistence.NewDefinitionError("SetActive", name, persistence.ErrDefinitionNotFound)
	}

	others, err := dr.List(ctx, persistence.ListDefinitionsOptions{
		EntityType: target.EntityType,
		ActiveOnly: true,
	})
	if err != nil {
		return err
	}

	for _, other := range others {
		if other.Name == name {
			continue
		}

		other.Active = false
		if err := dr.write(other); err != nil {
			return fmt.Errorf("failed to deactivate definition %s: %w", other.Name, err)
		}
	}

	target.Active = true

	return dr.write(target)
}

// SetInactive marks the named definition inactive.
func (dr *DefinitionRepository) SetInactive(_ context.Context, name string) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	target, err := dr.read(name)
	if err != nil {
		return err
	}

	if target == nil {
		return persistence.NewDefinitionError("SetInactive", name, persistence.ErrDefinitionNotFound)
	}

	target.Active = false

	return dr.write(target)
}
