// Package file provides file-based persistence for definitions and instances.
// It is intended for development and tests; production deployments use the
// postgresql package.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/lumahr/approvalflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root           string
	definitionRepo *DefinitionRepository
	instanceRepo   *InstanceRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// A "file://" prefix on the root is accepted and stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		definitionRepo: NewDefinitionRepository(cleanRoot),
		instanceRepo:   NewInstanceRepository(cleanRoot),
	}
}

func (fp *Persistence) Definitions() persistence.DefinitionRepository {
	return fp.definitionRepo
}

func (fp *Persistence) Instances() persistence.InstanceRepository {
	return fp.instanceRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file persistence there is nothing
// to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
