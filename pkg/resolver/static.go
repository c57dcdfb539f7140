package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// StaticResolver resolves roles from a fixed role-to-actors assignment map,
// ignoring the entity. Suitable for development, tests and small deployments;
// an HR directory integration replaces it in production.
type StaticResolver struct {
	assignments map[string][]string
}

// NewStaticResolver creates a resolver from an in-memory assignment map.
func NewStaticResolver(assignments map[string][]string) *StaticResolver {
	return &StaticResolver{assignments: assignments}
}

// NewStaticResolverFromFile loads assignments from a JSON file of the shape
// {"manager": ["alice"], "hr": ["bob", "carol"]}.
func NewStaticResolverFromFile(path string) (*StaticResolver, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file %s: %w", path, err)
	}

	var assignments map[string][]string

	if err := json.Unmarshal(body, &assignments); err != nil {
		return nil, fmt.Errorf("failed to parse roles file %s: %w", path, err)
	}

	return NewStaticResolver(assignments), nil
}

// AuthorizedFor reports whether the actor is assigned the role.
func (r *StaticResolver) AuthorizedFor(_ context.Context, role, _, _, actor string) (bool, error) {
	return slices.Contains(r.assignments[role], actor), nil
}
