// Package resolver defines the approver-resolution contract: deciding whether
// an actor currently holds a role for a given business entity. The engine
// consumes this interface; organizational hierarchy stays outside it.
package resolver

import "context"

type ApproverResolver interface {
	// AuthorizedFor reports whether the actor holds the role for the entity.
	AuthorizedFor(ctx context.Context, role, entityType, entityID, actor string) (bool, error)
}
