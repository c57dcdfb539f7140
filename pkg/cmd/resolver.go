package cmd

import (
	"github.com/lumahr/approvalflow/pkg/resolver"
)

// NewResolver loads the static role-to-actors resolver from the given JSON
// file. An empty path yields a resolver that authorizes nobody, which keeps
// registration and read endpoints usable without a roles file.
func NewResolver(rolesFile string) resolver.ApproverResolver {
	if rolesFile == "" {
		return resolver.NewStaticResolver(nil)
	}

	r, err := resolver.NewStaticResolverFromFile(rolesFile)
	if err != nil {
		panic("failed to load roles file: " + err.Error())
	}

	return r
}
