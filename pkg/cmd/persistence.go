// Package cmd wires shared infrastructure for the binaries: persistence,
// event bus, locker and approver resolver selection from configuration.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lumahr/approvalflow/pkg/persistence"
	"github.com/lumahr/approvalflow/pkg/persistence/file"
	"github.com/lumahr/approvalflow/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence implementation from the database URL
// scheme: postgres:// or postgresql:// for PostgreSQL, anything else is
// treated as a file path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic("failed to initialize postgresql persistence: " + err.Error())
		}

		return p
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "file"
	}
}
