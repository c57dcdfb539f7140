// Package main provides the admin CLI for managing workflow definitions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lumahr/approvalflow/pkg/cmd"
	"github.com/lumahr/approvalflow/pkg/log"
	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
	"github.com/lumahr/approvalflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Database connection URL for persistence",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

func withRegistry(ctx context.Context, command *cli.Command, fn func(*services.Registry) error) error {
	logger := log.WithModule("admin")
	store := cmd.NewPersistence(ctx, logger, command.String("database-url"))

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	return fn(services.NewRegistry(store, logger))
}

func NewRegisterCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Aliases:   []string{"r"},
		Usage:     "Register a workflow definition from a JSON file",
		ArgsUsage: "<definition.json>",
		Flags:     []cli.Flag{databaseFlag()},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("definition file path is required")
			}

			body, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read definition file: %w", err)
			}

			var definition models.Definition
			if err := json.Unmarshal(body, &definition); err != nil {
				return fmt.Errorf("failed to parse definition file: %w", err)
			}

			return withRegistry(ctx, command, func(registry *services.Registry) error {
				registered, err := registry.Register(ctx, &definition)
				if err != nil {
					return fmt.Errorf("failed to register definition: %w", err)
				}

				fmt.Printf("Registered definition %q for entity type %q (%d steps)\n",
					registered.Name, registered.EntityType, len(registered.Steps))

				return nil
			})
		},
	}
}

func NewActivateCommand() *cli.Command {
	return &cli.Command{
		Name:      "activate",
		Usage:     "Make a definition the active one for its entity type",
		ArgsUsage: "<name>",
		Flags:     []cli.Flag{databaseFlag()},
		Action: func(ctx context.Context, command *cli.Command) error {
			name := command.Args().First()
			if name == "" {
				return fmt.Errorf("definition name is required")
			}

			return withRegistry(ctx, command, func(registry *services.Registry) error {
				if err := registry.Activate(ctx, name); err != nil {
					return fmt.Errorf("failed to activate definition: %w", err)
				}

				fmt.Printf("Activated definition %q\n", name)

				return nil
			})
		},
	}
}

func NewDeactivateCommand() *cli.Command {
	return &cli.Command{
		Name:      "deactivate",
		Usage:     "Clear the active flag of a definition",
		ArgsUsage: "<name>",
		Flags:     []cli.Flag{databaseFlag()},
		Action: func(ctx context.Context, command *cli.Command) error {
			name := command.Args().First()
			if name == "" {
				return fmt.Errorf("definition name is required")
			}

			return withRegistry(ctx, command, func(registry *services.Registry) error {
				if err := registry.Deactivate(ctx, name); err != nil {
					return fmt.Errorf("failed to deactivate definition: %w", err)
				}

				fmt.Printf("Deactivated definition %q\n", name)

				return nil
			})
		},
	}
}

func NewListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List registered definitions",
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.StringFlag{
				Name:  "entity-type",
				Usage: "Only show definitions for this entity type",
			},
			&cli.BoolFlag{
				Name:  "active",
				Usage: "Only show active definitions",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withRegistry(ctx, command, func(registry *services.Registry) error {
				definitions, err := registry.List(ctx, persistence.ListDefinitionsOptions{
					EntityType: command.String("entity-type"),
					ActiveOnly: command.Bool("active"),
				})
				if err != nil {
					return fmt.Errorf("failed to list definitions: %w", err)
				}

				if len(definitions) == 0 {
					fmt.Println("No definitions registered.")

					return nil
				}

				for _, definition := range definitions {
					marker := " "
					if definition.Active {
						marker = "*"
					}

					fmt.Printf("%s %-30s %-20s %d steps\n",
						marker, definition.Name, definition.EntityType, len(definition.Steps))
				}

				return nil
			})
		},
	}
}
