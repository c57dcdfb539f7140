package main

import (
	"context"
	"os"

	"github.com/lumahr/approvalflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "approvalflow-admin",
		Usage:                 "Manage approval workflow definitions",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRegisterCommand(),
			NewActivateCommand(),
			NewDeactivateCommand(),
			NewListCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("admin").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
