// Package main provides the entry point for the application with CLI commands.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/popwandee/lprserver-v3-sub001/cmd/app/commands"
)

var version = "1.0.0"

func main() {
	cmd := &cli.Command{
		Name:    "lprsync",
		Usage:   "License plate telemetry sync between edge cameras and the central server",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "edge",
				Usage: "Run the edge agent: sender loops, health monitor and outbox retention",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunEdge(ctx, version)
				},
			},
			{
				Name:  "server",
				Usage: "Run the ingestion server: HTTP API, websocket endpoint and record retention",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunServer(ctx, version)
				},
			},
			{
				Name:  "migrate",
				Usage: "Run canonical store migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunMigrations()
				},
			},
			{
				Name:  "clean-outbox",
				Usage: "Delete sent outbox records past the retention age",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "dry-run",
						Aliases: []string{"n"},
						Value:   false,
						Usage:   "Show how many records would be deleted without deleting",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunCleanOutbox(ctx, cmd.Bool("dry-run"))
				},
			},
			{
				Name:  "clean-records",
				Usage: "Delete canonical records past the retention age",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "dry-run",
						Aliases: []string{"n"},
						Value:   false,
						Usage:   "Show how many records would be deleted without deleting",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunCleanRecords(ctx, cmd.Bool("dry-run"))
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
