package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/VatsalSy/fetchkit/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active and recent acquisition sessions",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	application, err := app.New()
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Stop()

	sessions, err := application.Checkpoints().Active(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("no active sessions")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Label", "Status", "Completed", "Failed", "Total"})
	for _, s := range sessions {
		t.AppendRow(table.Row{s.ID, s.Label, s.Status, s.CompletedCount, s.FailedCount, s.TotalResources})
	}
	t.Render()
	return nil
}
