package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/VatsalSy/fetchkit/internal/app"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove non-permanent cached files",
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	application, err := app.New()
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Stop()

	if err := application.CacheForCLI().Cleanup(context.Background(), nil); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Println("cache cleanup complete")
	return nil
}
