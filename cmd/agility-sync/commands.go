package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"agility-sync/internal/metrics"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
)

// openCLIApp wires the app for a one-shot command. CLI output goes to stdout
// so structured logging is limited to errors.
func openCLIApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig("error")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return a, nil
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and report the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCLIApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			result := a.worker.SyncNow(cmd.Context())
			switch result.Outcome {
			case metrics.OutcomeUnconfigured:
				yellow.Println("Remote store not configured; sessions stay queued.")
			case metrics.OutcomeOffline:
				yellow.Println("Remote store unreachable; nothing uploaded.")
			case metrics.OutcomeStoreError:
				return errors.New("failed to read the sync queue")
			}

			fmt.Printf("Uploaded: %s\n", green.Sprint(result.Success))
			if result.Failed > 0 {
				fmt.Printf("Failed:   %s\n", red.Sprint(result.Failed))
			} else {
				fmt.Printf("Failed:   %d\n", result.Failed)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync queue and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCLIApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.worker.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read sync status: %w", err)
			}

			online := red.Sprint("offline")
			if status.Online {
				online = green.Sprint("online")
			}
			lastAttempt := "never"
			if status.LastAttempt != nil {
				lastAttempt = status.LastAttempt.Local().Format(time.RFC3339)
			}

			fmt.Printf("Remote:       %s\n", online)
			if a.client != nil {
				if limit := a.client.RateLimit(); limit.Limited {
					fmt.Printf("Rate limited: %s\n", yellow.Sprintf("until %s", limit.BlockedUntil.Local().Format(time.RFC3339)))
				}
			}
			fmt.Printf("Pending:      %s\n", bold.Sprint(status.Pending))
			fmt.Printf("Last attempt: %s\n", lastAttempt)
			if status.NeedsAttention == 0 {
				return nil
			}

			fmt.Printf("Needs attention: %s\n\n", red.Sprint(status.NeedsAttention))
			entries, err := a.db.ListQueue(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sync queue: %w", err)
			}
			for _, entry := range entries {
				if entry.Attempts < a.worker.MaxAttempts() {
					continue
				}
				fmt.Printf("%s  %d attempts\n", entry.LocalID, entry.Attempts)
				if entry.LastError != nil {
					fmt.Printf("  %s\n", red.Sprint(*entry.LastError))
				}
			}
			return nil
		},
	}
}

func newCoursesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courses",
		Short: "Manage the local course cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch courses from the remote store into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCLIApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.courses.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to refresh courses: %w", err)
			}
			green.Printf("✓ Cached %d course(s)\n", n)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached courses",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCLIApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			list, err := a.courses.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list courses: %w", err)
			}
			if len(list) == 0 {
				fmt.Println("No cached courses. Run 'agility-sync courses refresh'.")
				return nil
			}
			for _, course := range list {
				name := course.Name
				if course.IsOfficial {
					name = bold.Sprint(name) + " " + green.Sprint("(official)")
				}
				fmt.Printf("%s  %s  %d cones\n", course.ID, name, course.ConeCount)
			}
			return nil
		},
	})
	return cmd
}

func newResetCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every queued session, confirmed session and cached course",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("reset deletes unsynced sessions; pass --yes to confirm")
			}
			a, err := openCLIApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.db.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset local store: %w", err)
			}
			green.Println("✓ Local store cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm deleting all local data")
	return cmd
}
