package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"bra_notification_bot/internal/domain/cronrun"

	"github.com/spf13/cobra"
)

var runTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bulletin pipeline once and exit",
	Long: `Check every subscribed massif for a new bulletin, fetch and store new ones,
then deliver them to subscribers. Exits 0 on success, 2 when some units
failed and 1 when the run failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()

		c, err := wire(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer c.close()

		exec, err := c.orchestrator.Run(ctx)
		if err != nil {
			return &exitError{code: 1, err: fmt.Errorf("pipeline run failed: %w", err)}
		}
		return exitFor(exec)
	},
}

// exitFor maps an execution status to the process outcome.
func exitFor(exec *cronrun.Execution) error {
	switch exec.Status {
	case cronrun.StatusSuccess:
		return nil
	case cronrun.StatusPartial:
		return &exitError{code: 2, err: errors.New(exec.Summary)}
	default:
		return &exitError{code: 1, err: fmt.Errorf("pipeline run %s: %s", exec.Status, exec.Error)}
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 15*time.Minute, "Maximum duration of the run")
}
