package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"conductor/internal/models"
	"conductor/internal/store"
)

var retryConcurrency int

// retryCmd resubmits the failed subset of the latest persisted batch.
var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run only the failed tasks of the latest batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		exec, err := appInstance.NewExecutor(cmd.Context())
		if err != nil {
			return fmt.Errorf("initialize provider: %w", err)
		}

		opts := appInstance.JobOptions()
		if retryConcurrency > 0 {
			opts.Concurrency = retryConcurrency
		}

		id, recordID, err := appInstance.Manager.RetryFailed(context.Background(), exec, opts)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fmt.Println("No batch records saved yet; nothing to retry.")
				return nil
			}
			if errors.Is(err, models.ErrNoTasks) {
				fmt.Printf("Latest batch %s has no failed tasks; nothing to retry.\n", recordID)
				return nil
			}
			return fmt.Errorf("retry failed tasks: %w", err)
		}

		fmt.Printf("Retrying failed tasks from batch %s as job %s\n", recordID, id)
		return waitAndReport(appInstance, id)
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
	retryCmd.Flags().IntVarP(&retryConcurrency, "concurrency", "c", 0, "Override configured worker concurrency")
}
