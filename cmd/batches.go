package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"conductor/internal/store"
)

var batchesShowAll bool

// batchesCmd shows the latest persisted batch record.
var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Show the latest persisted batch record",
	Long:  `Displays the most recently saved batch record: aggregate counts and, by default, the failed entries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		rec, recordID, err := appInstance.BatchStore.LoadLatest(cmd.Context())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fmt.Println("No batch records found.")
				return nil
			}
			return fmt.Errorf("failed to load latest batch: %w", err)
		}

		fmt.Printf("Batch %s (%s): %d total, %d succeeded, %d failed\n",
			recordID, rec.Timestamp.Format(time.RFC3339), rec.Total, rec.Succeeded, rec.Failed)

		results := rec.Results
		if !batchesShowAll {
			results = rec.FailedOutcomes()
			if len(results) == 0 {
				fmt.Println("No failed entries.")
				return nil
			}
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Task", "Priority", "Success", "Retries", "Error"})
		table.SetBorder(true)
		table.SetRowLine(true)
		for _, o := range results {
			table.Append([]string{
				o.Input.ID,
				o.Input.Priority,
				fmt.Sprintf("%v", o.Success),
				fmt.Sprintf("%d", o.Retries),
				o.Error,
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchesCmd)
	batchesCmd.Flags().BoolVarP(&batchesShowAll, "all", "a", false, "Show all entries, not just failed ones")
}
