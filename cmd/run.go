package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"conductor/internal/app"
	"conductor/internal/models"
)

var runConcurrency int

// runCmd submits a batch of tasks from a JSON file and waits for it.
var runCmd = &cobra.Command{
	Use:   "run [tasks-file]",
	Short: "Run a batch of tasks from a JSON file",
	Long: `Reads a JSON array of tasks ({"id", "priority", "dedup_key", "payload"})
from the given file, submits them as one job and polls its status until the
job reaches a terminal state, then prints a summary.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read tasks file: %w", err)
		}
		var tasks []models.TaskInput
		if err := json.Unmarshal(data, &tasks); err != nil {
			return fmt.Errorf("parse tasks file %s: %w", args[0], err)
		}

		exec, err := appInstance.NewExecutor(cmd.Context())
		if err != nil {
			return fmt.Errorf("initialize provider: %w", err)
		}

		opts := appInstance.JobOptions()
		if runConcurrency > 0 {
			opts.Concurrency = runConcurrency
		}

		id, err := appInstance.Manager.Submit(context.Background(), tasks, exec, opts)
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		fmt.Printf("Submitted job %s (%d tasks, concurrency %d)\n", id, len(tasks), opts.Concurrency)

		return waitAndReport(appInstance, id)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 0, "Override configured worker concurrency")
}

// waitAndReport polls the job until it is terminal, then prints the summary
// and a table of failed outcomes.
func waitAndReport(appInstance *app.App, id uuid.UUID) error {
	var job *models.Job
	for {
		var err error
		job, err = appInstance.Manager.Status(id)
		if err != nil {
			return err
		}
		if job.Terminal() {
			break
		}
		fmt.Printf("\r%d/%d completed (%d failed)", job.Completed, job.Total, job.Failed)
		time.Sleep(500 * time.Millisecond)
	}
	fmt.Println()

	printJobSummary(job)
	return nil
}

func printJobSummary(job *models.Job) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	if job.Status == models.JobStatusFailed {
		fmt.Printf("Job %s %s: %s\n", job.ID, red("failed to start"), job.InitError)
		return
	}

	status := green(job.Status)
	if job.Failed > 0 {
		status = red(job.Status)
	}
	fmt.Printf("Job %s %s: %d total, %s succeeded, %s failed\n",
		job.ID, status, job.Total, green(job.Succeeded), red(job.Failed))
	if job.RecordID != "" {
		fmt.Printf("Batch record: %s\n", job.RecordID)
	}
	if job.SaveError != "" {
		fmt.Printf("%s results were NOT persisted: %s\n", red("WARNING:"), job.SaveError)
	}
	if job.ApplyError != "" {
		fmt.Printf("%s apply step failed: %s\n", red("WARNING:"), job.ApplyError)
	}

	if job.Failed == 0 {
		return
	}

	// Enumerate failures so the operator can decide whether to retry.
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Task", "Priority", "Retries", "Error"})
	table.SetBorder(true)
	table.SetRowLine(true)
	for _, o := range job.Results {
		if o.Success {
			continue
		}
		table.Append([]string{o.Input.ID, o.Input.Priority, fmt.Sprintf("%d", o.Retries), o.Error})
	}
	table.Render()
	fmt.Println("Run `conductor retry` to resubmit only the failed tasks.")
}
