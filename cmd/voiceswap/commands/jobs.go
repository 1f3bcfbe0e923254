package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var resp struct {
			Jobs []jobView `json:"jobs"`
		}
		if err := c.getJSON("/api/v1/jobs", &resp); err != nil {
			return err
		}
		printResult(resp, func() {
			if len(resp.Jobs) == 0 {
				fmt.Println("No jobs.")
				return
			}
			for _, j := range resp.Jobs {
				line := fmt.Sprintf("%s  %-17s", j.ID, j.Stage)
				if j.Progress.Total > 0 {
					line += fmt.Sprintf("  %d/%d", j.Progress.Done, j.Progress.Total)
				}
				if j.Error != "" {
					line += "  " + j.Error
				}
				fmt.Println(line)
			}
		})
		return nil
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var job jobView
		if err := c.getJSON("/api/v1/jobs/"+args[0], &job); err != nil {
			return err
		}
		printResult(job, func() {
			fmt.Printf("Job:    %s\nStage:  %s\n", job.ID, job.Stage)
			if job.Progress.Total > 0 {
				fmt.Printf("Tasks:  %d/%d\n", job.Progress.Done, job.Progress.Total)
			}
			if job.Error != "" {
				fmt.Printf("Error:  %s\n", job.Error)
			}
			for _, w := range job.Warnings {
				fmt.Println("Warning:", w)
			}
			if job.Diarization != nil {
				printSpeakers(job.Diarization.Speakers)
			}
		})
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job in flight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var job jobView
		if err := c.postJSON("/api/v1/jobs/"+args[0]+"/cancel", map[string]any{}, &job); err != nil {
			return err
		}
		fmt.Printf("Job %s is now %s\n", job.ID, job.Stage)
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a finished job and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if err := c.delete("/api/v1/jobs/" + args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted", args[0])
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)
	rootCmd.AddCommand(jobsCmd)
}
