package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/gobs/pkg/model"
)

func newListCmd() *cobra.Command {
	var flagLimit int

	cmd := &cobra.Command{
		Use:       "list [waiting|running|finished|all]",
		Short:     "List jobs by state",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"waiting", "running", "finished", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) == 1 {
				which = args[0]
			}

			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()
			ctx := cmd.Context()

			printed := 0
			show := func(label string, jobs []*model.Job, err error) error {
				if err != nil {
					return fmt.Errorf("list %s: %w", label, err)
				}
				if len(jobs) == 0 {
					return nil
				}
				if printed > 0 {
					fmt.Println()
				}
				printJobTable(label, jobs)
				printed += len(jobs)
				return nil
			}

			if which == "waiting" || which == "all" {
				jobs, err := client.ListWaiting(ctx)
				if err := show("waiting", jobs, err); err != nil {
					return err
				}
			}
			if which == "running" || which == "all" {
				jobs, err := client.ListRunning(ctx)
				if err := show("running", jobs, err); err != nil {
					return err
				}
			}
			if which == "finished" || which == "all" {
				jobs, err := client.ListFinished(ctx, flagLimit)
				if err := show("finished", jobs, err); err != nil {
					return err
				}
			}

			if printed == 0 {
				fmt.Println("No jobs found.")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Max finished jobs to show (0 = all)")
	return cmd
}

func printJobTable(label string, jobs []*model.Job) {
	fmt.Printf("%s:\n", label)
	fmt.Printf("  %-6s  %-20s  %-9s  %5s  %4s  %-10s  %-20s  %s\n",
		"ID", "NAME", "STATE", "NCPUS", "PRI", "USER", "WHEN", "EXIT")
	for _, job := range jobs {
		fmt.Printf("  %-6d  %-20s  %-9s  %5d  %4d  %-10s  %-20s  %s\n",
			job.ID, truncate(job.DisplayName(), 20), job.State(), job.NCPUs,
			job.Priority, job.Username, jobWhen(job), jobExit(job))
	}
}

// jobWhen picks the most informative timestamp for the job's state.
func jobWhen(job *model.Job) string {
	switch job.State() {
	case model.JobRunning:
		return job.StartedAt.Local().Format(time.DateTime)
	case model.JobDone:
		return job.FinishedAt.Local().Format(time.DateTime)
	default:
		return job.SubmittedAt.Local().Format(time.DateTime)
	}
}

func jobExit(job *model.Job) string {
	if job.ExitCode == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *job.ExitCode)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
