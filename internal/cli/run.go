package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Dispatch a waiting job ahead of the queue",
		Long:  "Ask the daemon to consider the job before all others on the next pass. The job still waits if the node lacks free CPU slots.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Run(cmd.Context(), id); err != nil {
				return fmt.Errorf("run job %d: %w", id, err)
			}
			fmt.Printf("Job %d queued for immediate dispatch\n", id)
			return nil
		},
	}
}
