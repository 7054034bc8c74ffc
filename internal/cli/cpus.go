package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCPUsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cpus",
		Short: "Show CPU slot usage on the daemon's node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			usage, err := client.GetCPUs(cmd.Context())
			if err != nil {
				return fmt.Errorf("get cpus: %w", err)
			}
			fmt.Printf("%d/%d cpus in use\n", usage.Used, usage.Total)
			return nil
		},
	}
}
