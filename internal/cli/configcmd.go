package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the daemon's runtime configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			cfg, err := client.GetConfig(cmd.Context())
			if err != nil {
				return fmt.Errorf("get config: %w", err)
			}
			printConfig(cfg)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a runtime configuration key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			cfg, err := client.SetConfig(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("set %s: %w", args[0], err)
			}
			printConfig(cfg)
			return nil
		},
	})

	return cmd
}

func printConfig(cfg map[string]string) {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-18s %s\n", k, cfg[k])
	}
}
