package cli

import (
	"fmt"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/gobs/internal/script"
)

func newSubmitCmd() *cobra.Command {
	var flagName string
	var flagNCPUs int
	var flagPriority int

	cmd := &cobra.Command{
		Use:   "submit <script>...",
		Short: "Submit job scripts for execution",
		Long:  "Parse each script's #PBS header and submit it to the daemon. Command line flags override header directives.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", arg, err)
				}

				sub, err := script.Parse(path)
				if err != nil {
					return err
				}
				if u, err := user.Current(); err == nil {
					sub.Username = u.Username
					if uid, err := strconv.Atoi(u.Uid); err == nil {
						sub.OwnerUID = uid
					}
				}
				if cmd.Flags().Changed("name") {
					sub.Name = flagName
				}
				if cmd.Flags().Changed("ncpus") {
					sub.NCPUs = flagNCPUs
				}
				if cmd.Flags().Changed("priority") {
					p := flagPriority
					sub.Priority = &p
				}
				if err := script.Require(sub); err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}

				logger.Debug("submitting", "script", path, "ncpus", sub.NCPUs)
				id, err := client.Submit(cmd.Context(), sub)
				if err != nil {
					return fmt.Errorf("submit %s: %w", arg, err)
				}
				fmt.Printf("Job %d submitted (%s)\n", id, filepath.Base(path))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagName, "name", "N", "", "Job name (overrides #PBS -N)")
	cmd.Flags().IntVarP(&flagNCPUs, "ncpus", "c", 1, "Requested CPU slots (overrides #PBS -l ncpus=)")
	cmd.Flags().IntVarP(&flagPriority, "priority", "p", 0, "Job priority (overrides #PBS -p)")
	return cmd
}
