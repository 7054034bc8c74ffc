// Package cli implements the gobs command line client. All commands talk
// to a running daemon over its JSON-RPC socket.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/gobs/internal/config"
	"github.com/me/gobs/internal/logging"
	"github.com/me/gobs/internal/rpc"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// defaultServer returns the default daemon address, checking the
// GOBS_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("GOBS_SERVER"); s != "" {
		return s
	}
	return fmt.Sprintf("localhost:%d", config.DefaultPort)
}

// normalizeAddr appends the default port when the address carries none.
func normalizeAddr(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}
	return fmt.Sprintf("%s:%d", addr, config.DefaultPort)
}

// connect dials the daemon. Callers must Close the client.
func connect() (*rpc.Client, error) {
	return rpc.Dial(normalizeAddr(flagServer))
}

// NewRootCmd creates the root cobra command for the gobs CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gobs",
		Short: "gobs — single-node batch job scheduler client",
		Long:  "gobs submits, monitors, and manages batch jobs on a gobsd daemon.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Daemon address (or GOBS_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newSubmitCmd(),
		newListCmd(),
		newRemoveCmd(),
		newRunCmd(),
		newCPUsCmd(),
		newConfigCmd(),
	)

	return root
}
