package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/tasker/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking TASKER_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("TASKER_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the tasker CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tasker",
		Short: "Tasker: pluggable polling task scheduler",
		Long:  "Tasker runs background tasks from a store through registered handlers, and manages them over HTTP.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			level, err := logging.ParseLevel(flagLogLevel)
			if err != nil {
				return err
			}
			format, err := logging.ParseFormat(flagLogFormat)
			if err != nil {
				return err
			}
			logger = logging.NewLoggerWithWriter(level, format, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Tasker server URL (or TASKER_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newServeCmd(),
		newDemoCmd(),
		newEnqueueCmd(),
		newListCmd(),
		newEnvCmd(),
		newBoardCmd(),
	)

	return root
}
