package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/protogate/protogate/pkg/logging"
)

type rootFlags struct {
	logLevel  string
	logFormat string
}

func (f *rootFlags) logger() *slog.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(f.logLevel),
		Format: logging.ParseFormat(f.logFormat),
	})
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:          "protogate",
		Short:        "Call gRPC services through reflection, no generated stubs needed",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format (text, json)")

	cmd.AddCommand(
		newListCmd(flags),
		newCallCmd(flags),
		newBridgeCmd(flags),
	)
	return cmd
}
