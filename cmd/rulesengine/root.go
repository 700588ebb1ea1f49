package main

import (
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "rulesengine.yaml"
	defaultLogFormat  = "json"
)

// rootFlags holds the persistent flags every subcommand reads, following
// the teacher's Flag > Env > Default precedence (cmd/command-center's
// loadConfig), adapted to Cobra's PersistentFlags instead of a stdlib
// flag.FlagSet.
type rootFlags struct {
	ConfigPath string
	LogFormat  string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "rulesengine",
		Short:         "Run and administer a rules engine instance",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", getEnv("RULESENGINE_CONFIG", defaultConfigPath), "path to the engine config YAML")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", getEnv("RULESENGINE_LOG_FORMAT", defaultLogFormat), "log format (json or text)")
	root.PersistentFlags().BoolVar(&flags.Verbose, "verbose", getEnvBool("RULESENGINE_VERBOSE", false), "enable debug-level logging")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newRulesCommand(flags))
	root.AddCommand(newQueryCommand(flags))
	root.AddCommand(newStatsCommand(flags))

	return root
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func setupLogger(format string, verbose bool) *slog.Logger {
	return setupLoggerWithWriter(format, verbose, os.Stderr)
}

func setupLoggerWithWriter(format string, verbose bool, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
