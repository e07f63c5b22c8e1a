// Command cluso-kv runs the key-value server and its maintenance tools.
//
//	cluso-kv [wal_dir segment_dir flush_threshold]   start the server
//	cluso-kv serve [flags]                           start the server
//	cluso-kv backup --out FILE [--upload]            snapshot the key space
//	cluso-kv restore FILE | --object KEY             load a snapshot
//	cluso-kv inspect                                 print levels and stats
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-kv/pkg/config"
	"github.com/dd0wney/cluso-kv/pkg/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "cluso-kv [wal_dir segment_dir flush_threshold]",
	Short: "A log-structured key-value store",
	Long: `cluso-kv is a single-node key-value store built on a write-ahead log,
a sorted memtable and leveled SSTable segments, served over a RESP-compatible
protocol. Without a subcommand it starts the server; the optional positional
arguments set the WAL directory, segment directory and flush threshold.`,
	Args:          cobra.MaximumNArgs(3),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	addEngineFlags(rootCmd)

	rootCmd.AddCommand(serveCmd, backupCmd, restoreCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cluso-kv:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration for cmd: defaults, the config file,
// the environment, positional arguments and finally explicitly set flags.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.WALDir = args[0]
	}
	if len(args) > 1 {
		cfg.SegmentDir = args[1]
	}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, fmt.Errorf("flush_threshold must be an integer: %w", err)
		}
		cfg.FlushThreshold = n
	}

	applyEngineFlags(cmd, cfg)
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.JSONLogger {
	logger := logging.NewLogger(cfg.LogLevel)
	logging.SetDefaultLogger(logger)
	return logger
}
