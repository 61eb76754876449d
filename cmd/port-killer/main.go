package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hellotrik/port-killer/internal/config"
	"github.com/hellotrik/port-killer/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "port-killer",
	Short: "Find and stop processes listening on local ports",
	Long: `port-killer discovers listening TCP ports, groups them by owning process,
notifies when watched ports open or close, and stops the processes behind them.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("port-killer v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is port-killer.yaml in the user config dir)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the config. Validation problems are
// clamped and logged rather than fatal.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Validate()
	return cfg, nil
}

// initLogging configures the root logger. Long-running commands also log
// to the rotating file when log_file is set; the returned closer releases it.
func initLogging(cfg *config.Config, withFile bool) io.Closer {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if withFile && cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v\n", cfg.LogFile, err)
		} else {
			out = logging.TeeWriter(os.Stderr, rw)
			closer = rw
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
