// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/pseudoconn/internal/config"
	"firestige.xyz/pseudoconn/internal/log"
	"firestige.xyz/pseudoconn/internal/metrics"
)

var (
	// Global flags
	configFile string
	logLevel   string

	// Loaded in PersistentPreRunE
	globalCfg     *config.GlobalConfig
	metricsServer *metrics.Server
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pseudoconn",
	Short: "PseudoConn - deterministic synthetic packet capture generator",
	Long: `PseudoConn writes pcap files containing plausible TCP and UDP conversations
without touching a network. Conversations are scripted in YAML scenarios:
handshakes, payloads, teardown, resets, DNS and HTTP exchanges.

The same seed always produces byte-identical output.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown(cmd.Context())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and PSEUDOCONN_* environment only when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log level (trace/debug/info/warn/error)")

	// Add subcommands
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(validateCmd)
}

// setup loads the configuration, initializes logging and starts the metrics
// server when it is enabled.
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return err
		}
	}
	if err := log.Init(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	globalCfg = cfg

	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := metricsServer.Start(cmd.Context()); err != nil {
			return err
		}
	}
	return nil
}

func teardown(ctx context.Context) error {
	if metricsServer == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := metricsServer.Stop(ctx)
	metricsServer = nil
	return err
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
