package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
	quiet    bool
)

// rootCmd is the application entry point. It loads and runs a single guest
// WASM application inside a sandboxed host kernel.
var rootCmd = &cobra.Command{
	Use:   "sandboxrt",
	Short: "Sandboxed WASM application runtime host",
	Long: `sandboxrt hosts a single sandboxed WebAssembly application: it resolves a
persona to a manifest, fetches and verifies a bundle, loads the guest module
behind a capability-gated host function surface, and drives it through a
frame-by-frame event loop.`,
	RunE: runApp,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeForError(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "host-process config file (default is $HOME/.sandboxrt/config.yaml)")
	flags.String("bundle", "", "path to a local bundle archive to load directly")
	flags.String("wasm", "", "path to a raw .wasm module to load directly, bypassing bundle resolution")
	flags.String("manifest", "", "path to a local manifest JSON file")
	flags.String("manifest-url", "", "URL (http:// or oras://) to fetch the manifest from")
	flags.String("persona-file", "", "path to a local persona descriptor")
	flags.String("persona-id", "", "persona identifier to resolve via the manifest service")
	flags.Bool("skip-signature", false, "skip bundle signature verification (prompts for confirmation unless --quiet)")
	flags.Bool("no-app-load", false, "resolve and verify the bundle but do not load the guest application")
	flags.StringSlice("extensions", nil, "paths to extension shared objects to load alongside the guest application")
	flags.String("telemetry-server", "", "address of a telemetry sink to stream reporting spans to")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all log output (equivalent to --log-level=error)")
}

// initConfig loads host-process configuration from the config file and
// environment. This is distinct from the guest runtime-configuration
// overlay, which is resolved per-persona by the manifest service.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			slog.Error("failed to read specified config file", "file", cfgFile, "error", err)
			os.Exit(exitCodeConfigError)
		}
		slog.Debug("using config file", "file", viper.ConfigFileUsed())
		return
	}

	home, err := os.UserHomeDir()
	if err != nil {
		slog.Error("failed to find home directory", "error", err)
		os.Exit(exitCodeConfigError)
	}

	viper.AddConfigPath(home + "/.sandboxrt")
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("using config file", "file", viper.ConfigFileUsed())
	}
}

func setupLogging() {
	level := parseLogLevel(logLevel)
	if quiet {
		level = slog.LevelError + 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
