package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/communityagent/communityagent/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/communityagent/communityagent/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"   ___                               _ _         \n" +
		"  / __|___ _ __  _ __ _  _ _ _  (_) |_ _  _  \n" +
		" | (__/ _ \\ '  \\| '  \\ || | ' \\ | |  _| || | \n" +
		"  \\___\\___/_|_|_|_|_|_\\_,_|_||_||_|\\__|\\_, | \n" +
		"                      agent             |__/  \n"
)

var logLevelFlag string

var rootCmd = &cobra.Command{
	Use:   "communityagent",
	Short: "communityagent - tool-augmented chat agent for communities",
	Long:  color.CyanString(logo) + "\nA multi-tenant community assistant with memory, chat history, member profiles and web tools.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil || cfg == nil {
			cfg = config.DefaultConfig()
		}
		setupLogging(cfg.Logging, logLevelFlag, cmd.ErrOrStderr())
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(configCmd)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

// setupLogging installs the default slog handler. override wins over cfg.Level.
func setupLogging(cfg config.LoggingConfig, override string, w io.Writer) {
	level := cfg.Level
	if strings.TrimSpace(override) != "" {
		level = override
	}
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
