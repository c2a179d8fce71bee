package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/communityagent/communityagent/internal/analytics"
	"github.com/communityagent/communityagent/internal/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "communityagent %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 communityagent status")
		fmt.Fprintf(out, "Version: %s\n", version)

		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Config:  ✓ Found ("+path+")")
			} else {
				fmt.Fprintln(out, "Config:  ✗ Not found, using defaults ("+path+")")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(out, "Config:  ✗ %v\n", err)
			return
		}
		if files, err := config.LoadEnvFiles(); err == nil && len(files) > 0 {
			fmt.Fprintf(out, "Env:     %s\n", strings.Join(files, ", "))
		}
		if cfg.Provider.APIKey != "" {
			fmt.Fprintln(out, "API Key: ✓ Found")
		} else {
			fmt.Fprintln(out, "API Key: ✗ Not found")
		}
		fmt.Fprintf(out, "Model:   %s via %s\n", cfg.Model.Name, cfg.Provider.APIBase)
		if cfg.Tools.Web.Search.APIKey != "" {
			fmt.Fprintln(out, "Search:  Brave (DuckDuckGo fallback)")
		} else {
			fmt.Fprintln(out, "Search:  DuckDuckGo")
		}
		if cfg.Analytics.Kafka.Enabled {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			parts, err := analytics.ProbeKafka(ctx, cfg.Analytics.Kafka)
			cancel()
			if err != nil {
				fmt.Fprintf(out, "Kafka:   ✗ %s unreachable: %v\n", cfg.Analytics.Kafka.Brokers, err)
			} else {
				fmt.Fprintf(out, "Kafka:   ✓ %s → %s (%d partitions)\n", cfg.Analytics.Kafka.Brokers, cfg.Analytics.Kafka.Topic, parts)
			}
		} else {
			fmt.Fprintln(out, "Kafka:   ✗ Disabled")
		}

		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(out, "Store:   ✗ %v\n", err)
			return
		}
		defer st.Close()
		list, err := st.ListCommunities(context.Background())
		if err != nil {
			fmt.Fprintf(out, "Store:   ✗ %v\n", err)
			return
		}
		enabled := 0
		for _, c := range list {
			if c.AgentEnabled {
				enabled++
			}
		}
		fmt.Fprintf(out, "Store:   ✓ %s (%s)\n", cfg.Store.Path, st.Driver())
		fmt.Fprintf(out, "Tenants: %d (%d with agent enabled)\n", len(list), enabled)
		fmt.Fprintln(out, "Status:  Ready")
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect communityagent configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Provider.APIKey = redact(cfg.Provider.APIKey)
		cfg.Tools.Web.Search.APIKey = redact(cfg.Tools.Web.Search.APIKey)
		cfg.Gateway.TelegramSecret = redact(cfg.Gateway.TelegramSecret)
		cfg.Analytics.Kafka.Password = redact(cfg.Analytics.Kafka.Password)
		return writeIndentedJSON(cmd.OutOrStdout(), cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.Save(config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configPathCmd, configShowCmd, configInitCmd)
}
