package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".communityagent"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "COMMUNITYAGENT"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("COMMUNITYAGENT_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("COMMUNITYAGENT_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if _, err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}
	if err := LoadFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// Fallback for API Key
	if cfg.Provider.APIKey == "" {
		if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
			cfg.Provider.APIKey = key
		} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Provider.APIKey = key
		}
	}

	if p, err := expandHome(cfg.Store.Path); err == nil {
		cfg.Store.Path = p
	}
	normalize(cfg)
	return cfg, nil
}

// LoadFile decodes the JSON or YAML file at path over cfg. ${VAR}
// references in string values are replaced from the environment; unset
// variables are left as written.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isYAMLPath(path) {
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if doc.Kind == 0 {
			return nil
		}
		expandYAMLNode(&doc)
		if err := doc.Decode(cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	expanded, err := json.Marshal(expandJSONValue(raw))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(expanded, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides each group from COMMUNITYAGENT_<GROUP>_* variables.
func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{EnvPrefix + "_MODEL", &cfg.Model},
		{EnvPrefix + "_PROVIDER", &cfg.Provider},
		{EnvPrefix + "_GATEWAY", &cfg.Gateway},
		{EnvPrefix + "_STORE", &cfg.Store},
		{EnvPrefix + "_TOOLS_WEB_SEARCH", &cfg.Tools.Web.Search},
		{EnvPrefix + "_TOOLS_SCRAPE", &cfg.Tools.Scrape},
		{EnvPrefix + "_AGENT", &cfg.Agent},
		{EnvPrefix + "_ANALYTICS", &cfg.Analytics.Kafka},
		{EnvPrefix + "_TELEGRAM", &cfg.Telegram},
		{EnvPrefix + "_LOGGING", &cfg.Logging},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}
	return nil
}

func normalize(cfg *Config) {
	def := DefaultConfig()
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "sqlite", "sqlite3":
		cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	default:
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Tools.Web.Search.MaxResults <= 0 {
		cfg.Tools.Web.Search.MaxResults = def.Tools.Web.Search.MaxResults
	}
	if cfg.Tools.Web.Search.MaxResults > 20 {
		cfg.Tools.Web.Search.MaxResults = 20
	}
	if cfg.Tools.Web.Search.Timeout <= 0 {
		cfg.Tools.Web.Search.Timeout = def.Tools.Web.Search.Timeout
	}
	if cfg.Tools.Scrape.Timeout <= 0 {
		cfg.Tools.Scrape.Timeout = def.Tools.Scrape.Timeout
	}
	if cfg.Tools.Scrape.MaxBytes <= 0 {
		cfg.Tools.Scrape.MaxBytes = def.Tools.Scrape.MaxBytes
	}
	if cfg.Model.MaxTokens <= 0 {
		cfg.Model.MaxTokens = def.Model.MaxTokens
	}
	if strings.TrimSpace(cfg.Telegram.APIBase) == "" {
		cfg.Telegram.APIBase = def.Telegram.APIBase
	}
}

// Save writes cfg to ConfigPath, creating the directory with owner-only access.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	var data []byte
	if isYAMLPath(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs replaces each set ${VAR} in s.
func expandEnvRefs(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
			return v
		}
		return ref
	})
}

func expandJSONValue(v any) any {
	switch t := v.(type) {
	case string:
		return expandEnvRefs(t)
	case map[string]any:
		for k, item := range t {
			t[k] = expandJSONValue(item)
		}
	case []any:
		for i, item := range t {
			t[i] = expandJSONValue(item)
		}
	}
	return v
}

func expandYAMLNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		if v := expandEnvRefs(n.Value); v != n.Value {
			n.Value = v
			if n.Style == 0 {
				// Re-resolve so ${PORT} can fill an int field.
				n.Tag = ""
			}
		}
		return
	}
	for _, c := range n.Content {
		expandYAMLNode(c)
	}
}
