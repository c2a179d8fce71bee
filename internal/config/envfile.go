package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileVar names an extra env file to load before the defaults.
const EnvFileVar = "COMMUNITYAGENT_ENV_FILE"

// envFileCandidates lists env files in load order, deduplicated by absolute path.
func envFileCandidates() []string {
	var paths []string
	if explicit := strings.TrimSpace(os.Getenv(EnvFileVar)); explicit != "" {
		paths = append(paths, explicit)
	}
	if home, err := resolveHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "communityagent", "env"),
			filepath.Join(home, ConfigDir, "env"),
		)
	}
	paths = append(paths, ".env")

	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// LoadEnvFiles sets variables from every env file that exists and returns
// the files it read. Variables already in the process environment win, so
// earlier files take precedence over later ones.
func LoadEnvFiles() ([]string, error) {
	var loaded []string
	for _, path := range envFileCandidates() {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		vars, err := parseEnvFile(f)
		f.Close()
		if err != nil {
			return loaded, fmt.Errorf("env file %s: %w", path, err)
		}
		for _, kv := range vars {
			if _, exists := os.LookupEnv(kv[0]); !exists {
				_ = os.Setenv(kv[0], kv[1])
			}
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

// parseEnvFile reads KEY=VALUE lines. Blank lines, # comments and an
// optional "export " prefix are accepted; unquoted values may carry a
// trailing " # comment".
func parseEnvFile(r io.Reader) ([][2]string, error) {
	var out [][2]string
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", lineNo)
		}
		out = append(out, [2]string{key, envValue(strings.TrimSpace(val))})
	}
	return out, sc.Err()
}

func envValue(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') {
		if end := strings.IndexByte(v[1:], v[0]); end >= 0 {
			return v[1 : end+1]
		}
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}
