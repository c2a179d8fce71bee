package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseEnvFile(t *testing.T) {
	content := `
# comment
export FOO=bar
QUOTED="hello # world"
SINGLE='x y'
TRAILING=value # note
EMPTY=
`
	vars, err := parseEnvFile(strings.NewReader(content))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := [][2]string{
		{"FOO", "bar"},
		{"QUOTED", "hello # world"},
		{"SINGLE", "x y"},
		{"TRAILING", "value"},
		{"EMPTY", ""},
	}
	if len(vars) != len(want) {
		t.Fatalf("expected %d vars, got %v", len(want), vars)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("var %d: expected %v, got %v", i, want[i], vars[i])
		}
	}
}

func TestParseEnvFileRejectsMalformedLine(t *testing.T) {
	_, err := parseEnvFile(strings.NewReader("GOOD=1\nNOT A PAIR\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}

func TestLoadEnvFilesKeepsExistingValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("COMMUNITYAGENT_HOME", "")
	explicit := filepath.Join(t.TempDir(), "agent.env")
	if err := os.WriteFile(explicit, []byte("AGENT_TEST_A=explicit\nAGENT_TEST_B=explicit\n"), 0o600); err != nil {
		t.Fatalf("write explicit: %v", err)
	}
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "env"), []byte("AGENT_TEST_B=home\nAGENT_TEST_C=home\n"), 0o600); err != nil {
		t.Fatalf("write home env: %v", err)
	}
	t.Setenv(EnvFileVar, explicit)
	t.Setenv("AGENT_TEST_A", "process")
	for _, k := range []string{"AGENT_TEST_B", "AGENT_TEST_C"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	loaded, err := LoadEnvFiles()
	if err != nil {
		t.Fatalf("load env files: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected two files loaded, got %v", loaded)
	}
	if got := os.Getenv("AGENT_TEST_A"); got != "process" {
		t.Errorf("expected process value kept, got %q", got)
	}
	if got := os.Getenv("AGENT_TEST_B"); got != "explicit" {
		t.Errorf("expected explicit file to win, got %q", got)
	}
	if got := os.Getenv("AGENT_TEST_C"); got != "home" {
		t.Errorf("expected home file value, got %q", got)
	}
}

func TestLoadReadsPrefixedVarsFromEnvFile(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".config", "communityagent")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "env"), []byte("COMMUNITYAGENT_ANALYTICS_KAFKA_TOPIC=tenant.usage\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("COMMUNITYAGENT_HOME", "")
	t.Setenv(EnvFileVar, "")
	t.Setenv("COMMUNITYAGENT_ANALYTICS_KAFKA_TOPIC", "")
	os.Unsetenv("COMMUNITYAGENT_ANALYTICS_KAFKA_TOPIC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Analytics.Kafka.Topic != "tenant.usage" {
		t.Fatalf("expected topic from env file, got %q", cfg.Analytics.Kafka.Topic)
	}
}
