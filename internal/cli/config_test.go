package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/factmark/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func TestDefaultsMap(t *testing.T) {
	defaults, err := defaultsMap()
	if err != nil {
		t.Fatalf("defaultsMap: %v", err)
	}

	for _, key := range []string{"relay.poll_interval", "relay.origin_match", "analysis.endpoint", "server.addr", "extract.selectors"} {
		if _, ok := defaults[key]; !ok {
			t.Errorf("expected default for %q", key)
		}
	}
	if _, ok := defaults["relay"]; ok {
		t.Error("nested sections should be flattened")
	}
	if _, ok := defaults["analysis.api_key"]; ok {
		t.Error("empty api key should not be a default")
	}
}

func TestSetupViper_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := `
relay:
  poll_interval: 5s
  allowed_origins:
    - https://app.example.com
analysis:
  endpoint: http://checker.internal/api/analyze
`
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FACTMARK_RELAY_ORIGIN_MATCH", "contains")
	t.Setenv("FACTMARK_ANALYSIS_API_KEY", "sk-test")

	v := viper.New()
	if err := setupViper(v, file); err != nil {
		t.Fatalf("setupViper: %v", err)
	}
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Relay.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s", cfg.Relay.PollInterval)
	}
	if len(cfg.Relay.AllowedOrigins) != 1 || cfg.Relay.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("allowed origins = %v", cfg.Relay.AllowedOrigins)
	}
	if cfg.Analysis.Endpoint != "http://checker.internal/api/analyze" {
		t.Errorf("endpoint = %q", cfg.Analysis.Endpoint)
	}
	if cfg.Relay.OriginMatch != "contains" {
		t.Errorf("origin match = %q, want env override", cfg.Relay.OriginMatch)
	}
	if cfg.Analysis.APIKey != "sk-test" {
		t.Errorf("api key = %q, want env value", cfg.Analysis.APIKey)
	}

	// Untouched keys keep their defaults
	def := model.DefaultConfig()
	if cfg.Relay.PollCeiling != def.Relay.PollCeiling {
		t.Errorf("poll ceiling = %v, want default %v", cfg.Relay.PollCeiling, def.Relay.PollCeiling)
	}
	if cfg.Relay.TokenKey != def.Relay.TokenKey {
		t.Errorf("token key = %q, want default %q", cfg.Relay.TokenKey, def.Relay.TokenKey)
	}
}

func TestSetupViper_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	if err := setupViper(v, filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestLoadConfig_ResolvesPaths(t *testing.T) {
	v := viper.New()
	if err := setupViper(v, writeConfig(t, "cache:\n  enabled: true\n")); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(cfg.Storage.LocalPath) != "storage.db" {
		t.Errorf("local path = %q, want storage.db default", cfg.Storage.LocalPath)
	}
	if cfg.Cache.Dir == "" {
		t.Error("cache dir should default when caching is enabled")
	}
}

func TestLoadConfig_OpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	v := viper.New()
	if err := setupViper(v, writeConfig(t, "analysis:\n  provider: openai\n")); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Analysis.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want OPENAI_API_KEY fallback", cfg.Analysis.APIKey)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factmark", "config.yaml")

	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# factmark configuration") {
		t.Error("expected header comment")
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config does not parse: %v", err)
	}
	if cfg.Relay.OriginMatch != model.DefaultConfig().Relay.OriginMatch {
		t.Errorf("origin match = %q", cfg.Relay.OriginMatch)
	}

	if err := writeDefaultConfig(path); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second write: got %v, want already exists error", err)
	}
}

func TestRedact(t *testing.T) {
	if got := redact(""); got != "" {
		t.Errorf("redact(\"\") = %q", got)
	}
	if got := redact("sk-secret"); got != "***" {
		t.Errorf("redact = %q", got)
	}
}

func TestBindFlags_UnknownFlag(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("known", "", "")

	if err := bindFlags(cmd, map[string]string{"known": "test.known"}); err != nil {
		t.Errorf("known flag: %v", err)
	}
	if err := bindFlags(cmd, map[string]string{"missing": "test.missing"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRelayEncodeDecodeCommands(t *testing.T) {
	file := writeConfig(t, "relay:\n  obfuscation_key: k3y\n")

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append([]string{"--config", file}, args...))
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return strings.TrimSpace(out.String())
	}
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	encoded := run("relay", "encode", "token-123")
	if encoded == "" || encoded == "token-123" {
		t.Fatalf("encode output = %q", encoded)
	}
	if got := run("relay", "decode", encoded); got != "token-123" {
		t.Errorf("decode = %q, want token-123", got)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
