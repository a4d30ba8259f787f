package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/ppiankov/factmark/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const appName = "factmark"

var optionalKeys = []string{
	"http.http_proxy",
	"http.https_proxy",
	"http.no_proxy",
	"analysis.base_url",
	"analysis.api_key",
	"analysis.model",
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage factmark configuration",
	Long: `Manage factmark configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (FACTMARK_*, e.g. FACTMARK_RELAY_POLL_INTERVAL)
3. Config file ($XDG_CONFIG_HOME/factmark/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults, config file, env vars and flags are merged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		cfg.Analysis.APIKey = redact(cfg.Analysis.APIKey)

		out := cmd.OutOrStdout()
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n\n", used)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "No configuration file found (using defaults)\n\n")
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = out.Write(yamlData)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at $XDG_CONFIG_HOME/factmark/config.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := xdg.ConfigFile(filepath.Join(appName, "config.yaml"))
		if err != nil {
			return fmt.Errorf("error resolving config path: %w", err)
		}
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Created default configuration: %s\n", configPath)
		fmt.Fprintf(out, "\nTo view the configuration:\n")
		fmt.Fprintf(out, "  factmark config show\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// setupViper registers defaults, the config file and FACTMARK_* env vars
func setupViper(v *viper.Viper, file string) error {
	defaults, err := defaultsMap()
	if err != nil {
		return err
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, appName))
		for _, dir := range xdg.ConfigDirs {
			v.AddConfigPath(filepath.Join(dir, appName))
		}
	}

	v.SetEnvPrefix("FACTMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys omitted from the encoded defaults still need an env binding
	for _, key := range optionalKeys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// defaultsMap flattens DefaultConfig into dotted viper keys
func defaultsMap() (map[string]any, error) {
	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}

	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			out[key] = val
		}
	}
	walk("", tree)
	return out, nil
}

// loadConfig decodes the merged configuration and resolves default paths
func loadConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Analysis.APIKey == "" && strings.EqualFold(cfg.Analysis.Provider, "openai") {
		cfg.Analysis.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Cache.Enabled && cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(xdg.CacheHome, appName)
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = filepath.Join(xdg.DataHome, appName, "storage.db")
	}
	return cfg, nil
}

func writeDefaultConfig(path string) (err error) {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s\nUse 'factmark config show' to view it, or delete it first to recreate", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close config file: %w", closeErr)
		}
	}()

	yamlData, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	header := "# factmark configuration\n" +
		"#\n" +
		"# Every key can be overridden by FACTMARK_<SECTION>_<KEY>, for example\n" +
		"# FACTMARK_ANALYSIS_ENDPOINT or FACTMARK_RELAY_ORIGIN_MATCH.\n" +
		"# The OpenAI provider also reads OPENAI_API_KEY.\n\n"
	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	if _, err := f.Write(yamlData); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	return nil
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
