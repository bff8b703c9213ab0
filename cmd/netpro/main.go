package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config is the CLI configuration stored in ~/.netpro/config.toml.
// NETPRO_* environment variables override file values.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Stream  ConfigStream  `toml:"stream"`
}

// ConfigDefault holds settings for one-shot HTTP and GraphQL requests.
type ConfigDefault struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
	GraphQLURL     string `toml:"graphql_url"`
}

// ConfigStream holds reconnect settings for the ws and sse commands.
type ConfigStream struct {
	MaxAttempts    int `toml:"max_attempts"`
	InitialDelayMS int `toml:"initial_delay_ms"`
	MaxDelayMS     int `toml:"max_delay_ms"`
}

// envOverrides mirrors the Config fields settable from the environment.
type envOverrides struct {
	BaseURL        string `envconfig:"NETPRO_BASE_URL"`
	Token          string `envconfig:"NETPRO_TOKEN"`
	TimeoutSeconds int    `envconfig:"NETPRO_TIMEOUT_SECONDS"`
	UserAgent      string `envconfig:"NETPRO_USER_AGENT"`
	GraphQLURL     string `envconfig:"NETPRO_GRAPHQL_URL"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.netpro, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".netpro")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfigFile reads just the config file. A missing file yields a
// zero-value Config. Used by "config set" so environment overrides are
// never written back to disk.
func loadConfigFile() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
		return &cfg, nil
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// loadConfig reads the config file, then applies environment overrides.
func loadConfig() (*Config, error) {
	cfg, err := loadConfigFile()
	if err != nil {
		return nil, err
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}
	if env.BaseURL != "" {
		cfg.Default.BaseURL = env.BaseURL
	}
	if env.Token != "" {
		cfg.Default.Token = env.Token
	}
	if env.TimeoutSeconds > 0 {
		cfg.Default.TimeoutSeconds = env.TimeoutSeconds
	}
	if env.UserAgent != "" {
		cfg.Default.UserAgent = env.UserAgent
	}
	if env.GraphQLURL != "" {
		cfg.Default.GraphQLURL = env.GraphQLURL
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("field %q requires an integer value", field)
		}
		return n, nil
	}

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "token":
			cfg.Default.Token = value
		case "timeout_seconds":
			n, err := atoi()
			if err != nil {
				return err
			}
			cfg.Default.TimeoutSeconds = n
		case "user_agent":
			cfg.Default.UserAgent = value
		case "graphql_url":
			cfg.Default.GraphQLURL = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "stream":
		n, err := atoi()
		if err != nil {
			return err
		}
		switch field {
		case "max_attempts":
			cfg.Stream.MaxAttempts = n
		case "initial_delay_ms":
			cfg.Stream.InitialDelayMS = n
		case "max_delay_ms":
			cfg.Stream.MaxDelayMS = n
		default:
			return fmt.Errorf("unknown field %q in section [stream]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, stream)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "netpro",
	Short: "Networking toolkit CLI",
	Long:  "Command-line interface for the netpro networking toolkit.\nMake one-shot HTTP and GraphQL requests or tail WebSocket and SSE streams.",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
