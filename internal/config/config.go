// Package config handles configuration loading for dispatchd.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for dispatchd.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Router    RouterConfig    `mapstructure:"router"`
	Health    HealthConfig    `mapstructure:"health"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Control   ControlConfig   `mapstructure:"control"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// Listen is the address the API server binds to.
	Listen string `mapstructure:"listen"`
}

// SchedulerConfig holds task manager tuning.
type SchedulerConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	LaneDepth         int           `mapstructure:"lane_depth"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	EventBuffer       int           `mapstructure:"event_buffer"`
}

// RouterConfig holds capability routing weights.
type RouterConfig struct {
	ConfidenceWeight float64 `mapstructure:"confidence_weight"`
	LatencyWeight    float64 `mapstructure:"latency_weight"`
}

// HealthConfig holds health monitor tuning.
type HealthConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	BackoffCap          time.Duration `mapstructure:"backoff_cap"`
	MaxConcurrentProbes int           `mapstructure:"max_concurrent_probes"`
}

// RegistryConfig holds registry tuning.
type RegistryConfig struct {
	// LatencyEMAWeight is the weight applied to new latency samples.
	LatencyEMAWeight float64 `mapstructure:"latency_ema_weight"`
}

// AnthropicConfig holds settings for the in-process model-backed worker.
type AnthropicConfig struct {
	// Enabled registers the worker as a local agent on startup.
	Enabled bool `mapstructure:"enabled"`
	// AgentID is the registry identity of the local worker.
	AgentID string `mapstructure:"agent_id"`
	// Capabilities lists the capability IDs the worker declares.
	Capabilities []string `mapstructure:"capabilities"`
	// Confidence is the declared confidence for each capability.
	Confidence float64 `mapstructure:"confidence"`
	APIKey     string  `mapstructure:"api_key"`
	Model      string  `mapstructure:"model"`
	MaxTokens  int64   `mapstructure:"max_tokens"`
	// UseBedrock routes requests through AWS Bedrock.
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// JournalConfig holds the event journal settings.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path overrides the default .dispatchd/journal.db location.
	Path string `mapstructure:"path"`
}

// ControlConfig holds the pause-sentinel watcher settings.
type ControlConfig struct {
	// Dir is the control directory watched for the pause sentinel.
	Dir string `mapstructure:"dir"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	// LogPath enables the file-backed debug log when non-empty.
	LogPath string `mapstructure:"log_path"`
}

// Load loads configuration with the following precedence, highest first:
// environment variables (DISPATCHD_*), project config (.dispatchd.yaml in
// the current directory or a parent), user config
// (~/.config/dispatchd/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("DISPATCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8400")

	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.lane_depth", 100)
	v.SetDefault("scheduler.retry_base_delay", "1s")
	v.SetDefault("scheduler.retry_max_delay", "60s")
	v.SetDefault("scheduler.default_max_retries", 3)
	v.SetDefault("scheduler.default_timeout", "60s")
	v.SetDefault("scheduler.event_buffer", 256)

	v.SetDefault("router.confidence_weight", 0.7)
	v.SetDefault("router.latency_weight", 0.3)

	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.probe_timeout", "10s")
	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.backoff_cap", "5m")
	v.SetDefault("health.max_concurrent_probes", 8)

	v.SetDefault("registry.latency_ema_weight", 0.3)

	v.SetDefault("anthropic.enabled", false)
	v.SetDefault("anthropic.agent_id", "local-claude")
	v.SetDefault("anthropic.confidence", 0.8)
	v.SetDefault("anthropic.max_tokens", 4096)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "")

	v.SetDefault("control.dir", ".dispatchd/control")

	v.SetDefault("debug.log_path", "")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8400"},
		Scheduler: SchedulerConfig{
			MaxConcurrent:     4,
			LaneDepth:         100,
			RetryBaseDelay:    time.Second,
			RetryMaxDelay:     60 * time.Second,
			DefaultMaxRetries: 3,
			DefaultTimeout:    60 * time.Second,
			EventBuffer:       256,
		},
		Router: RouterConfig{ConfidenceWeight: 0.7, LatencyWeight: 0.3},
		Health: HealthConfig{
			Interval:            30 * time.Second,
			ProbeTimeout:        10 * time.Second,
			FailureThreshold:    3,
			BackoffCap:          5 * time.Minute,
			MaxConcurrentProbes: 8,
		},
		Registry: RegistryConfig{LatencyEMAWeight: 0.3},
		Anthropic: AnthropicConfig{
			AgentID:    "local-claude",
			Confidence: 0.8,
			MaxTokens:  4096,
		},
		Journal: JournalConfig{Enabled: true},
		Control: ControlConfig{Dir: ".dispatchd/control"},
	}
}

// getUserConfigDir returns the XDG config directory for dispatchd.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dispatchd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "dispatchd")
	}
	return filepath.Join(home, ".config", "dispatchd")
}

// findProjectConfig searches for .dispatchd.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".dispatchd.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
