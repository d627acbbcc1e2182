package clusterd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a clusterd master.
type Config struct {
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Transport TransportConfig `mapstructure:"transport"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ClusterConfig defines worker pool and routing settings.
type ClusterConfig struct {
	Workers    int               `mapstructure:"workers"`
	Respawn    bool              `mapstructure:"respawn"`
	Codec      string            `mapstructure:"codec"`
	HandoffDir string            `mapstructure:"handoff_dir"`
	Env        map[string]string `mapstructure:"env"`
	Restart    RestartConfig     `mapstructure:"restart"`
}

// RestartConfig defines the retry policy for respawning one exited worker:
// the first spawn attempt runs immediately, and only failed attempts are
// retried after an exponentially growing backoff, up to MaxAttempts. A
// replacement that spawns successfully and later exits is respawned again
// immediately; no backoff carries over between successive exits.
type RestartConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

// TransportConfig selects and configures the in-worker transport plug-in.
type TransportConfig struct {
	Kind string `mapstructure:"kind"` // "http" or "websocket"
	Port int    `mapstructure:"port"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	TraceEnabled bool   `mapstructure:"trace_enabled"`
}

// MetricsConfig defines metrics collection settings.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/clusterd")
	}

	v.SetEnvPrefix("CLUSTERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Cluster.Restart.InitialBackoff *= time.Millisecond
	cfg.Cluster.Restart.MaxBackoff *= time.Millisecond

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cluster.workers", 0) // 0 means "host CPU count", resolved by NewMaster
	v.SetDefault("cluster.respawn", true)
	v.SetDefault("cluster.codec", "json")
	v.SetDefault("cluster.handoff_dir", "/tmp")
	v.SetDefault("cluster.restart.max_attempts", 5)
	v.SetDefault("cluster.restart.initial_backoff", 250)
	v.SetDefault("cluster.restart.max_backoff", 10000)
	v.SetDefault("cluster.restart.multiplier", 2.0)

	v.SetDefault("transport.kind", "http")
	v.SetDefault("transport.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.trace_enabled", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}
