// Package gatewayconfig loads the daemon's configuration, adapted from the
// teacher's pkg/pyproc config.go: viper-backed, env-overridable, YAML file
// search across the conventional paths.
package gatewayconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/yumosx/gatewaypool/internal/gwlog"
)

// Config holds all configuration for the gateway pool daemon.
type Config struct {
	Pool           PoolConfig           `mapstructure:"pool"`
	Dispatcher     DispatcherConfig     `mapstructure:"dispatcher"`
	Python         PythonConfig         `mapstructure:"python"`
	Logging        gwlog.Config         `mapstructure:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	ServiceManager ServiceManagerConfig `mapstructure:"service_manager"`
}

// PoolConfig defines worker pool settings.
type PoolConfig struct {
	Size           int           `mapstructure:"size"`
	BasePort       int           `mapstructure:"base_port"`
	PortScanRange  int           `mapstructure:"port_scan_range"`
	StartTimeout   time.Duration `mapstructure:"start_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	Restart        RestartConfig `mapstructure:"restart"`
}

// RestartConfig defines the per-worker restart budget and backoff policy.
type RestartConfig struct {
	Window         time.Duration `mapstructure:"window"`
	MaxRestarts    int           `mapstructure:"max_restarts"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	JitterMillis   int           `mapstructure:"jitter_millis"`
}

// DispatcherConfig defines request forwarding and model-cache settings.
type DispatcherConfig struct {
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ModelsTimeout         time.Duration `mapstructure:"models_timeout"`
	HealthTimeout         time.Duration `mapstructure:"health_timeout"`
	MaxAttempts           int           `mapstructure:"max_attempts"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
	MaxQueueWait          time.Duration `mapstructure:"max_queue_wait"`
	QueuePollInterval     time.Duration `mapstructure:"queue_poll_interval"`
	StickyFailRateCutoff  float64       `mapstructure:"sticky_fail_rate_cutoff"`
	ModelCacheTTL         time.Duration `mapstructure:"model_cache_ttl"`
	ModelCacheMinInterval time.Duration `mapstructure:"model_cache_min_interval"`
	CanonicalModels       []string      `mapstructure:"canonical_models"`
}

// PythonConfig defines the child process's runtime settings.
type PythonConfig struct {
	Executable   string            `mapstructure:"executable"`
	WorkerScript string            `mapstructure:"worker_script"`
	ConfigPath   string            `mapstructure:"config_path"`
	Env          map[string]string `mapstructure:"env"`
}

// MetricsConfig defines the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
}

// ServiceManagerConfig defines the slower supervision layer's policy.
type ServiceManagerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxRestarts     int           `mapstructure:"max_restarts"`
	Window          time.Duration `mapstructure:"window"`
	BaseBackoff     time.Duration `mapstructure:"base_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	DegradedToDead  time.Duration `mapstructure:"degraded_to_dead"`
}

// Load reads configuration from the given file (if non-empty) and from the
// environment, falling back to defaults for anything unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gatewaypool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gatewaypool")
	}

	v.SetEnvPrefix("GATEWAYPOOL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("gatewayconfig: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("gatewayconfig: unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.size", 3)
	v.SetDefault("pool.base_port", 8765)
	v.SetDefault("pool.port_scan_range", 50)
	v.SetDefault("pool.start_timeout", 1500*time.Millisecond)
	v.SetDefault("pool.health_interval", 10*time.Second)
	v.SetDefault("pool.restart.window", 5*time.Minute)
	v.SetDefault("pool.restart.max_restarts", 2)
	v.SetDefault("pool.restart.max_retries", 3)
	v.SetDefault("pool.restart.initial_backoff", 10*time.Second)
	v.SetDefault("pool.restart.max_backoff", 120*time.Second)
	v.SetDefault("pool.restart.jitter_millis", 1000)

	v.SetDefault("dispatcher.request_timeout", 60*time.Second)
	v.SetDefault("dispatcher.models_timeout", 10*time.Second)
	v.SetDefault("dispatcher.health_timeout", 5*time.Second)
	v.SetDefault("dispatcher.max_attempts", 3)
	v.SetDefault("dispatcher.retry_delay", 500*time.Millisecond)
	v.SetDefault("dispatcher.max_queue_wait", 2*time.Second)
	v.SetDefault("dispatcher.queue_poll_interval", 50*time.Millisecond)
	v.SetDefault("dispatcher.sticky_fail_rate_cutoff", 0.30)
	v.SetDefault("dispatcher.model_cache_ttl", 300*time.Second)
	v.SetDefault("dispatcher.model_cache_min_interval", 30*time.Second)

	v.SetDefault("python.executable", "python3")
	v.SetDefault("python.worker_script", "./worker/server.py")
	v.SetDefault("python.env", map[string]string{
		"PYTHONUNBUFFERED": "1",
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.trace_enabled", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("service_manager.poll_interval", 10*time.Second)
	v.SetDefault("service_manager.max_restarts", 3)
	v.SetDefault("service_manager.window", 300*time.Second)
	v.SetDefault("service_manager.base_backoff", 5*time.Second)
	v.SetDefault("service_manager.max_backoff", 120*time.Second)
	v.SetDefault("service_manager.grace_period", 30*time.Second)
	v.SetDefault("service_manager.degraded_to_dead", 60*time.Second)
}
