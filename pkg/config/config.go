package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Signal struct {
		Address              string        `yaml:"address"`
		URL                  string        `yaml:"url"` // client-side endpoint
		ConnectTimeout       time.Duration `yaml:"connect_timeout"`
		HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
		ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
		ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		SendRatePerSecond    float64       `yaml:"send_rate_per_second"`
		SendBurst            int           `yaml:"send_burst"`
		ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	Session struct {
		SwitchHoldDown time.Duration `yaml:"switch_hold_down"`
		UpgradeHold    time.Duration `yaml:"upgrade_hold"`
		HistoryLimit   int           `yaml:"history_limit"`
		JoinTimeout    time.Duration `yaml:"join_timeout"`
		MessageWindow  int           `yaml:"message_window"`
	} `yaml:"session"`

	Optimizer struct {
		LowLatencyMode  bool `yaml:"low_latency_mode"`
		MedicalPriority bool `yaml:"medical_priority"`
	} `yaml:"optimizer"`

	Media struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
	} `yaml:"media"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.ConnectTimeout <= 0 {
		return fmt.Errorf("signal.connect_timeout must be > 0")
	}
	if c.Signal.HeartbeatInterval <= 0 {
		return fmt.Errorf("signal.heartbeat_interval must be > 0")
	}
	if c.Signal.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("signal.reconnect_base_delay must be > 0")
	}
	if c.Signal.ReconnectMaxDelay < c.Signal.ReconnectBaseDelay {
		return fmt.Errorf("signal.reconnect_max_delay must be >= reconnect_base_delay")
	}
	if c.Signal.MaxReconnectAttempts < 0 {
		return fmt.Errorf("signal.max_reconnect_attempts must be >= 0")
	}

	if c.Session.SwitchHoldDown < 0 {
		return fmt.Errorf("session.switch_hold_down must be >= 0")
	}
	if c.Session.HistoryLimit <= 0 {
		return fmt.Errorf("session.history_limit must be > 0")
	}
	if c.Session.MessageWindow <= 0 {
		return fmt.Errorf("session.message_window must be > 0")
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty")
	}
	if c.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis.pool_size must be > 0")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signal.Address = ":8888"
	cfg.Signal.URL = "ws://localhost:8888/ws"
	cfg.Signal.ConnectTimeout = 10 * time.Second
	cfg.Signal.HeartbeatInterval = 30 * time.Second
	cfg.Signal.ReconnectBaseDelay = 1 * time.Second
	cfg.Signal.ReconnectMaxDelay = 30 * time.Second
	cfg.Signal.MaxReconnectAttempts = 5
	cfg.Signal.SendRatePerSecond = 20
	cfg.Signal.SendBurst = 40
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.Session.SwitchHoldDown = 10 * time.Second
	cfg.Session.UpgradeHold = 30 * time.Second
	cfg.Session.HistoryLimit = 100
	cfg.Session.JoinTimeout = 15 * time.Second
	cfg.Session.MessageWindow = 100

	cfg.Optimizer.LowLatencyMode = true
	cfg.Optimizer.MedicalPriority = true

	cfg.Media.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 15 * time.Minute

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("TELESESSION_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if url := os.Getenv("TELESESSION_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if addr := os.Getenv("TELESESSION_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if level := os.Getenv("TELESESSION_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("TELESESSION_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
