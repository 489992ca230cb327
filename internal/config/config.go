// Package config loads and watches the gatekeeper service configuration.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Aidin1998/gatekeeper/internal/ratelimit"
)

// Config is the full service configuration: HTTP server, Redis connection,
// logging, and the admission policy. Values come from defaults, an optional
// YAML file, and GATEKEEPER_-prefixed environment variables, in that order
// of precedence (lowest first).
type Config struct {
	Server ServerConfig      `mapstructure:"server" validate:"required"`
	Redis  RedisConfig       `mapstructure:"redis" validate:"required"`
	Log    LogConfig         `mapstructure:"log"`
	Policy *ratelimit.Policy `mapstructure:"policy" validate:"required"`

	// Accounts seeds the demo account directory: identity -> RFC3339
	// registration time. Production deployments implement
	// ratelimit.AccountDirectory against their user store instead.
	Accounts map[string]string `mapstructure:"accounts"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Console bool   `mapstructure:"console"`
}

var validate = validator.New()

// Manager owns the viper instance so the policy section can hot-reload.
type Manager struct {
	mu     sync.RWMutex
	viper  *viper.Viper
	config *Config
	logger *zap.Logger
}

// Load reads configuration from path (optional, "" skips the file) and the
// environment, validates it, and returns a manager ready for watching.
func Load(path string, logger *zap.Logger) (*Manager, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GATEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	m := &Manager{viper: v, config: cfg, logger: logger}
	return m, nil
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch re-reads the config file on change and hands the new snapshot to
// onChange. Invalid updates are logged and skipped; the previous config
// stays live.
func (m *Manager) Watch(onChange func(*Config)) {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.logger.Info("configuration file changed", zap.String("file", e.Name))
		cfg, err := unmarshal(m.viper)
		if err != nil {
			m.logger.Error("rejecting invalid configuration update", zap.Error(err))
			return
		}
		m.mu.Lock()
		m.config = cfg
		m.mu.Unlock()
		onChange(cfg)
	})
	m.viper.WatchConfig()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{Policy: ratelimit.DefaultPolicy()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)
}
