package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "IM_FORUM"

// Config is the complete runtime configuration of the delivery service.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Store     StoreConfig     `mapstructure:"store"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Session   SessionConfig   `mapstructure:"session"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	History   HistoryConfig   `mapstructure:"history"`
	Directory DirectoryConfig `mapstructure:"directory"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`

	v *viper.Viper
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// GRPCConfig enables the health endpoint when Addr is set.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	// Driver is either "redis" or "memory".
	Driver string      `mapstructure:"driver"`
	Prefix string      `mapstructure:"prefix"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BreakerConfig tunes the circuit breaker in front of the shared store.
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

type SessionConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	DrainInterval     time.Duration `mapstructure:"drain_interval"`
	MaxLifetime       time.Duration `mapstructure:"max_lifetime"`
	CloseTimeout      time.Duration `mapstructure:"close_timeout"`
}

type RegistryConfig struct {
	MetadataTTL   time.Duration `mapstructure:"metadata_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type QueueConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type PresenceConfig struct {
	TypingTTL time.Duration `mapstructure:"typing_ttl"`
}

type HistoryConfig struct {
	Limit int64 `mapstructure:"limit"`
}

type DirectoryConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// AMQPConfig switches the event bus to RabbitMQ when URL is set.
type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	OTel       bool   `mapstructure:"otel"`
}

type TracingConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_header_timeout", 10*time.Second)
	v.SetDefault("grpc.addr", "")

	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.prefix", "imf:")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.pool_size", 50)
	v.SetDefault("store.redis.dial_timeout", 5*time.Second)
	v.SetDefault("store.redis.read_timeout", 3*time.Second)
	v.SetDefault("store.redis.write_timeout", 3*time.Second)

	v.SetDefault("breaker.max_requests", 5)
	v.SetDefault("breaker.interval", time.Minute)
	v.SetDefault("breaker.timeout", 10*time.Second)
	v.SetDefault("breaker.consecutive_failures", 5)

	v.SetDefault("session.heartbeat_interval", 30*time.Second)
	v.SetDefault("session.drain_interval", 100*time.Millisecond)
	v.SetDefault("session.max_lifetime", 15*time.Minute)
	v.SetDefault("session.close_timeout", 5*time.Second)

	v.SetDefault("registry.metadata_ttl", 2*time.Minute)
	v.SetDefault("registry.sweep_interval", time.Minute)
	v.SetDefault("queue.ttl", 5*time.Minute)
	v.SetDefault("presence.typing_ttl", 5*time.Second)
	v.SetDefault("history.limit", 100)
	v.SetDefault("directory.cache_size", 10000)
	v.SetDefault("directory.cache_ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("tracing.sample_ratio", 0.1)
}

// Flags declares command line overrides for the most frequently tuned keys.
// Flag names match the config keys so viper can bind them directly.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("im-forum-delivery", pflag.ContinueOnError)
	fs.String("http.addr", ":8080", "HTTP listen address")
	fs.String("grpc.addr", "", "gRPC health listen address (empty disables)")
	fs.String("store.driver", "redis", "shared store driver: redis|memory")
	fs.String("store.redis.addr", "localhost:6379", "redis address")
	fs.String("amqp.url", "", "AMQP broker URL (empty uses the in-process bus)")
	fs.String("log.level", "info", "log level")
	return fs
}

// LoadConfig reads defaults, the optional file, IM_FORUM_* environment and
// the given command line overrides, in increasing priority.
func LoadConfig(path string, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, errors.Annotate(err, "parse flags")
	}
	// Only flags actually passed override lower layers.
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "read config %q", path)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.v = v
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Annotate(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break session bookkeeping.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "redis", "memory":
	default:
		return errors.NotValidf("store driver %q", c.Store.Driver)
	}

	positive := map[string]time.Duration{
		"session.heartbeat_interval": c.Session.HeartbeatInterval,
		"session.drain_interval":     c.Session.DrainInterval,
		"session.max_lifetime":       c.Session.MaxLifetime,
		"registry.metadata_ttl":      c.Registry.MetadataTTL,
		"registry.sweep_interval":    c.Registry.SweepInterval,
		"queue.ttl":                  c.Queue.TTL,
		"presence.typing_ttl":        c.Presence.TypingTTL,
	}
	for key, d := range positive {
		if d <= 0 {
			return errors.NotValidf("%s=%s, must be positive", key, d)
		}
	}

	// A live connection must never lose its record between two heartbeats.
	if c.Registry.MetadataTTL <= c.Session.HeartbeatInterval {
		return errors.NotValidf("registry.metadata_ttl=%s not above session.heartbeat_interval=%s",
			c.Registry.MetadataTTL, c.Session.HeartbeatInterval)
	}
	if c.History.Limit <= 0 {
		return errors.NotValidf("history.limit=%d", c.History.Limit)
	}
	return nil
}

// SlogLevel maps the textual level to slog, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

var watchOnce sync.Once

// OnChange re-decodes the configuration whenever the backing file changes.
// Invalid revisions are reported through onErr and otherwise ignored.
func (c *Config) OnChange(fn func(*Config), onErr func(error)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(c.v)
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		fn(next)
	})
	watchOnce.Do(c.v.WatchConfig)
}
