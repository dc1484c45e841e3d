// Package config loads service settings from an optional YAML file, a .env file
// and the environment. Environment keys are the upper-cased config keys with
// dots replaced by underscores, e.g. POOL_SIZE for pool.size.
package config

import (
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverDynamoDB = "dynamodb"
	DriverPostgres = "postgres"
)

type HTTPConfig struct {
	Addr     string
	RunLocal bool
}

type LogConfig struct {
	Level       string
	Development bool
}

type BackendConfig struct {
	Driver      string
	PostgresDSN string
}

type AWSConfig struct {
	Region   string
	Endpoint string
}

type TablesConfig struct {
	Orders      string
	OrderItems  string
	Idempotency string
}

type PoolConfig struct {
	Size           int
	MaxWaiters     int
	AcquireTimeout time.Duration
	WarningPct     float64
	CriticalPct    float64
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type SyncConfig struct {
	Interval    time.Duration
	UpdateBatch int
	Targets     []string
}

type EventsConfig struct {
	SQSQueueURL string
	AMQPURL     string
	AMQPQueue   string
}

type MetricsConfig struct {
	Namespace string
	Interval  time.Duration
}

type CacheConfig struct {
	Size int
	TTL  time.Duration
}

type Config struct {
	HTTP           HTTPConfig
	Log            LogConfig
	Backend        BackendConfig
	AWS            AWSConfig
	Tables         TablesConfig
	Pool           PoolConfig
	OrderSubmit    RateLimitConfig
	Sync           SyncConfig
	Events         EventsConfig
	Metrics        MetricsConfig
	Cache          CacheConfig
	IdempotencyTTL time.Duration
}

func (c Config) String() string {
	return fmt.Sprintf(
		"[CONFIG: Driver: %s | Pool: %d/%d | OrderSubmit: %d per %s | Sync: %s %v | LogLevel: %s]",
		c.Backend.Driver,
		c.Pool.Size,
		c.Pool.MaxWaiters,
		c.OrderSubmit.Limit,
		c.OrderSubmit.Window,
		c.Sync.Interval,
		c.Sync.Targets,
		c.Log.Level,
	)
}

const CONFIG_FILE_PATH = "./config.yaml"

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("run_local", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("backend.driver", DriverMemory)
	v.SetDefault("backend.postgres_dsn", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("tables.orders", "orders")
	v.SetDefault("tables.order_items", "order_items")
	v.SetDefault("tables.idempotency", "idempotency_keys")
	v.SetDefault("pool.size", 10)
	v.SetDefault("pool.max_waiters", 50)
	v.SetDefault("pool.acquire_timeout", "10s")
	v.SetDefault("pool.warning_pct", 70)
	v.SetDefault("pool.critical_pct", 90)
	v.SetDefault("ratelimit.order_submit.limit", 5)
	v.SetDefault("ratelimit.order_submit.window", "60s")
	v.SetDefault("sync.interval", "3s")
	v.SetDefault("sync.update_batch", 10)
	v.SetDefault("sync.targets", "")
	v.SetDefault("events.sqs_queue_url", "")
	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.amqp_queue", "order-events")
	v.SetDefault("metrics.namespace", "")
	v.SetDefault("metrics.interval", "60s")
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("idempotency.ttl", "24h")
}

// InitConfig reads CONFIG_FILE_PATH if present, then .env, then the environment.
func InitConfig() (*Config, error) {
	_ = godotenv.Load(".env")
	return Load(CONFIG_FILE_PATH)
}

// Load builds a Config from path (ignored when missing) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, errors.Wrapf(err, "failed to read config file %s", path)
			}
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:     v.GetString("http.addr"),
			RunLocal: v.GetBool("run_local"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Backend: BackendConfig{
			Driver:      strings.ToLower(v.GetString("backend.driver")),
			PostgresDSN: v.GetString("backend.postgres_dsn"),
		},
		AWS: AWSConfig{
			Region:   v.GetString("aws.region"),
			Endpoint: v.GetString("aws.endpoint"),
		},
		Tables: TablesConfig{
			Orders:      v.GetString("tables.orders"),
			OrderItems:  v.GetString("tables.order_items"),
			Idempotency: v.GetString("tables.idempotency"),
		},
		Pool: PoolConfig{
			Size:           v.GetInt("pool.size"),
			MaxWaiters:     v.GetInt("pool.max_waiters"),
			AcquireTimeout: v.GetDuration("pool.acquire_timeout"),
			WarningPct:     v.GetFloat64("pool.warning_pct"),
			CriticalPct:    v.GetFloat64("pool.critical_pct"),
		},
		OrderSubmit: RateLimitConfig{
			Limit:  v.GetInt("ratelimit.order_submit.limit"),
			Window: v.GetDuration("ratelimit.order_submit.window"),
		},
		Sync: SyncConfig{
			Interval:    v.GetDuration("sync.interval"),
			UpdateBatch: v.GetInt("sync.update_batch"),
			Targets:     splitList(strings.Join(v.GetStringSlice("sync.targets"), ",")),
		},
		Events: EventsConfig{
			SQSQueueURL: v.GetString("events.sqs_queue_url"),
			AMQPURL:     v.GetString("events.amqp_url"),
			AMQPQueue:   v.GetString("events.amqp_queue"),
		},
		Metrics: MetricsConfig{
			Namespace: v.GetString("metrics.namespace"),
			Interval:  v.GetDuration("metrics.interval"),
		},
		Cache: CacheConfig{
			Size: v.GetInt("cache.size"),
			TTL:  v.GetDuration("cache.ttl"),
		},
		IdempotencyTTL: v.GetDuration("idempotency.ttl"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case DriverMemory, DriverDynamoDB:
	case DriverPostgres:
		if c.Backend.PostgresDSN == "" {
			return errors.New("backend.postgres_dsn is required for the postgres driver")
		}
	default:
		return errors.Errorf("unknown backend.driver %q", c.Backend.Driver)
	}
	if c.Pool.Size <= 0 {
		return errors.Errorf("pool.size must be positive, got %d", c.Pool.Size)
	}
	if c.Pool.MaxWaiters < 0 {
		return errors.Errorf("pool.max_waiters must not be negative, got %d", c.Pool.MaxWaiters)
	}
	if c.Pool.AcquireTimeout <= 0 {
		return errors.Errorf("pool.acquire_timeout must be positive, got %s", c.Pool.AcquireTimeout)
	}
	if c.Pool.WarningPct > c.Pool.CriticalPct {
		return errors.Errorf("pool.warning_pct %.0f above pool.critical_pct %.0f", c.Pool.WarningPct, c.Pool.CriticalPct)
	}
	if c.OrderSubmit.Limit < 1 || c.OrderSubmit.Window <= 0 {
		return errors.Errorf("ratelimit.order_submit needs limit >= 1 and a positive window, got %d per %s", c.OrderSubmit.Limit, c.OrderSubmit.Window)
	}
	if c.Sync.Interval <= 0 {
		return errors.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
