package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	SweepIntervalSec int `env:"SWEEP_INTERVAL_SEC,default=60"`
	SweepBatchSize   int `env:"SWEEP_BATCH_SIZE,default=10"`
	StalledAfterSec  int `env:"STALLED_AFTER_SEC,default=300"`

	DispatchConcurrency    int `env:"DISPATCH_CONCURRENCY,default=16"`
	EventWorkerConcurrency int `env:"EVENT_WORKER_CONCURRENCY,default=4"`
	EventQueuePrefetch     int `env:"EVENT_QUEUE_PREFETCH,default=10"`

	DeliveryRateLimitPerSec int  `env:"DELIVERY_RATE_LIMIT_PER_SEC,default=20"`
	BreakerFailureThreshold int  `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerCooldownSec      int  `env:"BREAKER_COOLDOWN_SEC,default=30"`
	DeferredRetryEnabled    bool `env:"DEFERRED_RETRY_ENABLED,default=true"`

	UserAgentProduct string `env:"USER_AGENT_PRODUCT,default=RetailPOS"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"API_PORT", c.APIPort},
		{"SWEEP_INTERVAL_SEC", c.SweepIntervalSec},
		{"SWEEP_BATCH_SIZE", c.SweepBatchSize},
		{"STALLED_AFTER_SEC", c.StalledAfterSec},
		{"DISPATCH_CONCURRENCY", c.DispatchConcurrency},
		{"EVENT_WORKER_CONCURRENCY", c.EventWorkerConcurrency},
		{"EVENT_QUEUE_PREFETCH", c.EventQueuePrefetch},
		{"DELIVERY_RATE_LIMIT_PER_SEC", c.DeliveryRateLimitPerSec},
		{"BREAKER_FAILURE_THRESHOLD", c.BreakerFailureThreshold},
		{"BREAKER_COOLDOWN_SEC", c.BreakerCooldownSec},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	return nil
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (c *Config) StalledAfter() time.Duration {
	return time.Duration(c.StalledAfterSec) * time.Second
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSec) * time.Second
}
