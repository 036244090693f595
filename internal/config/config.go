package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	MailProviderHTTP = "http"
	MailProviderSES  = "ses"

	SubscriptionCacheMemory = "memory"
	SubscriptionCacheRedis  = "redis"
)

type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	RedisURL       string `env:"REDIS_URL,required=true"`
	// RabbitMQURL is optional; without it lifecycle events are not published
	// and subscription changes are only picked up through the cache TTL.
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	MailProvider         string        `env:"MAIL_PROVIDER,default=http"`
	MailAPIURL           string        `env:"MAIL_API_URL"`
	MailAPIKey           string        `env:"MAIL_API_KEY"`
	MailTimeout          time.Duration `env:"MAIL_TIMEOUT,default=10s"`
	MailDefaultFromEmail string        `env:"MAIL_DEFAULT_FROM_EMAIL"`
	MailDefaultFromName  string        `env:"MAIL_DEFAULT_FROM_NAME"`
	AWSRegion            string        `env:"AWS_REGION,default=us-east-1"`
	AWSAccessKeyID       string        `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey   string        `env:"AWS_SECRET_ACCESS_KEY"`

	SendDelay       time.Duration `env:"SEND_DELAY,default=100ms"`
	CheckpointEvery int           `env:"CHECKPOINT_EVERY,default=10"`
	// RateLimitPerSec caps sends across all processes; 0 disables the shared limiter.
	RateLimitPerSec int `env:"RATE_LIMIT_PER_SEC,default=0"`
	// The lock is renewed after every send attempt, so the TTL must outlast
	// one MAIL_TIMEOUT plus SEND_DELAY.
	CampaignLockTTL time.Duration `env:"CAMPAIGN_LOCK_TTL,default=2m"`
	// CampaignLockWait is how long a new loop retries a lock still held by a
	// loop that is winding down after a pause.
	CampaignLockWait time.Duration `env:"CAMPAIGN_LOCK_WAIT,default=5s"`

	UsageAtomicReserve bool `env:"USAGE_ATOMIC_RESERVE,default=false"`
	// SubscriptionCache "memory" is per process. Subscription change events
	// are consumed from one shared queue, so with several replicas only the
	// consuming replica drops its entry; the others serve stale limits until
	// SUBSCRIPTION_CACHE_TTL. Multi-replica deployments should use "redis".
	SubscriptionCache    string        `env:"SUBSCRIPTION_CACHE,default=memory"`
	SubscriptionCacheTTL time.Duration `env:"SUBSCRIPTION_CACHE_TTL,default=5m"`
	PlansFile            string        `env:"PLANS_FILE"`
	DefaultPlan          string        `env:"DEFAULT_PLAN,default=free"`

	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL,default=30s"`
	RecoverOnStart    bool          `env:"RECOVER_ON_START,default=true"`
	// RecoveryInterval repeats the recovery scan; 0 scans once at startup.
	RecoveryInterval time.Duration `env:"RECOVERY_INTERVAL,default=1m"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.MailProvider = strings.ToLower(strings.TrimSpace(cfg.MailProvider))
	cfg.SubscriptionCache = strings.ToLower(strings.TrimSpace(cfg.SubscriptionCache))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.MailProvider {
	case MailProviderHTTP:
		if strings.TrimSpace(c.MailAPIURL) == "" {
			return fmt.Errorf("MAIL_API_URL is required when MAIL_PROVIDER=%s", MailProviderHTTP)
		}
	case MailProviderSES:
	default:
		return fmt.Errorf("MAIL_PROVIDER must be %q or %q, got %q", MailProviderHTTP, MailProviderSES, c.MailProvider)
	}

	switch c.SubscriptionCache {
	case SubscriptionCacheMemory, SubscriptionCacheRedis:
	default:
		return fmt.Errorf("SUBSCRIPTION_CACHE must be %q or %q, got %q", SubscriptionCacheMemory, SubscriptionCacheRedis, c.SubscriptionCache)
	}

	if c.SendDelay < 0 {
		return fmt.Errorf("SEND_DELAY must not be negative")
	}
	if c.CheckpointEvery < 1 {
		return fmt.Errorf("CHECKPOINT_EVERY must be at least 1")
	}
	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must not be negative")
	}
	if c.MailTimeout <= 0 {
		return fmt.Errorf("MAIL_TIMEOUT must be positive")
	}
	if c.CampaignLockTTL <= c.MailTimeout+c.SendDelay {
		return fmt.Errorf("CAMPAIGN_LOCK_TTL must be longer than MAIL_TIMEOUT plus SEND_DELAY")
	}
	if c.CampaignLockWait < 0 {
		return fmt.Errorf("CAMPAIGN_LOCK_WAIT must not be negative")
	}
	if c.RecoveryInterval < 0 {
		return fmt.Errorf("RECOVERY_INTERVAL must not be negative")
	}
	return nil
}

// Warnings lists settings that are valid but unsafe for some deployments.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.SubscriptionCache == SubscriptionCacheMemory && strings.TrimSpace(c.RabbitMQURL) != "" {
		warnings = append(warnings, "SUBSCRIPTION_CACHE=memory only invalidates the replica that consumes a subscription event; use redis when running more than one replica")
	}
	return warnings
}
