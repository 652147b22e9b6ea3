// Package config loads the engine's environment-variable configuration
// (§6.1) through viper, the way elchinoo-stormdb's internal/config binds a
// flat set of keys with defaults. Unlike that config (which layers a YAML
// file), this one is purely env-driven per §6.1's table, loaded once at
// process start.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// RMSConfig is the RMS_DB_* group.
type RMSConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	Driver          string
	PoolSize        int
	ConnectTimeout  time.Duration
	StatementTimeout time.Duration
}

// CommerceConfig is the COMMERCE_* group.
type CommerceConfig struct {
	ShopURL        string
	Token          string
	APIVersion     string
	RatePerSecond  float64
}

// SyncConfig covers the SYNC_* group (§4.12, §4.14).
type SyncConfig struct {
	IntervalMinutes      int
	BatchSize            int
	MaxConcurrentJobs    int
	TimeoutMinutes       int
	CheckpointInterval   int
	EnableLock           bool
	LockTimeoutSeconds   int
}

// CheckpointConfig covers USE_UPDATE_CHECKPOINT / CHECKPOINT_* keys.
type CheckpointConfig struct {
	Enabled           bool
	SuccessThreshold  float64
	DefaultDays       int
	FilePath          string
}

// FullSyncConfig covers the ENABLE_FULL_SYNC_SCHEDULE / FULL_SYNC_* keys.
type FullSyncConfig struct {
	Enabled  bool
	Hour     int
	Minute   int
	Timezone string
	Days     string // cron day-of-week field, e.g. "1-5"
}

// OrderPolicyConfig covers order-ingestion customer policy (§6.1, §4.13).
type OrderPolicyConfig struct {
	AllowOrdersWithoutCustomer bool
	DefaultGuestCustomerID     int64
	RequireCustomerEmail       bool
	GuestCustomerName          string
	StoreID                    int
}

// Config is the complete, typed configuration for the engine.
type Config struct {
	RMS        RMSConfig
	Commerce   CommerceConfig
	Sync       SyncConfig
	Checkpoint CheckpointConfig
	FullSync   FullSyncConfig
	OrderPolicy OrderPolicyConfig
	RedisURL   string
}

// Load reads the environment (already populated by godotenv.Load in main,
// per the teacher's cmd/server convention) into a validated Config.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		RMS: RMSConfig{
			Host:             v.GetString("RMS_DB_HOST"),
			Port:             v.GetInt("RMS_DB_PORT"),
			Database:         v.GetString("RMS_DB_DATABASE"),
			User:             v.GetString("RMS_DB_USER"),
			Password:         v.GetString("RMS_DB_PASSWORD"),
			Driver:           v.GetString("RMS_DB_DRIVER"),
			PoolSize:         v.GetInt("RMS_DB_POOL_SIZE"),
			ConnectTimeout:   v.GetDuration("RMS_DB_CONNECT_TIMEOUT"),
			StatementTimeout: v.GetDuration("RMS_DB_STATEMENT_TIMEOUT"),
		},
		Commerce: CommerceConfig{
			ShopURL:       v.GetString("COMMERCE_SHOP_URL"),
			Token:         v.GetString("COMMERCE_TOKEN"),
			APIVersion:    v.GetString("COMMERCE_API_VERSION"),
			RatePerSecond: v.GetFloat64("COMMERCE_RATE_LIMIT_PER_SECOND"),
		},
		Sync: SyncConfig{
			IntervalMinutes:    v.GetInt("SYNC_INTERVAL_MINUTES"),
			BatchSize:          v.GetInt("SYNC_BATCH_SIZE"),
			MaxConcurrentJobs:  v.GetInt("SYNC_MAX_CONCURRENT_JOBS"),
			TimeoutMinutes:     v.GetInt("SYNC_TIMEOUT_MINUTES"),
			CheckpointInterval: v.GetInt("SYNC_CHECKPOINT_INTERVAL"),
			EnableLock:         v.GetBool("ENABLE_SYNC_LOCK"),
			LockTimeoutSeconds: v.GetInt("SYNC_LOCK_TIMEOUT_SECONDS"),
		},
		Checkpoint: CheckpointConfig{
			Enabled:          v.GetBool("USE_UPDATE_CHECKPOINT"),
			SuccessThreshold: v.GetFloat64("CHECKPOINT_SUCCESS_THRESHOLD"),
			DefaultDays:      v.GetInt("CHECKPOINT_DEFAULT_DAYS"),
			FilePath:         v.GetString("CHECKPOINT_FILE_PATH"),
		},
		FullSync: FullSyncConfig{
			Enabled:  v.GetBool("ENABLE_FULL_SYNC_SCHEDULE"),
			Hour:     v.GetInt("FULL_SYNC_HOUR"),
			Minute:   v.GetInt("FULL_SYNC_MINUTE"),
			Timezone: v.GetString("FULL_SYNC_TIMEZONE"),
			Days:     v.GetString("FULL_SYNC_DAYS"),
		},
		OrderPolicy: OrderPolicyConfig{
			AllowOrdersWithoutCustomer: v.GetBool("ALLOW_ORDERS_WITHOUT_CUSTOMER"),
			DefaultGuestCustomerID:     v.GetInt64("DEFAULT_CUSTOMER_ID_FOR_GUEST_ORDERS"),
			RequireCustomerEmail:       v.GetBool("REQUIRE_CUSTOMER_EMAIL"),
			GuestCustomerName:          v.GetString("GUEST_CUSTOMER_NAME"),
			StoreID:                    v.GetInt("STORE_ID"),
		},
		RedisURL: v.GetString("REDIS_URL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("RMS_DB_DRIVER", "postgres")
	v.SetDefault("RMS_DB_PORT", 5432)
	v.SetDefault("RMS_DB_POOL_SIZE", 10)
	v.SetDefault("RMS_DB_CONNECT_TIMEOUT", 10*time.Second)
	v.SetDefault("RMS_DB_STATEMENT_TIMEOUT", 30*time.Second)

	v.SetDefault("COMMERCE_API_VERSION", "2024-10")
	v.SetDefault("COMMERCE_RATE_LIMIT_PER_SECOND", 2.0)

	v.SetDefault("SYNC_INTERVAL_MINUTES", 5)
	v.SetDefault("SYNC_BATCH_SIZE", 10)
	v.SetDefault("SYNC_MAX_CONCURRENT_JOBS", 3)
	v.SetDefault("SYNC_TIMEOUT_MINUTES", 30)
	v.SetDefault("SYNC_CHECKPOINT_INTERVAL", 10)
	v.SetDefault("ENABLE_SYNC_LOCK", true)
	v.SetDefault("SYNC_LOCK_TIMEOUT_SECONDS", 1800)

	v.SetDefault("USE_UPDATE_CHECKPOINT", true)
	v.SetDefault("CHECKPOINT_SUCCESS_THRESHOLD", 0.95)
	v.SetDefault("CHECKPOINT_DEFAULT_DAYS", 30)
	v.SetDefault("CHECKPOINT_FILE_PATH", "./data/checkpoints")

	v.SetDefault("ENABLE_FULL_SYNC_SCHEDULE", false)
	v.SetDefault("FULL_SYNC_HOUR", 2)
	v.SetDefault("FULL_SYNC_MINUTE", 0)
	v.SetDefault("FULL_SYNC_TIMEZONE", "UTC")
	v.SetDefault("FULL_SYNC_DAYS", "*")

	v.SetDefault("ALLOW_ORDERS_WITHOUT_CUSTOMER", true)
	v.SetDefault("REQUIRE_CUSTOMER_EMAIL", false)
	v.SetDefault("GUEST_CUSTOMER_NAME", "Guest Customer")
	v.SetDefault("STORE_ID", 1)
}

func (c *Config) validate() error {
	if c.RMS.Host == "" || c.RMS.Database == "" || c.RMS.User == "" {
		return fmt.Errorf("RMS_DB_HOST, RMS_DB_DATABASE, and RMS_DB_USER are required")
	}
	if c.Commerce.ShopURL == "" || c.Commerce.Token == "" {
		return fmt.Errorf("COMMERCE_SHOP_URL and COMMERCE_TOKEN are required")
	}
	if c.Commerce.RatePerSecond <= 0 {
		return fmt.Errorf("COMMERCE_RATE_LIMIT_PER_SECOND must be positive")
	}
	if c.Sync.BatchSize <= 0 || c.Sync.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE and SYNC_MAX_CONCURRENT_JOBS must be positive")
	}
	if c.Checkpoint.SuccessThreshold < 0 || c.Checkpoint.SuccessThreshold > 1 {
		return fmt.Errorf("CHECKPOINT_SUCCESS_THRESHOLD must be within [0,1]")
	}
	if c.Checkpoint.FilePath == "" {
		return fmt.Errorf("CHECKPOINT_FILE_PATH is required")
	}
	return nil
}
