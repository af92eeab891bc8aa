// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Storage       StorageConfig           `mapstructure:"storage"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Engine        EngineConfig            `mapstructure:"engine"`
	Ledger        LedgerConfig            `mapstructure:"ledger"`
	Dispatch      DispatchConfig          `mapstructure:"dispatch"`
	Payments      PaymentsConfig          `mapstructure:"payments"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Audit         AuditConfig             `mapstructure:"audit"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Server        ServerConfig            `mapstructure:"server"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// StorageConfig selects the store implementations.
// Backend covers the ledger and action stores (memory | postgres);
// CacheBackend covers the allow-list and rate-limit trackers (memory | redis).
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	CacheBackend string `mapstructure:"cache_backend"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// --- Domain Configuration ---

// EngineConfig drives admission and the action lifecycle.
type EngineConfig struct {
	CooldownMs     int              `mapstructure:"cooldown_ms"`
	ExpiryWindowMs int              `mapstructure:"expiry_window_ms"`
	AutoApprove    bool             `mapstructure:"auto_approve"`
	RequestSources []string         `mapstructure:"request_sources"`
	Operators      []string         `mapstructure:"operators"`
	DailyLimits    map[string]int64 `mapstructure:"daily_limits"`
	LockShards     int              `mapstructure:"lock_shards"`
	SeedPath       string           `mapstructure:"seed_path"`
}

// LedgerConfig holds subscription billing parameters. Rates are basis points.
type LedgerConfig struct {
	Treasury            string `mapstructure:"treasury"`
	CycleDays           int    `mapstructure:"cycle_days"`
	ReferralDiscountBps int64  `mapstructure:"referral_discount_bps"`
	ReferralRewardBps   int64  `mapstructure:"referral_reward_bps"`
	ProratedRefunds     bool   `mapstructure:"prorated_refunds"`
}

type DispatchConfig struct {
	TimeoutMs         int    `mapstructure:"timeout_ms"`
	DefaultGasLimit   uint64 `mapstructure:"default_gas_limit"`
	ExecutorURL       string `mapstructure:"executor_url"`
	ExecutorAPIKey    string `mapstructure:"executor_api_key"`
	ExecutorTimeoutMs int    `mapstructure:"executor_timeout_ms"`
}

// PaymentsConfig selects the FundsTransfer implementation (memory | http).
type PaymentsConfig struct {
	Backend         string           `mapstructure:"backend"`
	BaseURL         string           `mapstructure:"base_url"`
	APIKey          string           `mapstructure:"api_key"`
	TimeoutMs       int              `mapstructure:"timeout_ms"`
	InitialBalances map[string]int64 `mapstructure:"initial_balances"`
}

// NotificationConfig holds settings for settlement events and operator alerts.
type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	SES struct {
		Enabled        bool     `mapstructure:"enabled"`
		FromEmail      string   `mapstructure:"from_email"`
		OperatorEmails []string `mapstructure:"operator_emails"`
	} `mapstructure:"ses"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

type ObservabilityConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	MetricsEnabled bool    `mapstructure:"metrics_enabled"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
