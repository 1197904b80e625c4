package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. SECUREPATH_DATABASE_DSN.
const EnvPrefix = "SECUREPATH"

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Triage   TriageConfig   `mapstructure:"triage"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	Notion   NotionConfig   `mapstructure:"notion"`
	GeoIP    GeoIPConfig    `mapstructure:"geoip"`
	Plaid    PlaidConfig    `mapstructure:"plaid"`
	Model    ModelConfig    `mapstructure:"model"`

	Statements StatementsConfig `mapstructure:"statements"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	AlertTopic string   `mapstructure:"alert_topic"`
	MaxRetries int      `mapstructure:"max_retries"`
}

type AuthConfig struct {
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	Disabled  bool          `mapstructure:"disabled"`
}

type IngestConfig struct {
	MaxPayloadBytes int64 `mapstructure:"max_payload_bytes"`
	MaxRows         int   `mapstructure:"max_rows"`
	InsertBatchSize int   `mapstructure:"insert_batch_size"`
	// AsyncThresholdBytes routes uploads at or above this size to the background queue.
	AsyncThresholdBytes int64 `mapstructure:"async_threshold_bytes"`
}

type RulesConfig struct {
	HomeCountry          string  `mapstructure:"home_country"`
	HighAmount           float64 `mapstructure:"high_amount"`
	HighAmountWeight     float64 `mapstructure:"high_amount_weight"`
	ForeignCountryWeight float64 `mapstructure:"foreign_country_weight"`
	VelocityThreshold    int     `mapstructure:"velocity_threshold"`
	VelocityWeight       float64 `mapstructure:"velocity_weight"`
	NewDeviceMarker      string  `mapstructure:"new_device_marker"`
	NewDeviceWeight      float64 `mapstructure:"new_device_weight"`
	NewIPWeight          float64 `mapstructure:"new_ip_weight"`
}

type ScoringConfig struct {
	RuleWeight       float64 `mapstructure:"rule_weight"`
	ModelWeight      float64 `mapstructure:"model_weight"`
	FlagThreshold    float64 `mapstructure:"flag_threshold"`
	AnomalyThreshold float64 `mapstructure:"anomaly_threshold"`
	MaxBatch         int     `mapstructure:"max_batch"`
}

type TriageConfig struct {
	AmountThreshold float64 `mapstructure:"amount_threshold"`
	HighRiskScore   float64 `mapstructure:"high_risk_score"`
	HighFraudScore  float64 `mapstructure:"high_fraud_score"`
	LowRiskScore    float64 `mapstructure:"low_risk_score"`
}

type JobsConfig struct {
	Backend    string `mapstructure:"backend"` // memory or redis
	Workers    int    `mapstructure:"workers"`
	BufferSize int    `mapstructure:"buffer_size"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type BigQueryConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Dataset   string `mapstructure:"dataset"`
}

type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

type GeoIPConfig struct {
	DatabasePath string        `mapstructure:"database_path"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type PlaidConfig struct {
	ClientID string `mapstructure:"client_id"`
	Secret   string `mapstructure:"secret"`
	Env      string `mapstructure:"env"`
	BaseURL  string `mapstructure:"base_url"`
	Days     int    `mapstructure:"days"`
}

type ModelConfig struct {
	// Path points to a JSON linear model. Empty disables the local model.
	Path string `mapstructure:"path"`
	// Endpoint is a remote decision-function URL. Takes precedence over Path.
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StatementsConfig enables PDF statement extraction through Gemini. The
// client reads GOOGLE_API_KEY or the Vertex AI variables from the environment.
type StatementsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("database.dsn", "host=localhost user=securepath password=securepath dbname=securepath port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.alert_topic", "fraud.alerts")
	v.SetDefault("kafka.max_retries", 3)

	v.SetDefault("auth.issuer", "securepath")
	v.SetDefault("auth.access_ttl", 30*time.Minute)
	v.SetDefault("auth.disabled", false)

	v.SetDefault("ingest.max_payload_bytes", int64(50<<20))
	v.SetDefault("ingest.max_rows", 200000)
	v.SetDefault("ingest.insert_batch_size", 1000)
	v.SetDefault("ingest.async_threshold_bytes", int64(5<<20))

	v.SetDefault("rules.home_country", "US")
	v.SetDefault("rules.high_amount", 5000.0)
	v.SetDefault("rules.high_amount_weight", 30.0)
	v.SetDefault("rules.foreign_country_weight", 25.0)
	v.SetDefault("rules.velocity_threshold", 10)
	v.SetDefault("rules.velocity_weight", 20.0)
	v.SetDefault("rules.new_device_marker", "new")
	v.SetDefault("rules.new_device_weight", 15.0)
	v.SetDefault("rules.new_ip_weight", 10.0)

	v.SetDefault("scoring.rule_weight", 0.6)
	v.SetDefault("scoring.model_weight", 0.4)
	v.SetDefault("scoring.flag_threshold", 70.0)
	v.SetDefault("scoring.anomaly_threshold", 70.0)
	v.SetDefault("scoring.max_batch", 5000)

	v.SetDefault("triage.amount_threshold", 5000.0)
	v.SetDefault("triage.high_risk_score", 80.0)
	v.SetDefault("triage.high_fraud_score", 0.5)
	v.SetDefault("triage.low_risk_score", 10.0)

	v.SetDefault("jobs.backend", "memory")
	v.SetDefault("jobs.workers", 5)
	v.SetDefault("jobs.buffer_size", 100)
	v.SetDefault("jobs.max_retries", 3)

	v.SetDefault("gcs.prefix", "uploads")
	v.SetDefault("bigquery.dataset", "securepath")
	v.SetDefault("geoip.cache_ttl", 24*time.Hour)

	v.SetDefault("plaid.env", "sandbox")
	v.SetDefault("plaid.days", 30)

	v.SetDefault("model.timeout", 10*time.Second)

	v.SetDefault("statements.enabled", false)
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. An empty path falls back to
// $SECUREPATH_CONFIG; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config.Load: reading %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the core modules cannot run without.
func (c *Config) Validate() error {
	if c.Scoring.RuleWeight < 0 || c.Scoring.ModelWeight < 0 {
		return fmt.Errorf("config: scoring weights must be non-negative")
	}
	if c.Ingest.MaxRows <= 0 {
		return fmt.Errorf("config: ingest.max_rows must be positive")
	}
	if c.Ingest.MaxPayloadBytes <= 0 {
		return fmt.Errorf("config: ingest.max_payload_bytes must be positive")
	}
	if len(c.Rules.HomeCountry) != 2 {
		return fmt.Errorf("config: rules.home_country must be a 2-letter code, got %q", c.Rules.HomeCountry)
	}
	switch c.Jobs.Backend {
	case "memory":
	case "redis":
		// api and worker run as separate processes and share uploads only
		// through the bucket
		if c.GCS.Bucket == "" {
			return fmt.Errorf("config: jobs.backend redis requires gcs.bucket")
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: jobs.backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("config: unknown jobs.backend %q", c.Jobs.Backend)
	}
	return nil
}
