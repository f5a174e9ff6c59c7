// Package config loads and validates resolver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends for run reports.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Config captures all resolver configuration knobs loaded via Viper.
type Config struct {
	Data         DataConfig         `mapstructure:"data"`
	Resolver     ResolverConfig     `mapstructure:"resolver"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Fallback     FallbackConfig     `mapstructure:"fallback"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Reports      ReportsConfig      `mapstructure:"reports"`
	Server       ServerConfig       `mapstructure:"server"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// DataConfig locates the canonical collections.
type DataConfig struct {
	Listings string `mapstructure:"listings"`
	Licenses string `mapstructure:"licenses"`
}

// ResolverConfig governs one resolution pass.
type ResolverConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	UserAgent        string        `mapstructure:"user_agent"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	Limit            int           `mapstructure:"limit"`
	Write            bool          `mapstructure:"write"`
}

// HTTPConfig configures fetch timeouts, retries and optional per-host pacing.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryStatuses  []int         `mapstructure:"retry_statuses"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// FallbackConfig toggles the archive, alias and consensus fallbacks.
type FallbackConfig struct {
	Archive            bool    `mapstructure:"archive"`
	ArchiveEndpoint    string  `mapstructure:"archive_endpoint"`
	Alias              bool    `mapstructure:"alias"`
	SearchEndpoint     string  `mapstructure:"search_endpoint"`
	Consensus          bool    `mapstructure:"consensus"`
	ConsensusMinKnown  int     `mapstructure:"consensus_min_known"`
	ConsensusMinPurity float64 `mapstructure:"consensus_min_purity"`
}

// OrchestratorConfig bounds the multi-pass loop.
type OrchestratorConfig struct {
	MaxPasses      int           `mapstructure:"max_passes"`
	StallThreshold int           `mapstructure:"stall_threshold"`
	PassDelay      time.Duration `mapstructure:"pass_delay"`
}

// ReportsConfig selects where run reports are persisted.
type ReportsConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	IndexDSN  string `mapstructure:"index_dsn"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// PubSubConfig holds metadata for pass notifications. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls pass tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk and environment. Binders run before
// unmarshalling so callers can attach command-line flags.
func Load(path string, binders ...func(*viper.Viper) error) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	for _, bind := range binders {
		if err := bind(v); err != nil {
			return Config{}, fmt.Errorf("bind config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.listings", "data/listings.json")
	v.SetDefault("data.licenses", "data/licenses.json")
	v.SetDefault("resolver.concurrency", 4)
	v.SetDefault("resolver.user_agent", "license-resolver/0.1")
	v.SetDefault("resolver.progress_interval", 10*time.Second)
	v.SetDefault("resolver.limit", 0)
	v.SetDefault("resolver.write", false)
	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.retry_statuses", []int{429, 500, 502, 503, 504})
	v.SetDefault("http.backoff_base", time.Second)
	v.SetDefault("http.backoff_max", 15*time.Second)
	v.SetDefault("http.rate_limit_rps", 0.0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("fallback.archive", true)
	v.SetDefault("fallback.archive_endpoint", "https://archive.org/wayback/available")
	v.SetDefault("fallback.alias", true)
	v.SetDefault("fallback.search_endpoint", "https://bandcamp.com/search")
	v.SetDefault("fallback.consensus", true)
	v.SetDefault("fallback.consensus_min_known", 20)
	v.SetDefault("fallback.consensus_min_purity", 0.95)
	v.SetDefault("orchestrator.max_passes", 0)
	v.SetDefault("orchestrator.stall_threshold", 3)
	v.SetDefault("orchestrator.pass_delay", 5*time.Minute)
	v.SetDefault("reports.backend", BackendLocal)
	v.SetDefault("reports.dir", "reports")
	v.SetDefault("reports.prefix", "reports")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "license-resolver")
	v.SetDefault("telemetry.sample_ratio", 0.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Data.Listings == "" || c.Data.Licenses == "" {
		return fmt.Errorf("data.listings and data.licenses must be set")
	}
	if c.Resolver.Concurrency <= 0 {
		return fmt.Errorf("resolver.concurrency must be > 0, got %d", c.Resolver.Concurrency)
	}
	if c.Resolver.Limit < 0 {
		return fmt.Errorf("resolver.limit must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	for _, status := range c.HTTP.RetryStatuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("http.retry_statuses contains invalid status %d", status)
		}
	}
	if c.HTTP.BackoffBase < 0 || c.HTTP.BackoffMax < c.HTTP.BackoffBase {
		return fmt.Errorf("http.backoff_max must be >= http.backoff_base >= 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1], got %v", c.Telemetry.SampleRatio)
	}
	if c.Fallback.ConsensusMinKnown < 1 {
		return fmt.Errorf("fallback.consensus_min_known must be > 0")
	}
	if c.Fallback.ConsensusMinPurity < 0 || c.Fallback.ConsensusMinPurity > 1 {
		return fmt.Errorf("fallback.consensus_min_purity must be within [0,1], got %v", c.Fallback.ConsensusMinPurity)
	}
	if c.Orchestrator.MaxPasses < 0 {
		return fmt.Errorf("orchestrator.max_passes must be >= 0")
	}
	if c.Orchestrator.StallThreshold <= 0 {
		return fmt.Errorf("orchestrator.stall_threshold must be > 0")
	}
	if c.Orchestrator.PassDelay < 0 {
		return fmt.Errorf("orchestrator.pass_delay must be >= 0")
	}
	switch c.Reports.Backend {
	case BackendLocal:
		if c.Reports.Dir == "" {
			return fmt.Errorf("reports.dir must be set for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.Reports.GCSBucket == "" {
			return fmt.Errorf("reports.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("reports.backend %q is not one of local, memory, gcs", c.Reports.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RetryStatusSet converts the configured retryable statuses into a set.
func (c Config) RetryStatusSet() map[int]struct{} {
	out := make(map[int]struct{}, len(c.HTTP.RetryStatuses))
	for _, status := range c.HTTP.RetryStatuses {
		out[status] = struct{}{}
	}
	return out
}
