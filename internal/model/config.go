package model

import "time"

// Config is the complete factmark configuration
type Config struct {
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	Analysis     AnalysisConfig     `yaml:"analysis" mapstructure:"analysis"`
	Extract      ExtractConfig      `yaml:"extract" mapstructure:"extract"`
	Highlight    HighlightConfig    `yaml:"highlight" mapstructure:"highlight"`
	Relay        RelayConfig        `yaml:"relay" mapstructure:"relay"`
	Storage      StorageConfig      `yaml:"storage" mapstructure:"storage"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// HTTPConfig controls page fetching
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	InsecureTLS   bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// CacheConfig controls the analysis response cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// RateLimitingConfig controls per-host request pacing
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`

	Domains []DomainRate `yaml:"domains,omitempty" mapstructure:"domains"` // Per-host overrides
}

// DomainRate overrides the request rate for one host
type DomainRate struct {
	Host              string  `yaml:"host" mapstructure:"host"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size,omitempty" mapstructure:"burst_size"`
}

// ConcurrencyConfig controls batch parallelism
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// AnalysisConfig selects and configures the external analysis service
type AnalysisConfig struct {
	Provider  string        `yaml:"provider" mapstructure:"provider"` // http, openai
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	BaseURL   string        `yaml:"base_url,omitempty" mapstructure:"base_url"` // openai-compatible API root
	APIKey    string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Model     string        `yaml:"model,omitempty" mapstructure:"model"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens int           `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExtractConfig controls main-content selection
type ExtractConfig struct {
	Strategy  string   `yaml:"strategy" mapstructure:"strategy"` // selectors, readability
	Selectors []string `yaml:"selectors" mapstructure:"selectors"`
	MaxChars  int      `yaml:"max_chars" mapstructure:"max_chars"`
}

// HighlightConfig controls marker and notice rendering
type HighlightConfig struct {
	NoticeTTL   time.Duration `yaml:"notice_ttl" mapstructure:"notice_ttl"`
	ClassPrefix string        `yaml:"class_prefix" mapstructure:"class_prefix"`
}

// RelayConfig controls the auth relay bridge
type RelayConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	OriginMatch    string        `yaml:"origin_match" mapstructure:"origin_match"` // exact, contains
	CustomEvent    string        `yaml:"custom_event" mapstructure:"custom_event"`
	PairingParam   string        `yaml:"pairing_param" mapstructure:"pairing_param"`
	PairingValue   string        `yaml:"pairing_value" mapstructure:"pairing_value"`
	PollInterval   time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	PollCeiling    time.Duration `yaml:"poll_ceiling" mapstructure:"poll_ceiling"`
	CloseDelay     time.Duration `yaml:"close_delay" mapstructure:"close_delay"`
	AckTimeout     time.Duration `yaml:"ack_timeout" mapstructure:"ack_timeout"`
	TokenKey       string        `yaml:"token_key" mapstructure:"token_key"`
	UserKey        string        `yaml:"user_key" mapstructure:"user_key"`
	ObfuscationKey string        `yaml:"obfuscation_key" mapstructure:"obfuscation_key"`
}

// StorageConfig locates the storage tiers
type StorageConfig struct {
	LocalPath  string        `yaml:"local_path" mapstructure:"local_path"`
	SessionTTL time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
}

// ServerConfig controls the relay HTTP surface
type ServerConfig struct {
	Addr        string        `yaml:"addr" mapstructure:"addr"`
	PageURL     string        `yaml:"page_url" mapstructure:"page_url"` // URL of the page the bridge is attached to
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`

	AnalyzeRate  float64 `yaml:"analyze_rate" mapstructure:"analyze_rate"` // /analyze requests per second per client, 0 = unlimited
	AnalyzeBurst int     `yaml:"analyze_burst" mapstructure:"analyze_burst"`
}

// OutputConfig controls report output
type OutputConfig struct {
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
	JSONLog bool   `yaml:"json_log" mapstructure:"json_log"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// DefaultSelectors is the content-region priority list
var DefaultSelectors = []string{
	"article",
	"main",
	`[role="main"]`,
	".post-content",
	".article-content",
	".entry-content",
	".content",
	"#content",
}

// DefaultAllowedOrigins is the relay allow-list
var DefaultAllowedOrigins = []string{
	"localhost:5173",
	"localhost:3000",
	"factmark.app",
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "factmark/0.1 (+https://github.com/ppiankov/factmark)",
			MaxBodyBytes:  2_000_000,
			RespectRobots: true,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "",
			MemoryTTL: 30 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			BurstSize:         5,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		Analysis: AnalysisConfig{
			Provider:  "http",
			Endpoint:  "http://localhost:3000/api/analyze",
			Timeout:   60 * time.Second,
			MaxTokens: 2000,
		},
		Extract: ExtractConfig{
			Strategy:  "selectors",
			Selectors: append([]string(nil), DefaultSelectors...),
			MaxChars:  50_000,
		},
		Highlight: HighlightConfig{
			NoticeTTL:   5 * time.Second,
			ClassPrefix: "factmark",
		},
		Relay: RelayConfig{
			AllowedOrigins: append([]string(nil), DefaultAllowedOrigins...),
			OriginMatch:    "exact",
			CustomEvent:    "factmark:auth",
			PairingParam:   "source",
			PairingValue:   "extension",
			PollInterval:   2 * time.Second,
			PollCeiling:    5 * time.Minute,
			CloseDelay:     2 * time.Second,
			AckTimeout:     10 * time.Second,
			TokenKey:       "authToken",
			UserKey:        "userData",
			ObfuscationKey: "factmark-extension",
		},
		Storage: StorageConfig{
			LocalPath:  "",
			SessionTTL: 12 * time.Hour,
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8787",
			PageURL:      "http://localhost:5173/login?source=extension",
			ReadTimeout:  15 * time.Second,
			AnalyzeRate:  1,
			AnalyzeBurst: 5,
		},
		Output: OutputConfig{
			Dir: "./factmark-out",
		},
	}
}
