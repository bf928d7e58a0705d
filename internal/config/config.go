package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAITimeout time.Duration

	AmadeusAPIKey    string
	AmadeusAPISecret string
	AmadeusBaseURL   string

	GeocodingAPIURL string
	ForecastAPIURL  string
	ExchangeAPIURL  string
	GeoIPAPIURL     string
	UpstreamTimeout time.Duration

	RequestTimeout time.Duration

	RecursionLimit int
	MaxIterations  int

	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	CacheBackend  string // "in_memory", "memcached" or "redis"
	ForecastTTL   time.Duration
	ExchangeTTL   time.Duration
	GeoIPTTL      time.Duration
	StaleCacheTTL time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr string
	RedisDB   int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	WarmCache           bool
	WarmInterval        time.Duration
	PopularDestinations []string

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	OpenAI struct {
		URL     string `yaml:"url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"openai"`

	Amadeus struct {
		URL string `yaml:"url"`
	} `yaml:"amadeus"`

	Upstream struct {
		GeocodingURL string `yaml:"geocoding_url"`
		ForecastURL  string `yaml:"forecast_url"`
		ExchangeURL  string `yaml:"exchange_url"`
		GeoIPURL     string `yaml:"geoip_url"`
		Timeout      string `yaml:"timeout"`
	} `yaml:"upstream"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Graph struct {
		RecursionLimit int `yaml:"recursion_limit"`
		MaxIterations  int `yaml:"max_iterations"`
	} `yaml:"graph"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		AllowedMethods []string `yaml:"allowed_methods"`
		AllowedHeaders []string `yaml:"allowed_headers"`
	} `yaml:"cors"`

	Cache struct {
		Backend     string `yaml:"backend"`
		ForecastTTL string `yaml:"forecast_ttl"`
		ExchangeTTL string `yaml:"exchange_ttl"`
		GeoIPTTL    string `yaml:"geoip_ttl"`
		StaleTTL    string `yaml:"stale_ttl"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
		Warm struct {
			Enabled      bool     `yaml:"enabled"`
			Interval     string   `yaml:"interval"`
			Destinations []string `yaml:"destinations"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	AmadeusAPIKey    string `yaml:"amadeus_api_key"`
	AmadeusAPISecret string `yaml:"amadeus_api_secret"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// API keys come from OPENAI_API_KEY / AMADEUS_API_KEY / AMADEUS_API_SECRET env or the secrets
// file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8000"
	}
	var sec secretsFile
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	if secretsData, err := os.ReadFile(secretsPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = sec.OpenAIAPIKey
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY required (set env or config/secrets.yaml openai_api_key)")
	}
	cfg.OpenAIBaseURL = fc.OpenAI.URL
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	cfg.OpenAIModel = os.Getenv("OPENAI_MODEL")
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = fc.OpenAI.Model
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	cfg.OpenAITimeout = parseDuration(fc.OpenAI.Timeout, 30*time.Second)

	cfg.AmadeusAPIKey = os.Getenv("AMADEUS_API_KEY")
	if cfg.AmadeusAPIKey == "" {
		cfg.AmadeusAPIKey = sec.AmadeusAPIKey
	}
	cfg.AmadeusAPISecret = os.Getenv("AMADEUS_API_SECRET")
	if cfg.AmadeusAPISecret == "" {
		cfg.AmadeusAPISecret = sec.AmadeusAPISecret
	}
	cfg.AmadeusBaseURL = fc.Amadeus.URL
	if cfg.AmadeusBaseURL == "" {
		cfg.AmadeusBaseURL = "https://test.api.amadeus.com"
	}

	cfg.GeocodingAPIURL = fc.Upstream.GeocodingURL
	if cfg.GeocodingAPIURL == "" {
		cfg.GeocodingAPIURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	cfg.ForecastAPIURL = fc.Upstream.ForecastURL
	if cfg.ForecastAPIURL == "" {
		cfg.ForecastAPIURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.ExchangeAPIURL = fc.Upstream.ExchangeURL
	if cfg.ExchangeAPIURL == "" {
		cfg.ExchangeAPIURL = "https://api.exchangerate.host/convert"
	}
	cfg.GeoIPAPIURL = fc.Upstream.GeoIPURL
	if cfg.GeoIPAPIURL == "" {
		cfg.GeoIPAPIURL = "https://ipapi.co"
	}
	cfg.UpstreamTimeout = parseDuration(fc.Upstream.Timeout, 5*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 90*time.Second)

	cfg.RecursionLimit = intFromEnv("RECURSION_LIMIT")
	if cfg.RecursionLimit <= 0 {
		cfg.RecursionLimit = fc.Graph.RecursionLimit
	}
	if cfg.RecursionLimit <= 0 {
		cfg.RecursionLimit = 25
	}
	cfg.MaxIterations = fc.Graph.MaxIterations
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}

	cfg.AllowedOrigins = listFromEnv("ALLOWED_ORIGINS")
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = fc.CORS.AllowedOrigins
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	cfg.AllowedMethods = fc.CORS.AllowedMethods
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	cfg.AllowedHeaders = fc.CORS.AllowedHeaders
	if len(cfg.AllowedHeaders) == 0 {
		cfg.AllowedHeaders = []string{"*"}
	}

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.ForecastTTL = parseDuration(fc.Cache.ForecastTTL, 15*time.Minute)
	cfg.ExchangeTTL = parseDuration(fc.Cache.ExchangeTTL, time.Hour)
	cfg.GeoIPTTL = parseDuration(fc.Cache.GeoIPTTL, 24*time.Hour)
	cfg.StaleCacheTTL = parseDurationOrZero(fc.Cache.StaleTTL, 2*time.Hour)

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = strings.TrimSpace(fc.Cache.Redis.Addr)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisDB = fc.Cache.Redis.DB

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.Reliability.CircuitBreaker.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.CoalesceEnabled = true
	if fc.Reliability.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Reliability.Coalesce.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.Coalesce.Timeout, 10*time.Second)

	cfg.WarmCache = fc.Cache.Warm.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)
	cfg.PopularDestinations = fc.Cache.Warm.Destinations

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	if cfg.IdleThresholdReqPerMin <= 0 {
		cfg.IdleThresholdReqPerMin = 5
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FlightSearchEnabled reports whether Amadeus credentials are configured.
// The flight agent is registered only when true.
func (c *Config) FlightSearchEnabled() bool {
	return c.AmadeusAPIKey != "" && c.AmadeusAPISecret != ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse
// error. Returns zero or negative durations as-is (zero disables the feature for some fields).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func intFromEnv(name string) int {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func listFromEnv(name string) []string {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// validate performs post-load validation of configuration values.
// The ask timeout must leave room for at least one LLM round trip, and the
// cache backend must be one we can construct.
func validate(cfg *Config) error {
	if cfg.OpenAITimeout <= 0 {
		return fmt.Errorf("openai.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.OpenAITimeout {
		cfg.RequestTimeout = cfg.OpenAITimeout + 30*time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if (cfg.AmadeusAPIKey == "") != (cfg.AmadeusAPISecret == "") {
		return fmt.Errorf("AMADEUS_API_KEY and AMADEUS_API_SECRET must be set together")
	}
	return nil
}
