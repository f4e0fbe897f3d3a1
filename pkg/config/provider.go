package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // display.timezone must resolve on hosts without a zoneinfo database
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Upstream   UpstreamData   `json:"upstream"`
	Polling    PollingData    `json:"polling"`
	Thresholds ThresholdsData `json:"thresholds"`
	Filter     FilterData     `json:"filter"`
	Display    DisplayData    `json:"display"`
	Server     ServerData     `json:"server"`
	Cache      CacheData      `json:"cache"`
	Kafka      KafkaData      `json:"kafka"`
	Logging    LoggingData    `json:"logging"`
}

// UpstreamData locates the remote carbon telemetry API
type UpstreamData struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// PollingData controls the refresh loop
type PollingData struct {
	Interval time.Duration `json:"interval"`
	// Live starts the poller in the polling state instead of paused.
	Live bool `json:"live"`
}

// ThresholdsData configures the live warning and chart point colouring
type ThresholdsData struct {
	GasPPM          float64 `json:"gas_ppm"`
	CO2SpikePercent float64 `json:"co2_spike_percent"`
}

// FilterData holds filter defaults
type FilterData struct {
	DepartmentMatch string `json:"department_match"`
}

// DisplayData controls how timestamps are labelled
type DisplayData struct {
	Timezone             string `json:"timezone"`
	TimeFormat           string `json:"time_format"`
	DepartmentTimeFormat string `json:"department_time_format"`
}

// ServerData configures the dashboard HTTP API
type ServerData struct {
	ListenAddr     string   `json:"listen_addr"`
	Port           int      `json:"port"`
	Cert           string   `json:"cert,omitempty"`
	Key            string   `json:"key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// CacheData selects the response cache backend
type CacheData struct {
	Backend       string        `json:"backend"`
	TTL           time.Duration `json:"ttl"`
	RedisAddr     string        `json:"redis_addr,omitempty"`
	RedisPassword string        `json:"redis_password,omitempty"`
	RedisDB       int           `json:"redis_db,omitempty"`
	KeyPrefix     string        `json:"key_prefix,omitempty"`
}

// KafkaData enables publishing warning transitions. Empty brokers disable it.
type KafkaData struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
}

// Enabled reports whether a Kafka sink should be created.
func (k KafkaData) Enabled() bool {
	return len(k.Brokers) > 0
}

// LoggingData optionally adds a rotated log file
type LoggingData struct {
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// Defaults used by ApplyDefaults.
const (
	DefaultBaseURL         = "http://localhost:4000/api"
	DefaultUpstreamTimeout = 10 * time.Second
	DefaultPollInterval    = 5 * time.Second
	DefaultGasPPM          = 1000.0
	DefaultCO2SpikePercent = 20.0
	DefaultDepartmentMatch = "exact"
	DefaultTimeFormat      = "15:04:05"
	DefaultDeptTimeFormat  = "2006-01-02 15:04:05"
	DefaultListenAddr      = "0.0.0.0"
	DefaultPort            = 8080
	DefaultCacheBackend    = "memory"
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheKeyPrefix  = "carbonwatch:"
	DefaultKafkaTopic      = "carbonwatch.warnings"
)

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig() *ConfigData {
	c := &ConfigData{Polling: PollingData{Live: true}, Thresholds: DefaultThresholds()}
	c.ApplyDefaults()
	return c
}

// DefaultThresholds returns the stock warning thresholds. Zero is a valid
// threshold, so providers seed these before reading the source instead of
// leaving them to ApplyDefaults.
func DefaultThresholds() ThresholdsData {
	return ThresholdsData{GasPPM: DefaultGasPPM, CO2SpikePercent: DefaultCO2SpikePercent}
}

// ApplyDefaults fills every unset field except the thresholds.
func (c *ConfigData) ApplyDefaults() {
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if c.Polling.Interval == 0 {
		c.Polling.Interval = DefaultPollInterval
	}
	if c.Filter.DepartmentMatch == "" {
		c.Filter.DepartmentMatch = DefaultDepartmentMatch
	}
	if c.Display.TimeFormat == "" {
		c.Display.TimeFormat = DefaultTimeFormat
	}
	if c.Display.DepartmentTimeFormat == "" {
		c.Display.DepartmentTimeFormat = DefaultDeptTimeFormat
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
}

// Validate reports every configuration problem at once.
func (c *ConfigData) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url %q must be an absolute http(s) URL", c.Upstream.BaseURL))
	}
	if c.Upstream.Timeout < 0 {
		errs = append(errs, errors.New("upstream.timeout must not be negative"))
	}
	if c.Polling.Interval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("polling.interval %v is too short", c.Polling.Interval))
	}
	if c.Thresholds.GasPPM < 0 || c.Thresholds.CO2SpikePercent < 0 {
		errs = append(errs, errors.New("thresholds must not be negative"))
	}
	switch c.Filter.DepartmentMatch {
	case "exact", "substring":
	default:
		errs = append(errs, fmt.Errorf("filter.department_match %q must be exact or substring", c.Filter.DepartmentMatch))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if (c.Server.Cert == "") != (c.Server.Key == "") {
		errs = append(errs, errors.New("server.cert and server.key must be set together"))
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.RedisAddr) == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be memory or redis", c.Cache.Backend))
	}

	return errors.Join(errs...)
}

// Location resolves display.timezone. An empty name is the server's zone.
func (c *ConfigData) Location() (*time.Location, error) {
	if c.Display.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return nil, fmt.Errorf("display.timezone: %w", err)
	}
	return loc, nil
}

// Load reads, defaults and validates a configuration from provider.
func Load(provider ConfigProvider) (*ConfigData, error) {
	cfg, err := provider.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
