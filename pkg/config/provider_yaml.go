package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}
	return ParseYAML(cfgFile)
}

// ParseYAML converts a YAML document into ConfigData. Defaults are not applied.
func ParseYAML(data []byte) (*ConfigData, error) {
	var yamlConfig ConfigYAML
	if err := yaml.UnmarshalStrict(data, &yamlConfig); err != nil {
		return nil, err
	}

	config := &ConfigData{
		Upstream: UpstreamData{BaseURL: yamlConfig.Upstream.BaseURL},
		Polling:    PollingData{Live: true},
		Thresholds: DefaultThresholds(),
		Filter: FilterData{DepartmentMatch: yamlConfig.Filter.DepartmentMatch},
		Display: DisplayData{
			Timezone:             yamlConfig.Display.Timezone,
			TimeFormat:           yamlConfig.Display.TimeFormat,
			DepartmentTimeFormat: yamlConfig.Display.DepartmentTimeFormat,
		},
		Server: ServerData{
			ListenAddr:     yamlConfig.Server.ListenAddr,
			Port:           yamlConfig.Server.Port,
			Cert:           yamlConfig.Server.Cert,
			Key:            yamlConfig.Server.Key,
			AllowedOrigins: yamlConfig.Server.AllowedOrigins,
		},
		Cache: CacheData{
			Backend:       yamlConfig.Cache.Backend,
			RedisAddr:     yamlConfig.Cache.RedisAddr,
			RedisPassword: yamlConfig.Cache.RedisPassword,
			RedisDB:       yamlConfig.Cache.RedisDB,
			KeyPrefix:     yamlConfig.Cache.KeyPrefix,
		},
		Kafka: KafkaData{
			Brokers: yamlConfig.Kafka.Brokers,
			Topic:   yamlConfig.Kafka.Topic,
		},
		Logging: LoggingData{
			File:       yamlConfig.Logging.File,
			MaxSizeMB:  yamlConfig.Logging.MaxSizeMB,
			MaxBackups: yamlConfig.Logging.MaxBackups,
			MaxAgeDays: yamlConfig.Logging.MaxAgeDays,
		},
	}

	if yamlConfig.Polling.Live != nil {
		config.Polling.Live = *yamlConfig.Polling.Live
	}
	if yamlConfig.Thresholds.GasPPM != nil {
		config.Thresholds.GasPPM = *yamlConfig.Thresholds.GasPPM
	}
	if yamlConfig.Thresholds.CO2SpikePercent != nil {
		config.Thresholds.CO2SpikePercent = *yamlConfig.Thresholds.CO2SpikePercent
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"upstream.timeout", yamlConfig.Upstream.Timeout, &config.Upstream.Timeout},
		{"polling.interval", yamlConfig.Polling.Interval, &config.Polling.Interval},
		{"cache.ttl", yamlConfig.Cache.TTL, &config.Cache.TTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	return config, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with proper YAML tags for parsing the file format
type ConfigYAML struct {
	Upstream   UpstreamYAML   `yaml:"upstream,omitempty"`
	Polling    PollingYAML    `yaml:"polling,omitempty"`
	Thresholds ThresholdsYAML `yaml:"thresholds,omitempty"`
	Filter     FilterYAML     `yaml:"filter,omitempty"`
	Display    DisplayYAML    `yaml:"display,omitempty"`
	Server     ServerYAML     `yaml:"server,omitempty"`
	Cache      CacheYAML      `yaml:"cache,omitempty"`
	Kafka      KafkaYAML      `yaml:"kafka,omitempty"`
	Logging    LoggingYAML    `yaml:"logging,omitempty"`
}

type UpstreamYAML struct {
	BaseURL string `yaml:"base-url,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

type PollingYAML struct {
	Interval string `yaml:"interval,omitempty"`
	Live     *bool  `yaml:"live,omitempty"`
}

type ThresholdsYAML struct {
	GasPPM          *float64 `yaml:"gas-ppm,omitempty"`
	CO2SpikePercent *float64 `yaml:"co2-spike-percent,omitempty"`
}

type FilterYAML struct {
	DepartmentMatch string `yaml:"department-match,omitempty"`
}

type DisplayYAML struct {
	Timezone             string `yaml:"timezone,omitempty"`
	TimeFormat           string `yaml:"time-format,omitempty"`
	DepartmentTimeFormat string `yaml:"department-time-format,omitempty"`
}

type ServerYAML struct {
	ListenAddr     string   `yaml:"listen-addr,omitempty"`
	Port           int      `yaml:"port,omitempty"`
	Cert           string   `yaml:"cert,omitempty"`
	Key            string   `yaml:"key,omitempty"`
	AllowedOrigins []string `yaml:"allowed-origins,omitempty"`
}

type CacheYAML struct {
	Backend       string `yaml:"backend,omitempty"`
	TTL           string `yaml:"ttl,omitempty"`
	RedisAddr     string `yaml:"redis-addr,omitempty"`
	RedisPassword string `yaml:"redis-password,omitempty"`
	RedisDB       int    `yaml:"redis-db,omitempty"`
	KeyPrefix     string `yaml:"key-prefix,omitempty"`
}

type KafkaYAML struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

type LoggingYAML struct {
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max-size-mb,omitempty"`
	MaxBackups int    `yaml:"max-backups,omitempty"`
	MaxAgeDays int    `yaml:"max-age-days,omitempty"`
}
