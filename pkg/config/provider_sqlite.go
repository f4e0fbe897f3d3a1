package config

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const settingsSchema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
)`

// SQLiteProvider implements ConfigProvider for SQLite database configuration.
// Settings are stored as dotted key/value pairs, e.g. "polling.interval".
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider creates a new SQLite configuration provider
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if _, err := db.Exec(settingsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	settings, err := s.GetSettings()
	if err != nil {
		return nil, err
	}
	return fromSettings(settings)
}

// GetSettings returns every stored key/value pair
func (s *SQLiteProvider) GetSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// SetSetting stores a single value
func (s *SQLiteProvider) SetSetting(key, value string) error {
	if _, ok := settingKeys[key]; !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`, key, value)
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}

// IsReadOnly returns false since SQLite configuration can be modified
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveConfig replaces the stored configuration with configData
func (s *SQLiteProvider) SaveConfig(configData *ConfigData) error {
	// Start transaction
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM settings`); err != nil {
		return fmt.Errorf("failed to clear existing settings: %w", err)
	}

	for key, value := range toSettings(configData) {
		if _, err := tx.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to insert setting %s: %w", key, err)
		}
	}

	// Commit transaction
	return tx.Commit()
}

type settingKind int

const (
	kindString settingKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
	kindList
)

// settingKeys lists every key the settings table understands.
var settingKeys = map[string]settingKind{
	"upstream.base_url":              kindString,
	"upstream.timeout":               kindDuration,
	"polling.interval":               kindDuration,
	"polling.live":                   kindBool,
	"thresholds.gas_ppm":             kindFloat,
	"thresholds.co2_spike_percent":   kindFloat,
	"filter.department_match":        kindString,
	"display.timezone":               kindString,
	"display.time_format":            kindString,
	"display.department_time_format": kindString,
	"server.listen_addr":             kindString,
	"server.port":                    kindInt,
	"server.cert":                    kindString,
	"server.key":                     kindString,
	"server.allowed_origins":         kindList,
	"cache.backend":                  kindString,
	"cache.ttl":                      kindDuration,
	"cache.redis_addr":               kindString,
	"cache.redis_password":           kindString,
	"cache.redis_db":                 kindInt,
	"cache.key_prefix":               kindString,
	"kafka.brokers":                  kindList,
	"kafka.topic":                    kindString,
	"logging.file":                   kindString,
	"logging.max_size_mb":            kindInt,
	"logging.max_backups":            kindInt,
	"logging.max_age_days":           kindInt,
}

type settingTargets struct {
	strings   map[string]*string
	ints      map[string]*int
	floats    map[string]*float64
	bools     map[string]*bool
	durations map[string]*time.Duration
	lists     map[string]*[]string
}

func targets(c *ConfigData) settingTargets {
	return settingTargets{
		strings: map[string]*string{
			"upstream.base_url":              &c.Upstream.BaseURL,
			"filter.department_match":        &c.Filter.DepartmentMatch,
			"display.timezone":               &c.Display.Timezone,
			"display.time_format":            &c.Display.TimeFormat,
			"display.department_time_format": &c.Display.DepartmentTimeFormat,
			"server.listen_addr":             &c.Server.ListenAddr,
			"server.cert":                    &c.Server.Cert,
			"server.key":                     &c.Server.Key,
			"cache.backend":                  &c.Cache.Backend,
			"cache.redis_addr":               &c.Cache.RedisAddr,
			"cache.redis_password":           &c.Cache.RedisPassword,
			"cache.key_prefix":               &c.Cache.KeyPrefix,
			"kafka.topic":                    &c.Kafka.Topic,
			"logging.file":                   &c.Logging.File,
		},
		ints: map[string]*int{
			"server.port":          &c.Server.Port,
			"cache.redis_db":       &c.Cache.RedisDB,
			"logging.max_size_mb":  &c.Logging.MaxSizeMB,
			"logging.max_backups":  &c.Logging.MaxBackups,
			"logging.max_age_days": &c.Logging.MaxAgeDays,
		},
		floats: map[string]*float64{
			"thresholds.gas_ppm":           &c.Thresholds.GasPPM,
			"thresholds.co2_spike_percent": &c.Thresholds.CO2SpikePercent,
		},
		bools: map[string]*bool{
			"polling.live": &c.Polling.Live,
		},
		durations: map[string]*time.Duration{
			"upstream.timeout": &c.Upstream.Timeout,
			"polling.interval": &c.Polling.Interval,
			"cache.ttl":        &c.Cache.TTL,
		},
		lists: map[string]*[]string{
			"server.allowed_origins": &c.Server.AllowedOrigins,
			"kafka.brokers":          &c.Kafka.Brokers,
		},
	}
}

func fromSettings(settings map[string]string) (*ConfigData, error) {
	c := &ConfigData{Polling: PollingData{Live: true}, Thresholds: DefaultThresholds()}
	t := targets(c)

	for key, raw := range settings {
		kind, ok := settingKeys[key]
		if !ok {
			return nil, fmt.Errorf("unknown setting %q", key)
		}
		var err error
		switch kind {
		case kindString:
			*t.strings[key] = raw
		case kindInt:
			*t.ints[key], err = strconv.Atoi(raw)
		case kindFloat:
			*t.floats[key], err = strconv.ParseFloat(raw, 64)
		case kindBool:
			*t.bools[key], err = strconv.ParseBool(raw)
		case kindDuration:
			*t.durations[key], err = time.ParseDuration(raw)
		case kindList:
			*t.lists[key] = splitList(raw)
		}
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", key, err)
		}
	}
	return c, nil
}

func toSettings(c *ConfigData) map[string]string {
	out := make(map[string]string)
	t := targets(c)

	for k, v := range t.strings {
		if *v != "" {
			out[k] = *v
		}
	}
	for k, v := range t.ints {
		if *v != 0 {
			out[k] = strconv.Itoa(*v)
		}
	}
	// thresholds are kept even at zero
	for k, v := range t.floats {
		out[k] = strconv.FormatFloat(*v, 'f', -1, 64)
	}
	for k, v := range t.bools {
		out[k] = strconv.FormatBool(*v)
	}
	for k, v := range t.durations {
		if *v != 0 {
			out[k] = v.String()
		}
	}
	for k, v := range t.lists {
		if len(*v) > 0 {
			out[k] = strings.Join(*v, ",")
		}
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
