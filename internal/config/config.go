package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither environment nor file overrides a knob.
const (
	DefaultHTTPAddr        = ":8080"
	DefaultDataDir         = "var/data"
	DefaultLogMaxLines     = 500
	DefaultRefreshInterval = 60 * time.Second
	DefaultFetchCount      = 100
	DefaultReadLimit       = 100

	logFileName   = "netconf_notifications.log"
	cacheFileName = "telemetry_cache.json"
)

// Config holds every runtime knob of the monitor process.
type Config struct {
	HTTPAddr string
	DataDir  string

	LogPath     string
	LogMaxLines int
	CachePath   string

	RefreshInterval time.Duration
	FetchCount      int

	JWTSecret string

	NotifyWebhookURL   string
	NotifyTemplate     string
	NotifyCooldown     time.Duration
	NotifyDedupeWindow time.Duration
	NotifyMinSeverity  string
	NotifyTimeout      time.Duration

	ArchiveDatabaseURL string

	Simulator SimulatorConfig
}

// SimulatorConfig controls the built-in telemetry generator.
type SimulatorConfig struct {
	Enabled  bool
	OLTID    string
	ONUCount int
	Interval time.Duration
	Seed     int64
}

// fileConfig is the YAML overlay shape. Durations are written as strings
// in time.ParseDuration syntax ("30s", "2m").
type fileConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	DataDir            string `yaml:"data_dir"`
	LogPath            string `yaml:"log_path"`
	LogMaxLines        int    `yaml:"log_max_lines"`
	CachePath          string `yaml:"cache_path"`
	RefreshInterval    string `yaml:"refresh_interval"`
	FetchCount         int    `yaml:"fetch_count"`
	JWTSecret          string `yaml:"jwt_secret"`
	NotifyWebhookURL   string `yaml:"notify_webhook_url"`
	NotifyTemplate     string `yaml:"notify_template"`
	NotifyCooldown     string `yaml:"notify_cooldown"`
	NotifyDedupeWindow string `yaml:"notify_dedupe_window"`
	NotifyMinSeverity  string `yaml:"notify_min_severity"`
	NotifyTimeout      string `yaml:"notify_timeout"`
	ArchiveDatabaseURL string `yaml:"archive_database_url"`
	Simulator          struct {
		Enabled  *bool  `yaml:"enabled"`
		OLTID    string `yaml:"olt_id"`
		ONUCount int    `yaml:"onu_count"`
		Interval string `yaml:"interval"`
		Seed     int64  `yaml:"seed"`
	} `yaml:"simulator"`
}

// Load builds the configuration from environment variables, then applies
// the YAML overlay named by EPON_MONITOR_CONFIG when present.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:           getenvDefault("HTTP_ADDR", DefaultHTTPAddr),
		DataDir:            getenvDefault("EPON_DATA_DIR", DefaultDataDir),
		LogPath:            os.Getenv("NETCONF_LOG_PATH"),
		LogMaxLines:        getenvIntDefault("NETCONF_LOG_MAX_LINES", DefaultLogMaxLines),
		CachePath:          os.Getenv("TELEMETRY_CACHE_PATH"),
		RefreshInterval:    getenvDuration("CACHE_REFRESH_INTERVAL", DefaultRefreshInterval),
		FetchCount:         getenvIntDefault("CACHE_FETCH_COUNT", DefaultFetchCount),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", os.Getenv("JWT_SECRET")),
		NotifyWebhookURL:   os.Getenv("HEALTH_WEBHOOK_URL"),
		NotifyTemplate:     os.Getenv("HEALTH_NOTIFY_TEMPLATE"),
		NotifyCooldown:     getenvDuration("HEALTH_NOTIFY_COOLDOWN", 0),
		NotifyDedupeWindow: getenvDuration("HEALTH_NOTIFY_DEDUP_WINDOW", 0),
		NotifyMinSeverity:  os.Getenv("HEALTH_NOTIFY_MIN_SEVERITY"),
		NotifyTimeout:      getenvDuration("HEALTH_NOTIFY_TIMEOUT", 10*time.Second),
		ArchiveDatabaseURL: os.Getenv("ARCHIVE_DATABASE_URL"),
		Simulator: SimulatorConfig{
			Enabled:  getenvBoolDefault("SIMULATOR_ENABLED", false),
			OLTID:    getenvDefault("SIMULATOR_OLT_ID", "OLT-01"),
			ONUCount: getenvIntDefault("SIMULATOR_ONU_COUNT", 8),
			Interval: getenvDuration("SIMULATOR_INTERVAL", 15*time.Second),
			Seed:     int64(getenvIntDefault("SIMULATOR_SEED", 0)),
		},
	}

	if path := os.Getenv("EPON_MONITOR_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(cfg.DataDir, logFileName)
	}
	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(cfg.DataDir, cacheFileName)
	}

	if cfg.JWTSecret == "" {
		return cfg, errors.New("config: auth jwt secret required")
	}
	if cfg.RefreshInterval <= 0 {
		return cfg, errors.New("config: refresh interval must be positive")
	}
	if cfg.FetchCount <= 0 {
		return cfg, errors.New("config: fetch count must be positive")
	}
	if cfg.LogMaxLines <= 0 {
		return cfg, errors.New("config: log max lines must be positive")
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	setString(&cfg.HTTPAddr, file.HTTPAddr)
	setString(&cfg.DataDir, file.DataDir)
	setString(&cfg.LogPath, file.LogPath)
	setInt(&cfg.LogMaxLines, file.LogMaxLines)
	setString(&cfg.CachePath, file.CachePath)
	setInt(&cfg.FetchCount, file.FetchCount)
	setString(&cfg.JWTSecret, file.JWTSecret)
	setString(&cfg.NotifyWebhookURL, file.NotifyWebhookURL)
	setString(&cfg.NotifyTemplate, file.NotifyTemplate)
	setString(&cfg.NotifyMinSeverity, file.NotifyMinSeverity)
	setString(&cfg.ArchiveDatabaseURL, file.ArchiveDatabaseURL)

	if err := setDuration(&cfg.RefreshInterval, file.RefreshInterval); err != nil {
		return fmt.Errorf("config: refresh_interval: %w", err)
	}
	if err := setDuration(&cfg.NotifyCooldown, file.NotifyCooldown); err != nil {
		return fmt.Errorf("config: notify_cooldown: %w", err)
	}
	if err := setDuration(&cfg.NotifyDedupeWindow, file.NotifyDedupeWindow); err != nil {
		return fmt.Errorf("config: notify_dedupe_window: %w", err)
	}
	if err := setDuration(&cfg.NotifyTimeout, file.NotifyTimeout); err != nil {
		return fmt.Errorf("config: notify_timeout: %w", err)
	}

	if file.Simulator.Enabled != nil {
		cfg.Simulator.Enabled = *file.Simulator.Enabled
	}
	setString(&cfg.Simulator.OLTID, file.Simulator.OLTID)
	setInt(&cfg.Simulator.ONUCount, file.Simulator.ONUCount)
	if err := setDuration(&cfg.Simulator.Interval, file.Simulator.Interval); err != nil {
		return fmt.Errorf("config: simulator.interval: %w", err)
	}
	if file.Simulator.Seed != 0 {
		cfg.Simulator.Seed = file.Simulator.Seed
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value != 0 {
		*dst = value
	}
}

func setDuration(dst *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = parsed
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
