package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/spikebot/pkg/kvstore"
)

// Duration accepts "90s"/"3m" strings or a bare number of seconds in both YAML and JSON.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(v), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	v, err := parseDuration(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// SymbolConfig is one instrument. Class may be upward_spike, downward_spike,
// none, or empty to infer it from the code.
type SymbolConfig struct {
	Code  string `yaml:"code" json:"code"`
	Name  string `yaml:"name" json:"name"`
	Class string `yaml:"class" json:"class"`
}

type DerivConfig struct {
	Endpoint       string   `yaml:"endpoint" json:"endpoint"`
	AppID          string   `yaml:"app_id" json:"app_id"`
	APIToken       string   `yaml:"api_token" json:"api_token"`
	ProxyURL       string   `yaml:"proxy_url" json:"proxy_url"`
	ReconnectDelay Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	PingInterval   Duration `yaml:"ping_interval" json:"ping_interval"`
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`
}

type DetectorConfig struct {
	SpikeThreshold        float64  `yaml:"spike_threshold" json:"spike_threshold"`
	AccelerationThreshold float64  `yaml:"acceleration_threshold" json:"acceleration_threshold"`
	MomentumWindow        int      `yaml:"momentum_window" json:"momentum_window"`
	PredictionEnabled     bool     `yaml:"prediction_enabled" json:"prediction_enabled"`
	EarlyWarningCooldown  Duration `yaml:"early_warning_cooldown" json:"early_warning_cooldown"`
	TradeSignalCooldown   Duration `yaml:"trade_signal_cooldown" json:"trade_signal_cooldown"`
	StopDistance          float64  `yaml:"stop_distance" json:"stop_distance"`
	TargetDistance        float64  `yaml:"target_distance" json:"target_distance"`
	BufferSize            int      `yaml:"buffer_size" json:"buffer_size"`
}

type LifecycleConfig struct {
	ObservationWindow Duration `yaml:"observation_window" json:"observation_window"`
	Timezone          string   `yaml:"timezone" json:"timezone"`
}

type TradingConfig struct {
	AutoTrade              bool     `yaml:"auto_trade" json:"auto_trade"`
	Stake                  string   `yaml:"stake" json:"stake"`
	Currency               string   `yaml:"currency" json:"currency"`
	Duration               Duration `yaml:"duration" json:"duration"`
	MaxConsecutiveFailures int64    `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	DailyLossLimit         string   `yaml:"daily_loss_limit" json:"daily_loss_limit"` // 0 disables
}

type TelegramConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Token   string   `yaml:"token" json:"token"`
	ChatIDs []string `yaml:"chat_ids" json:"chat_ids"`
	BaseURL string   `yaml:"base_url" json:"base_url"`
}

type NATSConfig struct {
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver" json:"driver"`
	Path          string `yaml:"path" json:"path"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix"`
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	ByDay      bool   `yaml:"by_day" json:"by_day"`
	JSON       bool   `yaml:"json" json:"json"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Config is the whole bot configuration. It is read once at startup.
type Config struct {
	Symbols        []SymbolConfig  `yaml:"symbols" json:"symbols"`
	Deriv          DerivConfig     `yaml:"deriv" json:"deriv"`
	Detector       DetectorConfig  `yaml:"detector" json:"detector"`
	Lifecycle      LifecycleConfig `yaml:"lifecycle" json:"lifecycle"`
	Trading        TradingConfig   `yaml:"trading" json:"trading"`
	Telegram       TelegramConfig  `yaml:"telegram" json:"telegram"`
	NATS           NATSConfig      `yaml:"nats" json:"nats"`
	Store          StoreConfig     `yaml:"store" json:"store"`
	Log            LogConfig       `yaml:"log" json:"log"`
	MonitorOnStart bool            `yaml:"monitor_on_start" json:"monitor_on_start"`
	MetricsListen  string          `yaml:"metrics_listen" json:"metrics_listen"`
	APIListen      string          `yaml:"api_listen" json:"api_listen"`
	APIToken       string          `yaml:"api_token" json:"api_token"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Symbols: []SymbolConfig{
			{Code: "BOOM1000", Name: "Boom 1000", Class: "upward_spike"},
			{Code: "BOOM500", Name: "Boom 500", Class: "upward_spike"},
			{Code: "CRASH1000", Name: "Crash 1000", Class: "downward_spike"},
			{Code: "CRASH500", Name: "Crash 500", Class: "downward_spike"},
			{Code: "OTC_NDX", Name: "US Tech 100", Class: "none"},
		},
		Deriv: DerivConfig{
			Endpoint:       "wss://ws.binaryws.com/websockets/v3",
			AppID:          "1089",
			ReconnectDelay: Duration(5 * time.Second),
			PingInterval:   Duration(30 * time.Second),
			RequestTimeout: Duration(15 * time.Second),
		},
		Detector: DetectorConfig{
			SpikeThreshold:        1.0,
			AccelerationThreshold: 0.3,
			MomentumWindow:        5,
			PredictionEnabled:     true,
			EarlyWarningCooldown:  Duration(60 * time.Second),
			TradeSignalCooldown:   Duration(180 * time.Second),
			StopDistance:          15,
			TargetDistance:        30,
			BufferSize:            100,
		},
		Lifecycle: LifecycleConfig{
			ObservationWindow: Duration(180 * time.Second),
			Timezone:          "UTC",
		},
		Trading: TradingConfig{
			Stake:                  "0.35",
			Currency:               "USD",
			Duration:               Duration(180 * time.Second),
			MaxConsecutiveFailures: 3,
			DailyLossLimit:         "0",
		},
		NATS:  NATSConfig{SubjectPrefix: "spikebot.events"},
		Store: StoreConfig{Driver: "badger", Path: "data/spikebot", RedisPrefix: "spikebot:"},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/spikebot.log",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
		MonitorOnStart: true,
		MetricsListen:  "127.0.0.1:9090",
		APIListen:      "127.0.0.1:8080",
	}
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the config from defaults, then the optional file, then the
// environment, and validates the result.
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// A symbols list in the file replaces the defaults wholesale.
	defaults := cfg.Symbols
	cfg.Symbols = nil
	defer func() {
		if cfg.Symbols == nil {
			cfg.Symbols = defaults
		}
	}()
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s (use .yaml, .yml or .json)", ext)
	}
	return nil
}

// applyEnv lets secrets and operator toggles come from the environment.
func (c *Config) applyEnv() error {
	setString(&c.Deriv.AppID, "DERIV_APP_ID")
	setString(&c.Deriv.APIToken, "DERIV_API_TOKEN")
	setString(&c.Deriv.Endpoint, "DERIV_ENDPOINT")
	setString(&c.Deriv.ProxyURL, "DERIV_PROXY_URL")

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
		c.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_IDS"); v != "" {
		c.Telegram.ChatIDs = splitList(v)
	}

	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.Path, "STORE_PATH")
	setString(&c.Store.RedisAddr, "REDIS_ADDR")
	setString(&c.Store.RedisPassword, "REDIS_PASSWORD")
	setString(&c.Store.EncryptionKey, "STORE_ENCRYPTION_KEY")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.File, "LOG_FILE")
	setString(&c.MetricsListen, "METRICS_LISTEN")
	setString(&c.APIListen, "API_LISTEN")
	setString(&c.APIToken, "API_TOKEN")
	setString(&c.Trading.Stake, "STAKE_AMOUNT")
	setString(&c.Trading.DailyLossLimit, "DAILY_LOSS_LIMIT")

	if err := setBool(&c.Trading.AutoTrade, "AUTO_TRADE"); err != nil {
		return err
	}
	if v := os.Getenv("SPIKE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SPIKE_THRESHOLD: %w", err)
		}
		c.Detector.SpikeThreshold = f
	}
	if v := os.Getenv("DURATION_SECONDS"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("DURATION_SECONDS: %w", err)
		}
		c.Trading.Duration = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var knownDrivers = map[string]bool{"badger": true, "sqlite": true, "redis": true, "json": true, "memory": true}

var knownClasses = map[string]bool{"": true, "upward_spike": true, "downward_spike": true, "none": true}

// Validate rejects configurations the bot cannot run with.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if strings.TrimSpace(s.Code) == "" {
			return fmt.Errorf("symbol code must not be empty")
		}
		if seen[s.Code] {
			return fmt.Errorf("duplicate symbol %s", s.Code)
		}
		seen[s.Code] = true
		if !knownClasses[strings.ToLower(s.Class)] {
			return fmt.Errorf("symbol %s: unknown class %q", s.Code, s.Class)
		}
	}

	d := c.Detector
	if d.SpikeThreshold <= 0 || d.AccelerationThreshold <= 0 {
		return fmt.Errorf("spike_threshold and acceleration_threshold must be > 0")
	}
	if d.MomentumWindow < 3 {
		return fmt.Errorf("momentum_window must be >= 3, got %d", d.MomentumWindow)
	}
	if d.EarlyWarningCooldown < 0 || d.TradeSignalCooldown < 0 {
		return fmt.Errorf("cooldowns must not be negative")
	}
	if d.StopDistance <= 0 || d.TargetDistance <= 0 {
		return fmt.Errorf("stop_distance and target_distance must be > 0")
	}
	if d.BufferSize < d.MomentumWindow {
		return fmt.Errorf("buffer_size %d is smaller than momentum_window %d", d.BufferSize, d.MomentumWindow)
	}

	if c.Lifecycle.ObservationWindow <= 0 {
		return fmt.Errorf("observation_window must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Deriv.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be > 0")
	}

	stake, err := c.StakeAmount()
	if err != nil {
		return err
	}
	if !stake.IsPositive() {
		return fmt.Errorf("stake must be > 0")
	}
	loss, err := c.DailyLossLimit()
	if err != nil {
		return err
	}
	if loss.IsNegative() {
		return fmt.Errorf("daily_loss_limit must not be negative")
	}
	if c.Trading.Duration <= 0 {
		return fmt.Errorf("trading duration must be > 0")
	}
	if c.Trading.AutoTrade && c.Deriv.APIToken == "" {
		return fmt.Errorf("auto_trade requires DERIV_API_TOKEN")
	}

	if c.Telegram.Enabled && (c.Telegram.Token == "" || len(c.Telegram.ChatIDs) == 0) {
		return fmt.Errorf("telegram is enabled but token or chat_ids are missing")
	}
	if !knownDrivers[strings.ToLower(c.Store.Driver)] {
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if strings.EqualFold(c.Store.Driver, "redis") && c.Store.RedisAddr == "" {
		return fmt.Errorf("store driver redis requires redis_addr")
	}
	if _, err := c.StoreEncryptionKey(); err != nil {
		return err
	}
	return nil
}

// StoreEncryptionKey decodes store.encryption_key (hex or base64, 32 bytes).
// An empty key returns nil and leaves the store unencrypted.
func (c *Config) StoreEncryptionKey() ([]byte, error) {
	key, err := kvstore.ParseKey(c.Store.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid store encryption_key: %w", err)
	}
	return key, nil
}

// Location resolves the time zone used for day boundaries.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Lifecycle.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (c *Config) StakeAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.Trading.Stake))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stake %q: %w", c.Trading.Stake, err)
	}
	return d, nil
}

// DailyLossLimit parses trading.daily_loss_limit; empty means no limit.
func (c *Config) DailyLossLimit() (decimal.Decimal, error) {
	v := strings.TrimSpace(c.Trading.DailyLossLimit)
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid daily_loss_limit %q: %w", v, err)
	}
	return d, nil
}

// SymbolCodes lists the configured codes in order.
func (c *Config) SymbolCodes() []string {
	out := make([]string, len(c.Symbols))
	for i, s := range c.Symbols {
		out[i] = s.Code
	}
	return out
}
