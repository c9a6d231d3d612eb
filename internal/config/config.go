// Package config loads the static relay configuration: a YAML file merged
// over defaults, then .env and MODRELAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODRELAY_"

// Config holds application configuration. It is loaded once at startup.
type Config struct {
	// BotToken authenticates against the bot platform.
	// Also read from the unprefixed BOT_TOKEN variable.
	BotToken string `yaml:"bot_token" env:"BOT_TOKEN"`

	// OwnerID is the single owner. Never stored in the admin directory.
	OwnerID int64 `yaml:"owner_id" env:"OWNER_ID"`

	// OwnerAlias is how the owner is named in review logs
	OwnerAlias string `yaml:"owner_alias" env:"OWNER_ALIAS"`

	// RequiredChannelID is the chat privileged users must belong to
	RequiredChannelID int64 `yaml:"required_channel_id" env:"REQUIRED_CHANNEL_ID"`

	// RequiredChannelLink is shown to privileged users who are not members
	RequiredChannelLink string `yaml:"required_channel_link" env:"REQUIRED_CHANNEL_LINK"`

	// ReportGroupID is the review group
	ReportGroupID int64 `yaml:"report_group_id" env:"REPORT_GROUP_ID"`

	// OutputChannelID is where approved posts land
	OutputChannelID int64 `yaml:"output_channel_id" env:"OUTPUT_CHANNEL_ID"`

	// OutputChannelHandle is printed in the footer of every output post
	OutputChannelHandle string `yaml:"output_channel_handle" env:"OUTPUT_CHANNEL_HANDLE"`

	// Locale selects the message catalog (falls back to the base catalog)
	Locale string `yaml:"locale" env:"LOCALE"`

	RateLimit    RateLimitConfig    `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Album        AlbumConfig        `yaml:"album" envPrefix:"ALBUM_"`
	Publish      PublishConfig      `yaml:"publish" envPrefix:"PUBLISH_"`
	Conversation ConversationConfig `yaml:"conversation" envPrefix:"CONVERSATION_"`
	Storage      StorageConfig      `yaml:"storage" envPrefix:"STORAGE_"`
	Logging      LoggingConfig      `yaml:"logging" envPrefix:"LOG_"`
	Web          WebConfig          `yaml:"web" envPrefix:"WEB_"`
	Events       EventsConfig       `yaml:"events" envPrefix:"EVENTS_"`
	Telegram     TelegramConfig     `yaml:"telegram" envPrefix:"TELEGRAM_"`
	MCP          MCPConfig          `yaml:"mcp" envPrefix:"MCP_"`
}

// RateLimitConfig bounds regular-user submissions per sliding window.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit" env:"LIMIT"`
	Period time.Duration `yaml:"period" env:"PERIOD"`
}

// AlbumConfig controls album aggregation.
type AlbumConfig struct {
	// Debounce is the quiet period after the last album item
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE"`
}

// PublishConfig controls output-channel retries.
type PublishConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
}

// ConversationConfig controls per-user dialogue state.
type ConversationConfig struct {
	// TTL expires abandoned conversations
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	// DataDir holds admins.json, the ledger and exports
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`

	// AdminsFile defaults to DataDir/admins.json
	AdminsFile string `yaml:"admins_file" env:"ADMINS_FILE"`

	// BackupCount is how many rotated admin backups to keep. 0 disables backups.
	BackupCount *int `yaml:"backup_count" env:"BACKUP_COUNT"`

	// DBPath defaults to DataDir/modrelay.db
	DBPath string `yaml:"db_path" env:"DB_PATH"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `yaml:"db_max_open_conns" env:"DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `yaml:"db_max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level     string `yaml:"level" env:"LEVEL"`
	Format    string `yaml:"format" env:"FORMAT"`
	File      string `yaml:"file" env:"FILE"`
	MaxSizeMB int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	Backups   int    `yaml:"backups" env:"BACKUPS"`
}

// WebConfig controls the operator dashboard.
type WebConfig struct {
	// Enabled starts the dashboard inside the run command
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Bind    string `yaml:"bind" env:"BIND"`
	Port    int    `yaml:"port" env:"PORT"`
}

// EventsConfig controls lifecycle event publishing. Empty AMQPURL disables it.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url" env:"AMQP_URL"`
	Exchange string `yaml:"exchange" env:"EXCHANGE"`
}

// TelegramConfig paces outbound calls.
type TelegramConfig struct {
	// APIURL overrides the Bot API endpoint (local Bot API server)
	APIURL        string  `yaml:"api_url" env:"API_URL"`
	OutboundRPS   float64 `yaml:"outbound_rps" env:"OUTBOUND_RPS"`
	OutboundBurst int     `yaml:"outbound_burst" env:"OUTBOUND_BURST"`
}

// MCPConfig controls the MCP server.
type MCPConfig struct {
	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `yaml:"disabled_tools" env:"DISABLED_TOOLS" envSeparator:","`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	backups := 3
	return &Config{
		OwnerAlias: "owner",
		Locale:     "fa",
		RateLimit:  RateLimitConfig{Limit: 5, Period: time.Minute},
		Album:      AlbumConfig{Debounce: time.Second},
		Publish:    PublishConfig{MaxAttempts: 3, BaseDelay: time.Second},
		Conversation: ConversationConfig{
			TTL: 30 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir:     "data",
			BackupCount: &backups,
		},
		Logging:  LoggingConfig{Level: "info", Format: "text", MaxSizeMB: 10, Backups: 3},
		Web:      WebConfig{Bind: "127.0.0.1", Port: 8080},
		Events:   EventsConfig{Exchange: "modrelay.events"},
		Telegram: TelegramConfig{OutboundRPS: 25, OutboundBurst: 5},
	}
}

// Load reads path (YAML; a missing file yields the defaults), loads .env from
// the working directory when present, and applies environment overrides.
func Load(path string) (*Config, error) {
	fileCfg, err := loadFileRaw(path)
	if err != nil {
		return nil, err
	}
	cfg := Merge(DefaultConfig(), fileCfg)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with MODRELAY_* variables. Unset variables keep
// their current value.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if cfg.BotToken == "" {
		cfg.BotToken = os.Getenv("BOT_TOKEN")
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}
	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	r := &Config{}

	r.BotToken = pick(base.BotToken, overlay.BotToken)
	r.OwnerID = pick(base.OwnerID, overlay.OwnerID)
	r.OwnerAlias = pick(base.OwnerAlias, overlay.OwnerAlias)
	r.RequiredChannelID = pick(base.RequiredChannelID, overlay.RequiredChannelID)
	r.RequiredChannelLink = pick(base.RequiredChannelLink, overlay.RequiredChannelLink)
	r.ReportGroupID = pick(base.ReportGroupID, overlay.ReportGroupID)
	r.OutputChannelID = pick(base.OutputChannelID, overlay.OutputChannelID)
	r.OutputChannelHandle = pick(base.OutputChannelHandle, overlay.OutputChannelHandle)
	r.Locale = pick(base.Locale, overlay.Locale)

	r.RateLimit.Limit = pick(base.RateLimit.Limit, overlay.RateLimit.Limit)
	r.RateLimit.Period = pick(base.RateLimit.Period, overlay.RateLimit.Period)
	r.Album.Debounce = pick(base.Album.Debounce, overlay.Album.Debounce)
	r.Publish.MaxAttempts = pick(base.Publish.MaxAttempts, overlay.Publish.MaxAttempts)
	r.Publish.BaseDelay = pick(base.Publish.BaseDelay, overlay.Publish.BaseDelay)
	r.Conversation.TTL = pick(base.Conversation.TTL, overlay.Conversation.TTL)

	r.Storage.DataDir = pick(base.Storage.DataDir, overlay.Storage.DataDir)
	r.Storage.AdminsFile = pick(base.Storage.AdminsFile, overlay.Storage.AdminsFile)
	r.Storage.DBPath = pick(base.Storage.DBPath, overlay.Storage.DBPath)
	r.Storage.DBMaxOpenConns = pick(base.Storage.DBMaxOpenConns, overlay.Storage.DBMaxOpenConns)
	r.Storage.DBMaxIdleConns = pick(base.Storage.DBMaxIdleConns, overlay.Storage.DBMaxIdleConns)
	// pointer so an explicit 0 (no backups) survives the merge
	r.Storage.BackupCount = base.Storage.BackupCount
	if overlay.Storage.BackupCount != nil {
		r.Storage.BackupCount = overlay.Storage.BackupCount
	}

	r.Logging.Level = pick(base.Logging.Level, overlay.Logging.Level)
	r.Logging.Format = pick(base.Logging.Format, overlay.Logging.Format)
	r.Logging.File = pick(base.Logging.File, overlay.Logging.File)
	r.Logging.MaxSizeMB = pick(base.Logging.MaxSizeMB, overlay.Logging.MaxSizeMB)
	r.Logging.Backups = pick(base.Logging.Backups, overlay.Logging.Backups)

	// Booleans: overlay wins if true, else base
	r.Web.Enabled = base.Web.Enabled || overlay.Web.Enabled
	r.Web.Bind = pick(base.Web.Bind, overlay.Web.Bind)
	r.Web.Port = pick(base.Web.Port, overlay.Web.Port)

	r.Events.AMQPURL = pick(base.Events.AMQPURL, overlay.Events.AMQPURL)
	r.Events.Exchange = pick(base.Events.Exchange, overlay.Events.Exchange)

	r.Telegram.APIURL = pick(base.Telegram.APIURL, overlay.Telegram.APIURL)
	r.Telegram.OutboundRPS = pick(base.Telegram.OutboundRPS, overlay.Telegram.OutboundRPS)
	r.Telegram.OutboundBurst = pick(base.Telegram.OutboundBurst, overlay.Telegram.OutboundBurst)

	// Arrays: merge and deduplicate
	r.MCP.DisabledTools = mergeStringSlice(base.MCP.DisabledTools, overlay.MCP.DisabledTools)

	return r
}

// pick returns overlay unless it is the zero value.
func pick[T comparable](base, overlay T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

// AdminsPath returns the admin directory file.
func (c *Config) AdminsPath() string {
	if c.Storage.AdminsFile != "" {
		return c.Storage.AdminsFile
	}
	return filepath.Join(c.Storage.DataDir, "admins.json")
}

// DBPath returns the ledger database file.
func (c *Config) DBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(c.Storage.DataDir, "modrelay.db")
}

// ExportsDir returns the directory ledger exports are written to.
func (c *Config) ExportsDir() string {
	return filepath.Join(filepath.Dir(c.DBPath()), "exports")
}

// Backups returns the admin backup count.
func (c *Config) Backups() int {
	if c.Storage.BackupCount == nil {
		return 0
	}
	return *c.Storage.BackupCount
}

// Validate checks what the bot needs to start. Operator commands that only
// touch local state call ValidateStorage instead.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.BotToken) == "" {
		problems = append(problems, "bot_token is required")
	}
	if c.RequiredChannelID == 0 {
		problems = append(problems, "required_channel_id is required")
	}
	if c.ReportGroupID == 0 {
		problems = append(problems, "report_group_id is required")
	}
	if c.OutputChannelID == 0 {
		problems = append(problems, "output_channel_id is required")
	}
	if c.RateLimit.Limit <= 0 {
		problems = append(problems, "rate_limit.limit must be positive")
	}
	if c.RateLimit.Period <= 0 {
		problems = append(problems, "rate_limit.period must be positive")
	}
	if c.Album.Debounce <= 0 {
		problems = append(problems, "album.debounce must be positive")
	}
	if c.Publish.MaxAttempts <= 0 {
		problems = append(problems, "publish.max_attempts must be positive")
	}
	if c.Publish.BaseDelay < 0 {
		problems = append(problems, "publish.base_delay must not be negative")
	}
	if c.Telegram.OutboundRPS <= 0 || c.Telegram.OutboundBurst <= 0 {
		problems = append(problems, "telegram.outbound_rps and outbound_burst must be positive")
	}
	if err := c.ValidateStorage(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateStorage checks the fields local operator commands depend on.
func (c *Config) ValidateStorage() error {
	if c.Storage.DataDir == "" && (c.Storage.AdminsFile == "" || c.Storage.DBPath == "") {
		return errors.New("storage.data_dir is required")
	}
	if c.Backups() < 0 {
		return errors.New("storage.backup_count must not be negative")
	}
	if c.OwnerID <= 0 {
		return errors.New("owner_id must be a positive user id")
	}
	return nil
}
