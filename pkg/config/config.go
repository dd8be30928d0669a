package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	envConfigPath        = "CLIPBOT_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envChatMe            = "CLIPBOT_CHAT_ME"
	envChatTarget        = "CLIPBOT_CHAT_TARGET"
	envOpenAIAPIKey      = "OPENAI_API_KEY"
	envIndexKey          = "CLIPBOT_INDEX_KEY"
)

const (
	DefaultMaxFileSizeMB     = 20
	DefaultStorageRoot       = "downloads"
	DefaultIndexPath         = "data/bot_data.db"
	DefaultClipCount         = 3
	DefaultClipDuration      = 10
	DefaultClipMaxConcurrent = 2
	DefaultClipTimeout       = 300
	DefaultFetchMaxAttempts  = 3
	DefaultDescribeModel     = "gpt-4o-mini"
	DefaultDescribeLanguage  = "Spanish"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Chats    ChatsConfig    `json:"chats"`
	Storage  StorageConfig  `json:"storage"`
	Fetch    FetchConfig    `json:"fetch"`
	Clip     ClipConfig     `json:"clip"`
	Image    ImageConfig    `json:"image"`
	Describe DescribeConfig `json:"describe"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" validate:"omitempty,oneof=json text"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
//
// APIServer points at a self-hosted Bot API server, which lifts the 20 MB
// getFile download cap of the public endpoint.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token" validate:"required_if=Enabled true"`
	APIServer string   `json:"api_server,omitempty" validate:"omitempty,url"`
	AllowFrom []string `json:"allow_from"`
}

// ChatsConfig names the personal review chat and the forwarding target.
type ChatsConfig struct {
	Me     int64 `json:"me"`
	Target int64 `json:"target"`
}

// StorageConfig locates materialized files and the file index database.
// IndexKey, when set, encrypts the index with SQLCipher.
type StorageConfig struct {
	Root      string `json:"root"`
	IndexPath string `json:"index_path"`
	IndexKey  string `json:"index_key,omitempty"`
}

// FetchConfig controls the download policy and retry behaviour.
type FetchConfig struct {
	MaxFileSizeMB int64 `json:"max_file_size_mb" validate:"gte=0"`
	MaxAttempts   int   `json:"max_attempts" validate:"gte=0"`
}

// ClipConfig controls clip extraction defaults and transcoder limits.
type ClipConfig struct {
	Count           int    `json:"count" validate:"gte=0,lte=10"`
	DurationSeconds int    `json:"duration_seconds" validate:"gte=0"`
	MaxConcurrent   int    `json:"max_concurrent" validate:"gte=0"`
	TimeoutSeconds  int    `json:"timeout_seconds" validate:"gte=0"`
	FFmpegPath      string `json:"ffmpeg_path,omitempty"`
	FFprobePath     string `json:"ffprobe_path,omitempty"`
}

// ImageConfig toggles and tunes inbound image processing.
type ImageConfig struct {
	ProcessingEnabled *bool `json:"processing_enabled,omitempty"`
	MaxWidth          int   `json:"max_width" validate:"gte=0"`
	MaxHeight         int   `json:"max_height" validate:"gte=0"`
	Quality           int   `json:"quality" validate:"gte=0,lte=100"`
}

// DescribeConfig configures the image captioning provider.
type DescribeConfig struct {
	Enabled               bool   `json:"enabled"`
	Model                 string `json:"model"`
	Language              string `json:"language"`
	BaseURL               string `json:"base_url,omitempty"`
	APIKey                string `json:"api_key,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" validate:"gte=0"`
}

// GatewayConfig configures HTTP status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port" validate:"gte=0,lte=65535"`
}

// MaxFileSizeBytes returns the fetch threshold in bytes.
func (c FetchConfig) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// ImageProcessingEnabled defaults to true when unset.
func (c ImageConfig) ImageProcessingEnabled() bool {
	if c.ProcessingEnabled == nil {
		return true
	}
	return *c.ProcessingEnabled
}

// LoadConfig resolves config.json, unmarshals it, applies environment overrides and defaults, then validates.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct-level constraints on a loaded configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("invalid config: %s failed %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if id, ok := parseChatID(os.Getenv(envChatMe)); ok {
		cfg.Chats.Me = id
	}
	if id, ok := parseChatID(os.Getenv(envChatTarget)); ok {
		cfg.Chats.Target = id
	}

	if key := strings.TrimSpace(os.Getenv(envIndexKey)); key != "" {
		cfg.Storage.IndexKey = key
	}

	if key := strings.TrimSpace(os.Getenv(envOpenAIAPIKey)); key != "" && cfg.Describe.APIKey == "" {
		cfg.Describe.APIKey = key
	}
}

// applyDefaults fills zero values with runtime defaults.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Storage.Root) == "" {
		cfg.Storage.Root = DefaultStorageRoot
	}
	if strings.TrimSpace(cfg.Storage.IndexPath) == "" {
		cfg.Storage.IndexPath = DefaultIndexPath
	}
	if cfg.Fetch.MaxFileSizeMB == 0 {
		cfg.Fetch.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = DefaultFetchMaxAttempts
	}
	if cfg.Clip.Count == 0 {
		cfg.Clip.Count = DefaultClipCount
	}
	if cfg.Clip.DurationSeconds == 0 {
		cfg.Clip.DurationSeconds = DefaultClipDuration
	}
	if cfg.Clip.MaxConcurrent == 0 {
		cfg.Clip.MaxConcurrent = DefaultClipMaxConcurrent
	}
	if cfg.Clip.TimeoutSeconds == 0 {
		cfg.Clip.TimeoutSeconds = DefaultClipTimeout
	}
	if cfg.Image.MaxWidth == 0 {
		cfg.Image.MaxWidth = 1920
	}
	if cfg.Image.MaxHeight == 0 {
		cfg.Image.MaxHeight = 1080
	}
	if cfg.Image.Quality == 0 {
		cfg.Image.Quality = 85
	}
	if strings.TrimSpace(cfg.Describe.Model) == "" {
		cfg.Describe.Model = DefaultDescribeModel
	}
	if strings.TrimSpace(cfg.Describe.Language) == "" {
		cfg.Describe.Language = DefaultDescribeLanguage
	}
}

func parseChatID(raw string) (int64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}

	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is CLIPBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
