// Package config loads application configuration from config files and
// environment variables via viper.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/entrepeneur4lyf/chatsync/internal/attachment"
	"github.com/entrepeneur4lyf/chatsync/internal/models"
)

// Provider defines configuration for an LLM provider
type Provider struct {
	APIKey   string `json:"apiKey"`
	Disabled bool   `json:"disabled"`
}

// AttachmentConfig defines attachment pipeline ceilings and thresholds
type AttachmentConfig struct {
	MaxFileSize          int64 `json:"maxFileSize"`          // Generic per-file ceiling in bytes
	MaxPDFSize           int64 `json:"maxPdfSize"`           // PDF-specific ceiling in bytes
	FatalUploadThreshold int64 `json:"fatalUploadThreshold"` // Upload failures above this size are fatal
	MaxImageDimension    int   `json:"maxImageDimension"`    // Longest edge after re-encode
}

// SyncConfig defines engine tuning knobs
type SyncConfig struct {
	MaxPendingMessages int `json:"maxPendingMessages"` // Optimistic message cap
	TransitionDebounce int `json:"transitionDebounce"` // Transition flag lifetime in ms
	MessageLimit       int `json:"messageLimit"`       // Monthly quota, 0 disables
}

// RemoteConfig defines the optional WebSocket snapshot source
type RemoteConfig struct {
	URL string `json:"url"`
}

// Data defines storage configuration
type Data struct {
	Directory string `json:"directory,omitempty"`
}

// Config is the main configuration structure for the application
type Config struct {
	Data         Data                           `json:"data"`
	WorkingDir   string                         `json:"wd,omitempty"`
	Providers    map[models.ProviderID]Provider `json:"providers,omitempty"`
	Debug        bool                           `json:"debug,omitempty"`
	DefaultModel string                         `json:"defaultModel,omitempty"`
	Attachments  AttachmentConfig               `json:"attachments"`
	Sync         SyncConfig                     `json:"sync"`
	Remote       RemoteConfig                   `json:"remote"`
}

// Application constants
const (
	defaultDataDirectory = ".chatsync"
	appName              = "chatsync"
)

// Global configuration instance
var cfg *Config

// Load initializes the configuration from environment variables and config files
func Load(workingDir string, debug bool) (*Config, error) {
	if cfg != nil {
		return cfg, nil
	}

	cfg = &Config{
		WorkingDir: workingDir,
		Providers:  make(map[models.ProviderID]Provider),
	}

	configureViper()
	setDefaults(debug)

	if err := readConfig(viper.ReadInConfig()); err != nil {
		return cfg, err
	}

	loadProvidersFromEnv()

	if cfg.Data.Directory == "" {
		cfg.Data.Directory = defaultDataDirectory
	}

	return cfg, nil
}

// Reset clears the cached configuration. Intended for tests.
func Reset() {
	cfg = nil
	viper.Reset()
}

// configureViper sets up viper's configuration paths and environment variables
func configureViper() {
	viper.SetConfigName(fmt.Sprintf(".%s", appName))
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(fmt.Sprintf("$XDG_CONFIG_HOME/%s", appName))
	viper.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	viper.SetEnvPrefix(strings.ToUpper(appName))
	viper.AutomaticEnv()
}

// setDefaults configures default values for configuration options
func setDefaults(debug bool) {
	viper.SetDefault("data.directory", defaultDataDirectory)
	viper.SetDefault("defaultModel", "claude-sonnet-4-20250514")

	viper.SetDefault("attachments.maxFileSize", 5*1024*1024)
	viper.SetDefault("attachments.maxPdfSize", 10*1024*1024)
	viper.SetDefault("attachments.fatalUploadThreshold", 1024*1024)
	viper.SetDefault("attachments.maxImageDimension", 1568)

	viper.SetDefault("sync.maxPendingMessages", 64)
	viper.SetDefault("sync.transitionDebounce", 300)
	viper.SetDefault("sync.messageLimit", 0)

	viper.SetDefault("remote.url", "")

	viper.SetDefault("debug", debug)
}

// readConfig handles the result of viper.ReadInConfig
func readConfig(err error) error {
	if err != nil {
		// A missing config file is fine; running on defaults and env.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}
	return nil
}

// loadProvidersFromEnv picks up API keys from the conventional variables
func loadProvidersFromEnv() {
	providers := map[models.ProviderID]string{
		models.ProviderAnthropic:  "ANTHROPIC_API_KEY",
		models.ProviderOpenAI:     "OPENAI_API_KEY",
		models.ProviderGemini:     "GEMINI_API_KEY",
		models.ProviderOpenRouter: "OPENROUTER_API_KEY",
	}

	for provider, envVar := range providers {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			cfg.Providers[provider] = Provider{APIKey: apiKey}
		}
	}
}

// GetDecryptedKey returns the configured API key for a provider, or empty
// when none is set or the provider is disabled. Satisfies the engine's
// credential resolver.
func (c *Config) GetDecryptedKey(ctx context.Context, provider models.ProviderID, modelID string) (string, error) {
	p, ok := c.Providers[provider]
	if !ok || p.Disabled {
		return "", nil
	}
	return p.APIKey, nil
}

// AttachmentLimits converts the configured ceilings into pipeline limits.
func (c *Config) AttachmentLimits() attachment.Limits {
	limits := attachment.DefaultLimits()
	if c.Attachments.MaxFileSize > 0 {
		limits.MaxFileSize = c.Attachments.MaxFileSize
	}
	if c.Attachments.MaxPDFSize > 0 {
		limits.MaxPDFSize = c.Attachments.MaxPDFSize
	}
	if c.Attachments.FatalUploadThreshold > 0 {
		limits.FatalUploadThreshold = c.Attachments.FatalUploadThreshold
	}
	if c.Attachments.MaxImageDimension > 0 {
		limits.MaxImageDimension = c.Attachments.MaxImageDimension
	}
	return limits
}

// TransitionDebounce returns the configured debounce as a duration.
func (c *Config) TransitionDebounce() time.Duration {
	return time.Duration(c.Sync.TransitionDebounce) * time.Millisecond
}

// SetupLogging configures the default logger for the configured level.
func SetupLogging(debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          appName,
	})
	log.SetDefault(logger)
	return logger
}
