// Package config loads the notifier configuration from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"webuntis-notifier/notify"
	"webuntis-notifier/untis"
)

// EnvPrefix prefixes every environment variable, e.g. WEBUNTIS_SCHOOL.
const EnvPrefix = "WEBUNTIS"

// Config is the complete runtime configuration.
type Config struct {
	School   string
	Username string
	Password string
	BaseURL  string

	ResourceID   int
	Timezone     string
	Location     *time.Location
	RolloverHour int
	MaxFailures  int

	SessionLifetime time.Duration
	HTTPTimeout     time.Duration

	Port         string
	Bucket       string
	LocalStorage string

	LogFormat string
	LogLevel  string

	Notify Notify
}

// Notify selects the notification providers. Every configured provider
// receives every message.
type Notify struct {
	DiscordWebhookURL string

	GmailTo              string
	GmailCredentialsJSON string

	BrevoAPIKey   string
	BrevoFrom     string
	BrevoFromName string
	BrevoTo       string

	Mock bool
}

// Any reports whether at least one real provider is configured.
func (n Notify) Any() bool {
	return n.DiscordWebhookURL != "" || n.GmailTo != "" || n.BrevoAPIKey != ""
}

func defaults(v *viper.Viper) {
	v.SetDefault("timezone", "UTC")
	v.SetDefault("rollover_hour", 18)
	v.SetDefault("max_failures", 5)
	v.SetDefault("session_lifetime", 15*time.Minute)
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("port", "8080")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.local_path", "")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")
	v.SetDefault("notify.brevo.from_name", "WebUntis")
	v.SetDefault("notify.mock", false)
}

// Load reads the configuration. Environment variables take precedence over
// the file named by WEBUNTIS_CONFIG.
func Load() (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	// Unprefixed names used by the hosting platform and the Google SDKs.
	for key, env := range map[string]string{
		"port":                          "PORT",
		"storage.bucket":                "STORAGE_BUCKET",
		"storage.local_path":            "LOCAL_STORAGE",
		"log.format":                    "LOG_FORMAT",
		"log.level":                     "LOG_LEVEL",
		"notify.gmail.credentials_json": "GOOGLE_CREDENTIALS_JSON",
	} {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		School:   v.GetString("school"),
		Username: v.GetString("username"),
		Password: v.GetString("password"),
		BaseURL:  v.GetString("base_url"),

		ResourceID:   v.GetInt("resource_id"),
		Timezone:     v.GetString("timezone"),
		RolloverHour: v.GetInt("rollover_hour"),
		MaxFailures:  v.GetInt("max_failures"),

		SessionLifetime: v.GetDuration("session_lifetime"),
		HTTPTimeout:     v.GetDuration("http_timeout"),

		Port:         v.GetString("port"),
		Bucket:       v.GetString("storage.bucket"),
		LocalStorage: v.GetString("storage.local_path"),

		LogFormat: strings.ToLower(v.GetString("log.format")),
		LogLevel:  strings.ToLower(v.GetString("log.level")),

		Notify: Notify{
			DiscordWebhookURL:    v.GetString("notify.discord.webhook_url"),
			GmailTo:              v.GetString("notify.gmail.to"),
			GmailCredentialsJSON: v.GetString("notify.gmail.credentials_json"),
			BrevoAPIKey:          v.GetString("notify.brevo.api_key"),
			BrevoFrom:            v.GetString("notify.brevo.from"),
			BrevoFromName:        v.GetString("notify.brevo.from_name"),
			BrevoTo:              v.GetString("notify.brevo.to"),
			Mock:                 v.GetBool("notify.mock"),
		},
	}

	if cfg.Bucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.School == "" {
		errs = append(errs, errors.New("school is required"))
	} else if err := untis.ValidateSchool(c.School); err != nil {
		errs = append(errs, err)
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if c.ResourceID <= 0 {
		errs = append(errs, fmt.Errorf("resource_id must be positive, got %d", c.ResourceID))
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err))
	}
	c.Location = loc

	if c.RolloverHour < 0 || c.RolloverHour > 23 {
		errs = append(errs, fmt.Errorf("rollover_hour must be within 0..23, got %d", c.RolloverHour))
	}
	if c.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("max_failures must be at least 1, got %d", c.MaxFailures))
	}
	if c.SessionLifetime <= 0 {
		errs = append(errs, fmt.Errorf("session_lifetime must be positive, got %s", c.SessionLifetime))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log format must be json or text, got %q", c.LogFormat))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level must be debug, info, warn or error, got %q", c.LogLevel))
	}

	n := c.Notify
	if n.DiscordWebhookURL != "" {
		if err := notify.ValidateWebhookURL(n.DiscordWebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("discord webhook URL: %w", err))
		}
	}
	if n.BrevoAPIKey != "" && (n.BrevoFrom == "" || n.BrevoTo == "") {
		errs = append(errs, errors.New("brevo needs both a from and a to address"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
