// Package config handles application configuration from an optional YAML file
// and environment variables. Environment variables take precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultModel         = "claude-3-5-haiku-latest"
	defaultTopic         = "artificial intelligence, machine learning or deep learning"
	defaultDatabasePath  = "./data/bot.db"
	defaultLogLevel      = "info"
	defaultPollInterval  = 5 * time.Minute
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 30 * time.Second
	defaultConcurrency   = 10
	defaultRedirectHosts = "news.google.com"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	// TelegramChannel is "@username" or a numeric chat ID.
	TelegramChannel string
	AllowedUsers    []int64

	AnthropicAPIKey string
	AnthropicModel  string
	Topic           string

	DatabasePath string
	// FeedsPath selects the JSON file registry. Empty means the SQLite feeds table.
	FeedsPath string
	LogLevel  string

	PollInterval     time.Duration
	RetryAttempts    int
	RetryBackoff     time.Duration
	MaxConcurrency   int
	BaselineNewFeeds bool

	// FilterInclude and FilterExclude are keyword rules; a "re:" prefix marks a regex.
	FilterInclude []string
	FilterExclude []string
	RedirectHosts []string

	MetricsStdout bool
	// MetricsOTLPEndpoint is an OTLP/HTTP collector URL, e.g. http://localhost:4318.
	MetricsOTLPEndpoint string
}

// fileConfig mirrors the YAML layout of the optional config file.
type fileConfig struct {
	Telegram struct {
		Token        string  `yaml:"token"`
		Channel      string  `yaml:"channel"`
		AllowedUsers []int64 `yaml:"allowed_users"`
	} `yaml:"telegram"`
	LLM struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
		Topic  string `yaml:"topic"`
	} `yaml:"llm"`
	DatabasePath string `yaml:"database_path"`
	FeedsPath    string `yaml:"feeds_path"`
	LogLevel     string `yaml:"log_level"`
	Monitor      struct {
		PollInterval     string `yaml:"poll_interval"`
		RetryAttempts    int    `yaml:"retry_attempts"`
		RetryBackoff     string `yaml:"retry_backoff"`
		MaxConcurrency   int    `yaml:"max_concurrency"`
		BaselineNewFeeds *bool  `yaml:"baseline_new_feeds"`
	} `yaml:"monitor"`
	Filter struct {
		Include []string `yaml:"include"`
		Exclude []string `yaml:"exclude"`
	} `yaml:"filter"`
	Fetcher struct {
		RedirectHosts []string `yaml:"redirect_hosts"`
	} `yaml:"fetcher"`
	MetricsStdout       *bool  `yaml:"metrics_stdout"`
	MetricsOTLPEndpoint string `yaml:"metrics_otlp_endpoint"`
}

// Load reads the file named by CONFIG_PATH (if set), applies environment
// overrides and validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := cfg.mergeFile(fc); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		AnthropicModel: defaultModel,
		Topic:          defaultTopic,
		DatabasePath:   defaultDatabasePath,
		LogLevel:       defaultLogLevel,
		PollInterval:   defaultPollInterval,
		RetryAttempts:  defaultRetryAttempts,
		RetryBackoff:   defaultRetryBackoff,
		MaxConcurrency: defaultConcurrency,
		RedirectHosts:  []string{defaultRedirectHosts},
	}
}

func (c *Config) mergeFile(fc fileConfig) error {
	setString(&c.TelegramBotToken, fc.Telegram.Token)
	setString(&c.TelegramChannel, fc.Telegram.Channel)
	if len(fc.Telegram.AllowedUsers) > 0 {
		c.AllowedUsers = fc.Telegram.AllowedUsers
	}
	setString(&c.AnthropicAPIKey, fc.LLM.APIKey)
	setString(&c.AnthropicModel, fc.LLM.Model)
	setString(&c.Topic, fc.LLM.Topic)
	setString(&c.DatabasePath, fc.DatabasePath)
	setString(&c.FeedsPath, fc.FeedsPath)
	setString(&c.LogLevel, fc.LogLevel)

	if err := setDuration(&c.PollInterval, "monitor.poll_interval", fc.Monitor.PollInterval); err != nil {
		return err
	}
	if err := setDuration(&c.RetryBackoff, "monitor.retry_backoff", fc.Monitor.RetryBackoff); err != nil {
		return err
	}
	if fc.Monitor.RetryAttempts != 0 {
		c.RetryAttempts = fc.Monitor.RetryAttempts
	}
	if fc.Monitor.MaxConcurrency != 0 {
		c.MaxConcurrency = fc.Monitor.MaxConcurrency
	}
	if fc.Monitor.BaselineNewFeeds != nil {
		c.BaselineNewFeeds = *fc.Monitor.BaselineNewFeeds
	}

	if len(fc.Filter.Include) > 0 {
		c.FilterInclude = fc.Filter.Include
	}
	if len(fc.Filter.Exclude) > 0 {
		c.FilterExclude = fc.Filter.Exclude
	}
	if len(fc.Fetcher.RedirectHosts) > 0 {
		c.RedirectHosts = fc.Fetcher.RedirectHosts
	}
	if fc.MetricsStdout != nil {
		c.MetricsStdout = *fc.MetricsStdout
	}
	setString(&c.MetricsOTLPEndpoint, fc.MetricsOTLPEndpoint)
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.TelegramBotToken, os.Getenv("TELEGRAM_BOT_TOKEN"))
	setString(&c.TelegramChannel, os.Getenv("TELEGRAM_CHANNEL"))
	setString(&c.AnthropicAPIKey, os.Getenv("ANTHROPIC_API_KEY"))
	setString(&c.AnthropicModel, os.Getenv("ANTHROPIC_MODEL"))
	setString(&c.Topic, os.Getenv("TOPIC"))
	setString(&c.DatabasePath, os.Getenv("DATABASE_PATH"))
	setString(&c.FeedsPath, os.Getenv("FEEDS_PATH"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&c.MetricsOTLPEndpoint, os.Getenv("METRICS_OTLP_ENDPOINT"))

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		var allowedUsers []int64
		for _, s := range splitList(raw, ",") {
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
		c.AllowedUsers = allowedUsers
	}

	if err := setDuration(&c.PollInterval, "POLL_INTERVAL", os.Getenv("POLL_INTERVAL")); err != nil {
		return err
	}
	if err := setDuration(&c.RetryBackoff, "RETRY_BACKOFF", os.Getenv("RETRY_BACKOFF")); err != nil {
		return err
	}
	if err := setInt(&c.RetryAttempts, "RETRY_ATTEMPTS", os.Getenv("RETRY_ATTEMPTS")); err != nil {
		return err
	}
	if err := setInt(&c.MaxConcurrency, "MAX_CONCURRENCY", os.Getenv("MAX_CONCURRENCY")); err != nil {
		return err
	}
	if err := setBool(&c.BaselineNewFeeds, "BASELINE_NEW_FEEDS", os.Getenv("BASELINE_NEW_FEEDS")); err != nil {
		return err
	}
	if err := setBool(&c.MetricsStdout, "METRICS_STDOUT", os.Getenv("METRICS_STDOUT")); err != nil {
		return err
	}

	// Filter rules are separated by ";" so that regex quantifiers like {1,3} survive.
	if raw := os.Getenv("FILTER_INCLUDE"); raw != "" {
		c.FilterInclude = splitList(raw, ";")
	}
	if raw := os.Getenv("FILTER_EXCLUDE"); raw != "" {
		c.FilterExclude = splitList(raw, ";")
	}
	if raw := os.Getenv("REDIRECT_HOSTS"); raw != "" {
		c.RedirectHosts = splitList(raw, ",")
	}
	return nil
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChannel == "" {
		return fmt.Errorf("TELEGRAM_CHANNEL is required")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("RETRY_BACKOFF must not be negative, got %s", c.RetryBackoff)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	}
	return nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q in %s: %w", v, key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key, v string) error {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer %q in %s: %w", v, key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, v string) error {
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid boolean %q in %s: %w", v, key, err)
	}
	*dst = b
	return nil
}

func splitList(raw, sep string) []string {
	var out []string
	for _, s := range strings.Split(raw, sep) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
