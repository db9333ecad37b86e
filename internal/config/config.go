package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDiscordBotToken       = "DISCORD_BOT_TOKEN"
	EnvLegacyToken           = "TOKEN"
	EnvGroqAPIKey            = "GROQ_API_KEY"
	EnvOpenAIAPIKey          = "OPENAI_API_KEY"
	EnvProvider              = "CRAB_RELAY_PROVIDER"
	EnvCompletionBaseURL     = "CRAB_RELAY_COMPLETION_BASE_URL"
	EnvModel                 = "CRAB_RELAY_MODEL"
	EnvMaxTokens             = "CRAB_RELAY_MAX_TOKENS"
	EnvCompletionTimeout     = "CRAB_RELAY_COMPLETION_TIMEOUT"
	EnvSystemPrompt          = "CRAB_RELAY_SYSTEM_PROMPT"
	EnvSessionTTL            = "CRAB_RELAY_SESSION_TTL"
	EnvTranscriptCap         = "CRAB_RELAY_TRANSCRIPT_CAP"
	EnvSessionScope          = "CRAB_RELAY_SESSION_SCOPE"
	EnvQueueSize             = "CRAB_RELAY_QUEUE_SIZE"
	EnvAllowedUsers          = "CRAB_RELAY_ALLOWED_USERS"
	EnvLogLevel              = "CRAB_RELAY_LOG_LEVEL"
	EnvLogJSON               = "CRAB_RELAY_LOG_JSON"
	EnvJournalDriver         = "CRAB_RELAY_JOURNAL_DRIVER"
	EnvJournalDSN            = "CRAB_RELAY_JOURNAL_DSN"
	EnvStatusAddr            = "CRAB_RELAY_STATUS_ADDR"
	EnvConfigFile            = "CRAB_RELAY_CONFIG_FILE"
	DefaultProvider          = "groq"
	DefaultModel             = "llama-3.3-70b-versatile"
	DefaultMaxTokens         = 300
	DefaultCompletionTimeout = 30 * time.Second
	DefaultSystemPrompt      = "You are a helpful assistant that answers questions politely and clearly."
	DefaultSessionTTL        = 5 * time.Minute
	DefaultTranscriptCap     = 10
	DefaultSessionScope      = "channel"
	DefaultQueueSize         = 64
	DefaultLogLevel          = "info"
	DefaultJournalDriver     = "none"
	DefaultJournalDSN        = "relay-journal.db"
)

type Config struct {
	DiscordBotToken   string
	GroqAPIKey        string
	OpenAIAPIKey      string
	Provider          string
	CompletionBaseURL string
	Model             string
	MaxTokens         int
	CompletionTimeout time.Duration
	SystemPrompt      string
	SessionTTL        time.Duration
	TranscriptCap     int
	SessionScope      string
	QueueSize         int
	AllowedUsers      []string
	LogLevel          string
	LogJSON           bool
	JournalDriver     string
	JournalDSN        string
	StatusAddr        string
}

// Load layers defaults, the YAML file and the environment, in that order.
// A .env file in the working directory is merged into the environment first
// without overriding variables that are already set. configPath, when
// non-empty, takes precedence over CRAB_RELAY_CONFIG_FILE.
func Load(configPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()

	fileCfg, err := loadFileConfig(configPath)
	if err != nil {
		return Config{}, err
	}
	if err := applyYAML(&cfg, fileCfg); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Provider:          DefaultProvider,
		Model:             DefaultModel,
		MaxTokens:         DefaultMaxTokens,
		CompletionTimeout: DefaultCompletionTimeout,
		SystemPrompt:      DefaultSystemPrompt,
		SessionTTL:        DefaultSessionTTL,
		TranscriptCap:     DefaultTranscriptCap,
		SessionScope:      DefaultSessionScope,
		QueueSize:         DefaultQueueSize,
		LogLevel:          DefaultLogLevel,
		JournalDriver:     DefaultJournalDriver,
	}
}

// APIKey returns the key for the configured provider.
func (c Config) APIKey() string {
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "openai":
		return c.OpenAIAPIKey
	default:
		return c.GroqAPIKey
	}
}

// ResolvedJournalDSN fills in the sqlite default path.
func (c Config) ResolvedJournalDSN() string {
	if dsn := strings.TrimSpace(c.JournalDSN); dsn != "" {
		return dsn
	}
	if strings.EqualFold(strings.TrimSpace(c.JournalDriver), "sqlite") {
		return DefaultJournalDSN
	}
	return ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DiscordBotToken) == "" {
		return fmt.Errorf("%s is required", EnvDiscordBotToken)
	}
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "groq":
		if strings.TrimSpace(c.GroqAPIKey) == "" {
			return fmt.Errorf("%s is required for provider groq", EnvGroqAPIKey)
		}
	case "openai":
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			return fmt.Errorf("%s is required for provider openai", EnvOpenAIAPIKey)
		}
	default:
		return fmt.Errorf("%s must be groq or openai, got %q", EnvProvider, c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%s must not be empty", EnvModel)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%s must be > 0", EnvMaxTokens)
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvCompletionTimeout)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%s must be > 0", EnvSessionTTL)
	}
	if c.TranscriptCap < 1 {
		return fmt.Errorf("%s must be >= 1", EnvTranscriptCap)
	}
	switch strings.ToLower(strings.TrimSpace(c.SessionScope)) {
	case "user", "channel":
	default:
		return fmt.Errorf("%s must be user or channel, got %q", EnvSessionScope, c.SessionScope)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%s must be > 0", EnvQueueSize)
	}
	switch strings.ToLower(strings.TrimSpace(c.JournalDriver)) {
	case "none", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.JournalDSN) == "" {
			return fmt.Errorf("%s is required for journal driver postgres", EnvJournalDSN)
		}
	default:
		return fmt.Errorf("%s must be none, sqlite or postgres, got %q", EnvJournalDriver, c.JournalDriver)
	}
	return nil
}
