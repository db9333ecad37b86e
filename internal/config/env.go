package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func EnvString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func applyEnv(cfg *Config) error {
	if value := EnvString(EnvDiscordBotToken); value != "" {
		cfg.DiscordBotToken = value
	} else if value := EnvString(EnvLegacyToken); value != "" {
		cfg.DiscordBotToken = value
	}
	setString(&cfg.GroqAPIKey, EnvGroqAPIKey)
	setString(&cfg.OpenAIAPIKey, EnvOpenAIAPIKey)
	setString(&cfg.Provider, EnvProvider)
	setString(&cfg.CompletionBaseURL, EnvCompletionBaseURL)
	setString(&cfg.Model, EnvModel)
	setString(&cfg.SystemPrompt, EnvSystemPrompt)
	setString(&cfg.SessionScope, EnvSessionScope)
	setString(&cfg.LogLevel, EnvLogLevel)
	setString(&cfg.JournalDriver, EnvJournalDriver)
	setString(&cfg.JournalDSN, EnvJournalDSN)
	setString(&cfg.StatusAddr, EnvStatusAddr)

	if value := EnvString(EnvAllowedUsers); value != "" {
		cfg.AllowedUsers = splitList(value)
	}
	cfg.LogJSON = parseBoolEnv(EnvLogJSON, cfg.LogJSON)

	var err error
	if cfg.MaxTokens, err = parseOptionalInt(EnvString(EnvMaxTokens), cfg.MaxTokens, EnvMaxTokens); err != nil {
		return err
	}
	if cfg.TranscriptCap, err = parseOptionalInt(EnvString(EnvTranscriptCap), cfg.TranscriptCap, EnvTranscriptCap); err != nil {
		return err
	}
	if cfg.QueueSize, err = parseOptionalInt(EnvString(EnvQueueSize), cfg.QueueSize, EnvQueueSize); err != nil {
		return err
	}
	if cfg.CompletionTimeout, err = parseOptionalDuration(EnvString(EnvCompletionTimeout), cfg.CompletionTimeout, EnvCompletionTimeout); err != nil {
		return err
	}
	if cfg.SessionTTL, err = parseOptionalDuration(EnvString(EnvSessionTTL), cfg.SessionTTL, EnvSessionTTL); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if value := EnvString(key); value != "" {
		*dst = value
	}
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBoolEnv(key string, fallback bool) bool {
	switch strings.ToLower(EnvString(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseOptionalInt(raw string, fallback int, field string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer %q: %w", field, value, err)
	}
	return parsed, nil
}

// parseOptionalDuration accepts Go durations ("90s", "5m") and bare integers,
// which are read as seconds.
func parseOptionalDuration(raw string, fallback time.Duration, field string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("%s must be > 0", field)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration %q: %w", field, value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", field)
	}
	return parsed, nil
}
