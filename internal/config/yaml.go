package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	crabstackDirName        = ".crabstack"
	defaultConfigFileName   = "relay.yaml"
	alternateConfigFileName = "relay.yml"
)

type fileConfig struct {
	DiscordBotToken   string   `yaml:"discord_bot_token"`
	GroqAPIKey        string   `yaml:"groq_api_key"`
	OpenAIAPIKey      string   `yaml:"openai_api_key"`
	Provider          string   `yaml:"provider"`
	CompletionBaseURL string   `yaml:"completion_base_url"`
	Model             string   `yaml:"model"`
	MaxTokens         *int     `yaml:"max_tokens"`
	CompletionTimeout string   `yaml:"completion_timeout"`
	SystemPrompt      string   `yaml:"system_prompt"`
	SessionTTL        string   `yaml:"session_ttl"`
	TranscriptCap     *int     `yaml:"transcript_cap"`
	SessionScope      string   `yaml:"session_scope"`
	QueueSize         *int     `yaml:"queue_size"`
	AllowedUsers      []string `yaml:"allowed_users"`
	LogLevel          string   `yaml:"log_level"`
	LogJSON           *bool    `yaml:"log_json"`
	JournalDriver     string   `yaml:"journal_driver"`
	JournalDSN        string   `yaml:"journal_dsn"`
	StatusAddr        string   `yaml:"status_addr"`
}

func loadFileConfig(explicit string) (fileConfig, error) {
	path, ok, err := resolveConfigFilePath(explicit)
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

func resolveConfigFilePath(explicit string) (string, bool, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit == "" {
		explicit = EnvString(EnvConfigFile)
	}
	if explicit != "" {
		resolved, err := expandPath(explicit)
		if err != nil {
			return "", false, fmt.Errorf("resolve config path: %w", err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", resolved, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", resolved)
		}
		return resolved, true, nil
	}

	for _, candidate := range []string{
		filepath.Join(crabstackDirName, defaultConfigFileName),
		filepath.Join(crabstackDirName, alternateConfigFileName),
	} {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", false, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

func applyYAML(cfg *Config, source fileConfig) error {
	setFromFile(&cfg.DiscordBotToken, source.DiscordBotToken)
	setFromFile(&cfg.GroqAPIKey, source.GroqAPIKey)
	setFromFile(&cfg.OpenAIAPIKey, source.OpenAIAPIKey)
	setFromFile(&cfg.Provider, source.Provider)
	setFromFile(&cfg.CompletionBaseURL, source.CompletionBaseURL)
	setFromFile(&cfg.Model, source.Model)
	setFromFile(&cfg.SystemPrompt, source.SystemPrompt)
	setFromFile(&cfg.SessionScope, source.SessionScope)
	setFromFile(&cfg.LogLevel, source.LogLevel)
	setFromFile(&cfg.JournalDriver, source.JournalDriver)
	setFromFile(&cfg.JournalDSN, source.JournalDSN)
	setFromFile(&cfg.StatusAddr, source.StatusAddr)

	if source.MaxTokens != nil {
		cfg.MaxTokens = *source.MaxTokens
	}
	if source.TranscriptCap != nil {
		cfg.TranscriptCap = *source.TranscriptCap
	}
	if source.QueueSize != nil {
		cfg.QueueSize = *source.QueueSize
	}
	if source.LogJSON != nil {
		cfg.LogJSON = *source.LogJSON
	}
	if len(source.AllowedUsers) > 0 {
		cfg.AllowedUsers = splitList(strings.Join(source.AllowedUsers, ","))
	}

	var err error
	if cfg.CompletionTimeout, err = parseOptionalDuration(source.CompletionTimeout, cfg.CompletionTimeout, "completion_timeout"); err != nil {
		return err
	}
	if cfg.SessionTTL, err = parseOptionalDuration(source.SessionTTL, cfg.SessionTTL, "session_ttl"); err != nil {
		return err
	}
	return nil
}

func setFromFile(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}
