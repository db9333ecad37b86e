package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"crabstack.local/crab-relay/internal/authz"
	"crabstack.local/crab-relay/internal/config"
	"crabstack.local/crab-relay/internal/discord"
	"crabstack.local/crab-relay/internal/dispatch"
	"crabstack.local/crab-relay/internal/httpapi"
	"crabstack.local/crab-relay/internal/journal"
	"crabstack.local/crab-relay/internal/logging"
	"crabstack.local/crab-relay/internal/model"
	"crabstack.local/crab-relay/internal/relay"
	"crabstack.local/crab-relay/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "crab-relay",
		Short:         "Relay Discord conversations to a chat-completion model",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "load config: %v\n", err)
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogJSON, os.Stdout)
			if err := cfg.Validate(); err != nil {
				logger.Fatalf("invalid config: %v", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if err := run(ctx, cfg, logger); err != nil {
				logger.WithError(err).Error("relay stopped with error")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to relay YAML config (overrides "+config.EnvConfigFile+")")
	return cmd
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	allowList := authz.NewAllowList(cfg.AllowedUsers)
	if allowList.Empty() {
		logger.Warnf("%s is empty; every inbound message will be ignored", config.EnvAllowedUsers)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	scope, err := session.ParseScope(cfg.SessionScope)
	if err != nil {
		return err
	}

	store := session.NewMemoryStore(cfg.SystemPrompt, cfg.TranscriptCap)
	expiry := session.NewExpiry(store.Delete, logger)
	defer expiry.Stop()

	turnJournal, err := journal.Open(cfg.JournalDriver, cfg.ResolvedJournalDSN(), logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if err := turnJournal.Close(); err != nil {
			logger.WithError(err).Warn("close journal failed")
		}
	}()

	discordSession, err := discord.NewSession(cfg.DiscordBotToken)
	if err != nil {
		return err
	}
	dispatcher := dispatch.New(logger, discord.NewSender(discordSession))

	controller, err := relay.NewController(relay.Dependencies{
		Store:      store,
		Expiry:     expiry,
		Provider:   provider,
		Authorizer: allowList,
		Journal:    turnJournal,
		Logger:     logger,
	}, relay.Options{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		TTL:       cfg.SessionTTL,
		Scope:     scope,
		Platform:  relay.DefaultPlatform,
	})
	if err != nil {
		return err
	}
	service, err := relay.NewService(logger, controller, dispatcher, relay.ServiceOptions{QueueSize: cfg.QueueSize})
	if err != nil {
		return err
	}

	listener := discord.NewListener(discordSession, service, logger)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"provider":      cfg.Provider,
		"model":         cfg.Model,
		"scope":         scope,
		"journal":       cfg.JournalDriver,
		"allowed_users": allowList.Len(),
	}).Info("crab-relay running")

	var statusServer *http.Server
	if addr := strings.TrimSpace(cfg.StatusAddr); addr != "" {
		var turns httpapi.TurnReader
		if !strings.EqualFold(cfg.JournalDriver, journal.DriverNone) {
			turns = turnJournal
		}
		statusServer = httpapi.NewServer(logger, addr, store, turns)
	}

	g, gctx := errgroup.WithContext(ctx)
	if statusServer != nil {
		g.Go(func() error {
			logger.WithField("addr", statusServer.Addr).Info("status server listening")
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := listener.Stop(); err != nil {
			logger.WithError(err).Warn("stop listener failed")
		}
		if err := service.Close(shutdownCtx); err != nil {
			logger.WithError(err).Warn("drain relay workers failed")
		}
		if statusServer != nil {
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("status server shutdown failed")
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("crab-relay stopped")
	return err
}

func buildProvider(cfg config.Config) (model.Provider, error) {
	baseURL := strings.TrimSpace(cfg.CompletionBaseURL)
	opts := func(name string) []model.OpenAIOption {
		out := []model.OpenAIOption{model.WithOpenAITimeout(cfg.CompletionTimeout)}
		if baseURL != "" && strings.EqualFold(name, cfg.Provider) {
			out = append(out, model.WithOpenAIBaseURL(baseURL))
		}
		return out
	}

	registry := model.NewRegistry()
	if strings.TrimSpace(cfg.GroqAPIKey) != "" {
		registry.Register(model.ProviderGroq, model.NewGroqProvider(cfg.GroqAPIKey, opts(model.ProviderGroq)...))
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		registry.Register(model.ProviderOpenAI, model.NewOpenAIProvider(cfg.OpenAIAPIKey, opts(model.ProviderOpenAI)...))
	}
	return registry.Resolve(cfg.Provider)
}
