package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/learnhub/assistant-gateway/internal/assistant"
	"github.com/learnhub/assistant-gateway/internal/chat"
	"github.com/learnhub/assistant-gateway/internal/config"
	"github.com/learnhub/assistant-gateway/internal/contextcache"
	"github.com/learnhub/assistant-gateway/internal/invalidation"
	"github.com/learnhub/assistant-gateway/internal/kvstore"
	"github.com/learnhub/assistant-gateway/internal/logging"
	"github.com/learnhub/assistant-gateway/internal/orchestrator"
	"github.com/learnhub/assistant-gateway/internal/scheduler"
	"github.com/learnhub/assistant-gateway/internal/searchcache"
	"github.com/learnhub/assistant-gateway/internal/server"
	"github.com/learnhub/assistant-gateway/internal/threads"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "assistant-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging.Setup(cfg.Logging.Level)
	logger := logging.WithComponent("main")

	store, err := kvstore.NewRedisStore(kvstore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer store.Close()

	api, err := assistant.NewClient(assistant.ClientConfig{
		BaseURL: cfg.Assistant.BaseURL,
		APIKey:  cfg.Assistant.APIKey,
		Timeout: cfg.Assistant.GetTimeout(),
	})
	if err != nil {
		return fmt.Errorf("assistant client: %w", err)
	}

	source, err := contextcache.NewHTTPSource(contextcache.HTTPSourceConfig{
		BaseURL: cfg.Content.BaseURL,
		Timeout: cfg.Content.GetTimeout(),
	})
	if err != nil {
		return fmt.Errorf("content source: %w", err)
	}

	directory := threads.NewDirectory(store, api, cfg.Cache.ThreadTTLDuration())
	tracker := threads.NewVideoTracker(store, cfg.Cache.ThreadTTLDuration())
	contexts := contextcache.New(store, source, cfg.Cache.ContextTTLDuration())
	searches := searchcache.New(store, mentorSearch(cfg), cfg.Cache.SearchTTLDuration())
	orch := orchestrator.New(api)
	events := invalidation.New(store, contexts)

	chats := chat.New(directory, tracker, contexts, searches, orch, api,
		cfg.Assistant.CoachAssistantID, cfg.Assistant.MentorAssistantID)

	jobs := scheduler.New(searches, directory)
	jobs.Start()
	defer jobs.Stop()

	srv := server.New(cfg, chats, directory, events, store, logging.WithComponent("server"))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// mentorSearch delegates to the platform backend's mentor search
// endpoint and returns the serialized result array.
func mentorSearch(cfg *config.Config) searchcache.SearchFunc {
	httpClient := &http.Client{Timeout: cfg.Content.GetTimeout()}
	return func(ctx context.Context, p searchcache.Params) (string, error) {
		query := url.Values{}
		query.Set("skills", p.Skills)
		query.Set("languages", p.Languages)
		query.Set("countries", p.Countries)
		query.Set("q", p.Query)
		query.Set("limit", fmt.Sprintf("%d", p.Limit))
		endpoint := cfg.Content.BaseURL + "/internal/mentors/search?" + query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("mentor search request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("mentor search returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("mentor search read failed: %w", err)
		}
		return string(body), nil
	}
}
