package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/communityagent/communityagent/internal/agent"
	"github.com/communityagent/communityagent/internal/analytics"
	"github.com/communityagent/communityagent/internal/config"
	"github.com/communityagent/communityagent/internal/provider"
	"github.com/communityagent/communityagent/internal/store"
	"github.com/communityagent/communityagent/internal/telegram"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return st, nil
}

func newProvider(cfg *config.Config) (*provider.OpenAIProvider, error) {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return nil, fmt.Errorf("no model API key configured (set COMMUNITYAGENT_PROVIDER_API_KEY or provider.apiKey)")
	}
	return provider.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Model.Name).
		WithEmbeddingModel(cfg.Provider.EmbeddingModel), nil
}

// newSink returns the usage sink for cfg and a close func for any
// resources it holds.
func newSink(cfg *config.Config, st *store.Store) (analytics.Sink, func()) {
	sinks := analytics.MultiSink{analytics.NewStoreSink(st)}
	closeFn := func() {}
	if cfg.Analytics.Kafka.Enabled {
		ks, err := analytics.NewKafkaSink(cfg.Analytics.Kafka)
		if err != nil {
			slog.Warn("Kafka usage sink disabled", "error", err)
		} else {
			sinks = append(sinks, ks)
			closeFn = func() {
				if err := ks.Close(); err != nil {
					slog.Warn("Failed to close Kafka writer", "error", err)
				}
			}
			slog.Info("Kafka usage sink enabled", "brokers", cfg.Analytics.Kafka.Brokers, "topic", cfg.Analytics.Kafka.Topic)
		}
	}
	return sinks, closeFn
}

// buildLoop wires the agent loop for cfg and returns a cleanup func.
func buildLoop(cfg *config.Config, st *store.Store) (*agent.Loop, func(), error) {
	prov, err := newProvider(cfg)
	if err != nil {
		return nil, nil, err
	}
	sink, closeSink := newSink(cfg, st)
	return agent.NewLoopFromConfig(cfg, prov, prov, st, sink), closeSink, nil
}

func newTelegramFactory(cfg *config.Config) func(token string) *telegram.Client {
	return func(token string) *telegram.Client {
		return telegram.NewClient(nil, cfg.Telegram.APIBase, token)
	}
}
