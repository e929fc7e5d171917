// Package server composes the breadcrumb core process: config, store,
// crypto, embeddings, bus, fanout, write/read paths, webhook dispatcher,
// hygiene loop, auth chain, and HTTP router. It exists in pkg/ so an
// embedding application can construct a Server and mount srv.Handler
// itself instead of running cmd/server directly.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/api"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/api/handlers"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/auth"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/bus"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/config"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/crypto"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/embeddings"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/fanout"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/hygiene"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/readpath"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/retention"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/selector"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/sse"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store/postgres"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/telemetry"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/webhook"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/writepath"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/contracts"

	"github.com/rs/zerolog/log"
)

// Server holds every initialized collaborator of a running breadcrumb
// core process.
type Server struct {
	Handler http.Handler
	Store   store.Store
	Config  *config.Config

	Fanout     *fanout.Engine
	Dispatcher *webhook.Dispatcher
	Hygiene    *hygiene.Loop
	Hub        *sse.Hub
	AuthChain  *auth.ProviderChain

	shutdownFunc func(context.Context) error
	hygieneStop  context.CancelFunc
	webhookStop  context.CancelFunc
}

// New initializes a Server from environment configuration.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes a Server from an explicit configuration,
// wiring storage, crypto, embeddings, bus, fanout, write/read paths,
// webhook delivery, hygiene, auth, and the HTTP router.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	telemetryShutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("server: init telemetry: %w", err)
	}

	dataStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("server: init store: %w", err)
	}
	if err := dataStore.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("server: migrate store: %w", err)
	}
	log.Info().Str("backend", cfg.Database.VectorIndex).Msg("store initialized")

	kek, err := buildKEK(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("server: init kek: %w", err)
	}

	embeddingRegistry, embedder := buildEmbedder(cfg)

	messageBus, err := buildBus(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("server: init bus: %w", err)
	}

	selectorIndex := selector.NewIndex()
	if err := rebuildSelectorIndex(ctx, dataStore, selectorIndex); err != nil {
		log.Warn().Err(err).Msg("server: selector index rebuild incomplete")
	}

	hub := sse.NewHub()

	fanoutEngine := &fanout.Engine{
		Store:         dataStore,
		Bus:           messageBus,
		Hub:           hub,
		SelectorIndex: selectorIndex,
	}

	writePath := &writepath.Path{
		Store:           dataStore,
		Embedder:        embedder,
		Fanout:          fanoutEngine,
		MaxContextBytes: cfg.Write.MaxContextBytes,
		EmbedExcluded:   map[string]bool{},
	}
	readPath := &readpath.Path{Store: dataStore, Embedder: embedder}

	dispatcher := webhook.NewDispatcher(dataStore, &webhook.StoreSecretLookup{Store: dataStore}, cfg.Webhook.WorkerCount, cfg.Webhook.MaxRetries)
	webhookCtx, webhookCancel := context.WithCancel(context.Background())
	go dispatcher.Run(webhookCtx)

	archiver := retention.NewLocalFileArchiver("", true)
	hygieneLoop := hygiene.NewLoop(dataStore, cfg.Hygiene.Interval, cfg.Hygiene.IdleTTL, cfg.Hygiene.HistoryTTL, cfg.Hygiene.HistoryMaxVersions)
	hygieneLoop.Archiver = archiver
	hygieneCtx, hygieneCancel := context.WithCancel(context.Background())
	go hygieneLoop.Run(hygieneCtx)

	authChain, minter, err := buildAuth(cfg)
	if err != nil {
		webhookCancel()
		hygieneCancel()
		return nil, fmt.Errorf("server: init auth: %w", err)
	}

	h := &handlers.Handlers{
		Store:         dataStore,
		Write:         writePath,
		Read:          readPath,
		Fanout:        fanoutEngine,
		SelectorIndex: selectorIndex,
		Hygiene:       hygieneLoop,
		Minter:        minter,
		KEK:           kek,
		Config:        cfg,
		Embeddings:    embeddingRegistry,
	}

	router := api.NewRouter(cfg, h, hub, authChain)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Config:       cfg,
		Fanout:       fanoutEngine,
		Dispatcher:   dispatcher,
		Hygiene:      hygieneLoop,
		Hub:          hub,
		AuthChain:    authChain,
		hygieneStop:  hygieneCancel,
		webhookStop:  webhookCancel,
		shutdownFunc: telemetryShutdown,
	}, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.VectorIndex == "pgvector" {
		return postgres.New(ctx, cfg.Database.URL, cfg.Embedding.Dimensions)
	}
	return store.NewMemoryStore(), nil
}

func buildKEK(ctx context.Context, cfg *config.Config) (crypto.KEKProvider, error) {
	switch cfg.Crypto.KEKProvider {
	case "kms":
		return crypto.NewKMSKEK(ctx, cfg.Crypto.KEKRef)
	default:
		if cfg.Crypto.LocalKEKBase64 == "" {
			log.Warn().Msg("LOCAL_KEK_BASE64 not set: secrets endpoints will fail until configured")
			return nil, nil
		}
		return crypto.NewLocalFileKEK(cfg.Crypto.LocalKEKBase64, cfg.Crypto.KEKRef)
	}
}

// buildEmbedder picks the one embedding driver this deployment runs and
// registers it in a Registry keyed by its Kind(), so GET /health can report
// driver reachability by name even though exactly one drives the write
// path's Embed calls.
func buildEmbedder(cfg *config.Config) (*embeddings.Registry, contracts.EmbeddingDriver) {
	registry := embeddings.NewRegistry()

	var driver contracts.EmbeddingDriver
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		model := os.Getenv("BREADCRUMB_EMBEDDING_MODEL")
		if model == "" {
			model = "text-embedding-3-small"
		}
		log.Info().Str("model", model).Msg("embedding driver: openai")
		driver = embeddings.NewOpenAIDriver(apiKey, model)
	} else if cfg.Embedding.ModelPath != "" {
		log.Info().Str("endpoint", cfg.Embedding.ModelPath).Msg("embedding driver: ollama")
		driver = embeddings.NewOllamaDriver(cfg.Embedding.ModelPath, "nomic-embed-text")
	} else {
		log.Info().Msg("no embedding driver configured: writes skip embedding")
		return registry, nil
	}

	registry.Register(driver.Kind(), driver)
	return registry, driver
}

func buildBus(ctx context.Context, cfg *config.Config) (bus.Bus, error) {
	if cfg.Bus.URL == "" {
		return bus.NewMemoryBus(), nil
	}
	return bus.NewRedisBus(ctx, cfg.Bus.URL)
}

func buildAuth(cfg *config.Config) (*auth.ProviderChain, *auth.Minter, error) {
	chain := auth.NewProviderChain()

	jwtProvider, err := auth.NewJWTProvider(cfg.Auth.JWTPublicPEM)
	if err != nil {
		return nil, nil, err
	}
	if jwtProvider.Enabled() {
		chain.RegisterProvider(jwtProvider)
	}

	if cfg.Auth.Mode == "disabled" {
		chain.RegisterProvider(auth.NewDisabledModeProvider(cfg.Auth.DisabledOwner))
	}

	minter, err := auth.NewMinter(cfg.Auth.JWTPrivatePEM)
	if err != nil {
		return nil, nil, err
	}
	return chain, minter, nil
}

// rebuildSelectorIndex loads every selector subscription known to the
// store into the in-memory prefilter index, so a restarted process
// resumes matching without waiting for the next write to each subject.
func rebuildSelectorIndex(ctx context.Context, s store.Store, idx *selector.Index) error {
	tenants, err := s.ListTenants(ctx)
	if err != nil {
		return err
	}
	for _, t := range tenants {
		subs, err := s.SelectorSubscriptions(ctx, t.ID)
		if err != nil {
			log.Warn().Err(err).Str("owner", t.ID).Msg("server: list subscriptions failed during selector rebuild")
			continue
		}
		for _, sub := range subs {
			if sub.Selector == nil {
				continue
			}
			compiled, err := selector.Compile(sub.Selector)
			if err != nil {
				log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("server: skipping uncompilable selector on rebuild")
				continue
			}
			idx.Add(selector.Entry{
				SubscriptionID: sub.ID,
				OwnerID:        sub.Owner,
				Predicate:      compiled,
				CreatedAt:      sub.CreatedAt.UnixNano(),
			})
		}
	}
	return nil
}

// Shutdown stops the hygiene loop and webhook dispatcher, then closes
// the store.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hygieneStop != nil {
		s.hygieneStop()
	}
	if s.webhookStop != nil {
		s.webhookStop()
	}
	if s.shutdownFunc != nil {
		if err := s.shutdownFunc(ctx); err != nil {
			return err
		}
	}
	return s.Store.Close()
}
