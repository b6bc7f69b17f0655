package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/consultx/consultx/internal/assess"
	"github.com/consultx/consultx/internal/buffer"
	"github.com/consultx/consultx/internal/config"
	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/httpapi"
	"github.com/consultx/consultx/internal/observability"
	"github.com/consultx/consultx/internal/reliability"
	"github.com/consultx/consultx/internal/retrieval"
	"github.com/consultx/consultx/internal/risk"
	"github.com/consultx/consultx/internal/session"
	"github.com/consultx/consultx/internal/store"
	"github.com/consultx/consultx/internal/summary"
	"github.com/consultx/consultx/internal/tracker"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Tracker    *tracker.Tracker
	Repository session.Repository
	Metrics    *observability.Metrics
	// StoreKind names the active repository backend (memory, postgres, sqlite).
	StoreKind string
	// Retrieval names the active retrieval backend (noop, qdrant).
	Retrieval string
	Adapters  []string

	// Cleanup should be called on shutdown to release the repository.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	evaluator, err := BuildRiskStack(ctx, cfg)
	if err != nil {
		return nil, err
	}

	catalog, err := summary.LoadCatalog(cfg.ResourceCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("resource catalog init failed: %w", err)
	}

	gateway, retrievalKind, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}

	repo, err := connectRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	t, err := tracker.New(tracker.Deps{
		Repository: repo,
		Evaluator:  evaluator,
		Retrieval:  retrieval.NewBounded(gateway, cfg.RetrievalK, cfg.RetrievalTimeout),
		Summaries:  summary.NewGenerator(catalog, cfg.SummaryMaxTrendPoints),
		Buffers:    buffer.NewCache(cfg.BufferCapacity),
		Metrics:    metrics,
	})
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	return &BuildResult{
		Config:     cfg,
		API:        httpapi.New(cfg, t, metrics),
		Tracker:    t,
		Repository: repo,
		Metrics:    metrics,
		StoreKind:  store.Kind(cfg.DatabaseURL),
		Retrieval:  retrievalKind,
		Adapters:   evaluator.Adapters(),
		Cleanup:    repo.Close,
	}, nil
}

// BuildRiskStack assembles the message evaluator (classifier, adapter
// pipeline, guardrail engine) from configuration. It touches no external
// services.
func BuildRiskStack(ctx context.Context, cfg config.Config) (*assess.Evaluator, error) {
	lex, err := risk.LoadLexicon(cfg.RiskLexiconPath)
	if err != nil {
		return nil, fmt.Errorf("risk lexicon init failed: %w", err)
	}
	classifier := risk.NewClassifier(lex, risk.DefaultClassifierOptions())

	pipeline, err := risk.NewPipeline(cfg.RiskAdapterTimeout)
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.RiskAdapters {
		a, err := risk.BuiltinAdapter(ctx, name, risk.BuiltinOptions{PolicyPath: cfg.RiskPolicyPath})
		if err != nil {
			return nil, fmt.Errorf("risk adapter %s init failed: %w", name, err)
		}
		if err := pipeline.Register(a); err != nil {
			return nil, err
		}
	}

	engine, err := guardrail.NewEngine(guardrail.DefaultTemplates())
	if err != nil {
		return nil, fmt.Errorf("guardrail init failed: %w", err)
	}
	return assess.New(classifier, pipeline, engine)
}

func buildGateway(cfg config.Config) (retrieval.Gateway, string, error) {
	if cfg.RetrievalQdrantURL == "" {
		return retrieval.NoopGateway{}, "noop", nil
	}
	g, err := retrieval.NewQdrantGateway(retrieval.QdrantConfig{
		URL:            cfg.RetrievalQdrantURL,
		Collection:     cfg.RetrievalCollection,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, "", fmt.Errorf("retrieval gateway init failed: %w", err)
	}
	return g, "qdrant", nil
}

func connectRepository(ctx context.Context, cfg config.Config) (session.Repository, error) {
	var repo session.Repository
	err := reliability.Retry(ctx, cfg.StoreConnectAttempts, 250*time.Millisecond, 5*time.Second, func(attempt int) error {
		r, err := store.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("repository connect attempt=%d backend=%s err=%v", attempt+1, store.Kind(cfg.DatabaseURL), err)
			return err
		}
		repo = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository init failed: %w", err)
	}
	return repo, nil
}
