package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/resolve-cli/internal/batch"
	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/provision"
	"github.com/sells-group/resolve-cli/internal/store"
	"github.com/sells-group/resolve-cli/internal/verify"
	"github.com/sells-group/resolve-cli/pkg/profile"
)

// resolveEnv holds the initialized store and the engine components the
// resolve/verify/serve commands share.
type resolveEnv struct {
	Store        store.Store
	Pipeline     *match.Pipeline
	Provisioner  *provision.Provisioner
	Workflow     *verify.Workflow
	Orchestrator *batch.Orchestrator
}

// Close releases resources held by the environment.
func (e *resolveEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, runs migrations, and wires the matching
// pipeline, provisioner, verification workflow, and batch orchestrator.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*resolveEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	gateway := store.NewLeadGateway(st, cfg.Match.CandidateLimit)

	var enricher match.Enricher
	if cfg.Enrichment.Enabled && cfg.Enrichment.Key != "" {
		client := profile.NewClient(cfg.Enrichment.Key,
			profile.WithBaseURL(cfg.Enrichment.BaseURL),
			profile.WithTimeout(time.Duration(cfg.Enrichment.TimeoutSecs)*time.Second),
			profile.WithRateLimit(cfg.Enrichment.RatePerSec, cfg.Enrichment.Burst),
			profile.WithRetry(cfg.Enrichment.Retries),
		)
		enricher = &profileEnricher{client: client}
		zap.L().Info("profile enrichment enabled")
	} else if cfg.Enrichment.Enabled {
		zap.L().Warn("RESOLVE_ENRICHMENT_KEY not set, profile enrichment disabled")
	}

	pipeline := match.NewPipeline(gateway, enricher, cfg.Match)
	provisioner := provision.New(st, cfg.Match)
	workflow := verify.NewWorkflow(st, cfg.Match).
		WithBulkSkipMethods(cfg.Verify.BulkSkipMethods)
	orchestrator := batch.NewOrchestrator(pipeline, provisioner, st, cfg.Batch.MaxConcurrentParticipants).
		WithNewLeadReview(cfg.Verify.RequireNewLeadReview)

	return &resolveEnv{
		Store:        st,
		Pipeline:     pipeline,
		Provisioner:  provisioner,
		Workflow:     workflow,
		Orchestrator: orchestrator,
	}, nil
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres store")
		}
		zap.L().Info("using postgres store")
		return st, nil
	case "sqlite", "":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite store")
		}
		zap.L().Info("using sqlite store", zap.String("path", cfg.Store.DatabaseURL))
		return st, nil
	case "memory":
		zap.L().Warn("using in-memory store, data will not persist")
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// profileEnricher adapts the profile API client to the pipeline's
// enrichment collaborator.
type profileEnricher struct {
	client profile.Client
}

func (e *profileEnricher) Lookup(ctx context.Context, email, name string) (*match.EnrichedProfile, error) {
	p, err := e.client.Lookup(ctx, email, name)
	if err != nil || p == nil {
		return nil, err
	}
	return &match.EnrichedProfile{
		Company:    p.Company,
		Title:      p.Title,
		Confidence: p.Confidence,
	}, nil
}
