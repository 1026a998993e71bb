package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scout/internal/assess"
	"github.com/sells-group/scout/internal/cache"
	"github.com/sells-group/scout/internal/config"
	"github.com/sells-group/scout/internal/discovery"
	"github.com/sells-group/scout/internal/pipeline"
	"github.com/sells-group/scout/internal/resolve"
	"github.com/sells-group/scout/internal/search"
	"github.com/sells-group/scout/internal/session"
	"github.com/sells-group/scout/internal/store"
	"github.com/sells-group/scout/pkg/anthropic"
	"github.com/sells-group/scout/pkg/jina"
	"github.com/sells-group/scout/pkg/signalhire"
)

// env holds the wired application graph for one command invocation.
type env struct {
	Store     store.Store
	Cache     *cache.Cache
	Sessions  *session.Repository
	Paginator *search.Paginator
	Pipeline  *pipeline.Pipeline
}

func (e *env) Close() {
	_ = e.Store.Close()
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	policies, err := cache.LoadPolicies(cfg.Cache.PolicyFile)
	if err != nil {
		st.Close()
		return nil, err
	}
	resourceCache := cache.New(st, policies)

	directory := signalhire.NewClient(cfg.SignalHire.Key,
		signalhire.WithBaseURL(cfg.SignalHire.BaseURL))
	webSearch := jina.NewClient(cfg.Jina.Key,
		jina.WithBaseURL(cfg.Jina.SearchBaseURL))
	generator := anthropic.NewClient(cfg.Anthropic.Key)

	resolver := resolve.New(directory, st,
		resolve.WithCache(resourceCache),
		resolve.WithFuzzyThreshold(cfg.Resolver.FuzzyThreshold),
		resolve.WithNegativeCooldown(time.Duration(cfg.Cache.NegativeCooldownHours)*time.Hour),
	)

	// The pipeline drives resolution itself so the resolving stage is
	// visible; the discovery engine stays resolver-free.
	discoverer := discovery.NewEngine(webSearch, generator, nil, discovery.Config{
		MaxCandidates:  cfg.Discovery.MaxCandidates,
		SearchRate:     cfg.Discovery.SearchRate,
		SkipValidation: cfg.Discovery.SkipValidation,
		Model:          cfg.Anthropic.ValidateModel,
	})

	sessions := session.NewRepository(st, time.Duration(cfg.Session.TTLHours)*time.Hour)

	paginator := search.NewPaginator(directory, resourceCache, sessions, search.Config{
		MaxIDs:       cfg.Search.MaxIDs,
		DefaultCount: cfg.Search.CollectCount,
		CollectRate:  cfg.Search.CollectRate,
		CollectBurst: cfg.Search.CollectBurst,
		Workers:      cfg.Search.Workers,
	})

	assessor := assess.NewEngine(paginator, generator, assess.Config{
		Workers:     cfg.Assess.Workers,
		TaskTimeout: time.Duration(cfg.Assess.TaskTimeoutSecs) * time.Second,
		BatchBudget: time.Duration(cfg.Assess.BatchBudgetSecs) * time.Second,
		Model:       cfg.Anthropic.AssessModel,
	})

	return &env{
		Store:     st,
		Cache:     resourceCache,
		Sessions:  sessions,
		Paginator: paginator,
		Pipeline:  pipeline.New(discoverer, resolver, paginator, assessor, sessions),
	}, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLite(sc.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", sc.Driver)
	}
}
