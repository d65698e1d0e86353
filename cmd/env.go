package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/decision"
	"github.com/sells-group/signmatch/internal/monitoring"
	"github.com/sells-group/signmatch/internal/notify"
	"github.com/sells-group/signmatch/internal/ocr"
	"github.com/sells-group/signmatch/internal/pipeline"
	"github.com/sells-group/signmatch/internal/resilience"
	"github.com/sells-group/signmatch/internal/storage"
	"github.com/sells-group/signmatch/internal/store"
	"github.com/sells-group/signmatch/pkg/gmail"
	"github.com/sells-group/signmatch/pkg/notion"
)

// initStore opens the configured store backend. It does not migrate.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates the store settings, opens the store and migrates it.
// Callers close the returned store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// reviewNotifier returns the Notion review notifier, or nil when Notion is
// not configured.
func reviewNotifier() *notify.NotionReviewNotifier {
	if cfg.Notion.Token == "" || cfg.Notion.ReviewDB == "" {
		return nil
	}
	return notify.NewNotionReviewNotifier(notion.NewClient(cfg.Notion.Token, cfg.Notion.RateLimit), cfg.Notion.ReviewDB)
}

// pipelineEnv holds the store, collaborators and pipeline needed by the
// process, batch, poll and serve commands.
type pipelineEnv struct {
	Store      store.Store
	WorkOrders *store.CachedWorkOrders
	Guard      *resilience.Guard
	Metrics    *monitoring.Metrics
	Pipeline   *pipeline.Pipeline
	Gmail      *gmail.Client                // may be nil
	Notifier   *notify.NotionReviewNotifier // may be nil
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode ("process" or "serve"), opens the
// store and builds the pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	if err := env.build(ctx); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (pe *pipelineEnv) build(ctx context.Context) error {
	if err := pe.Store.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}

	pe.WorkOrders = store.NewCachedWorkOrders(pe.Store, time.Duration(cfg.Cache.OpenWorkOrdersTTLSecs)*time.Second)
	pe.Guard = resilience.NewGuard(resilience.FromRetryConfig(cfg.Retry), resilience.FromCircuitConfig(cfg.Circuit))

	extractor, err := ocr.NewExtractor(cfg.OCR, cfg.Anthropic)
	if err != nil {
		return err
	}
	uploader, err := storage.NewUploader(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	pe.Metrics, err = monitoring.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Extractor:  ocr.Guarded(extractor, pe.Guard),
		WorkOrders: pe.WorkOrders,
		Reviews:    pe.Store,
		Uploader:   storage.Guarded(uploader, pe.Guard),
		DLQ:        pe.Store,
		Metrics:    pe.Metrics,
	}

	if cfg.Gmail.CredentialsFile != "" {
		pe.Gmail, err = gmail.New(ctx, gmail.Options{
			CredentialsFile: cfg.Gmail.CredentialsFile,
			User:            cfg.Gmail.User,
			RateLimit:       cfg.Gmail.RateLimit,
		})
		if err != nil {
			return err
		}
		deps.Labels = pe.Gmail
		zap.L().Info("gmail label transitions enabled", zap.String("user", cfg.Gmail.User))
	} else {
		zap.L().Debug("SIGNMATCH_GMAIL_CREDENTIALS_FILE not set, label transitions disabled")
	}

	if n := reviewNotifier(); n != nil {
		pe.Notifier = n
		deps.Notifier = n
		zap.L().Info("notion review notifications enabled")
	}

	p, err := pipeline.New(deps, pipelineOptions())
	if err != nil {
		return err
	}
	pe.Pipeline = p
	return nil
}

// pipelineOptions maps config onto pipeline options.
func pipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Matching.MinLengthRatio = cfg.Matching.MinLengthRatio
	opts.Thresholds = decision.Thresholds{
		High:   cfg.Matching.HighThreshold,
		Medium: cfg.Matching.MediumThreshold,
	}
	opts.MaxBytes = cfg.Server.MaxUploadMB << 20
	opts.SerializeByFmKey = cfg.Pipeline.SerializeByFmKey
	if cfg.Pipeline.DLQMaxRetries > 0 {
		opts.DLQMaxRetries = cfg.Pipeline.DLQMaxRetries
	}
	return opts
}
