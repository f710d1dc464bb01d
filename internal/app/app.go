package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"source_recovery/internal/config"
	"source_recovery/internal/dataset"
	"source_recovery/internal/db"
	"source_recovery/internal/extract"
	"source_recovery/internal/fetch"
	"source_recovery/internal/logger"
	"source_recovery/internal/models"
	"source_recovery/internal/ratelimit"
	"source_recovery/internal/recovery"
	"source_recovery/internal/sampler"
	"source_recovery/internal/selector"
	"source_recovery/internal/transcript"
	"source_recovery/internal/verify"
)

type App struct {
	config  *config.Config
	store   db.Store
	fetcher fetch.Fetcher
	log     *logger.Logger
	out     io.Writer
	now     func() time.Time

	// sleep replaces real waits between retries; nil means real time.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewApp opens the configured store and a colly-backed fetcher.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	store, err := db.Open(ctx, cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	f := fetch.NewCollector(fetch.Options{
		UserAgent:     cfg.Logic.UserAgent,
		Timeout:       cfg.Logic.Timeout(),
		MaxRedirects:  cfg.Logic.MaxRedirects,
		RespectRobots: !cfg.Logic.IgnoreRobots,
	}, log)
	return New(cfg, store, f, log, os.Stdout), nil
}

func New(cfg *config.Config, store db.Store, f fetch.Fetcher, log *logger.Logger, out io.Writer) *App {
	if log == nil {
		log = logger.Nop()
	}
	return &App{
		config:  cfg,
		store:   store,
		fetcher: f,
		log:     log,
		out:     out,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *App) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}

type SelectOptions struct {
	CSV          string
	Conservative bool
	VideosOnly   bool
	SkipVideo    bool
	SkipArticle  bool
	ForceRetry   bool
	Limit        int
}

func (o SelectOptions) selector(w config.ScoringConfig) selector.Options {
	return selector.Options{
		Conservative: o.Conservative,
		VideosOnly:   o.VideosOnly,
		SkipVideo:    o.SkipVideo,
		SkipArticle:  o.SkipArticle,
		ForceRetry:   o.ForceRetry,
		Limit:        o.Limit,
		Scoring:      w,
	}
}

// loadMissing returns the records with missing source. With a CSV the
// file's rows are used, each replaced by its store version when the store
// has one.
func loadMissing(ctx context.Context, store db.Store, f *dataset.File) ([]models.QuestionRecord, error) {
	if f == nil {
		return store.Find(ctx, db.Filter{MissingSource: db.Yes})
	}
	var out []models.QuestionRecord
	for _, r := range f.Records(dataset.Name(f.Path)) {
		stored, err := store.Get(ctx, r.ID)
		switch {
		case err == nil:
			r = stored
		case !errors.Is(err, db.ErrNotFound):
			return nil, err
		}
		if r.IsMissingSource() {
			out = append(out, r)
		}
	}
	return out, nil
}

func readCSV(path string) (*dataset.File, error) {
	if path == "" {
		return nil, nil
	}
	return dataset.Read(path)
}

// Select ranks recovery candidates without writing anything.
func (a *App) Select(ctx context.Context, opts SelectOptions) ([]selector.Candidate, error) {
	f, err := readCSV(opts.CSV)
	if err != nil {
		return nil, err
	}
	records, err := loadMissing(ctx, a.store, f)
	if err != nil {
		return nil, err
	}
	cands := selector.SelectCandidates(records, opts.selector(a.config.Scoring))
	a.printCandidates(len(records), cands, opts.Conservative)
	return cands, nil
}

type RecoverOptions struct {
	SelectOptions
	DryRun        bool
	SlowMode      bool
	AbortProvider bool
}

func (a *App) runner(store db.Store, slow bool, policy recovery.Policy) (*recovery.Runner, error) {
	p := a.config.Providers
	articles, err := extract.NewExtractor(a.fetcher, extract.Options{
		BaseURL:      p.Article.BaseURL,
		PathPrefixes: p.Article.PathPrefix,
		Selectors:    p.Article.Selectors,
		Boilerplate:  p.Article.Boilerplate,
		MinLength:    a.config.Logic.MinExtractedLength,
		MaxLength:    a.config.Logic.MaxSourceLength,
	})
	if err != nil {
		return nil, err
	}
	videos := transcript.NewClient(a.fetcher, transcript.Options{
		BaseURL:   p.Transcript.BaseURL,
		Languages: p.Transcript.Languages,
		MaxLength: a.config.Logic.MaxSourceLength,
	})

	limiter := ratelimit.New(map[string]ratelimit.Policy{
		models.ProviderTranscript: {Delay: p.Transcript.Delay(slow), Jitter: p.Transcript.Jitter(), MaxBackoff: p.Transcript.MaxBackoff},
		models.ProviderArticle:    {Delay: p.Article.Delay(slow), Jitter: p.Article.Jitter(), MaxBackoff: p.Article.MaxBackoff},
	})
	rec := recovery.NewRecoverer(store, recovery.Strategies(videos, articles), limiter, recovery.Options{
		MaxAttempts: a.config.Logic.MaxAttempts,
		Delays:      a.config.Logic.RetryDelays(),
	}, a.log)
	rec.Now = a.now
	if a.sleep != nil {
		rec.Sleep = a.sleep
		limiter.Sleep = a.sleep
	}
	return recovery.NewRunner(rec, limiter, policy, a.log), nil
}

// Recover imports the CSV (if any), recovers ranked candidates and writes
// the _recovered copy. A dry run works on an in-memory snapshot and
// writes nothing.
func (a *App) Recover(ctx context.Context, opts RecoverOptions) (recovery.Stats, error) {
	policy, err := recovery.ParsePolicy(a.config.Logic.RateLimitPolicy)
	if err != nil {
		return recovery.Stats{}, err
	}
	if opts.AbortProvider {
		policy = recovery.PolicyAbortProvider
	}

	store := a.store
	if opts.DryRun {
		snap, err := db.Snapshot(ctx, a.store)
		if err != nil {
			return recovery.Stats{}, err
		}
		store = snap
	}

	f, err := readCSV(opts.CSV)
	if err != nil {
		return recovery.Stats{}, err
	}
	if f != nil {
		imported, err := dataset.Sync(ctx, store, f.Records(dataset.Name(f.Path)))
		if err != nil {
			return recovery.Stats{}, err
		}
		a.log.Info("dataset imported", "file", f.Path, "created", imported.Created, "existing", imported.Existing)
	}

	records, err := loadMissing(ctx, store, f)
	if err != nil {
		return recovery.Stats{}, err
	}
	cands := selector.SelectCandidates(records, opts.selector(a.config.Scoring))
	a.printCandidates(len(records), cands, opts.Conservative)
	if len(cands) == 0 {
		return recovery.Stats{}, nil
	}

	run, err := a.runner(store, opts.SlowMode, policy)
	if err != nil {
		return recovery.Stats{}, err
	}
	stats := run.Run(ctx, cands)

	out := ""
	if f != nil && !opts.DryRun {
		path, merged, err := dataset.WriteRecovered(context.WithoutCancel(ctx), f, store)
		if err != nil {
			return stats, err
		}
		out = path
		a.log.Info("recovered dataset written", "file", path, "merged", merged)
	}
	a.printRecovery(stats, opts, out)
	return stats, nil
}

type SampleOptions struct {
	Size          int
	Batch         string
	Domains       []string
	Equal         bool
	Seed          *int64
	ClearExisting bool
	MinLength     int
	DryRun        bool
}

// Sample plans a stratified draw, prints it, and commits unless DryRun.
func (a *App) Sample(ctx context.Context, opts SampleOptions) (*sampler.Plan, error) {
	if opts.Size <= 0 {
		opts.Size = a.config.Sampling.SampleSize
	}
	if opts.MinLength <= 0 {
		opts.MinLength = a.config.Sampling.MinSourceLength
	}
	if opts.Batch == "" {
		opts.Batch = a.config.Sampling.DefaultBatch
	}
	mode := sampler.Proportional
	if opts.Equal {
		mode = sampler.Equal
	}

	pool, err := a.store.Find(ctx, db.Filter{MissingSource: db.No})
	if err != nil {
		return nil, err
	}
	plan, err := sampler.NewPlan(pool, sampler.Options{
		TargetSize:      opts.Size,
		Mode:            mode,
		MinSourceLength: opts.MinLength,
		Seed:            opts.Seed,
		Domains:         opts.Domains,
		IncludeSelected: opts.ClearExisting,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range plan.Warnings {
		a.log.Warn("sampling shortfall", "detail", w)
	}
	a.printPlan(plan, opts.Batch)

	if opts.DryRun {
		fmt.Fprintln(a.out, "\n🧪 Dry run: nothing committed.")
		return plan, nil
	}
	cleared, err := sampler.Commit(ctx, a.store, plan, opts.Batch, opts.ClearExisting, a.now())
	if err != nil {
		return plan, err
	}
	a.log.Info("sample committed", "batch", opts.Batch, "records", len(plan.Selected), "cleared", cleared, "seed", plan.Seed)
	a.printCommitted(plan, opts.Batch, cleared)
	return plan, nil
}

type VerifyOptions struct {
	CSV         string
	ShowDetails bool
}

func (a *App) Verify(ctx context.Context, opts VerifyOptions) (verify.Report, error) {
	f, err := readCSV(opts.CSV)
	if err != nil {
		return verify.Report{}, err
	}
	records, err := a.store.Find(ctx, db.Filter{})
	if err != nil {
		return verify.Report{}, err
	}
	rep := verify.Build(f, records)
	a.printReport(rep, opts.ShowDetails)
	return rep, nil
}
