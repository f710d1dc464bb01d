package recovery

import (
	"context"
	"fmt"
	"time"

	"source_recovery/internal/logger"
	"source_recovery/internal/models"
	"source_recovery/internal/selector"

	"github.com/google/uuid"
)

// Policy decides what a rate-limited record means for the rest of the run.
type Policy string

const (
	PolicySkipRecord    Policy = "skip-record"
	PolicyAbortProvider Policy = "abort-provider"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicySkipRecord, PolicyAbortProvider:
		return Policy(s), nil
	case "":
		return PolicySkipRecord, nil
	}
	return "", fmt.Errorf("unknown rate limit policy %q", s)
}

// Stats are the counters of one run. A rate-limited record counts in
// RateLimited only, never in Failed.
type Stats struct {
	RunID       string
	Total       int
	Recovered   int
	Failed      int
	Skipped     int
	RateLimited int
	Characters  int
	Elapsed     time.Duration
	Interrupted bool
}

func (s Stats) Processed() int { return s.Recovered + s.Failed + s.RateLimited }

func (s Stats) SuccessRate() float64 {
	if s.Processed() == 0 {
		return 0
	}
	return float64(s.Recovered) / float64(s.Processed()) * 100
}

type Runner struct {
	rec    *Recoverer
	pacer  Pacer
	policy Policy
	log    *logger.Logger
}

func NewRunner(rec *Recoverer, pacer Pacer, policy Policy, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{rec: rec, pacer: pacer, policy: policy, log: log}
}

// Run processes candidates strictly in order, one at a time. When ctx is
// cancelled the record in flight is abandoned unpersisted, the rest are
// counted as skipped and Stats.Interrupted is set.
func (r *Runner) Run(ctx context.Context, cands []selector.Candidate) (stats Stats) {
	stats = Stats{RunID: uuid.NewString(), Total: len(cands)}
	log := r.log.With("run_id", stats.RunID)
	start := time.Now()
	defer func() { stats.Elapsed = time.Since(start) }()

	log.Info("recovery run started", "candidates", len(cands), "policy", r.policy)
	aborted := map[string]bool{}

	for i, c := range cands {
		provider := c.Record.SourceType.Provider()
		if aborted[provider] {
			stats.Skipped++
			continue
		}
		stop := func() {
			stats.Interrupted = true
			stats.Skipped += len(cands) - i
			log.Warn("recovery run interrupted", "position", c.Position, "remaining", len(cands)-i)
		}
		if ctx.Err() != nil {
			stop()
			break
		}
		if err := r.pacer.Wait(ctx, provider); err != nil {
			stop()
			break
		}

		out, err := r.rec.Recover(ctx, c.Record)
		r.pacer.Done(provider)
		if err != nil && ctx.Err() != nil {
			stop()
			break
		}
		if err != nil {
			stats.Failed++
			log.Error("recovery not persisted", "question_id", c.Record.ID, "error", err)
			continue
		}

		switch out.Outcome {
		case models.OutcomeRecovered:
			stats.Recovered++
			stats.Characters += len([]rune(out.Text))
			log.Info("recovered", "question_id", c.Record.ID, "position", c.Position, "score", c.Score, "chars", len([]rune(out.Text)))
		case models.OutcomeRateLimited:
			stats.RateLimited++
			log.Warn("rate limited", "question_id", c.Record.ID, "provider", provider, "attempts", len(out.Attempts))
			if r.policy == PolicyAbortProvider {
				aborted[provider] = true
				log.Warn("provider aborted for the rest of the run", "provider", provider)
			}
		default:
			stats.Failed++
			log.Info("not recovered", "question_id", c.Record.ID, "attempts", len(out.Attempts))
		}
	}

	log.Info("recovery run finished",
		"recovered", stats.Recovered, "failed", stats.Failed,
		"rate_limited", stats.RateLimited, "skipped", stats.Skipped)
	return stats
}
