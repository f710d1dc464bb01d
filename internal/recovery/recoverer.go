package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"source_recovery/internal/db"
	"source_recovery/internal/logger"
	"source_recovery/internal/models"
	"source_recovery/internal/ratelimit"
)

// Pacer is the per-provider rate limiter the recoverer reports to. Wait
// is called before a record and Done after it; the gap between records is
// measured from Done.
type Pacer interface {
	Wait(ctx context.Context, provider string) error
	Done(provider string)
	Penalize(provider string)
	Reset(provider string)
}

type Options struct {
	MaxAttempts int
	// Delays[i] is the pause after attempt i+1; the last entry repeats.
	Delays []time.Duration
}

type Recoverer struct {
	store      db.Store
	strategies map[models.SourceType]Strategy
	pacer      Pacer
	opts       Options
	log        *logger.Logger

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func NewRecoverer(store db.Store, strategies map[models.SourceType]Strategy, pacer Pacer, opts Options, log *logger.Logger) *Recoverer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Recoverer{
		store:      store,
		strategies: strategies,
		pacer:      pacer,
		opts:       opts,
		log:        log,
		Sleep:      ratelimit.SleepContext,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recoverer) delay(attempt int, rateLimited bool) time.Duration {
	if len(r.opts.Delays) == 0 {
		return 0
	}
	i := attempt - 1
	if i >= len(r.opts.Delays) {
		i = len(r.opts.Delays) - 1
	}
	d := r.opts.Delays[i]
	if rateLimited {
		d *= 2
	}
	return d
}

// Recover runs the record's strategy at most MaxAttempts times and then
// persists the result with a single store write. If ctx ends before the
// write, nothing is persisted and ctx's error is returned. If the write
// fails the record is left as it was and the error is returned.
func (r *Recoverer) Recover(ctx context.Context, rec models.QuestionRecord) (models.RecoveryOutcome, error) {
	out := models.RecoveryOutcome{Outcome: models.OutcomeFailed}
	log := r.log.With("question_id", rec.ID, "source_type", rec.SourceType)

	ref := rec.SourceRef()
	strategy := r.strategies[rec.SourceType]
	if ref == nil || strategy == nil {
		log.Warn("no recovery strategy for record", "identifier", rec.SourceIdentifier)
		return out, r.persist(ctx, rec.ID, &out)
	}
	provider := strategy.Provider()

	lastRateLimited := false
	for n := 1; n <= r.opts.MaxAttempts; n++ {
		text, err := strategy.Recover(ctx, ref)
		if err == nil && models.IsMissingText(text) {
			err = ErrNoContent
		}
		attempt := models.RecoveryAttempt{RecordID: rec.ID, Strategy: strategy.Name(), Number: n, Err: err}

		if err == nil {
			attempt.Outcome = models.OutcomeRecovered
			attempt.CharactersRecovered = len([]rune(text))
			out.Attempts = append(out.Attempts, attempt)
			out.Text = text
			out.Outcome = models.OutcomeRecovered
			r.pacer.Reset(provider)
			log.Debug("source recovered", "attempt", n, "chars", attempt.CharactersRecovered)
			break
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		lastRateLimited = errors.Is(err, ErrRateLimited)
		attempt.Outcome = models.OutcomeFailed
		if lastRateLimited {
			attempt.Outcome = models.OutcomeRateLimited
			r.pacer.Penalize(provider)
		}
		out.Attempts = append(out.Attempts, attempt)
		log.Debug("attempt failed", "attempt", n, "error", err)

		if errors.Is(err, ErrPermanent) {
			lastRateLimited = false
			break
		}
		if n < r.opts.MaxAttempts {
			d := r.delay(n, lastRateLimited)
			log.Debug("retrying", "after", d)
			if err := r.Sleep(ctx, d); err != nil {
				return out, err
			}
		}
	}
	if out.Outcome != models.OutcomeRecovered && lastRateLimited {
		out.Outcome = models.OutcomeRateLimited
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, r.persist(ctx, rec.ID, &out)
}

func (r *Recoverer) persist(ctx context.Context, id string, out *models.RecoveryOutcome) error {
	if err := r.store.ApplyRecovery(ctx, id, out.Text, r.Now()); err != nil {
		out.Outcome = models.OutcomeFailed
		out.Text = ""
		return fmt.Errorf("persist %s: %w", id, err)
	}
	return nil
}
