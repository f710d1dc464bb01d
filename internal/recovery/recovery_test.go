package recovery

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"source_recovery/internal/db"
	"source_recovery/internal/extract"
	"source_recovery/internal/models"
	"source_recovery/internal/selector"
	"source_recovery/internal/transcript"
)

type scriptedSource struct {
	results []result
	calls   []string
}

type result struct {
	text string
	err  error
}

func (s *scriptedSource) Fetch(_ context.Context, id string) (string, error) {
	s.calls = append(s.calls, id)
	if len(s.results) == 0 {
		return "", errors.New("script exhausted")
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r.text, r.err
}

type fakePacer struct {
	waits, dones, penalties, resets []string
	waitErr                         error
}

func (p *fakePacer) Wait(_ context.Context, provider string) error {
	p.waits = append(p.waits, provider)
	return p.waitErr
}
func (p *fakePacer) Done(provider string) { p.dones = append(p.dones, provider) }
func (p *fakePacer) Penalize(provider string) { p.penalties = append(p.penalties, provider) }
func (p *fakePacer) Reset(provider string) { p.resets = append(p.resets, provider) }

type failingStore struct {
	db.Store
}

func (failingStore) ApplyRecovery(context.Context, string, string, time.Time) error {
	return errors.New("disk full")
}

var fixed = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	store    *db.Memory
	videos   *scriptedSource
	articles *scriptedSource
	pacer    *fakePacer
	slept    []time.Duration
	rec      *Recoverer
}

func newHarness(t *testing.T, records ...models.QuestionRecord) *harness {
	t.Helper()
	h := &harness{
		store:    db.NewMemory(records...),
		videos:   &scriptedSource{},
		articles: &scriptedSource{},
		pacer:    &fakePacer{},
	}
	h.rec = NewRecoverer(h.store, Strategies(h.videos, h.articles), h.pacer,
		Options{MaxAttempts: 3, Delays: []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}}, nil)
	h.rec.Sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}
	h.rec.Now = func() time.Time { return fixed }
	return h
}

func video(id string) models.QuestionRecord {
	return models.NewQuestionRecord(id, models.SourceVideo, "dQw4w9WgXcQ", "", "Science")
}

func TestRecover_SuccessPersistsOnce(t *testing.T) {
	h := newHarness(t, video("q1"))
	h.videos.results = []result{{err: errors.New("timeout")}, {text: "the transcript"}}

	out, err := h.rec.Recover(context.Background(), video("q1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome != models.OutcomeRecovered || len(out.Attempts) != 2 || out.Attempts[1].CharactersRecovered != 14 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	got, _ := h.store.Get(context.Background(), "q1")
	if got.IsMissingSource() || got.SourceMaterial() != "the transcript" || !got.RecoveryAttempted || !got.RecoveryDate.Equal(fixed) {
		t.Fatalf("record not persisted: %+v", got)
	}
	if !reflect.DeepEqual(h.slept, []time.Duration{5 * time.Second}) {
		t.Fatalf("unexpected sleeps %v", h.slept)
	}
	if len(h.pacer.resets) != 1 {
		t.Fatalf("success should reset the provider backoff")
	}
}

func TestRecover_RateLimitedEveryAttempt(t *testing.T) {
	h := newHarness(t, video("q1"))
	h.videos.results = []result{{err: ErrRateLimited}}

	out, err := h.rec.Recover(context.Background(), video("q1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome != models.OutcomeRateLimited {
		t.Fatalf("expected rate_limited outcome, got %s", out.Outcome)
	}
	if len(h.videos.calls) != 3 {
		t.Fatalf("expected 3 strategy calls, got %d", len(h.videos.calls))
	}
	if !reflect.DeepEqual(h.slept, []time.Duration{10 * time.Second, 30 * time.Second}) {
		t.Fatalf("rate-limit retries should wait double: %v", h.slept)
	}
	if len(h.pacer.penalties) != 3 {
		t.Fatalf("expected 3 penalties, got %v", h.pacer.penalties)
	}
	got, _ := h.store.Get(context.Background(), "q1")
	if !got.IsMissingSource() || !got.RecoveryAttempted {
		t.Fatalf("rate-limited record must be stored as failed: %+v", got)
	}
}

func TestRecover_PermanentFailureNotRetried(t *testing.T) {
	link := models.NewQuestionRecord("t1", models.SourceTED, "https://ed.ted.com/lessons/no-video", "", "Art")
	h := newHarness(t, link)

	out, err := h.rec.Recover(context.Background(), link)
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome != models.OutcomeFailed || len(out.Attempts) != 1 || !errors.Is(out.Attempts[0].Err, ErrPermanent) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(h.videos.calls) != 0 || len(h.slept) != 0 {
		t.Fatalf("permanent failure should not reach the provider or sleep")
	}
}

func TestRecover_LinkResolvedToVideoID(t *testing.T) {
	link := models.NewQuestionRecord("t1", models.SourceTED, "https://www.youtube.com/watch?v=abcdefghijk", "", "Art")
	h := newHarness(t, link)
	h.videos.results = []result{{text: "ok"}}
	if _, err := h.rec.Recover(context.Background(), link); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(h.videos.calls, []string{"abcdefghijk"}) {
		t.Fatalf("unexpected calls %v", h.videos.calls)
	}
}

func TestRecover_NoContentIsRetried(t *testing.T) {
	art := models.NewQuestionRecord("a1", models.SourceArticle, "cell-theory", "", "Science")
	h := newHarness(t, art)
	h.articles.results = []result{{err: extract.ErrNoContent}, {text: "   "}, {text: "article body"}}

	out, err := h.rec.Recover(context.Background(), art)
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome != models.OutcomeRecovered || len(h.articles.calls) != 3 {
		t.Fatalf("unexpected outcome %+v after %d calls", out, len(h.articles.calls))
	}
	if !errors.Is(out.Attempts[0].Err, ErrNoContent) || !errors.Is(out.Attempts[1].Err, ErrNoContent) {
		t.Fatalf("empty results should be ErrNoContent: %+v", out.Attempts)
	}
}

func TestRecover_StoreFailureLeavesRecordUntouched(t *testing.T) {
	h := newHarness(t, video("q1"))
	h.videos.results = []result{{text: "the transcript"}}
	h.rec.store = failingStore{Store: h.store}

	out, err := h.rec.Recover(context.Background(), video("q1"))
	if err == nil {
		t.Fatal("expected persist error")
	}
	if out.Outcome != models.OutcomeFailed {
		t.Fatalf("store failure must count as failed, got %s", out.Outcome)
	}
	got, _ := h.store.Get(context.Background(), "q1")
	if got.RecoveryAttempted || !got.IsMissingSource() {
		t.Fatalf("record changed despite failed write: %+v", got)
	}
}

func TestRecover_CancelledDoesNotPersist(t *testing.T) {
	h := newHarness(t, video("q1"))
	h.videos.results = []result{{err: errors.New("timeout")}}
	ctx, cancel := context.WithCancel(context.Background())
	h.rec.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	if _, err := h.rec.Recover(ctx, video("q1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	got, _ := h.store.Get(context.Background(), "q1")
	if got.RecoveryAttempted {
		t.Fatalf("cancelled record was persisted")
	}
}

func TestRecover_UnknownNotFoundMapped(t *testing.T) {
	h := newHarness(t, video("q1"))
	h.videos.results = []result{{err: transcript.ErrNotFound}}
	out, _ := h.rec.Recover(context.Background(), video("q1"))
	if out.Outcome != models.OutcomeFailed || !errors.Is(out.Attempts[2].Err, ErrNoContent) {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func candidates(recs ...models.QuestionRecord) []selector.Candidate {
	out := make([]selector.Candidate, len(recs))
	for i, r := range recs {
		out[i] = selector.Candidate{Record: r, Score: 0.9, Position: i + 1}
	}
	return out
}

func TestRunner_CountsRateLimitedSeparately(t *testing.T) {
	art := models.NewQuestionRecord("a1", models.SourceArticle, "cell-theory", "", "Science")
	h := newHarness(t, video("q1"), art)
	h.videos.results = []result{{err: ErrRateLimited}}
	h.articles.results = []result{{err: errors.New("500")}}

	stats := NewRunner(h.rec, h.pacer, PolicySkipRecord, nil).Run(context.Background(), candidates(video("q1"), art))
	if stats.RateLimited != 1 || stats.Failed != 1 || stats.Recovered != 0 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.RunID == "" {
		t.Fatalf("missing run id")
	}
	if !reflect.DeepEqual(h.pacer.waits, []string{models.ProviderTranscript, models.ProviderArticle}) {
		t.Fatalf("pacer not consulted per record: %v", h.pacer.waits)
	}
	if !reflect.DeepEqual(h.pacer.dones, h.pacer.waits) {
		t.Fatalf("record end not reported to pacer: %v", h.pacer.dones)
	}
}

func TestRunner_AbortProviderSkipsRest(t *testing.T) {
	v2 := models.NewQuestionRecord("q2", models.SourceVideo, "abcdefghijk", "", "Math")
	art := models.NewQuestionRecord("a1", models.SourceArticle, "cell-theory", "", "Science")
	h := newHarness(t, video("q1"), v2, art)
	h.videos.results = []result{{err: ErrRateLimited}}
	h.articles.results = []result{{text: "body"}}

	stats := NewRunner(h.rec, h.pacer, PolicyAbortProvider, nil).Run(context.Background(), candidates(video("q1"), v2, art))
	if stats.RateLimited != 1 || stats.Skipped != 1 || stats.Recovered != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	got, _ := h.store.Get(context.Background(), "q2")
	if got.RecoveryAttempted {
		t.Fatalf("skipped record was touched")
	}
}

func TestRunner_StopsWhenCancelled(t *testing.T) {
	h := newHarness(t, video("q1"), video("q2"))
	h.pacer.waitErr = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := NewRunner(h.rec, h.pacer, PolicySkipRecord, nil).Run(ctx, candidates(video("q1"), video("q2")))
	if !stats.Interrupted || stats.Skipped != 2 || stats.Processed() != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunner_StoreFailureCountsAsFailed(t *testing.T) {
	h := newHarness(t, video("q1"))
	h.videos.results = []result{{text: "t"}}
	h.rec.store = failingStore{Store: h.store}
	stats := NewRunner(h.rec, h.pacer, PolicySkipRecord, nil).Run(context.Background(), candidates(video("q1")))
	if stats.Failed != 1 || stats.Recovered != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicySkipRecord {
		t.Fatalf("default policy: %v %v", p, err)
	}
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStats_SuccessRate(t *testing.T) {
	s := Stats{Recovered: 3, Failed: 1}
	if s.SuccessRate() != 75 {
		t.Fatalf("got %v", s.SuccessRate())
	}
	if (Stats{}).SuccessRate() != 0 {
		t.Fatalf("empty stats should be 0")
	}
}
