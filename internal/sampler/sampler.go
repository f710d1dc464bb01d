package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"source_recovery/internal/db"
	"source_recovery/internal/models"
)

type Mode string

const (
	Proportional Mode = "proportional"
	Equal        Mode = "equal"
)

const UnknownDomain = "Unknown"

var ErrNoEligible = errors.New("no eligible records")

type Options struct {
	TargetSize      int
	Mode            Mode
	MinSourceLength int
	// Seed makes the draw reproducible. Nil draws a fresh seed, which is
	// reported back in Plan.Seed.
	Seed *int64
	// Domains restricts the pool; empty means every domain.
	Domains []string
	// IncludeSelected treats already-selected records as eligible, for
	// runs that clear the existing selection before committing.
	IncludeSelected bool
}

type DomainAllocation struct {
	Domain    string
	Available int
	Planned   int
	Selected  int
	Shortfall int
}

type Plan struct {
	Target      int
	Mode        Mode
	Seed        int64
	MinLength   int
	Eligible    int
	Allocations []DomainAllocation
	Selected    []models.QuestionRecord
	Warnings    []string
}

func (p *Plan) HasShortfall() bool {
	for _, a := range p.Allocations {
		if a.Shortfall > 0 {
			return true
		}
	}
	return false
}

func (p *Plan) IDs() []string {
	ids := make([]string, len(p.Selected))
	for i, r := range p.Selected {
		ids[i] = r.ID
	}
	return ids
}

// ValidationError lists every reason a plan cannot be committed.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "sample validation failed: " + strings.Join(e.Issues, "; ")
}

func domainOf(r models.QuestionRecord) string {
	if d := strings.TrimSpace(r.Domain); d != "" {
		return d
	}
	return UnknownDomain
}

func longEnough(r models.QuestionRecord, min int) bool {
	return !r.IsMissingSource() && utf8.RuneCountInString(strings.TrimSpace(r.SourceMaterial())) >= min
}

// NewPlan draws a stratified sample from pool without touching any store.
// Domains short of their allocation give what they have; the gap is
// reported as a warning and not filled from other domains.
func NewPlan(pool []models.QuestionRecord, opts Options) (*Plan, error) {
	if opts.TargetSize <= 0 {
		return nil, fmt.Errorf("target size must be positive, got %d", opts.TargetSize)
	}
	if opts.Mode == "" {
		opts.Mode = Proportional
	}
	if opts.Mode != Proportional && opts.Mode != Equal {
		return nil, fmt.Errorf("unknown sampling mode %q", opts.Mode)
	}

	want := map[string]bool{}
	for _, d := range opts.Domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			want[d] = true
		}
	}

	byDomain := map[string][]models.QuestionRecord{}
	eligible := 0
	for _, r := range pool {
		if r.IsSelectedForResearch && !opts.IncludeSelected {
			continue
		}
		if !longEnough(r, opts.MinSourceLength) {
			continue
		}
		d := domainOf(r)
		if len(want) > 0 && !want[strings.ToLower(d)] {
			continue
		}
		byDomain[d] = append(byDomain[d], r)
		eligible++
	}
	if eligible == 0 {
		return nil, ErrNoEligible
	}

	domains := make([]string, 0, len(byDomain))
	for d, rs := range byDomain {
		domains = append(domains, d)
		sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
	}
	sort.Strings(domains)

	seed := time.Now().UnixNano()
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	plan := &Plan{
		Target:    opts.TargetSize,
		Mode:      opts.Mode,
		Seed:      seed,
		MinLength: opts.MinSourceLength,
		Eligible:  eligible,
	}

	avail := make([]int, len(domains))
	for i, d := range domains {
		avail[i] = len(byDomain[d])
	}
	var planned []int
	if opts.Mode == Equal {
		planned = allocateEqual(opts.TargetSize, avail)
	} else {
		planned = allocateProportional(opts.TargetSize, avail)
	}

	rng := rand.New(rand.NewSource(seed))
	for i, d := range domains {
		rs := byDomain[d]
		take := planned[i]
		if take > len(rs) {
			take = len(rs)
		}
		for _, j := range rng.Perm(len(rs))[:take] {
			plan.Selected = append(plan.Selected, rs[j])
		}
		a := DomainAllocation{Domain: d, Available: len(rs), Planned: planned[i], Selected: take, Shortfall: planned[i] - take}
		if a.Shortfall > 0 {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("%s: planned %d but only %d eligible; shortfall of %d not redistributed", d, a.Planned, a.Available, a.Shortfall))
		}
		plan.Allocations = append(plan.Allocations, a)
	}
	return plan, nil
}

// byAvailability orders domain indexes by descending availability, ties
// by position, which is alphabetical.
func byAvailability(avail []int) []int {
	order := make([]int, len(avail))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return avail[order[a]] > avail[order[b]] })
	return order
}

func allocateEqual(target int, avail []int) []int {
	n := len(avail)
	out := make([]int, n)
	base := target / n
	for i := range out {
		out[i] = base
	}
	order := byAvailability(avail)
	for k := 0; k < target%n; k++ {
		out[order[k]]++
	}
	return out
}

func allocateProportional(target int, avail []int) []int {
	total := 0
	for _, a := range avail {
		total += a
	}
	out := make([]int, len(avail))
	sum := 0
	for i, a := range avail {
		out[i] = target * a / total
		sum += out[i]
	}
	order := byAvailability(avail)
	for k := 0; sum < target; k++ {
		out[order[k%len(order)]]++
		sum++
	}
	return out
}

// SelectSample draws and validates a sample, returning the records to
// mark.
func SelectSample(pool []models.QuestionRecord, opts Options) ([]models.QuestionRecord, error) {
	p, err := NewPlan(pool, opts)
	if err != nil {
		return nil, err
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p.Selected, nil
}

// Validate checks the plan before anything is written.
func Validate(p *Plan) error {
	var issues []string
	seen := map[string]bool{}
	for _, r := range p.Selected {
		if seen[r.ID] {
			issues = append(issues, "duplicate record "+r.ID)
		}
		seen[r.ID] = true
		if !longEnough(r, p.MinLength) {
			issues = append(issues, fmt.Sprintf("record %s has less than %d characters of source", r.ID, p.MinLength))
		}
	}
	if !p.HasShortfall() && len(p.Selected) != p.Target {
		issues = append(issues, fmt.Sprintf("selected %d records, target was %d", len(p.Selected), p.Target))
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Commit validates the plan, optionally clears every existing selection,
// then marks the plan's records as one batch. Each store step is atomic
// and the clear completes before the commit starts.
func Commit(ctx context.Context, store db.Store, p *Plan, batch string, clearExisting bool, at time.Time) (cleared int, err error) {
	if err := Validate(p); err != nil {
		return 0, err
	}
	if strings.TrimSpace(batch) == "" {
		return 0, errors.New("batch name is required")
	}
	if clearExisting {
		if cleared, err = store.ClearSelection(ctx, ""); err != nil {
			return 0, fmt.Errorf("clear existing selection: %w", err)
		}
	}
	if err := store.CommitSelection(ctx, p.IDs(), batch, at); err != nil {
		return cleared, fmt.Errorf("commit selection %s: %w", batch, err)
	}
	return cleared, nil
}
