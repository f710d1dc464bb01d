package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"source_recovery/internal/models"
)

// Memory keeps records in a map. Dry runs copy the real store into one so
// nothing leaks back.
type Memory struct {
	mu      sync.Mutex
	records map[string]models.QuestionRecord
}

func NewMemory(records ...models.QuestionRecord) *Memory {
	m := &Memory{records: make(map[string]models.QuestionRecord, len(records))}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return m
}

// Snapshot copies every record of src into a new Memory store.
func Snapshot(ctx context.Context, src Store) (*Memory, error) {
	all, err := src.Find(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return NewMemory(all...), nil
}

func (m *Memory) Get(_ context.Context, id string) (models.QuestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return models.QuestionRecord{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) Find(_ context.Context, f Filter) ([]models.QuestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QuestionRecord
	for _, r := range m.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Create(_ context.Context, r models.QuestionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return ErrExists
	}
	m.records[r.ID] = r
	return nil
}

func (m *Memory) ApplyRecovery(_ context.Context, id, text string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.ApplyRecovery(text, at)
	m.records[id] = r
	return nil
}

func (m *Memory) CommitSelection(_ context.Context, ids []string, batch string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		r, ok := m.records[id]
		if !ok || r.IsSelectedForResearch {
			return fmt.Errorf("%w: %s", ErrSelectionConflict, id)
		}
	}
	for _, id := range ids {
		r := m.records[id]
		r.Select(batch, at)
		m.records[id] = r
	}
	return nil
}

func (m *Memory) ClearSelection(_ context.Context, batch string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.records {
		if !r.IsSelectedForResearch || (batch != "" && r.SelectionBatch != batch) {
			continue
		}
		r.ClearSelection()
		m.records[id] = r
		n++
	}
	return n, nil
}

func (m *Memory) Close(context.Context) error { return nil }
