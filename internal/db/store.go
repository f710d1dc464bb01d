package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"source_recovery/internal/config"
	"source_recovery/internal/logger"
	"source_recovery/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrExists   = errors.New("record already exists")
	// ErrSelectionConflict means a commit touched a record that is missing
	// or already selected; nothing was written.
	ErrSelectionConflict = errors.New("selection conflict")
)

// Tri is an optional boolean filter.
type Tri int

const (
	Any Tri = iota
	Yes
	No
)

func (t Tri) match(v bool) bool {
	switch t {
	case Yes:
		return v
	case No:
		return !v
	}
	return true
}

type Filter struct {
	Dataset       string
	Batch         string
	MissingSource Tri
	Attempted     Tri
	Selected      Tri
}

func (f Filter) Match(r models.QuestionRecord) bool {
	if f.Dataset != "" && r.Dataset != f.Dataset {
		return false
	}
	if f.Batch != "" && r.SelectionBatch != f.Batch {
		return false
	}
	return f.MissingSource.match(r.IsMissingSource()) &&
		f.Attempted.match(r.RecoveryAttempted) &&
		f.Selected.match(r.IsSelectedForResearch)
}

// Store is the authoritative record store. Every method that writes is
// atomic: it either applies all of its fields or none.
type Store interface {
	Get(ctx context.Context, id string) (models.QuestionRecord, error)
	Find(ctx context.Context, f Filter) ([]models.QuestionRecord, error)
	Create(ctx context.Context, r models.QuestionRecord) error
	ApplyRecovery(ctx context.Context, id, text string, at time.Time) error
	CommitSelection(ctx context.Context, ids []string, batch string, at time.Time) error
	ClearSelection(ctx context.Context, batch string) (int, error)
	Close(ctx context.Context) error
}

// Open picks the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.DBConfig, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "mongo", "mongodb":
		return NewMongoDB(ctx, cfg, log)
	case "sqlite":
		return NewSQLite(ctx, cfg.SQLitePath)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
}
