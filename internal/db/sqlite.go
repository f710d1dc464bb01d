package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"source_recovery/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS expert_questions (
	question_id               TEXT PRIMARY KEY,
	dataset                   TEXT NOT NULL DEFAULT '',
	question_text             TEXT NOT NULL DEFAULT '',
	question_type             TEXT NOT NULL DEFAULT '',
	source_type               TEXT NOT NULL DEFAULT '',
	source_identifier         TEXT NOT NULL DEFAULT '',
	source_material           TEXT NOT NULL DEFAULT '',
	is_missing_source         INTEGER NOT NULL DEFAULT 1,
	domain                    TEXT NOT NULL DEFAULT '',
	difficulty_level          TEXT NOT NULL DEFAULT '',
	source_recovery_attempted INTEGER NOT NULL DEFAULT 0,
	source_recovery_date      INTEGER,
	is_selected_for_research  INTEGER NOT NULL DEFAULT 0,
	selection_batch           TEXT NOT NULL DEFAULT '',
	selection_date            INTEGER
);
CREATE INDEX IF NOT EXISTS idx_questions_missing ON expert_questions(is_missing_source);
CREATE INDEX IF NOT EXISTS idx_questions_batch ON expert_questions(selection_batch);
`

const sqliteColumns = `question_id, dataset, question_text, question_type, source_type,
	source_identifier, source_material, domain, difficulty_level,
	source_recovery_attempted, source_recovery_date,
	is_selected_for_research, selection_batch, selection_date`

type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

func nanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (models.QuestionRecord, error) {
	var (
		d                 models.RecordDocument
		recDate, selDate  sql.NullInt64
		attempted, chosen int
	)
	err := s.Scan(&d.ID, &d.Dataset, &d.QuestionText, &d.QuestionType, &d.SourceType,
		&d.SourceIdentifier, &d.SourceMaterial, &d.Domain, &d.Difficulty,
		&attempted, &recDate, &chosen, &d.SelectionBatch, &selDate)
	if err != nil {
		return models.QuestionRecord{}, err
	}
	d.RecoveryAttempted = attempted != 0
	d.IsSelectedForResearch = chosen != 0
	d.RecoveryDate = fromNanos(recDate)
	d.SelectionDate = fromNanos(selDate)
	return d.Record(), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLite) Get(ctx context.Context, id string) (models.QuestionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM expert_questions WHERE question_id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QuestionRecord{}, ErrNotFound
	}
	return r, err
}

func triClause(col string, t Tri, where *[]string) {
	switch t {
	case Yes:
		*where = append(*where, col+" = 1")
	case No:
		*where = append(*where, col+" = 0")
	}
}

func (s *SQLite) Find(ctx context.Context, f Filter) ([]models.QuestionRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Dataset != "" {
		where = append(where, "dataset = ?")
		args = append(args, f.Dataset)
	}
	if f.Batch != "" {
		where = append(where, "selection_batch = ?")
		args = append(args, f.Batch)
	}
	triClause("is_missing_source", f.MissingSource, &where)
	triClause("source_recovery_attempted", f.Attempted, &where)
	triClause("is_selected_for_research", f.Selected, &where)

	q := `SELECT ` + sqliteColumns + ` FROM expert_questions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY question_id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find questions: %w", err)
	}
	defer rows.Close()

	var out []models.QuestionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Create(ctx context.Context, r models.QuestionRecord) error {
	if _, err := s.Get(ctx, r.ID); err == nil {
		return ErrExists
	}
	d := models.ToDocument(r)
	_, err := s.db.ExecContext(ctx, `INSERT INTO expert_questions (`+sqliteColumns+`, is_missing_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Dataset, d.QuestionText, d.QuestionType, d.SourceType,
		d.SourceIdentifier, d.SourceMaterial, d.Domain, d.Difficulty,
		boolInt(d.RecoveryAttempted), nanos(d.RecoveryDate),
		boolInt(d.IsSelectedForResearch), d.SelectionBatch, nanos(d.SelectionDate),
		boolInt(d.IsMissingSource))
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLite) ApplyRecovery(ctx context.Context, id, text string, at time.Time) error {
	r := models.QuestionRecord{}
	r.ApplyRecovery(text, at)
	res, err := s.db.ExecContext(ctx, `UPDATE expert_questions
		SET source_material = ?, is_missing_source = ?, source_recovery_attempted = 1, source_recovery_date = ?
		WHERE question_id = ?`,
		r.SourceMaterial(), boolInt(r.IsMissingSource()), nanos(r.RecoveryDate), id)
	if err != nil {
		return fmt.Errorf("apply recovery %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) CommitSelection(ctx context.Context, ids []string, batch string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := at.UnixNano()
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE expert_questions
			SET is_selected_for_research = 1, selection_batch = ?, selection_date = ?
			WHERE question_id = ? AND is_selected_for_research = 0`, batch, ts, id)
		if err != nil {
			return fmt.Errorf("select %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("%w: %s", ErrSelectionConflict, id)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ClearSelection(ctx context.Context, batch string) (int, error) {
	q := `UPDATE expert_questions SET is_selected_for_research = 0, selection_batch = '', selection_date = NULL
		WHERE is_selected_for_research = 1`
	var args []any
	if batch != "" {
		q += " AND selection_batch = ?"
		args = append(args, batch)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("clear selection: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

func (s *SQLite) Close(context.Context) error {
	return s.db.Close()
}
