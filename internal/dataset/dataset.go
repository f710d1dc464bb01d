package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"source_recovery/internal/db"
	"source_recovery/internal/models"
)

const (
	ColID             = "question_id"
	ColQuestionText   = "question_text"
	ColDomain         = "domain"
	ColQuestionType   = "question_type"
	ColDifficulty     = "difficulty_level"
	ColSourceType     = "source_type"
	ColSourceMaterial = "source_material"
	ColVideoID        = "video_id"
	ColArticleID      = "article_id"
	ColVideoLink      = "video_youtube_link"
)

// File is a dataset CSV kept whole, so a recovered copy can be written
// back with all of its columns.
type File struct {
	Path   string
	Header []string
	Rows   [][]string
	idx    map[string]int
}

func Read(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

func Parse(r io.Reader) (*File, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	f := &File{Header: hdr, idx: map[string]int{}}
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
			f.Header[0] = h
		}
		f.idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range []string{ColID, ColSourceType} {
		if _, ok := f.idx[k]; !ok {
			return nil, errors.New("missing column: " + k)
		}
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		f.Rows = append(f.Rows, rec)
	}
	return f, nil
}

// Get returns the trimmed cell or "" when the column or cell is absent.
func (f *File) Get(row int, col string) string {
	i, ok := f.idx[col]
	if !ok || i >= len(f.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(f.Rows[row][i])
}

func (f *File) set(row int, col, v string) {
	i, ok := f.idx[col]
	if !ok {
		i = len(f.Header)
		f.Header = append(f.Header, col)
		f.idx[col] = i
	}
	for len(f.Rows[row]) <= i {
		f.Rows[row] = append(f.Rows[row], "")
	}
	f.Rows[row][i] = v
}

func blank(s string) bool {
	return models.IsMissingText(s) || strings.EqualFold(s, "nan")
}

// Identifier picks the column that addresses a source of the given type.
// Unknown types fall back to the first non-blank identifier column.
func (f *File) Identifier(row int, st models.SourceType) string {
	var cols []string
	switch st {
	case models.SourceVideo:
		cols = []string{ColVideoID}
	case models.SourceArticle:
		cols = []string{ColArticleID}
	case models.SourceTED:
		cols = []string{ColVideoLink}
	default:
		cols = []string{ColVideoID, ColArticleID, ColVideoLink}
	}
	for _, c := range cols {
		if v := f.Get(row, c); !blank(v) {
			return v
		}
	}
	return ""
}

// Record maps one row onto a QuestionRecord.
func (f *File) Record(row int, dataset string) models.QuestionRecord {
	st := models.ParseSourceType(f.Get(row, ColSourceType))
	r := models.NewQuestionRecord(f.Get(row, ColID), st, f.Identifier(row, st), f.Get(row, ColSourceMaterial), f.Get(row, ColDomain))
	r.Dataset = dataset
	r.QuestionText = f.Get(row, ColQuestionText)
	r.QuestionType = f.Get(row, ColQuestionType)
	r.Difficulty = f.Get(row, ColDifficulty)
	return r
}

// Records maps every row with a question id. Later duplicates of an id
// are dropped.
func (f *File) Records(dataset string) []models.QuestionRecord {
	seen := map[string]bool{}
	var out []models.QuestionRecord
	for i := range f.Rows {
		r := f.Record(i, dataset)
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

// Name is the dataset name derived from the file name.
func Name(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func RecoveredPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_recovered.csv"
}

type SyncStats struct {
	Created  int
	Existing int
}

// Sync creates store records for rows the store does not know yet. Records
// already in the store are left exactly as they are.
func Sync(ctx context.Context, store db.Store, records []models.QuestionRecord) (SyncStats, error) {
	var s SyncStats
	for _, r := range records {
		_, err := store.Get(ctx, r.ID)
		switch {
		case err == nil:
			s.Existing++
		case errors.Is(err, db.ErrNotFound):
			if err := store.Create(ctx, r); err != nil && !errors.Is(err, db.ErrExists) {
				return s, fmt.Errorf("create %s: %w", r.ID, err)
			}
			s.Created++
		default:
			return s, fmt.Errorf("lookup %s: %w", r.ID, err)
		}
	}
	return s, nil
}

// Merge copies recovered text from the store into rows whose source
// material is missing. It returns how many rows changed.
func Merge(ctx context.Context, f *File, store db.Store) (int, error) {
	merged := 0
	for i := range f.Rows {
		id := f.Get(i, ColID)
		if id == "" || !blank(f.Get(i, ColSourceMaterial)) {
			continue
		}
		r, err := store.Get(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return merged, fmt.Errorf("lookup %s: %w", id, err)
		}
		if r.IsMissingSource() {
			continue
		}
		f.set(i, ColSourceMaterial, r.SourceMaterial())
		merged++
	}
	return merged, nil
}

func (f *File) Write(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(fh)
	if err := w.Write(f.Header); err != nil {
		fh.Close()
		return err
	}
	if err := w.WriteAll(f.Rows); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// WriteRecovered merges store text into f and writes the result next to
// the source file as <name>_recovered.csv.
func WriteRecovered(ctx context.Context, f *File, store db.Store) (string, int, error) {
	merged, err := Merge(ctx, f, store)
	if err != nil {
		return "", 0, err
	}
	out := RecoveredPath(f.Path)
	if err := f.Write(out); err != nil {
		return "", merged, fmt.Errorf("write %s: %w", out, err)
	}
	return out, merged, nil
}
