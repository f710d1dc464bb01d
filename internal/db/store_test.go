package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"source_recovery/internal/logger"
	"source_recovery/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func seed() []models.QuestionRecord {
	a := models.NewQuestionRecord("q1", models.SourceVideo, "dQw4w9WgXcQ", "", "Science")
	a.Dataset = "LearningQ"
	b := models.NewQuestionRecord("q2", models.SourceArticle, "x7f2_internal", "null", "Math")
	b.Dataset = "LearningQ"
	c := models.NewQuestionRecord("q3", models.SourceTED, "https://youtu.be/abcdefghijk", "already here", "Science")
	c.Dataset = "Other"
	return []models.QuestionRecord{c, a, b}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	sq, err := NewSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { sq.Close(ctx) })
	out := map[string]Store{"memory": NewMemory(), "sqlite": sq}
	for name, s := range out {
		for _, r := range seed() {
			if err := s.Create(ctx, r); err != nil {
				t.Fatalf("%s create %s: %v", name, r.ID, err)
			}
		}
	}
	return out
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		r, err := s.Get(ctx, "q2")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !r.IsMissingSource() || r.SourceType != models.SourceArticle || r.SourceIdentifier != "x7f2_internal" {
			t.Fatalf("%s: unexpected record %+v", name, r)
		}
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
		if err := s.Create(ctx, r); !errors.Is(err, ErrExists) {
			t.Fatalf("%s: expected ErrExists, got %v", name, err)
		}
	}
}

func TestStore_FindFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		all, err := s.Find(ctx, Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 || all[0].ID != "q1" || all[2].ID != "q3" {
			t.Fatalf("%s: expected ordered ids, got %v", name, ids(all))
		}
		missing, _ := s.Find(ctx, Filter{MissingSource: Yes, Dataset: "LearningQ"})
		if len(missing) != 2 {
			t.Fatalf("%s: expected 2 missing, got %v", name, ids(missing))
		}
		present, _ := s.Find(ctx, Filter{MissingSource: No})
		if len(present) != 1 || present[0].ID != "q3" {
			t.Fatalf("%s: expected q3, got %v", name, ids(present))
		}
	}
}

func TestStore_ApplyRecoveryKeepsFlagInStep(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		if err := s.ApplyRecovery(ctx, "q1", "recovered transcript", at); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := s.ApplyRecovery(ctx, "q2", "", at); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		q1, _ := s.Get(ctx, "q1")
		q2, _ := s.Get(ctx, "q2")
		if q1.IsMissingSource() || q1.SourceMaterial() != "recovered transcript" || !q1.RecoveryAttempted {
			t.Fatalf("%s: q1 not updated: %+v", name, q1)
		}
		if !q2.IsMissingSource() || !q2.RecoveryAttempted || q2.RecoveryDate == nil || !q2.RecoveryDate.Equal(at) {
			t.Fatalf("%s: q2 bookkeeping wrong: %+v", name, q2)
		}
		attempted, _ := s.Find(ctx, Filter{Attempted: Yes})
		if len(attempted) != 2 {
			t.Fatalf("%s: expected 2 attempted, got %v", name, ids(attempted))
		}
		if err := s.ApplyRecovery(ctx, "ghost", "x", at); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestStore_CommitSelectionIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		err := s.CommitSelection(ctx, []string{"q1", "ghost"}, "b1", at)
		if !errors.Is(err, ErrSelectionConflict) {
			t.Fatalf("%s: expected conflict, got %v", name, err)
		}
		if sel, _ := s.Find(ctx, Filter{Selected: Yes}); len(sel) != 0 {
			t.Fatalf("%s: partial commit leaked: %v", name, ids(sel))
		}

		if err := s.CommitSelection(ctx, []string{"q1", "q3"}, "b1", at); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := s.CommitSelection(ctx, []string{"q2", "q3"}, "b2", at); !errors.Is(err, ErrSelectionConflict) {
			t.Fatalf("%s: record in two batches allowed: %v", name, err)
		}
		q2, _ := s.Get(ctx, "q2")
		if q2.IsSelectedForResearch {
			t.Fatalf("%s: q2 selected despite rollback", name)
		}
		batch, _ := s.Find(ctx, Filter{Batch: "b1"})
		if len(batch) != 2 || batch[0].SelectionDate == nil {
			t.Fatalf("%s: unexpected batch %v", name, ids(batch))
		}
	}
}

func TestStore_ClearSelection(t *testing.T) {
	ctx := context.Background()
	at := time.Now().UTC()
	for name, s := range backends(t) {
		if err := s.CommitSelection(ctx, []string{"q1"}, "b1", at); err != nil {
			t.Fatal(err)
		}
		if err := s.CommitSelection(ctx, []string{"q2"}, "b2", at); err != nil {
			t.Fatal(err)
		}
		n, err := s.ClearSelection(ctx, "b1")
		if err != nil || n != 1 {
			t.Fatalf("%s: cleared %d, err %v", name, n, err)
		}
		q1, _ := s.Get(ctx, "q1")
		if q1.IsSelectedForResearch || q1.SelectionBatch != "" || q1.SelectionDate != nil {
			t.Fatalf("%s: q1 not cleared: %+v", name, q1)
		}
		n, _ = s.ClearSelection(ctx, "")
		if n != 1 {
			t.Fatalf("%s: expected to clear remaining 1, got %d", name, n)
		}
	}
}

func TestSnapshotIsolatesWrites(t *testing.T) {
	ctx := context.Background()
	src := NewMemory(seed()...)
	snap, err := Snapshot(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if err := snap.ApplyRecovery(ctx, "q1", "text", time.Now()); err != nil {
		t.Fatal(err)
	}
	orig, _ := src.Get(ctx, "q1")
	if orig.RecoveryAttempted {
		t.Fatalf("snapshot write leaked into source store")
	}
}

func TestMongoFilter(t *testing.T) {
	got := mongoFilter(Filter{Dataset: "d", MissingSource: Yes, Selected: No})
	want := bson.M{"dataset": "d", "is_missing_source": true, "is_selected_for_research": false}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %s: got %v want %v", k, got[k], v)
		}
	}
}

func TestMongoDB_IndexConflictIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	d := &MongoDB{log: &logger.Logger{SugaredLogger: zap.New(core).Sugar()}}
	keys := bson.D{{Key: "question_id", Value: 1}}

	conflict := mongo.CommandError{Code: 85, Message: "Index with name: question_id_1 already exists with different options"}
	if !d.keepExistingIndex(conflict, keys) {
		t.Fatalf("index options conflict must keep the existing index")
	}
	if logs.Len() != 1 || logs.All()[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warning, got %v", logs.All())
	}

	if d.keepExistingIndex(mongo.CommandError{Code: 13, Message: "unauthorized"}, keys) {
		t.Fatalf("other command errors must fail index creation")
	}
	if d.keepExistingIndex(errors.New("network"), keys) {
		t.Fatalf("plain errors must fail index creation")
	}
	if logs.Len() != 1 {
		t.Fatalf("unexpected extra log entries %v", logs.All())
	}
}

func ids(rs []models.QuestionRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
