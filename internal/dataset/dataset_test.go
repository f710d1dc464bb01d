package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"source_recovery/internal/db"
	"source_recovery/internal/models"
)

const sample = "\ufeffquestion_id,question_text,domain,question_type,difficulty_level,source_type,source_material,video_id,article_id,video_youtube_link,extra\n" +
	"q1,What is a cell?,Science,mcq,easy,Khan Academy Video,,dQw4w9WgXcQ,,,a\n" +
	"q2,Define slope,Math,open,medium,Khan Academy Article,null,,x7f2_internal,,b\n" +
	"q3,Why art?,Art,open,hard,TED-Ed,\"already, here\",,,https://youtu.be/abcdefghijk,c\n" +
	"q1,dup,Science,mcq,easy,Khan Academy Video,,zzz,,,d\n" +
	",no id,Science,mcq,easy,Khan Academy Video,,zzz,,,e\n"

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "learningq.csv")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRead_MapsRecords(t *testing.T) {
	f, err := Read(writeSample(t))
	if err != nil {
		t.Fatal(err)
	}
	recs := f.Records("learningq")
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	q1, q2, q3 := recs[0], recs[1], recs[2]
	if q1.SourceType != models.SourceVideo || q1.SourceIdentifier != "dQw4w9WgXcQ" || !q1.IsMissingSource() || q1.Dataset != "learningq" {
		t.Fatalf("q1 mapped wrong: %+v", q1)
	}
	if q2.SourceIdentifier != "x7f2_internal" || !q2.IsMissingSource() || q2.SourceMaterial() != "" {
		t.Fatalf("literal null must count as missing: %+v", q2)
	}
	if q3.SourceType != models.SourceTED || q3.SourceMaterial() != "already, here" || q3.IsMissingSource() {
		t.Fatalf("q3 mapped wrong: %+v", q3)
	}
}

func TestParse_MissingColumn(t *testing.T) {
	if _, err := Parse(strings.NewReader("id,text\n1,a\n")); err == nil {
		t.Fatalf("expected missing column error")
	}
}

func TestSync_NeverOverwrites(t *testing.T) {
	ctx := context.Background()
	f, _ := Read(writeSample(t))
	existing := models.NewQuestionRecord("q1", models.SourceVideo, "dQw4w9WgXcQ", "recovered before", "Science")
	store := db.NewMemory(existing)

	stats, err := Sync(ctx, store, f.Records("learningq"))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Created != 2 || stats.Existing != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	q1, _ := store.Get(ctx, "q1")
	if q1.SourceMaterial() != "recovered before" {
		t.Fatalf("sync overwrote store state")
	}
}

func TestWriteRecovered(t *testing.T) {
	ctx := context.Background()
	path := writeSample(t)
	f, _ := Read(path)
	store := db.NewMemory(f.Records("learningq")...)
	if err := store.ApplyRecovery(ctx, "q2", "slope is rise over run", time.Now()); err != nil {
		t.Fatal(err)
	}

	out, merged, err := WriteRecovered(ctx, f, store)
	if err != nil {
		t.Fatal(err)
	}
	if out != strings.TrimSuffix(path, ".csv")+"_recovered.csv" || merged != 1 {
		t.Fatalf("unexpected result %s %d", out, merged)
	}
	back, err := Read(out)
	if err != nil {
		t.Fatal(err)
	}
	if back.Get(1, ColSourceMaterial) != "slope is rise over run" || back.Get(2, ColSourceMaterial) != "already, here" {
		t.Fatalf("merged file wrong: %v", back.Rows)
	}
	if back.Get(0, "extra") != "a" || len(back.Rows) != len(f.Rows) {
		t.Fatalf("extra columns or rows lost")
	}
}

func TestName(t *testing.T) {
	if Name("/data/learningq_expert.csv") != "learningq_expert" {
		t.Fatalf("unexpected name")
	}
}
