package selector

import (
	"sort"
	"strings"

	"source_recovery/internal/config"
	"source_recovery/internal/models"
	"source_recovery/internal/sourceurl"
)

type Options struct {
	// Conservative keeps only candidates scoring at least Scoring.Threshold.
	Conservative bool
	VideosOnly   bool
	SkipVideo    bool
	SkipArticle  bool
	// ForceRetry includes records whose recovery was already attempted.
	ForceRetry bool
	Limit      int
	Scoring    config.ScoringConfig
}

type Candidate struct {
	Record   models.QuestionRecord
	Score    float64
	Position int
}

// Score estimates how likely a record's source can be recovered, in
// [0,1]. Zero means not recoverable.
func Score(r models.QuestionRecord, w config.ScoringConfig) float64 {
	if !r.HasIdentifier() {
		return 0
	}
	id := strings.TrimSpace(r.SourceIdentifier)
	var s float64
	switch r.SourceType {
	case models.SourceVideo:
		s = w.VideoBase
		if sourceurl.IsCanonicalVideoID(id) {
			s += w.VideoIDBonus
		}
	case models.SourceTED:
		s = w.LinkBase
		if sourceurl.ContainsAny(id, w.LinkHostMarkers) {
			s += w.LinkHostBonus
		}
	case models.SourceArticle:
		s = w.ArticleBase
		if strings.HasPrefix(id, w.OpaquePrefix) && strings.Contains(id, w.OpaqueSeparator) {
			s -= w.ArticlePenalty
		}
	}
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// SelectCandidates ranks the records worth a recovery attempt, highest
// score first. Ties keep input order.
func SelectCandidates(records []models.QuestionRecord, opts Options) []Candidate {
	var out []Candidate
	for _, r := range records {
		if !models.IsMissingText(r.SourceMaterial()) {
			continue
		}
		if r.RecoveryAttempted && !opts.ForceRetry {
			continue
		}
		provider := r.SourceType.Provider()
		if opts.VideosOnly && provider != models.ProviderTranscript {
			continue
		}
		if opts.SkipVideo && provider == models.ProviderTranscript {
			continue
		}
		if opts.SkipArticle && provider == models.ProviderArticle {
			continue
		}
		s := Score(r, opts.Scoring)
		if s <= 0 {
			continue
		}
		if opts.Conservative && s < opts.Scoring.Threshold {
			continue
		}
		out = append(out, Candidate{Record: r, Score: s})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

type TypeSummary struct {
	SourceType models.SourceType
	Count      int
	MeanScore  float64
}

type Analysis struct {
	Total  int
	ByType []TypeSummary
	// HighConfidence counts candidates at or above the threshold.
	HighConfidence int
}

func Analyze(cands []Candidate, threshold float64) Analysis {
	a := Analysis{Total: len(cands)}
	idx := map[models.SourceType]int{}
	for _, c := range cands {
		i, ok := idx[c.Record.SourceType]
		if !ok {
			i = len(a.ByType)
			idx[c.Record.SourceType] = i
			a.ByType = append(a.ByType, TypeSummary{SourceType: c.Record.SourceType})
		}
		a.ByType[i].Count++
		a.ByType[i].MeanScore += c.Score
		if c.Score >= threshold {
			a.HighConfidence++
		}
	}
	for i := range a.ByType {
		a.ByType[i].MeanScore /= float64(a.ByType[i].Count)
	}
	sort.Slice(a.ByType, func(i, j int) bool {
		if a.ByType[i].Count != a.ByType[j].Count {
			return a.ByType[i].Count > a.ByType[j].Count
		}
		return a.ByType[i].SourceType < a.ByType[j].SourceType
	})
	return a
}
