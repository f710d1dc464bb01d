package models

import (
	"strings"
	"time"
)

type SourceType string

const (
	SourceVideo   SourceType = "Khan Academy Video"
	SourceTED     SourceType = "TED-Ed"
	SourceArticle SourceType = "Khan Academy Article"
	SourceOther   SourceType = "Other"
)

// ParseSourceType maps a dataset label onto a SourceType. Unknown labels
// become SourceOther.
func ParseSourceType(label string) SourceType {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "khan academy video", "video":
		return SourceVideo
	case "ted-ed", "ted", "teded":
		return SourceTED
	case "khan academy article", "article":
		return SourceArticle
	default:
		return SourceOther
	}
}

// Provider names the upstream service a source type is recovered from.
func (s SourceType) Provider() string {
	switch s {
	case SourceVideo, SourceTED:
		return ProviderTranscript
	case SourceArticle:
		return ProviderArticle
	default:
		return ""
	}
}

const (
	ProviderTranscript = "transcript"
	ProviderArticle    = "article"
)

// SourceRef is the identifier a recovery strategy needs, narrowed to the
// shape of its source type.
type SourceRef interface {
	Kind() SourceType
}

type VideoRef struct{ ID string }
type LinkRef struct{ URL string }
type ArticleRef struct{ ID string }

func (VideoRef) Kind() SourceType   { return SourceVideo }
func (LinkRef) Kind() SourceType    { return SourceTED }
func (ArticleRef) Kind() SourceType { return SourceArticle }

// IsMissingText reports whether s counts as absent source material.
// The literal "null" shows up in imported datasets and means the same as
// an empty cell.
func IsMissingText(s string) bool {
	t := strings.TrimSpace(s)
	return t == "" || strings.EqualFold(t, "null")
}

type QuestionRecord struct {
	ID               string
	Dataset          string
	QuestionText     string
	QuestionType     string
	SourceType       SourceType
	SourceIdentifier string
	Domain           string
	Difficulty       string

	sourceMaterial string

	RecoveryAttempted bool
	RecoveryDate      *time.Time

	IsSelectedForResearch bool
	SelectionBatch        string
	SelectionDate         *time.Time
}

// NewQuestionRecord builds a record with its source text normalized.
func NewQuestionRecord(id string, sourceType SourceType, identifier, material, domain string) QuestionRecord {
	r := QuestionRecord{
		ID:               id,
		SourceType:       sourceType,
		SourceIdentifier: strings.TrimSpace(identifier),
		Domain:           domain,
	}
	r.SetSourceMaterial(material)
	return r
}

// SetSourceMaterial is the only way to change the text. Missing-text
// markers are normalized to "".
func (r *QuestionRecord) SetSourceMaterial(text string) {
	if IsMissingText(text) {
		text = ""
	}
	r.sourceMaterial = text
}

func (r QuestionRecord) SourceMaterial() string { return r.sourceMaterial }

// IsMissingSource is derived from the text on every call and cannot be
// set on its own.
func (r QuestionRecord) IsMissingSource() bool { return r.sourceMaterial == "" }

// HasIdentifier reports whether a usable source identifier is present.
func (r QuestionRecord) HasIdentifier() bool {
	return !IsMissingText(r.SourceIdentifier) && !strings.EqualFold(strings.TrimSpace(r.SourceIdentifier), "nan")
}

// SourceRef returns the tagged identifier for the record's source type,
// or nil when the type is not recoverable or the identifier is absent.
func (r QuestionRecord) SourceRef() SourceRef {
	if !r.HasIdentifier() {
		return nil
	}
	switch r.SourceType {
	case SourceVideo:
		return VideoRef{ID: r.SourceIdentifier}
	case SourceTED:
		return LinkRef{URL: r.SourceIdentifier}
	case SourceArticle:
		return ArticleRef{ID: r.SourceIdentifier}
	}
	return nil
}

type Outcome string

const (
	OutcomeRecovered   Outcome = "recovered"
	OutcomeFailed      Outcome = "failed"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeSkipped     Outcome = "skipped"
)

// RecoveryAttempt is one strategy call for one record. Not persisted.
type RecoveryAttempt struct {
	RecordID            string
	Strategy            string
	Number              int
	Outcome             Outcome
	CharactersRecovered int
	Err                 error
}

type RecoveryOutcome struct {
	Text     string
	Outcome  Outcome
	Attempts []RecoveryAttempt
}
