package models

import "time"

// RecordDocument is the stored shape of a QuestionRecord. IsMissingSource
// is written for queries but never read back as truth.
type RecordDocument struct {
	ID                    string     `bson:"question_id"`
	Dataset               string     `bson:"dataset"`
	QuestionText          string     `bson:"question_text"`
	QuestionType          string     `bson:"question_type"`
	SourceType            string     `bson:"source_type"`
	SourceIdentifier      string     `bson:"source_identifier"`
	SourceMaterial        string     `bson:"source_material"`
	IsMissingSource       bool       `bson:"is_missing_source"`
	Domain                string     `bson:"domain"`
	Difficulty            string     `bson:"difficulty_level"`
	RecoveryAttempted     bool       `bson:"source_recovery_attempted"`
	RecoveryDate          *time.Time `bson:"source_recovery_date,omitempty"`
	IsSelectedForResearch bool       `bson:"is_selected_for_research"`
	SelectionBatch        string     `bson:"selection_batch"`
	SelectionDate         *time.Time `bson:"selection_date,omitempty"`
}

func ToDocument(r QuestionRecord) RecordDocument {
	return RecordDocument{
		ID:                    r.ID,
		Dataset:               r.Dataset,
		QuestionText:          r.QuestionText,
		QuestionType:          r.QuestionType,
		SourceType:            string(r.SourceType),
		SourceIdentifier:      r.SourceIdentifier,
		SourceMaterial:        r.SourceMaterial(),
		IsMissingSource:       r.IsMissingSource(),
		Domain:                r.Domain,
		Difficulty:            r.Difficulty,
		RecoveryAttempted:     r.RecoveryAttempted,
		RecoveryDate:          r.RecoveryDate,
		IsSelectedForResearch: r.IsSelectedForResearch,
		SelectionBatch:        r.SelectionBatch,
		SelectionDate:         r.SelectionDate,
	}
}

func (d RecordDocument) Record() QuestionRecord {
	r := QuestionRecord{
		ID:                    d.ID,
		Dataset:               d.Dataset,
		QuestionText:          d.QuestionText,
		QuestionType:          d.QuestionType,
		SourceType:            SourceType(d.SourceType),
		SourceIdentifier:      d.SourceIdentifier,
		Domain:                d.Domain,
		Difficulty:            d.Difficulty,
		RecoveryAttempted:     d.RecoveryAttempted,
		RecoveryDate:          d.RecoveryDate,
		IsSelectedForResearch: d.IsSelectedForResearch,
		SelectionBatch:        d.SelectionBatch,
		SelectionDate:         d.SelectionDate,
	}
	r.SetSourceMaterial(d.SourceMaterial)
	return r
}

// ApplyRecovery records the result of a recovery run. An empty text marks
// the record as still missing.
func (r *QuestionRecord) ApplyRecovery(text string, at time.Time) {
	r.SetSourceMaterial(text)
	r.RecoveryAttempted = true
	t := at
	r.RecoveryDate = &t
}

func (r *QuestionRecord) Select(batch string, at time.Time) {
	r.IsSelectedForResearch = true
	r.SelectionBatch = batch
	t := at
	r.SelectionDate = &t
}

func (r *QuestionRecord) ClearSelection() {
	r.IsSelectedForResearch = false
	r.SelectionBatch = ""
	r.SelectionDate = nil
}
