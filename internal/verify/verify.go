package verify

import (
	"fmt"
	"sort"
	"strings"

	"source_recovery/internal/dataset"
	"source_recovery/internal/models"
)

type TypeStats struct {
	SourceType  models.SourceType
	Total       int
	Complete    int
	Missing     int
	Recoverable int
}

type FileStats struct {
	Path     string
	Total    int
	Complete int
	Missing  int
	ByType   []TypeStats
}

type DomainStats struct {
	Domain   string
	Total    int
	Complete int
	Selected int
}

func (d DomainStats) CompletionRate() float64 { return percent(d.Complete, d.Total) }

type StoreStats struct {
	Total      int
	Complete   int
	Missing    int
	Attempted  int
	Successful int
	Failed     int
	Selected   int
	ByDomain   []DomainStats
	// Anomalies describe bookkeeping that should not exist, such as a
	// selected record without a batch name.
	Anomalies []string
}

type CrossRef struct {
	InBoth    int
	StoreOnly int
	// StoreInconsistency counts file records the store has never seen.
	StoreInconsistency int
	FileOnlyIDs        []string
	RecoveredInStore   int
	TextMismatch       int
}

type Report struct {
	File            *FileStats
	Store           StoreStats
	Cross           *CrossRef
	Recommendations []string
}

func percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

func typeOrder(m map[models.SourceType]*TypeStats) []TypeStats {
	out := make([]TypeStats, 0, len(m))
	for _, t := range m {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].SourceType < out[j].SourceType
	})
	return out
}

// File counts complete and missing rows per source type. A missing row is
// recoverable when it carries an identifier for its type.
func File(f *dataset.File) FileStats {
	s := FileStats{Path: f.Path}
	types := map[models.SourceType]*TypeStats{}
	for _, r := range f.Records(dataset.Name(f.Path)) {
		t, ok := types[r.SourceType]
		if !ok {
			t = &TypeStats{SourceType: r.SourceType}
			types[r.SourceType] = t
		}
		s.Total++
		t.Total++
		if r.IsMissingSource() {
			s.Missing++
			t.Missing++
			if r.SourceRef() != nil {
				t.Recoverable++
			}
			continue
		}
		s.Complete++
		t.Complete++
	}
	s.ByType = typeOrder(types)
	return s
}

func Store(records []models.QuestionRecord) StoreStats {
	s := StoreStats{Total: len(records)}
	domains := map[string]*DomainStats{}
	for _, r := range records {
		name := strings.TrimSpace(r.Domain)
		if name == "" {
			name = "Unknown"
		}
		d, ok := domains[name]
		if !ok {
			d = &DomainStats{Domain: name}
			domains[name] = d
		}
		d.Total++
		if r.IsMissingSource() {
			s.Missing++
		} else {
			s.Complete++
			d.Complete++
		}
		if r.RecoveryAttempted {
			s.Attempted++
			if r.IsMissingSource() {
				s.Failed++
			} else {
				s.Successful++
			}
			if r.RecoveryDate == nil {
				s.Anomalies = append(s.Anomalies, r.ID+": recovery attempted without a date")
			}
		}
		if r.IsSelectedForResearch {
			s.Selected++
			d.Selected++
			if r.SelectionBatch == "" || r.SelectionDate == nil {
				s.Anomalies = append(s.Anomalies, r.ID+": selected without batch or date")
			}
			if r.IsMissingSource() {
				s.Anomalies = append(s.Anomalies, r.ID+": selected without source material")
			}
		}
	}
	for _, d := range domains {
		s.ByDomain = append(s.ByDomain, *d)
	}
	sort.Slice(s.ByDomain, func(i, j int) bool { return s.ByDomain[i].Domain < s.ByDomain[j].Domain })
	return s
}

const maxListedIDs = 10

// Cross compares the file against the store. Records in the file but not
// in the store are counted, never fatal.
func Cross(f *dataset.File, records []models.QuestionRecord) CrossRef {
	var c CrossRef
	byID := make(map[string]models.QuestionRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	inFile := map[string]bool{}
	for _, fr := range f.Records(dataset.Name(f.Path)) {
		inFile[fr.ID] = true
		sr, ok := byID[fr.ID]
		if !ok {
			c.StoreInconsistency++
			if len(c.FileOnlyIDs) < maxListedIDs {
				c.FileOnlyIDs = append(c.FileOnlyIDs, fr.ID)
			}
			continue
		}
		c.InBoth++
		switch {
		case fr.IsMissingSource() && !sr.IsMissingSource():
			c.RecoveredInStore++
		case !fr.IsMissingSource() && !sr.IsMissingSource() &&
			strings.TrimSpace(fr.SourceMaterial()) != strings.TrimSpace(sr.SourceMaterial()):
			c.TextMismatch++
		}
	}
	for id := range byID {
		if !inFile[id] {
			c.StoreOnly++
		}
	}
	return c
}

// Build assembles a report. f may be nil when only the store is checked.
func Build(f *dataset.File, records []models.QuestionRecord) Report {
	rep := Report{Store: Store(records)}
	if f != nil {
		fs := File(f)
		cr := Cross(f, records)
		rep.File, rep.Cross = &fs, &cr
	}
	rep.Recommendations = recommend(rep)
	return rep
}

func recommend(r Report) []string {
	var out []string
	if r.Cross != nil {
		if r.Cross.StoreInconsistency > 0 {
			out = append(out, fmt.Sprintf("%d file records are not in the store; run recover to import them", r.Cross.StoreInconsistency))
		}
		if r.Cross.RecoveredInStore > 0 {
			out = append(out, fmt.Sprintf("%d records were recovered in the store but not in the file; use the _recovered.csv copy", r.Cross.RecoveredInStore))
		}
		if r.Cross.TextMismatch > 0 {
			out = append(out, fmt.Sprintf("%d records differ between file and store; the store is authoritative", r.Cross.TextMismatch))
		}
	}
	if r.File != nil {
		recoverable := 0
		for _, t := range r.File.ByType {
			recoverable += t.Recoverable
		}
		if recoverable > 0 {
			out = append(out, fmt.Sprintf("%d missing records have identifiers; run recover --conservative first", recoverable))
		}
	}
	s := r.Store
	if s.Attempted > 0 && percent(s.Successful, s.Attempted) < 50 {
		out = append(out, "less than half of recovery attempts succeeded; retry later with --slow-mode")
	}
	if untried := s.Missing - s.Failed; untried > 0 {
		out = append(out, fmt.Sprintf("%d missing records were never attempted", untried))
	}
	if s.Complete > 0 && s.Selected == 0 {
		out = append(out, "no research sample selected yet; run sample")
	}
	if len(s.Anomalies) > 0 {
		out = append(out, fmt.Sprintf("%d bookkeeping anomalies found; inspect before sampling", len(s.Anomalies)))
	}
	if len(out) == 0 {
		out = append(out, "dataset and store are consistent")
	}
	return out
}
