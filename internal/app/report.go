package app

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"source_recovery/internal/recovery"
	"source_recovery/internal/sampler"
	"source_recovery/internal/selector"
	"source_recovery/internal/verify"
)

const previewRows = 10

func pct(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

func (a *App) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
}

func (a *App) printCandidates(missing int, cands []selector.Candidate, conservative bool) {
	threshold := a.config.Scoring.Threshold
	an := selector.Analyze(cands, threshold)

	fmt.Fprintf(a.out, "\n🔎 Records missing source: %d\n", missing)
	fmt.Fprintf(a.out, "🎯 Recovery candidates: %d (%.1f%%)\n", an.Total, pct(an.Total, missing))
	fmt.Fprintf(a.out, "   high confidence (>= %.2f): %d\n", threshold, an.HighConfidence)
	if conservative {
		fmt.Fprintln(a.out, "   conservative mode: low-probability candidates dropped")
	}
	if an.Total == 0 {
		fmt.Fprintln(a.out, "\n✅ Nothing to recover.")
		return
	}

	tw := a.table()
	fmt.Fprintln(tw, "\nSOURCE TYPE\tCOUNT\tSHARE\tMEAN SCORE")
	for _, t := range an.ByType {
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%.2f\n", t.SourceType, t.Count, pct(t.Count, an.Total), t.MeanScore)
	}
	tw.Flush()

	tw = a.table()
	fmt.Fprintln(tw, "\n#\tQUESTION\tTYPE\tIDENTIFIER\tSCORE")
	for _, c := range cands {
		if c.Position > previewRows {
			fmt.Fprintf(tw, "…\t%d more\t\t\t\n", len(cands)-previewRows)
			break
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\n", c.Position, c.Record.ID, c.Record.SourceType, c.Record.SourceIdentifier, c.Score)
	}
	tw.Flush()
}

func (a *App) printRecovery(s recovery.Stats, opts RecoverOptions, written string) {
	fmt.Fprintf(a.out, "\n📊 Recovery run %s\n", s.RunID)
	tw := a.table()
	fmt.Fprintf(tw, "   recovered\t%d\t%.1f%%\n", s.Recovered, pct(s.Recovered, s.Total))
	fmt.Fprintf(tw, "   failed\t%d\t%.1f%%\n", s.Failed, pct(s.Failed, s.Total))
	fmt.Fprintf(tw, "   rate limited\t%d\t%.1f%%\n", s.RateLimited, pct(s.RateLimited, s.Total))
	fmt.Fprintf(tw, "   skipped\t%d\t%.1f%%\n", s.Skipped, pct(s.Skipped, s.Total))
	tw.Flush()
	fmt.Fprintf(a.out, "   success rate %.1f%%, %d characters, %s\n", s.SuccessRate(), s.Characters, s.Elapsed.Round(time.Second))

	if s.Interrupted {
		fmt.Fprintln(a.out, "\n⏹  Interrupted; finished records are saved. Run the same command to continue.")
	}
	if opts.DryRun {
		fmt.Fprintln(a.out, "\n🧪 Dry run: store and files left untouched.")
	}
	if written != "" {
		fmt.Fprintf(a.out, "\n💾 Recovered dataset: %s\n", written)
	}

	fmt.Fprintln(a.out, "\n💡 Next steps:")
	switch {
	case s.RateLimited > 0:
		fmt.Fprintln(a.out, "   - providers throttled this run; wait a while and retry with --slow-mode")
	case s.Failed > 0 && !opts.ForceRetry:
		fmt.Fprintln(a.out, "   - failed records are skipped next time; add --force-retry to try them again")
	}
	if !opts.Conservative && s.Failed > s.Recovered {
		fmt.Fprintln(a.out, "   - most attempts failed; --conservative keeps only likely candidates")
	}
	fmt.Fprintln(a.out, "   - run verify to cross-check the store, then sample to draw the research set")
}

func (a *App) printPlan(p *sampler.Plan, batch string) {
	fmt.Fprintf(a.out, "\n🧬 Sample plan for batch %q: target %d, %s mode, seed %d\n", batch, p.Target, p.Mode, p.Seed)
	fmt.Fprintf(a.out, "   eligible records: %d (min %d chars)\n", p.Eligible, p.MinLength)

	tw := a.table()
	fmt.Fprintln(tw, "\nDOMAIN\tAVAILABLE\tPLANNED\tSELECTED\tSHORTFALL")
	total := 0
	for _, al := range p.Allocations {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", al.Domain, al.Available, al.Planned, al.Selected, al.Shortfall)
		total += al.Selected
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\n", p.Eligible, p.Target, total, p.Target-total)
	tw.Flush()

	for _, w := range p.Warnings {
		fmt.Fprintf(a.out, "⚠️  %s\n", w)
	}
}

func (a *App) printCommitted(p *sampler.Plan, batch string, cleared int) {
	if cleared > 0 {
		fmt.Fprintf(a.out, "\n🧹 Cleared %d previously selected records\n", cleared)
	}
	fmt.Fprintf(a.out, "\n✅ Committed %d records to batch %q (%.1f%% of target)\n", len(p.Selected), batch, pct(len(p.Selected), p.Target))
	fmt.Fprintf(a.out, "💡 Reuse --seed %d to reproduce this draw.\n", p.Seed)
}

func (a *App) printReport(r verify.Report, details bool) {
	if f := r.File; f != nil {
		fmt.Fprintf(a.out, "\n📄 File %s: %d records, %d complete (%.1f%%), %d missing\n",
			f.Path, f.Total, f.Complete, pct(f.Complete, f.Total), f.Missing)
		tw := a.table()
		fmt.Fprintln(tw, "SOURCE TYPE\tTOTAL\tCOMPLETE\tMISSING\tRECOVERABLE")
		for _, t := range f.ByType {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", t.SourceType, t.Total, t.Complete, t.Missing, t.Recoverable)
		}
		tw.Flush()
	}

	s := r.Store
	fmt.Fprintf(a.out, "\n🗄  Store: %d records, %d complete (%.1f%%), %d selected\n", s.Total, s.Complete, pct(s.Complete, s.Total), s.Selected)
	fmt.Fprintf(a.out, "   recovery attempted %d, succeeded %d (%.1f%%), failed %d\n", s.Attempted, s.Successful, pct(s.Successful, s.Attempted), s.Failed)
	if details {
		tw := a.table()
		fmt.Fprintln(tw, "DOMAIN\tTOTAL\tCOMPLETE\tRATE\tSELECTED")
		for _, d := range s.ByDomain {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%d\n", d.Domain, d.Total, d.Complete, d.CompletionRate(), d.Selected)
		}
		tw.Flush()
		for _, an := range s.Anomalies {
			fmt.Fprintf(a.out, "   ⚠️  %s\n", an)
		}
	}

	if c := r.Cross; c != nil {
		fmt.Fprintf(a.out, "\n🔗 Cross-reference: %d in both, %d only in file, %d only in store\n", c.InBoth, c.StoreInconsistency, c.StoreOnly)
		fmt.Fprintf(a.out, "   recovered in store only: %d, text mismatches: %d\n", c.RecoveredInStore, c.TextMismatch)
		if details && len(c.FileOnlyIDs) > 0 {
			fmt.Fprintf(a.out, "   missing from store: %s\n", strings.Join(c.FileOnlyIDs, ", "))
		}
	}

	fmt.Fprintln(a.out, "\n💡 Recommendations:")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(a.out, "   - %s\n", rec)
	}
}
