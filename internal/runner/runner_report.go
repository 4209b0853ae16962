package runner

import (
	"context"
	"path/filepath"

	"planfuzz/internal/engine"
	"planfuzz/internal/report"
	"planfuzz/internal/util"
)

// writeCase captures a failing bundle into its own case directory and
// returns the directory, or "" when reporting is disabled or failed.
func (r *Runner) writeCase(ctx context.Context, cycle int, bundle string, accepted []Candidate, out engine.Outcome, diag engine.Diagnostics) string {
	if r.reporter == nil {
		return ""
	}
	caseData, err := r.reporter.NewCase()
	if err != nil {
		util.Warnf("case allocation failed: %v", err)
		return ""
	}
	names := make([]string, 0, len(accepted))
	if _, err := r.reporter.CopyBundle(caseData, bundle); err != nil {
		util.Warnf("case copy bundle failed dir=%s err=%v", caseData.Dir, err)
	}
	for _, c := range accepted {
		names = append(names, c.Name())
		_ = r.reporter.WriteText(caseData, filepath.Join(report.CaseQueriesDir, c.Name()+".sql"), c.SQL)
	}
	_ = r.reporter.WriteText(caseData, "stdout.txt", out.Stdout)
	_ = r.reporter.WriteText(caseData, "stderr.txt", out.Stderr)

	summary := report.Summary{
		Bundle:     bundle,
		Names:      names,
		ExitCode:   out.ExitCode,
		TimedOut:   out.TimedOut,
		DurationMs: out.Duration.Milliseconds(),
		Failures:   diag.Failures,
		StderrTail: diag.Tail,
		Seed:       r.cfg.Seed,
		Cycle:      cycle,
		RunInfo:    r.runInfo,
	}
	if out.Err != nil {
		summary.Details = map[string]any{"start_error": out.Err.Error()}
	}
	if err := r.reporter.WriteSummary(caseData, summary); err != nil {
		util.Warnf("case summary failed dir=%s err=%v", caseData.Dir, err)
	}
	if r.cfg.Report.Archive {
		name, codec, archiveErr := r.reporter.WriteCaseArchive(caseData)
		if archiveErr != nil {
			util.Warnf("case archive failed dir=%s err=%v", caseData.Dir, archiveErr)
		} else {
			summary.ArchiveName = name
			summary.ArchiveCodec = codec
			_ = r.reporter.WriteSummary(caseData, summary)
		}
	}
	if r.uploader.Enabled() {
		location, err := r.uploader.UploadDir(ctx, caseData.Dir)
		if err != nil {
			util.Warnf("case upload failed dir=%s err=%v", caseData.Dir, err)
		} else {
			summary.UploadLocation = location
			_ = r.reporter.WriteSummary(caseData, summary)
		}
	}
	util.Warnf("case captured bundle=%s dir=%s exit=%d", bundle, caseData.Dir, out.ExitCode)
	return caseData.Dir
}
