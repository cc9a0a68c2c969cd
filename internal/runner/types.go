// Package runner implements the top-level orchestration (spec §4.1):
// rank and dedupe candidates, fetch NZB payloads under a download
// concurrency cap, pass them to the Triage Analyzer under a wall-clock
// budget, and assemble per-candidate summaries.
package runner

import "github.com/nzbtriage/engine/internal/triage"

// Candidate is the Runner's input unit (spec §3 "NZB candidate").
// Identity is DownloadURL, unique within a batch.
type Candidate struct {
	DownloadURL string `json:"downloadUrl"`
	Title       string `json:"title,omitempty"`
	IndexerID   string `json:"indexerId,omitempty"`
	IndexerName string `json:"indexerName,omitempty"`
	Size        int64  `json:"size"`
	// ServiceType mirrors the teacher's NZBResult.ServiceType passthrough
	// field (spec supplement, SPEC_FULL §12): carried through to the
	// summary unmodified, never interpreted by the engine.
	ServiceType string `json:"serviceType,omitempty"`
}

// Status is the closed set spec §3 "Per-candidate summary" defines.
type Status string

const (
	StatusVerified   Status = "verified"
	StatusUnverified Status = "unverified"
	StatusBlocked    Status = "blocked"
	StatusFetchError Status = "fetch-error"
	StatusSkipped    Status = "skipped"
	StatusPending    Status = "pending"
	StatusError      Status = "error"
)

// Summary is the Runner's per-candidate output (spec §3).
type Summary struct {
	Status          Status                  `json:"status"`
	Blockers        []string                `json:"blockers"`
	Warnings        []string                `json:"warnings"`
	NZBIndex        *int                    `json:"nzbIndex,omitempty"`
	FileCount       *int                    `json:"fileCount,omitempty"`
	ArchiveFindings []triage.ArchiveFinding `json:"archiveFindings"`
	Title           string                  `json:"title"`
	NormalizedTitle string                  `json:"normalizedTitle"`
	IndexerID       string                  `json:"indexerId"`
	IndexerName     string                  `json:"indexerName"`
	ServiceType     string                  `json:"serviceType,omitempty"`
}

// Result is the Runner's batch output (spec §4.1 "Contract").
type Result struct {
	Decisions            map[string]Summary `json:"decisions"`
	ElapsedMs            int64              `json:"elapsedMs"`
	TimedOut             bool               `json:"timedOut"`
	CandidatesConsidered int                `json:"candidatesConsidered"`
	EvaluatedCount       int                `json:"evaluatedCount"`
	FetchFailures        int                `json:"fetchFailures"`
	// RunID correlates one Run() call's log lines and summaries (spec
	// supplement, SPEC_FULL §12): a run-scoped identifier the teacher's
	// request-scoped logging idiom doesn't need but a batch orchestrator
	// does, since many NZBs' log lines interleave.
	RunID string `json:"runId"`
}
