package runner

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nzbtriage/engine/internal/config"
	"github.com/nzbtriage/engine/internal/deadline"
	"github.com/nzbtriage/engine/internal/nzb"
	"github.com/nzbtriage/engine/internal/triage"
)

// AnalyzerFactory builds the Analyzer used for one batch. The Runner
// doesn't own pool lifecycle; its caller decides pool reuse (spec §4.5
// "Shared pool policy" lives in internal/nntppool.Registry, not here).
type AnalyzerFactory func() *triage.Analyzer

// Runner implements spec §4.1's Runner contract.
type Runner struct {
	cfg         config.Config
	fetcher     *Fetcher
	newAnalyzer AnalyzerFactory
	log         *slog.Logger
}

// New constructs a Runner. log defaults to slog.Default() if nil.
func New(cfg config.Config, newAnalyzer AnalyzerFactory, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg:         cfg,
		fetcher:     NewFetcher(log),
		newAnalyzer: newAnalyzer,
		log:         log.With("component", "runner"),
	}
}

// Run executes the full pipeline: rank/dedupe, fetch, analyze under
// budget, and assemble the result (spec §4.1).
func (r *Runner) Run(ctx context.Context, candidates []Candidate) Result {
	start := time.Now()
	runID := uuid.NewString()
	log := r.log.With("run_id", runID)

	ranked := RankAndDedupe(candidates, r.cfg.PreferredIndexerIDs, r.cfg.PreferredSizeBytes, r.cfg.MaxCandidates)

	result := Result{
		Decisions:            make(map[string]Summary, len(ranked)),
		CandidatesConsidered: len(ranked),
		RunID:                runID,
	}

	if len(ranked) == 0 {
		result.ElapsedMs = time.Since(start).Milliseconds()
		return result
	}

	timeBudget := r.cfg.TimeBudget()
	if timeBudget <= 0 {
		result.TimedOut = true
		for _, c := range ranked {
			result.Decisions[c.DownloadURL] = pendingSummary(c)
		}
		result.ElapsedMs = time.Since(start).Milliseconds()
		return result
	}

	log.InfoContext(ctx, "runner.run.start", "candidates", len(ranked))

	payloads, failures, fetchTimedOut := r.fetcher.FetchAll(ctx, ranked, r.cfg.DownloadConcurrency, r.cfg.DownloadTimeout(), timeBudget, start)
	result.FetchFailures = len(failures)
	result.TimedOut = fetchTimedOut

	var toAnalyze []Candidate
	for _, c := range ranked {
		if _, ok := payloads[c.DownloadURL]; ok {
			toAnalyze = append(toAnalyze, c)
		} else if _, failed := failures[c.DownloadURL]; failed {
			result.Decisions[c.DownloadURL] = fetchErrorSummary(c)
		}
		// Candidates neither fetched nor failed (dispatch stopped early
		// by the budget check) fall through to the post-analysis
		// "skipped/pending" pass below.
	}

	remaining := timeBudget - time.Since(start)
	if remaining <= 0 {
		result.TimedOut = true
	} else if len(toAnalyze) > 0 {
		decisions, analyzeTimedOut := r.analyzeBatch(ctx, toAnalyze, payloads, remaining)
		if analyzeTimedOut {
			result.TimedOut = true
		}
		for url, dec := range decisions {
			c := candidateByURL(ranked, url)
			result.Decisions[url] = decisionToSummary(c, dec)
			result.EvaluatedCount++
		}
	}

	for _, c := range ranked {
		if _, done := result.Decisions[c.DownloadURL]; done {
			continue
		}
		if result.TimedOut {
			result.Decisions[c.DownloadURL] = pendingSummary(c)
		} else {
			result.Decisions[c.DownloadURL] = skippedSummary(c)
		}
	}

	result.ElapsedMs = time.Since(start).Milliseconds()
	log.InfoContext(ctx, "runner.run.done", "elapsed_ms", result.ElapsedMs, "timed_out", result.TimedOut, "evaluated", result.EvaluatedCount)
	return result
}

// analyzeBatch implements spec §4.1's analyze stage plus §4.2's
// concurrency-within-a-batch: min(maxParallelNzbs, batchSize) workers
// pull indices off a shared cursor, racing the whole pass against
// healthCheckTimeoutMs. Unlike deadline.Race's all-or-nothing generic
// form, this keeps whatever decisions had already landed in the shared
// map at the moment the deadline fires (spec §8 end-to-end scenario 6:
// "already-decided NZBs keep their decisions, others become pending"),
// so results are written into a mutex-guarded map as each worker
// finishes rather than collected only after every worker returns.
func (r *Runner) analyzeBatch(ctx context.Context, candidates []Candidate, payloads map[string][]byte, remaining time.Duration) (map[string]triage.Decision, bool) {
	// Whichever of the two nested deadlines (spec §5b/c) is tighter
	// determines both the effective budget and which ErrorKind gets
	// logged if it fires: the Runner's own leftover timeBudgetMs
	// (TRIAGE_TIMEOUT) or the Analyzer's healthCheckTimeoutMs
	// (HEALTHCHECK_TIMEOUT).
	budget := r.cfg.HealthCheckTimeout()
	kind := deadline.KindHealthCheckTimeout
	if remaining < budget {
		budget = remaining
		kind = deadline.KindTriageTimeout
	}
	raceCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	start := time.Now()

	var mu sync.Mutex
	decisions := make(map[string]triage.Decision, len(candidates))
	done := make(chan struct{})

	go func() {
		r.runAnalyzerWorkers(raceCtx, candidates, payloads, &mu, decisions)
		close(done)
	}()

	var timedOut bool
	select {
	case <-done:
	case <-raceCtx.Done():
		timedOut = true
		dErr := &deadline.Error{Kind: kind, Elapsed: time.Since(start)}
		r.log.WarnContext(ctx, "runner.analyze.timeout", "error", dErr.Error())
	}

	mu.Lock()
	snapshot := make(map[string]triage.Decision, len(decisions))
	for k, v := range decisions {
		snapshot[k] = v
	}
	mu.Unlock()

	return snapshot, timedOut
}

func (r *Runner) runAnalyzerWorkers(ctx context.Context, candidates []Candidate, payloads map[string][]byte, mu *sync.Mutex, out map[string]triage.Decision) {
	workers := r.cfg.EffectiveMaxParallelNZBs(len(candidates))
	if workers < 1 {
		workers = 1
	}

	var cursor int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			analyzer := r.newAnalyzer()
			for {
				if ctx.Err() != nil {
					return
				}
				idx := int(atomic.AddInt64(&cursor, 1)) - 1
				if idx >= len(candidates) {
					return
				}
				c := candidates[idx]

				var d triage.Decision
				doc, parseErr := nzb.Parse(bytes.NewReader(payloads[c.DownloadURL]))
				if parseErr != nil {
					d = triage.Decision{
						Accept:   false,
						Blockers: []string{triage.BlockerAnalysisError},
						Warnings: []string{"code:parse-error", parseErr.Error()},
						NZBIndex: idx,
						NZBTitle: c.Title,
					}
				} else {
					d = analyzer.Analyze(ctx, doc, idx, c.Title)
				}

				mu.Lock()
				out[c.DownloadURL] = d
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func candidateByURL(candidates []Candidate, url string) Candidate {
	for _, c := range candidates {
		if c.DownloadURL == url {
			return c
		}
	}
	return Candidate{DownloadURL: url}
}

func decisionToSummary(c Candidate, dec triage.Decision) Summary {
	status := StatusUnverified
	if !dec.Accept {
		status = StatusBlocked
	} else if hasConfirmingFinding(dec.ArchiveFindings) {
		status = StatusVerified
	}
	fileCount := dec.FileCount
	nzbIndex := dec.NZBIndex
	return Summary{
		Status:          status,
		Blockers:        dec.Blockers,
		Warnings:        dec.Warnings,
		NZBIndex:        &nzbIndex,
		FileCount:       &fileCount,
		ArchiveFindings: dec.ArchiveFindings,
		Title:           c.Title,
		NormalizedTitle: triage.NormalizeTitle(c.Title),
		IndexerID:       c.IndexerID,
		IndexerName:     c.IndexerName,
		ServiceType:     c.ServiceType,
	}
}

func hasConfirmingFinding(findings []triage.ArchiveFinding) bool {
	for _, f := range findings {
		switch f.Status {
		case triage.StatusRARStored, triage.StatusSevenZipStored, triage.StatusSegmentOK:
			return true
		}
	}
	return false
}

func fetchErrorSummary(c Candidate) Summary {
	return Summary{
		Status:          StatusFetchError,
		Blockers:        []string{"fetch-error"},
		Title:           c.Title,
		NormalizedTitle: triage.NormalizeTitle(c.Title),
		IndexerID:       c.IndexerID,
		IndexerName:     c.IndexerName,
		ServiceType:     c.ServiceType,
	}
}

func pendingSummary(c Candidate) Summary {
	return Summary{
		Status:          StatusPending,
		Title:           c.Title,
		NormalizedTitle: triage.NormalizeTitle(c.Title),
		IndexerID:       c.IndexerID,
		IndexerName:     c.IndexerName,
		ServiceType:     c.ServiceType,
	}
}

func skippedSummary(c Candidate) Summary {
	return Summary{
		Status:          StatusSkipped,
		Title:           c.Title,
		NormalizedTitle: triage.NormalizeTitle(c.Title),
		IndexerID:       c.IndexerID,
		IndexerName:     c.IndexerName,
		ServiceType:     c.ServiceType,
	}
}
