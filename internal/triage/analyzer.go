package triage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/mozillazg/go-unidecode"

	"github.com/nzbtriage/engine/internal/archive"
	"github.com/nzbtriage/engine/internal/filesystem"
	"github.com/nzbtriage/engine/internal/nntp"
	"github.com/nzbtriage/engine/internal/nzb"
	"github.com/nzbtriage/engine/internal/yenc"
)

// Pool is the capability surface the Analyzer needs from the NNTP pool:
// STAT/BODY with acquire/release already handled internally (spec
// §4.2 steps 3, 5, 6 "borrow a client, run STAT/BODY").
type Pool interface {
	Stat(ctx context.Context, messageID string) error
	Body(ctx context.Context, messageID string) ([]byte, error)
}

// Analyzer implements the per-NZB algorithm (spec §4.2).
type Analyzer struct {
	Cache               *filesystem.Cache // nil if archiveDirs is empty
	Pool                Pool              // nil if the NNTP pool is unavailable
	PoolUnavailableCode string            // "" means "nntp-disabled"; set means "nntp-error:<code>"
	StatSampleCount     int
	ArchiveSampleCount  int
	MaxDecodedBytes     int
	Rand                *rand.Rand // defaults to a deterministic source if nil
}

// Analyze runs the per-NZB algorithm against doc, which was already
// fetched and parsed by the caller. nzbIndex and title are carried
// through to the Decision for result assembly (spec §4.1 "Result
// assembly").
func (a *Analyzer) Analyze(ctx context.Context, doc nzb.Document, nzbIndex int, title string) (dec Decision) {
	defer func() {
		if r := recover(); r != nil {
			dec = Decision{
				Accept:   false,
				Blockers: []string{BlockerAnalysisError},
				Warnings: []string{"code:" + panicErrorCode(r), fmt.Sprintf("%v", r)},
				NZBIndex: nzbIndex,
				NZBTitle: title,
			}
		}
	}()

	return a.analyze(ctx, doc, nzbIndex, title)
}

func (a *Analyzer) analyze(ctx context.Context, doc nzb.Document, nzbIndex int, title string) Decision {
	blockers := newStringSet()
	warnings := newStringSet()
	var findings []ArchiveFinding

	candidates := doc.ArchiveCandidates()
	storedConfirmed := false

	if len(candidates) == 0 {
		warnings.add(WarnNoArchiveCandidates)
		a.probeWithoutArchive(ctx, doc, blockers, warnings, &findings)
	} else {
		checkedSegments := make(map[string]bool)

		if a.Cache != nil {
			a.localCheck(candidates, blockers, warnings, &findings, &storedConfirmed)
		}

		if a.Pool != nil {
			a.remoteCheck(ctx, candidates, blockers, warnings, &findings, &storedConfirmed, checkedSegments)
		}

		if storedConfirmed && len(blockers.slice()) == 0 && a.Pool != nil {
			a.extraStatSampling(ctx, candidates, blockers, warnings, &findings, checkedSegments)
		}
	}

	if !storedConfirmed && len(blockers.slice()) == 0 {
		warnings.add(WarnRARM0Unverified)
	}

	return Decision{
		Accept:          len(blockers.slice()) == 0,
		Blockers:        blockers.slice(),
		Warnings:        warnings.slice(),
		FileCount:       len(doc.Files),
		NZBTitle:        title,
		NZBIndex:        nzbIndex,
		ArchiveFindings: findings,
	}
}

// panicErrorCode derives the short error code spec §4.2's "code:<errcode>"
// warning needs from a recovered panic value: a typed *nntp.Error's Kind
// if the panic value wraps one, else the generic "panic" code.
func panicErrorCode(r any) string {
	if err, ok := r.(error); ok {
		var ne *nntp.Error
		if errors.As(err, &ne) {
			return string(ne.Kind)
		}
	}
	return "panic"
}

// probeWithoutArchive implements spec §4.2 step 3: with no archive
// candidates, either report the pool is unavailable or sample
// statSampleCount unique segments across all files.
func (a *Analyzer) probeWithoutArchive(ctx context.Context, doc nzb.Document, blockers, warnings *stringSet, findings *[]ArchiveFinding) {
	if a.Pool == nil {
		if a.PoolUnavailableCode != "" {
			warnings.add("nntp-error:" + a.PoolUnavailableCode)
		} else {
			warnings.add("nntp-disabled")
		}
		return
	}

	segments := allSegments(doc)
	sampled := sampleUnique(a.rng(), segments, a.StatSampleCount)
	for _, seg := range sampled {
		a.probeSegmentStat(ctx, seg, SourceNNTPStat, blockers, warnings, findings)
	}
}

type segmentRef struct {
	file nzb.File
	seg  nzb.Segment
}

func allSegments(doc nzb.Document) []segmentRef {
	var out []segmentRef
	for _, f := range doc.Files {
		for _, s := range f.Segments {
			out = append(out, segmentRef{file: f, seg: s})
		}
	}
	return out
}

// localCheck implements spec §4.2 step 4.
func (a *Analyzer) localCheck(candidates []nzb.File, blockers, warnings *stringSet, findings *[]ArchiveFinding, storedConfirmed *bool) {
	for _, cand := range candidates {
		if cand.Filename == "" {
			continue
		}
		buf, err := a.Cache.Lookup(cand.Filename)
		if err == filesystem.ErrNotFound {
			continue
		}
		if err != nil {
			warnings.add(WarnIOError)
			continue
		}

		result := archive.Inspect(buf)
		status := FindingStatus(result.Status)
		*findings = append(*findings, ArchiveFinding{
			Source:   SourceLocal,
			Filename: cand.Filename,
			Subject:  cand.Subject,
			Status:   status,
			Details:  result.Details,
		})
		blocker, warning, confirms := classifyFinding(status)
		if blocker != "" {
			blockers.add(blocker)
		}
		if warning != "" {
			warnings.add(warning)
		}
		if confirms {
			*storedConfirmed = true
		}
	}
}

// remoteCheck implements spec §4.2 step 5: STAT then BODY the first
// segment of the first archive candidate with segments, decode via
// yEnc, and inspect the decoded prefix.
func (a *Analyzer) remoteCheck(ctx context.Context, candidates []nzb.File, blockers, warnings *stringSet, findings *[]ArchiveFinding, storedConfirmed *bool, checked map[string]bool) {
	var primary *nzb.File
	for i := range candidates {
		if len(candidates[i].Segments) > 0 {
			primary = &candidates[i]
			break
		}
	}
	if primary == nil {
		warnings.add(string(StatusArchiveNoSegments))
		return
	}

	seg := primary.Segments[0]
	checked[seg.ID] = true

	statErr := a.Pool.Stat(ctx, seg.ID)
	if statErr != nil {
		status := StatusStatError
		if nntp.IsMissing(statErr) {
			status = StatusStatMissing
		}
		a.recordFinding(SourceNNTP, *primary, status, statErr.Error(), blockers, warnings, findings, storedConfirmed)
		return
	}

	body, bodyErr := a.Pool.Body(ctx, seg.ID)
	if bodyErr != nil {
		status := StatusBodyError
		if nntp.IsMissing(bodyErr) {
			status = StatusBodyMissing
		}
		a.recordFinding(SourceNNTP, *primary, status, bodyErr.Error(), blockers, warnings, findings, storedConfirmed)
		return
	}

	decoded, decErr := yenc.Decode(body, a.MaxDecodedBytes)
	if decErr != nil {
		a.recordFinding(SourceNNTP, *primary, StatusDecodeError, decErr.Error(), blockers, warnings, findings, storedConfirmed)
		return
	}

	result := archive.Inspect(decoded)
	a.recordFinding(SourceNNTP, *primary, FindingStatus(result.Status), result.Details, blockers, warnings, findings, storedConfirmed)
}

func (a *Analyzer) recordFinding(source FindingSource, f nzb.File, status FindingStatus, details string, blockers, warnings *stringSet, findings *[]ArchiveFinding, storedConfirmed *bool) {
	*findings = append(*findings, ArchiveFinding{
		Source:   source,
		Filename: f.Filename,
		Subject:  f.Subject,
		Status:   status,
		Details:  details,
	})
	blocker, warning, confirms := classifyFinding(status)
	if blocker != "" {
		blockers.add(blocker)
	}
	if warning != "" {
		warnings.add(warning)
	}
	if confirms {
		*storedConfirmed = true
	}
}

// extraStatSampling implements spec §4.2 step 6.
func (a *Analyzer) extraStatSampling(ctx context.Context, candidates []nzb.File, blockers, warnings *stringSet, findings *[]ArchiveFinding, checked map[string]bool) {
	var primary *nzb.File
	for i := range candidates {
		if len(candidates[i].Segments) > 0 {
			primary = &candidates[i]
			break
		}
	}
	if primary == nil {
		return
	}

	var remaining []segmentRef
	for _, s := range primary.Segments {
		if !checked[s.ID] {
			remaining = append(remaining, segmentRef{file: *primary, seg: s})
		}
	}
	extra := sampleUnique(a.rng(), remaining, a.StatSampleCount-1)
	for _, ref := range extra {
		checked[ref.seg.ID] = true
		a.probeSegmentStat(ctx, ref, SourceNNTPStat, blockers, warnings, findings)
	}

	others := 0
	for i := range candidates {
		if others >= a.ArchiveSampleCount {
			break
		}
		if candidates[i].Filename == primary.Filename || len(candidates[i].Segments) == 0 {
			continue
		}
		var firstUnchecked *nzb.Segment
		for j := range candidates[i].Segments {
			if !checked[candidates[i].Segments[j].ID] {
				firstUnchecked = &candidates[i].Segments[j]
				break
			}
		}
		if firstUnchecked == nil {
			continue
		}
		checked[firstUnchecked.ID] = true
		a.probeSegmentStat(ctx, segmentRef{file: candidates[i], seg: *firstUnchecked}, SourceNNTPStat, blockers, warnings, findings)
		others++
	}
}

// probeSegmentStat issues a single STAT probe and records segment-ok,
// segment-missing (→ blocker missing-articles), or segment-error (→
// warning nntp-stat-error), per spec §4.2 step 3/6.
func (a *Analyzer) probeSegmentStat(ctx context.Context, ref segmentRef, source FindingSource, blockers, warnings *stringSet, findings *[]ArchiveFinding) {
	err := a.Pool.Stat(ctx, ref.seg.ID)
	status := StatusSegmentOK
	switch {
	case err == nil:
		status = StatusSegmentOK
	case nntp.IsMissing(err):
		status = StatusSegmentMissing
		blockers.add(BlockerMissingArticles)
	default:
		status = StatusSegmentError
		warnings.add(WarnNNTPStatError)
	}

	*findings = append(*findings, ArchiveFinding{
		Source:   source,
		Filename: ref.file.Filename,
		Subject:  ref.file.Subject,
		Status:   status,
	})
}

func (a *Analyzer) rng() *rand.Rand {
	if a.Rand != nil {
		return a.Rand
	}
	return rand.New(rand.NewSource(1))
}

// sampleUnique picks up to n elements from items uniformly without
// replacement, via a Fisher-Yates partial shuffle.
func sampleUnique[T any](r *rand.Rand, items []T, n int) []T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	pool := make([]T, len(items))
	copy(pool, items)
	r.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:n]
}

// NormalizeTitle implements the lowercased-trimmed-title normalization
// spec §4.1 step 5 uses for dedup; exported for the Runner to reuse.
// Titles are transliterated to ASCII first so release titles that differ
// only in how an indexer encoded accented characters still collide
// (e.g. "Café" and "Cafe" normalize identically).
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(unidecode.Unidecode(title)))
}
