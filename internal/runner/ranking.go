package runner

import (
	"sort"

	"golang.org/x/text/cases"

	"github.com/nzbtriage/engine/internal/triage"
)

var foldCase = cases.Fold()

// RankAndDedupe implements spec §4.1's six-step ranking/dedup algorithm.
// preferredIndexerIDs is matched against both IndexerID and IndexerName,
// case-insensitively.
func RankAndDedupe(candidates []Candidate, preferredIndexerIDs []string, preferredSizeBytes *int64, maxCandidates int) []Candidate {
	// (1) drop entries lacking downloadUrl, dedupe by downloadUrl.
	seenURL := make(map[string]bool)
	var byURL []Candidate
	for _, c := range candidates {
		if c.DownloadURL == "" {
			continue
		}
		if seenURL[c.DownloadURL] {
			continue
		}
		seenURL[c.DownloadURL] = true
		byURL = append(byURL, c)
	}

	// (2) partition preferred vs fallback.
	preferredSet := make(map[string]bool, len(preferredIndexerIDs))
	for _, id := range preferredIndexerIDs {
		preferredSet[foldCase.String(id)] = true
	}
	isPreferred := func(c Candidate) bool {
		if len(preferredSet) == 0 {
			return false
		}
		return preferredSet[foldCase.String(c.IndexerID)] || preferredSet[foldCase.String(c.IndexerName)]
	}

	var preferred, fallback []Candidate
	for _, c := range byURL {
		if isPreferred(c) {
			preferred = append(preferred, c)
		} else {
			fallback = append(fallback, c)
		}
	}

	// (3) sort each partition.
	sortPartition(preferred, preferredSizeBytes)
	sortPartition(fallback, preferredSizeBytes)

	// (4) concatenate preferred before fallback.
	ranked := append(preferred, fallback...)

	// (5) dedupe by lowercased-trimmed title; titles normalizing to
	// empty never collide.
	seenTitle := make(map[string]bool)
	var deduped []Candidate
	for _, c := range ranked {
		norm := triage.NormalizeTitle(c.Title)
		if norm != "" {
			if seenTitle[norm] {
				continue
			}
			seenTitle[norm] = true
		}
		deduped = append(deduped, c)
	}

	// (6) truncate to maxCandidates.
	if maxCandidates > 0 && len(deduped) > maxCandidates {
		deduped = deduped[:maxCandidates]
	}
	return deduped
}

// sortPartition sorts c in place per spec §4.1 step 3: if
// preferredSizeBytes is set, ascending by |size - preferredSizeBytes|
// with descending size as tiebreak; else descending by size. The sort
// is stable so equal-key candidates retain input order (spec §8 P3).
func sortPartition(c []Candidate, preferredSizeBytes *int64) {
	if preferredSizeBytes != nil {
		pref := *preferredSizeBytes
		sort.SliceStable(c, func(i, j int) bool {
			di, dj := absDiff(c[i].Size, pref), absDiff(c[j].Size, pref)
			if di != dj {
				return di < dj
			}
			return c[i].Size > c[j].Size
		})
		return
	}
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].Size > c[j].Size
	})
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
