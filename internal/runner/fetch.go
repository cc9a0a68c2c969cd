package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sourcegraph/conc/pool"
)

const (
	nzbAcceptHeader = "application/x-nzb,text/xml;q=0.9,*/*;q=0.8"
	userAgent       = "UsenetStreamer-Triage"
)

// Fetcher downloads NZB payloads over HTTP (spec §6 "HTTP (outgoing,
// NZB fetch)"). Grounded on the teacher's HTTP-client idiom: a thin
// wrapper around *http.Client with a configured timeout, logged via
// slog with a component field.
type Fetcher struct {
	httpClient *http.Client
	log        *slog.Logger
}

// NewFetcher constructs a Fetcher. log defaults to slog.Default() if nil.
func NewFetcher(log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{httpClient: &http.Client{}, log: log.With("component", "runner.fetcher")}
}

// fetchResult is the outcome of downloading one candidate's payload.
type fetchResult struct {
	url     string
	payload []byte
	err     error
}

// FetchAll downloads candidates' payloads, bounded to concurrency
// in-flight requests, each with its own downloadTimeout. Before
// dispatching each request it checks elapsed vs timeBudget; once
// exceeded it stops dispatching new requests (but lets in-flight ones
// drain), returning timedOut=true (spec §4.1 "Fetch stage").
func (f *Fetcher) FetchAll(ctx context.Context, candidates []Candidate, concurrency int, downloadTimeout, timeBudget time.Duration, start time.Time) (payloads map[string][]byte, failures map[string]error, timedOut bool) {
	if concurrency < 1 {
		concurrency = 1
	}

	payloads = make(map[string][]byte)
	failures = make(map[string]error)

	p := pool.NewWithResults[fetchResult]().WithMaxGoroutines(concurrency).WithContext(ctx)

	for _, c := range candidates {
		if timeBudget > 0 && time.Since(start) >= timeBudget {
			timedOut = true
			break
		}
		url := c.DownloadURL
		p.Go(func(ctx context.Context) (fetchResult, error) {
			reqCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
			defer cancel()
			body, err := f.fetchOne(reqCtx, url)
			return fetchResult{url: url, payload: body, err: err}, nil
		})
	}

	results, _ := p.Wait()
	for _, r := range results {
		if r.err != nil {
			failures[r.url] = r.err
			f.log.WarnContext(ctx, "runner.fetch.failed", "url", r.url, "error", r.err)
			continue
		}
		payloads[r.url] = r.payload
	}
	return payloads, failures, timedOut
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("runner: build request: %w", err)
	}
	req.Header.Set("Accept", nzbAcceptHeader)
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runner: fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("runner: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("runner: fetch: unexpected status %d", resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("runner: fetch: empty body")
	}

	// Some indexers return an HTML error page with a 200 status (e.g.
	// rate-limit notices); sniff content instead of trusting the
	// declared Content-Type header before handing the payload to the
	// XML parser.
	kind := mimetype.Detect(body)
	if !kind.Is("text/xml") && !kind.Is("application/xml") {
		return nil, fmt.Errorf("runner: fetch: unexpected content type %s", kind.String())
	}
	return body, nil
}
