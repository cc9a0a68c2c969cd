// Command triage runs one batch of NZB candidates through the engine
// and prints the resulting per-candidate summaries as JSON.
//
// Usage:
//
//	triage -config config.json -candidates candidates.json
//
// Both files hold JSON; see internal/config.Config and
// internal/runner.Candidate for their shapes. With no -candidates flag,
// candidates are read from stdin.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"

	"github.com/javi11/nntpcli"
	"github.com/spf13/afero"

	"github.com/nzbtriage/engine/internal/config"
	"github.com/nzbtriage/engine/internal/filesystem"
	"github.com/nzbtriage/engine/internal/logger"
	"github.com/nzbtriage/engine/internal/nntp"
	"github.com/nzbtriage/engine/internal/nntppool"
	"github.com/nzbtriage/engine/internal/runner"
	"github.com/nzbtriage/engine/internal/triage"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults applied for anything unset)")
	candidatesPath := flag.String("candidates", "", "path to a JSON array of candidates; reads stdin if empty")
	logPath := flag.String("log-file", "", "optional log file path; logs always go to stdout, and also to this file if set")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("triage: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("triage: %v", err)
	}

	lg, closeLog := logger.New(logger.Config{Level: "info", Path: *logPath})
	defer closeLog.Close()

	candidates, err := loadCandidates(*candidatesPath)
	if err != nil {
		log.Fatalf("triage: %v", err)
	}

	ctx := context.Background()

	nntpCli := nntpcli.New()
	registry := nntppool.NewRegistry(nil, func(ctx context.Context, key nntppool.Key) (nntppool.Dialer, error) {
		return func(ctx context.Context) (nntp.Client, error) {
			return nntp.Dial(ctx, nntpCli, key.Host, key.Port, key.UseTLS, cfg.NNTP.User, cfg.NNTP.Pass)
		}, nil
	})
	defer registry.Close()

	var cache *filesystem.Cache
	if len(cfg.ArchiveDirs) > 0 {
		cache = filesystem.NewCache(afero.NewOsFs(), cfg.ArchiveDirs)
	}

	newAnalyzer := func() *triage.Analyzer {
		var poolCap triage.Pool
		unavailableCode := ""
		if pool, err := registry.Acquire(ctx, cfg, cfg.NNTPMaxConnections); err == nil {
			poolCap = pool
		} else {
			unavailableCode = "unavailable"
			lg.Warn("triage.pool.unavailable", "error", err)
		}
		return &triage.Analyzer{
			Cache:               cache,
			Pool:                poolCap,
			PoolUnavailableCode: unavailableCode,
			StatSampleCount:     cfg.StatSampleCount,
			ArchiveSampleCount:  cfg.ArchiveSampleCount,
			MaxDecodedBytes:     cfg.MaxDecodedBytes,
		}
	}

	r := runner.New(cfg, newAnalyzer, lg)
	result := r.Run(ctx, candidates)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("triage: encode result: %v", err)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(data)
}

func loadCandidates(path string) ([]runner.Candidate, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var candidates []runner.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}
