// Package config holds the engine's recognized configuration keys (spec
// §6) and their defaults. Unlike the teacher's config.Manager — which
// locates and watches a file for a standalone server — this engine is
// handed a Config value by its embedding caller, so loading is limited to
// decoding JSON the caller already has and filling in defaults; there is
// no file-discovery or environment-variable layer to own.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// NNTPConfig describes how to reach the Usenet provider the pool connects
// to (spec §6: nntpConfig).
type NNTPConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	User          string `json:"user,omitempty"`
	Pass          string `json:"pass,omitempty"`
	UseTLS        bool   `json:"useTLS"`
	ConnTimeoutMs int    `json:"connTimeoutMs,omitempty"`
}

// EffectivePort returns the configured port, defaulting to 119 (spec §6).
func (c NNTPConfig) EffectivePort() int {
	if c.Port == 0 {
		return 119
	}
	return c.Port
}

// ConnTimeout returns the configured connect timeout, or a sane default.
func (c NNTPConfig) ConnTimeout() time.Duration {
	if c.ConnTimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ConnTimeoutMs) * time.Millisecond
}

// Config is the full set of recognized keys from spec §6, Runner options
// included. Durations are expressed in milliseconds on the wire (JSON) to
// match the recognized-keys contract verbatim; call the *Duration helper
// methods to get time.Duration at point of use.
type Config struct {
	ArchiveDirs          []string   `json:"archiveDirs,omitempty"`
	NNTP                 NNTPConfig `json:"nntpConfig"`
	HealthCheckTimeoutMs int        `json:"healthCheckTimeoutMs"`
	MaxDecodedBytes      int        `json:"maxDecodedBytes"`
	NNTPMaxConnections   int        `json:"nntpMaxConnections"`
	ReuseNNTPPool        bool       `json:"reuseNntpPool"`
	NNTPKeepAliveMs      int        `json:"nntpKeepAliveMs"`
	MaxParallelNZBs      int        `json:"maxParallelNzbs,omitempty"` // 0 == unbounded
	StatSampleCount      int        `json:"statSampleCount"`
	ArchiveSampleCount   int        `json:"archiveSampleCount"`

	// Runner-only options.
	TimeBudgetMs          int      `json:"timeBudgetMs"`
	MaxCandidates         int      `json:"maxCandidates"`
	DownloadConcurrency   int      `json:"downloadConcurrency"`
	DownloadTimeoutMs     int      `json:"downloadTimeoutMs"`
	PreferredSizeBytes    *int64   `json:"preferredSizeBytes,omitempty"`
	PreferredIndexerIDs   []string `json:"preferredIndexerIds,omitempty"`
}

// Default returns a Config populated with spec §6's documented defaults.
func Default() Config {
	return Config{
		HealthCheckTimeoutMs: 35000,
		MaxDecodedBytes:      16384,
		NNTPMaxConnections:   60,
		ReuseNNTPPool:        true,
		NNTPKeepAliveMs:      120000,
		StatSampleCount:      1,
		ArchiveSampleCount:   1,
		TimeBudgetMs:         12000,
		MaxCandidates:        25,
		DownloadConcurrency:  8,
		DownloadTimeoutMs:    10000,
	}
}

// Load decodes JSON-encoded configuration over top of Default(), so a
// caller only needs to specify the keys it wants to override.
func Load(data []byte) (Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that would make the engine
// misbehave rather than simply degrade (e.g. negative connection counts).
func (c Config) Validate() error {
	if c.NNTPMaxConnections < 0 {
		return fmt.Errorf("config: nntpMaxConnections must be >= 0, got %d", c.NNTPMaxConnections)
	}
	if c.MaxDecodedBytes < 0 {
		return fmt.Errorf("config: maxDecodedBytes must be >= 0, got %d", c.MaxDecodedBytes)
	}
	return nil
}

func (c Config) HealthCheckTimeout() time.Duration {
	return time.Duration(c.HealthCheckTimeoutMs) * time.Millisecond
}

func (c Config) TimeBudget() time.Duration {
	return time.Duration(c.TimeBudgetMs) * time.Millisecond
}

func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutMs) * time.Millisecond
}

func (c Config) NNTPKeepAlive() time.Duration {
	return time.Duration(c.NNTPKeepAliveMs) * time.Millisecond
}

// EffectiveMaxParallelNZBs resolves the "∞" default (0) against batchSize,
// per spec §4.2: "min(maxParallelNzbs, batchSize)".
func (c Config) EffectiveMaxParallelNZBs(batchSize int) int {
	if c.MaxParallelNZBs <= 0 {
		return batchSize
	}
	if c.MaxParallelNZBs < batchSize {
		return c.MaxParallelNZBs
	}
	return batchSize
}
