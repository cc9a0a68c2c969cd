package config

import (
	"testing"
	"time"
)

func TestNNTPConfig_EffectivePortDefaultsTo119(t *testing.T) {
	var c NNTPConfig
	if got := c.EffectivePort(); got != 119 {
		t.Errorf("EffectivePort() = %d, want 119", got)
	}
	c.Port = 563
	if got := c.EffectivePort(); got != 563 {
		t.Errorf("EffectivePort() = %d, want 563", got)
	}
}

func TestNNTPConfig_ConnTimeoutDefault(t *testing.T) {
	var c NNTPConfig
	if got := c.ConnTimeout(); got != 15*time.Second {
		t.Errorf("ConnTimeout() = %v, want 15s", got)
	}
	c.ConnTimeoutMs = 5000
	if got := c.ConnTimeout(); got != 5*time.Second {
		t.Errorf("ConnTimeout() = %v, want 5s", got)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	cfg, err := Load([]byte(`{"healthCheckTimeoutMs": 9000, "nntpConfig": {"host": "news.example.com"}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HealthCheckTimeoutMs != 9000 {
		t.Errorf("HealthCheckTimeoutMs = %d, want 9000", cfg.HealthCheckTimeoutMs)
	}
	if cfg.NNTP.Host != "news.example.com" {
		t.Errorf("NNTP.Host = %q, want news.example.com", cfg.NNTP.Host)
	}
	// untouched keys keep their Default() value
	if cfg.MaxCandidates != 25 {
		t.Errorf("MaxCandidates = %d, want default 25", cfg.MaxCandidates)
	}
}

func TestLoad_EmptyDataReturnsDefault(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.HealthCheckTimeoutMs != want.HealthCheckTimeoutMs || cfg.TimeBudgetMs != want.TimeBudgetMs || cfg.NNTPMaxConnections != want.NNTPMaxConnections {
		t.Errorf("Load(nil) = %+v, want %+v", cfg, want)
	}
}

func TestValidate_RejectsNegativeValues(t *testing.T) {
	cfg := Default()
	cfg.NNTPMaxConnections = -1
	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() = nil, want error for negative nntpMaxConnections")
	}

	cfg = Default()
	cfg.MaxDecodedBytes = -1
	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() = nil, want error for negative maxDecodedBytes")
	}
}

func TestEffectiveMaxParallelNZBs(t *testing.T) {
	tests := []struct {
		name            string
		maxParallelNZBs int
		batchSize       int
		want            int
	}{
		{"unbounded default returns batch size", 0, 10, 10},
		{"cap below batch size wins", 3, 10, 3},
		{"cap above batch size yields batch size", 20, 10, 10},
	}
	for _, tc := range tests {
		c := Config{MaxParallelNZBs: tc.maxParallelNZBs}
		if got := c.EffectiveMaxParallelNZBs(tc.batchSize); got != tc.want {
			t.Errorf("%s: EffectiveMaxParallelNZBs() = %d, want %d", tc.name, got, tc.want)
		}
	}
}
