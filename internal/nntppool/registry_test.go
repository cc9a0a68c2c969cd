package nntppool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nzbtriage/engine/internal/clock"
	"github.com/nzbtriage/engine/internal/config"
	"github.com/nzbtriage/engine/internal/nntp"
	"github.com/nzbtriage/engine/internal/nntp/nntpmock"
)

func testDialerFactory(builds *atomic.Int32) func(ctx context.Context, key Key) (Dialer, error) {
	return func(ctx context.Context, key Key) (Dialer, error) {
		builds.Add(1)
		return func(ctx context.Context) (nntp.Client, error) {
			return &nntpmock.Client{}, nil
		}, nil
	}
}

func testConfig(host string) config.Config {
	cfg := config.Default()
	cfg.NNTP = config.NNTPConfig{Host: host, Port: 119}
	return cfg
}

func TestRegistry_ReusesMatchingKey(t *testing.T) {
	var builds atomic.Int32
	frozen := clock.NewFrozen(time.Unix(0, 0))
	r := NewRegistry(frozen, testDialerFactory(&builds))
	defer r.Close()

	cfg := testConfig("news.example.com")
	p1, err := r.Acquire(context.Background(), cfg, 2)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	p2, err := r.Acquire(context.Background(), cfg, 2)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if p1 != p2 {
		t.Fatal("expected the same pool to be reused")
	}
	if builds.Load() != 1 {
		t.Fatalf("expected exactly 1 build, got %d", builds.Load())
	}
}

func TestRegistry_RebuildsOnKeyChange(t *testing.T) {
	var builds atomic.Int32
	frozen := clock.NewFrozen(time.Unix(0, 0))
	r := NewRegistry(frozen, testDialerFactory(&builds))
	defer r.Close()

	p1, err := r.Acquire(context.Background(), testConfig("news-a.example.com"), 1)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	p2, err := r.Acquire(context.Background(), testConfig("news-b.example.com"), 1)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if p1 == p2 {
		t.Fatal("expected a different pool after key change")
	}
	if builds.Load() != 2 {
		t.Fatalf("expected 2 builds, got %d", builds.Load())
	}
}

func TestRegistry_StaleAfterInactivity(t *testing.T) {
	var builds atomic.Int32
	frozen := clock.NewFrozen(time.Unix(0, 0))
	r := NewRegistry(frozen, testDialerFactory(&builds))
	defer r.Close()

	cfg := testConfig("news.example.com")
	_, err := r.Acquire(context.Background(), cfg, 1)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	frozen.Advance(6 * time.Minute)
	_, err = r.Acquire(context.Background(), cfg, 1)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if builds.Load() != 2 {
		t.Fatalf("expected stale pool to be rebuilt, got %d builds", builds.Load())
	}
}

func TestRegistry_PreWarmIsIdempotent(t *testing.T) {
	var builds atomic.Int32
	frozen := clock.NewFrozen(time.Unix(0, 0))
	r := NewRegistry(frozen, testDialerFactory(&builds))
	defer r.Close()

	cfg := testConfig("news.example.com")
	if err := r.PreWarm(context.Background(), cfg, 1); err != nil {
		t.Fatalf("prewarm: %v", err)
	}
	if err := r.PreWarm(context.Background(), cfg, 1); err != nil {
		t.Fatalf("prewarm again: %v", err)
	}
	if builds.Load() != 1 {
		t.Fatalf("expected prewarm to be idempotent, got %d builds", builds.Load())
	}
}

func TestRegistry_RebuildsOnConnectionsOrKeepAliveChange(t *testing.T) {
	var builds atomic.Int32
	frozen := clock.NewFrozen(time.Unix(0, 0))
	r := NewRegistry(frozen, testDialerFactory(&builds))
	defer r.Close()

	cfg := testConfig("news.example.com")
	p1, err := r.Acquire(context.Background(), cfg, 4)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	// same host/port/user/tls, different connection cap: must not reuse.
	p2, err := r.Acquire(context.Background(), cfg, 8)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if p1 == p2 {
		t.Fatal("expected a different pool when the connection cap changes")
	}

	cfg.NNTPKeepAliveMs = cfg.NNTPKeepAliveMs + 1000
	p3, err := r.Acquire(context.Background(), cfg, 8)
	if err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	// same host/port/user/tls/connections as p2, different keepAliveMs.
	if p2 == p3 {
		t.Fatal("expected a different pool when keepAliveMs changes")
	}

	if builds.Load() != 3 {
		t.Fatalf("expected 3 builds, got %d", builds.Load())
	}
}

func TestRegistry_ConcurrentAcquireCoalescesOntoOneBuild(t *testing.T) {
	var builds atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	dial := func(ctx context.Context, key Key) (Dialer, error) {
		builds.Add(1)
		close(started)
		<-release
		return func(ctx context.Context) (nntp.Client, error) {
			return &nntpmock.Client{}, nil
		}, nil
	}
	frozen := clock.NewFrozen(time.Unix(0, 0))
	r := NewRegistry(frozen, dial)
	defer r.Close()

	cfg := testConfig("news.example.com")

	const callers = 5
	results := make(chan *Pool, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			p, err := r.Acquire(context.Background(), cfg, 2)
			results <- p
			errs <- err
		}()
	}

	<-started
	close(release)

	var pools []*Pool
	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("acquire: %v", err)
		}
		pools = append(pools, <-results)
	}
	for _, p := range pools[1:] {
		if p != pools[0] {
			t.Fatal("expected every concurrent caller to receive the same pool")
		}
	}
	if got := builds.Load(); got != 1 {
		t.Fatalf("expected exactly 1 build for %d concurrent callers, got %d", callers, got)
	}
}

func TestRegistry_DoesNotReuseWhenReuseDisabled(t *testing.T) {
	var builds atomic.Int32
	frozen := clock.NewFrozen(time.Unix(0, 0))
	r := NewRegistry(frozen, testDialerFactory(&builds))
	defer r.Close()

	cfg := testConfig("news.example.com")
	cfg.ReuseNNTPPool = false

	_, err := r.Acquire(context.Background(), cfg, 1)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	_, err = r.Acquire(context.Background(), cfg, 1)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if builds.Load() != 2 {
		t.Fatalf("expected a fresh build each time reuse is disabled, got %d", builds.Load())
	}
}
