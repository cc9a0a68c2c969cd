package nntppool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nzbtriage/engine/internal/clock"
	"github.com/nzbtriage/engine/internal/config"
)

// staleAfter is spec §4.5 "Staleness": no triage activity within the
// last 5 minutes and either the pool hasn't been used in 5 minutes or
// its last-used time is unknown.
const staleAfter = 5 * time.Minute

// Key identifies a pool by the NNTP endpoint it connects to plus the
// pool-shape parameters spec §3 includes in the registry key
// (`hash(host, port, user, tls, connections, keepAliveMs)`): two triage
// runs against the same provider and credentials but different
// connection caps or keep-alive cadence must not share a pool sized
// for the other one.
type Key struct {
	Host        string
	Port        int
	User        string
	UseTLS      bool
	Connections int
	KeepAliveMs int64
}

func keyFor(cfg config.NNTPConfig, maxConnections int, keepAliveMs int64) Key {
	return Key{
		Host:        cfg.Host,
		Port:        cfg.EffectivePort(),
		User:        cfg.User,
		UseTLS:      cfg.UseTLS,
		Connections: maxConnections,
		KeepAliveMs: keepAliveMs,
	}
}

// record is one shared pool entry: the pool itself plus the bookkeeping
// the registry needs to decide reuse vs. rebuild.
type record struct {
	key      Key
	pool     *Pool
	lastUsed *time.Time // nil means "unknown", per spec's staleness rule
}

// Registry owns the process-wide "at most one shared pool" invariant
// (spec §4.5 "Shared pool policy") as an injectable value rather than
// module-scope state (spec §9 Design Notes: "Process-wide singletons →
// injected context"). Process-global state is limited to a single
// monotonic activity timestamp read through Clock.
type Registry struct {
	clock clock.Clock
	dial  func(ctx context.Context, key Key) (Dialer, error)

	mu       sync.Mutex
	current  *record
	building bool                // true while a build is in progress
	waiters  []chan *buildResult // one per caller coalesced onto the in-flight build

	lastTriageActivity time.Time
}

type buildResult struct {
	pool *Pool
	err  error
}

// NewRegistry constructs a Registry. dial produces a Dialer for a given
// pool Key, deferring transport details to the caller.
func NewRegistry(clk clock.Clock, dial func(ctx context.Context, key Key) (Dialer, error)) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{clock: clk, dial: dial, lastTriageActivity: clk.Now()}
}

// Acquire returns the shared pool for cfg, reusing the existing record
// if reuseNntpPool is set, the key matches, and the pool is not stale;
// otherwise it builds (or awaits an in-flight build of) a fresh one.
func (r *Registry) Acquire(ctx context.Context, cfg config.Config, maxConnections int) (*Pool, error) {
	key := keyFor(cfg.NNTP, maxConnections, int64(cfg.NNTPKeepAliveMs))
	r.mu.Lock()
	stale := r.current != nil && r.isStaleLocked(r.current)
	r.lastTriageActivity = r.clock.Now()

	if cfg.ReuseNNTPPool && r.current != nil && r.current.key == key && !stale {
		rec := r.current
		now := r.clock.Now()
		rec.lastUsed = &now
		r.mu.Unlock()
		rec.pool.Touch()
		return rec.pool, nil
	}

	// Coalesce onto the in-flight build: each waiter gets its own
	// buffered-1 channel so the resolver can fan the single result out
	// to every one of them, rather than a shared channel where only one
	// receiver gets the real value and the rest get the zero value off
	// a close.
	if r.building {
		wait := make(chan *buildResult, 1)
		r.waiters = append(r.waiters, wait)
		r.mu.Unlock()
		res := <-wait
		return res.pool, res.err
	}

	r.building = true
	old := r.current
	r.mu.Unlock()

	if old != nil {
		old.pool.Close()
	}

	p, err := r.build(ctx, key, maxConnections, cfg.NNTPKeepAlive())

	r.mu.Lock()
	r.building = false
	if err == nil {
		now := r.clock.Now()
		r.current = &record{key: key, pool: p, lastUsed: &now}
	}
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	res := &buildResult{pool: p, err: err}
	for _, w := range waiters {
		w <- res
	}
	return p, err
}

// PreWarm opens the shared pool idempotently; concurrent callers
// coalesce onto a single in-flight build (spec §4.5 preWarmNntpPool()).
func (r *Registry) PreWarm(ctx context.Context, cfg config.Config, maxConnections int) error {
	_, err := r.Acquire(ctx, cfg, maxConnections)
	return err
}

// Close releases the current shared pool, if any.
func (r *Registry) Close() {
	r.mu.Lock()
	cur := r.current
	r.current = nil
	r.mu.Unlock()
	if cur != nil {
		cur.pool.Close()
	}
}

func (r *Registry) isStaleLocked(rec *record) bool {
	inactiveOverFiveMin := r.clock.Now().Sub(r.lastTriageActivity) >= staleAfter
	if !inactiveOverFiveMin {
		return false
	}
	if rec.lastUsed == nil {
		return true
	}
	return r.clock.Now().Sub(*rec.lastUsed) >= staleAfter
}

func (r *Registry) build(ctx context.Context, key Key, maxConnections int, rotateInterval time.Duration) (*Pool, error) {
	dialer, err := r.dial(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("nntppool: registry build: %w", err)
	}
	return New(ctx, dialer, Options{
		MaxConnections: maxConnections,
		RotateInterval: rotateInterval,
		Clock:          r.clock,
	})
}
