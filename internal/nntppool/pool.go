// Package nntppool implements the bounded, cancellable pool of
// authenticated NNTP connections the triage engine drives (spec §4.5):
// acquire/release with FIFO waiters, per-op timeouts, drop-on-transport-
// error eviction with backoff replacement, and two independent
// keep-alive mechanisms. Grounded on the teacher's usenet_reader.go
// (sourcegraph/conc/pool fan-out, sync.Mutex-guarded lifecycle state,
// slog dotted event names) and scheduler.Service's mutex-guarded
// start/stop shape.
package nntppool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"

	"github.com/nzbtriage/engine/internal/clock"
	"github.com/nzbtriage/engine/internal/nntp"
)

// Dialer opens one new authenticated nntp.Client. Supplied by the
// caller so the pool never depends on a concrete transport; tests pass a
// dialer backed by nntpmock.Client.
type Dialer func(ctx context.Context) (nntp.Client, error)

// entry wraps a live client with the bookkeeping the pool needs while
// it sits idle: a cancellable keep-alive timer.
type entry struct {
	client    nntp.Client
	keepTimer clock.Timer
}

// Pool is the connection pool described by spec §4.5. The zero value is
// not usable; construct with New.
type Pool struct {
	log    *slog.Logger
	clock  clock.Clock
	dial   Dialer
	maxN   int

	mu       sync.Mutex
	idle     []*entry
	waiters  []chan *entry
	all      map[*entry]struct{}
	closing  bool
	lastUsed time.Time

	keepAliveIdle     time.Duration // (a) per-idle-client timer, fixed 30s per spec
	keepAliveProbeTO  time.Duration // 6s overall timeout on the keep-alive STAT
	rotateInterval    time.Duration // (b) keepAliveMs pool-rotation interval
	rotateStop        chan struct{}
	rotateWG          sync.WaitGroup
	lastTriageActive  time.Time
}

// Options configures a new Pool.
type Options struct {
	MaxConnections int
	RotateInterval time.Duration // spec §6 nntpKeepAliveMs
	Logger         *slog.Logger
	Clock          clock.Clock
}

// New opens N = max(1, maxConnections) authenticated sessions
// concurrently (spec §4.5 "Creation"). If any dial fails, the successes
// are closed and the failure is surfaced.
func New(ctx context.Context, dial Dialer, opts Options) (*Pool, error) {
	n := opts.MaxConnections
	if n < 1 {
		n = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	p := &Pool{
		log:              log,
		clock:            clk,
		dial:             dial,
		maxN:             n,
		all:              make(map[*entry]struct{}, n),
		keepAliveIdle:    30 * time.Second,
		keepAliveProbeTO: 6 * time.Second,
		rotateInterval:   opts.RotateInterval,
		rotateStop:       make(chan struct{}),
		lastUsed:         clk.Now(),
		lastTriageActive: clk.Now(),
	}

	log.InfoContext(ctx, "nntppool.create.start", "max_connections", n)

	creations := pool.NewWithResults[*entry]().WithMaxGoroutines(n).WithContext(ctx)
	for i := 0; i < n; i++ {
		creations.Go(func(c context.Context) (*entry, error) {
			cl, err := dial(c)
			if err != nil {
				return nil, err
			}
			return &entry{client: cl}, nil
		})
	}

	entries, err := creations.Wait()
	if err != nil {
		for _, e := range entries {
			if e != nil {
				_ = e.client.Quit(ctx)
			}
		}
		log.ErrorContext(ctx, "nntppool.create.failed", "error", err)
		return nil, fmt.Errorf("nntppool: create: %w", err)
	}

	for _, e := range entries {
		p.all[e] = struct{}{}
		p.idle = append(p.idle, e)
	}

	if p.rotateInterval > 0 {
		p.rotateWG.Add(1)
		go p.rotateLoop()
	}

	log.InfoContext(ctx, "nntppool.create.done", "connections", len(p.all))
	return p, nil
}

// Acquire implements spec §4.5's acquire(): pop from idle (cancelling its
// keep-alive timer) or enqueue a FIFO waiter.
func (p *Pool) Acquire(ctx context.Context) (*entry, error) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil, fmt.Errorf("nntppool: closed")
	}
	if n := len(p.idle); n > 0 {
		e := p.idle[n-1]
		p.idle = p.idle[:n-1]
		if e.keepTimer != nil {
			e.keepTimer.Stop()
			e.keepTimer = nil
		}
		p.mu.Unlock()
		return e, nil
	}

	wait := make(chan *entry, 1)
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()

	select {
	case e := <-wait:
		if e == nil {
			return nil, fmt.Errorf("nntppool: closed while waiting")
		}
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release implements spec §4.5's release(): a dropped client is removed
// and replaced asynchronously; otherwise it is handed to the head
// waiter, or parked in idle with a fresh keep-alive timer armed.
func (p *Pool) Release(e *entry, drop bool) {
	p.mu.Lock()

	p.lastUsed = p.clock.Now()

	if drop {
		delete(p.all, e)
		p.mu.Unlock()
		go func() {
			_ = e.client.Quit(context.Background())
			p.replace()
		}()
		return
	}

	if n := len(p.waiters); n > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w <- e
		return
	}

	e.keepTimer = p.clock.AfterFunc(p.keepAliveIdle, func() { p.onIdleTimerFire(e) })
	p.idle = append(p.idle, e)
	p.mu.Unlock()
}

// Touch updates lastUsed, marking the pool as recently active (spec
// §4.5's touch()).
func (p *Pool) Touch() {
	p.mu.Lock()
	p.lastUsed = p.clock.Now()
	p.lastTriageActive = p.lastUsed
	p.mu.Unlock()
}

// LastUsed returns the last time the pool was touched or had a client
// released back to it.
func (p *Pool) LastUsed() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsed
}

// Size returns the number of live connections currently tracked (idle
// plus lent-out), for spec §8 property P4.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Close implements spec §4.5's close(): sets closing, cancels timers,
// resolves every waiter with a nil client, and closes every member.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.closing = true

	for _, e := range p.idle {
		if e.keepTimer != nil {
			e.keepTimer.Stop()
		}
	}
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
	members := make([]*entry, 0, len(p.all))
	for e := range p.all {
		members = append(members, e)
	}
	p.all = make(map[*entry]struct{})
	p.idle = nil
	p.mu.Unlock()

	close(p.rotateStop)
	p.rotateWG.Wait()

	for _, e := range members {
		_ = e.client.Quit(context.Background())
	}
}

// replace retries creating one replacement connection, backing off 1s
// between attempts (spec §4.5 "Replacement"), and routes it to a waiter
// if one exists, else to idle.
func (p *Pool) replace() {
	ctx := context.Background()
	err := retry.Do(
		func() error {
			p.mu.Lock()
			closing := p.closing
			p.mu.Unlock()
			if closing {
				return retry.Unrecoverable(fmt.Errorf("nntppool: closing"))
			}

			cl, dialErr := p.dial(ctx)
			if dialErr != nil {
				return dialErr
			}
			e := &entry{client: cl}

			p.mu.Lock()
			if p.closing {
				p.mu.Unlock()
				_ = cl.Quit(ctx)
				return retry.Unrecoverable(fmt.Errorf("nntppool: closing"))
			}
			p.all[e] = struct{}{}
			if n := len(p.waiters); n > 0 {
				w := p.waiters[0]
				p.waiters = p.waiters[1:]
				p.mu.Unlock()
				w <- e
				return nil
			}
			e.keepTimer = p.clock.AfterFunc(p.keepAliveIdle, func() { p.onIdleTimerFire(e) })
			p.idle = append(p.idle, e)
			p.mu.Unlock()
			return nil
		},
		retry.Delay(time.Second),
		retry.UntilSucceeded(), // retry forever until closing, per spec's "retry after 1s"
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		p.log.ErrorContext(ctx, "nntppool.replace.abandoned", "error", err)
	}
}
