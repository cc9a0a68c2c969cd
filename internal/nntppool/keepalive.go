package nntppool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nzbtriage/engine/internal/nntp"
)

// onIdleTimerFire implements spec §4.5 keep-alive mechanism (a): issue
// STAT against a synthesized, unlikely-to-exist message-id with a 6s
// overall timeout, expecting success or 430; on any other failure,
// remove the client from idle and trigger replacement; on success,
// re-arm while it's still idle.
func (p *Pool) onIdleTimerFire(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), p.keepAliveProbeTO)
	defer cancel()

	if !p.activityAllowsKeepAlive() {
		// spec §4.5 "Activity gating": don't probe once triage is idle
		// for >5min; the pool will be replaced on next use instead.
		return
	}

	msgID := synthesizeKeepAliveID()
	done := make(chan error, 1)
	go func() { done <- e.client.Stat(ctx, msgID) }()

	var err error
	select {
	case statErr := <-done:
		if statErr != nil && !nntp.IsMissing(statErr) {
			err = statErr
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		p.mu.Lock()
		p.removeIdle(e)
		p.mu.Unlock()
		go p.replace()
		return
	}

	p.mu.Lock()
	if p.closing || !p.isIdle(e) {
		p.mu.Unlock()
		return
	}
	e.keepTimer = p.clock.AfterFunc(p.keepAliveIdle, func() { p.onIdleTimerFire(e) })
	p.mu.Unlock()
}

// removeIdle drops e from idle and all, callers hold p.mu.
func (p *Pool) removeIdle(e *entry) {
	for i, other := range p.idle {
		if other == e {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	delete(p.all, e)
}

// isIdle reports whether e is still in the idle slice, callers hold p.mu.
func (p *Pool) isIdle(e *entry) bool {
	for _, other := range p.idle {
		if other == e {
			return true
		}
	}
	return false
}

// activityAllowsKeepAlive reports whether triage activity within the
// last 5 minutes permits issuing keep-alive probes (spec §4.5 "Activity
// gating").
func (p *Pool) activityAllowsKeepAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.Now().Sub(p.lastTriageActive) < 5*time.Minute
}

// rotateLoop implements spec §4.5 keep-alive mechanism (b): on each
// rotateInterval tick, proactively rotate one idle client unless there
// has been no recent triage activity, waiters exist, the pool was used
// recently, or idle is empty.
func (p *Pool) rotateLoop() {
	defer p.rotateWG.Done()
	ticker := p.clock.NewTicker(p.rotateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.rotateStop:
			return
		case <-ticker.C():
			p.maybeRotateOne()
		}
	}
}

func (p *Pool) maybeRotateOne() {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	if !p.activityAllowsKeepAliveLocked() {
		p.mu.Unlock()
		return
	}
	if len(p.waiters) > 0 || len(p.idle) == 0 {
		p.mu.Unlock()
		return
	}
	if p.clock.Now().Sub(p.lastUsed) < p.rotateInterval {
		p.mu.Unlock()
		return
	}

	e := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	if e.keepTimer != nil {
		e.keepTimer.Stop()
	}
	delete(p.all, e)
	p.mu.Unlock()

	go func() {
		_ = e.client.Quit(context.Background())
		p.replace()
	}()
}

// activityAllowsKeepAliveLocked is activityAllowsKeepAlive for callers
// that already hold p.mu.
func (p *Pool) activityAllowsKeepAliveLocked() bool {
	return p.clock.Now().Sub(p.lastTriageActive) < 5*time.Minute
}

// synthesizeKeepAliveID builds a message-id unlikely to exist on the
// server, in the same bracket-stripped storage form nzb.Parse emits for
// real segment ids, since it's passed to the same Stat call.
func synthesizeKeepAliveID() string {
	return fmt.Sprintf("keepalive-%d-%s@invalid", time.Now().UnixNano(), uuid.NewString())
}
