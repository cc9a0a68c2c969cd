package nntppool

import (
	"context"
	"time"

	"github.com/nzbtriage/engine/internal/nntp"
)

// statHardTimeout is spec §4.5's "STAT has a hard 5000 ms timeout".
const statHardTimeout = 5 * time.Second

// Stat borrows a client, runs STAT, and returns it to the pool,
// dropping it if the STAT timed out or hit a transport-fatal error
// (spec §4.5 "Per-op timeouts"). A missing article (430) is a normal,
// non-drop outcome.
func (p *Pool) Stat(ctx context.Context, messageID string) error {
	e, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	statCtx, cancel := context.WithTimeout(ctx, statHardTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.client.Stat(statCtx, messageID) }()

	select {
	case statErr := <-done:
		p.Release(e, nntp.ShouldDrop(statErr))
		return statErr
	case <-statCtx.Done():
		p.Release(e, true)
		return &nntp.Error{Kind: nntp.KindStatTimeout, Drop: true, Err: statCtx.Err()}
	}
}

// Body borrows a client, runs BODY, and returns it to the pool, dropping
// it only on a transport-fatal error. BODY has no per-call timeout
// beyond the caller's ctx (spec §4.5).
func (p *Pool) Body(ctx context.Context, messageID string) ([]byte, error) {
	e, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	body, bodyErr := e.client.Body(ctx, messageID)
	p.Release(e, nntp.ShouldDrop(bodyErr))
	return body, bodyErr
}
