// Package nntpmock is a hand-written fake satisfying nntp.Client, in the
// teacher's style (see backend/services/history/service_test.go's
// mockMetadataService): no generated mocks, just a small struct with
// per-method hooks and a call log.
package nntpmock

import (
	"context"
	"sync"

	"github.com/nzbtriage/engine/internal/nntp"
)

// Client is a scriptable fake nntp.Client. Each method defers to its
// hook if set, else returns a zero-value success. Calls are recorded for
// assertions.
type Client struct {
	mu sync.Mutex

	StatFunc func(ctx context.Context, messageID string) error
	BodyFunc func(ctx context.Context, messageID string) ([]byte, error)
	QuitFunc func(ctx context.Context) error

	StatCalls  []string
	BodyCalls  []string
	QuitCalled bool
}

func (c *Client) Stat(ctx context.Context, messageID string) error {
	c.mu.Lock()
	c.StatCalls = append(c.StatCalls, messageID)
	c.mu.Unlock()
	if c.StatFunc != nil {
		return c.StatFunc(ctx, messageID)
	}
	return nil
}

func (c *Client) Body(ctx context.Context, messageID string) ([]byte, error) {
	c.mu.Lock()
	c.BodyCalls = append(c.BodyCalls, messageID)
	c.mu.Unlock()
	if c.BodyFunc != nil {
		return c.BodyFunc(ctx, messageID)
	}
	return nil, nil
}

func (c *Client) Quit(ctx context.Context) error {
	c.mu.Lock()
	c.QuitCalled = true
	c.mu.Unlock()
	if c.QuitFunc != nil {
		return c.QuitFunc(ctx)
	}
	return nil
}

// Missing returns a StatFunc/BodyFunc-compatible error for the given
// missing-article kind, matching what the real adapter would produce.
func Missing(kind nntp.ErrorKind) error {
	return &nntp.Error{Kind: kind, Drop: false}
}

// Transport returns a drop-marked transport error of the given kind.
func Transport(kind nntp.ErrorKind) error {
	return &nntp.Error{Kind: kind, Drop: true}
}

var _ nntp.Client = (*Client)(nil)
