// Package nntp defines the capability interface the pool and analyzer
// use to talk to a single Usenet connection (spec §6, §4.5), plus a thin
// adapter over javi11/nntpcli. Callers never depend on nntpcli directly,
// so tests can swap in nntpmock.Client instead (spec Design Notes:
// "Duck-typed NNTP client → capability interface").
package nntp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/javi11/nntpcli"
)

// ErrorKind is the closed set of NNTP-layer error kinds spec §7 names.
type ErrorKind string

const (
	KindStatMissing ErrorKind = "STAT_MISSING"
	KindStatTimeout ErrorKind = "STAT_TIMEOUT"
	KindBodyMissing ErrorKind = "BODY_MISSING"
	KindBodyError   ErrorKind = "BODY_ERROR"

	KindETIMEDOUT    ErrorKind = "ETIMEDOUT"
	KindECONNRESET   ErrorKind = "ECONNRESET"
	KindECONNABORTED ErrorKind = "ECONNABORTED"
	KindEPIPE        ErrorKind = "EPIPE"
)

// Error is a tagged NNTP-layer failure. Drop reports whether the
// originating client should be evicted from the pool rather than
// released back to it (spec §4.5: transport-fatal errors mark drop;
// a missing article does not).
type Error struct {
	Kind ErrorKind
	Drop bool
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsMissing reports whether err represents a well-defined "article not
// found" outcome (430), which is never a drop.
func IsMissing(err error) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Kind == KindStatMissing || ne.Kind == KindBodyMissing
	}
	return false
}

// ShouldDrop reports whether err means the client must be evicted.
func ShouldDrop(err error) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Drop
	}
	return false
}

// classifyTransportError maps a raw transport error to a tagged,
// drop-marked *Error per spec §4.5's ETIMEDOUT|ECONNRESET|ECONNABORTED|EPIPE
// rule, or to the well-defined 430 outcome when the text says so.
func classifyTransportError(err error, missingKind, transportKind ErrorKind) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "430") {
		return &Error{Kind: missingKind, Drop: false, Err: err}
	}

	for kind, needle := range map[ErrorKind]string{
		KindETIMEDOUT:    "ETIMEDOUT",
		KindECONNRESET:   "ECONNRESET",
		KindECONNABORTED: "ECONNABORTED",
		KindEPIPE:        "EPIPE",
	} {
		if strings.Contains(msg, needle) {
			return &Error{Kind: kind, Drop: true, Err: err}
		}
	}

	return &Error{Kind: transportKind, Drop: true, Err: err}
}

// Client is the capability surface the pool and analyzer depend on. It
// is satisfied both by *ClientAdapter (the real javi11/nntpcli-backed
// implementation) and by nntpmock.Client in tests.
type Client interface {
	// Stat issues STAT <messageID>. Returns a *Error tagged
	// STAT_MISSING on 430, or any other classified transport error.
	Stat(ctx context.Context, messageID string) error
	// Body issues BODY <messageID> and returns the raw article body.
	// Returns a *Error tagged BODY_MISSING on 430, BODY_ERROR on an
	// empty body, or a classified transport error.
	Body(ctx context.Context, messageID string) ([]byte, error)
	// Quit sends QUIT and closes the underlying connection.
	Quit(ctx context.Context) error
}

// ClientAdapter wraps an nntpcli connection to satisfy Client.
type ClientAdapter struct {
	conn nntpcli.Connection
}

// Dial opens and authenticates a new connection per spec §4.5's
// "Creation" step: AUTHINFO on connect, TLS optional.
func Dial(ctx context.Context, cli nntpcli.Client, host string, port int, useTLS bool, user, pass string) (*ClientAdapter, error) {
	var conn nntpcli.Connection
	var err error
	if useTLS {
		conn, err = cli.DialTLS(ctx, host, port, false)
	} else {
		conn, err = cli.Dial(ctx, host, port)
	}
	if err != nil {
		return nil, classifyTransportError(err, KindStatMissing, KindETIMEDOUT)
	}
	if user != "" {
		if err := conn.Authenticate(user, pass); err != nil {
			_ = conn.Close()
			return nil, classifyTransportError(err, KindStatMissing, KindETIMEDOUT)
		}
	}
	return &ClientAdapter{conn: conn}, nil
}

func (c *ClientAdapter) Stat(ctx context.Context, messageID string) error {
	_, err := c.conn.Stat(messageID)
	if err != nil {
		return classifyTransportError(err, KindStatMissing, KindETIMEDOUT)
	}
	return nil
}

func (c *ClientAdapter) Body(ctx context.Context, messageID string) ([]byte, error) {
	r, err := c.conn.BodyReader(messageID)
	if err != nil {
		return nil, classifyTransportError(err, KindBodyMissing, KindETIMEDOUT)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, classifyTransportError(err, KindBodyMissing, KindETIMEDOUT)
	}
	if len(body) == 0 {
		return nil, &Error{Kind: KindBodyError, Drop: false}
	}
	return body, nil
}

func (c *ClientAdapter) Quit(ctx context.Context) error {
	return c.conn.Close()
}
