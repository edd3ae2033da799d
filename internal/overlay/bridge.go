package overlay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/eddi/internal/errs"
	"github.com/opd-ai/eddi/internal/logging"
)

// Listener is the subset of *HiddenService the bridge depends on, so tests
// can substitute an in-process fake overlay (spec.md §8.7 bridge round-trip).
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
}

// BridgeConfig configures a HiddenServiceBridge.
type BridgeConfig struct {
	// Source yields inbound rendezvous streams; each Accept() is one
	// Begin(port) request already filtered to a permitted port, since bine
	// does not expose per-request port introspection the way arti's
	// IncomingStreamRequest does — see DESIGN.md.
	Source Listener

	// Dial opens the local target for each accepted stream (a UDS path in
	// practice; injectable so tests can splice to an in-process echo
	// server instead of a real socket).
	Dial func(ctx context.Context) (net.Conn, error)

	// DialTimeout bounds each outbound dial (default 10s, spec.md §5).
	DialTimeout time.Duration

	Logger *logging.Logger
}

// Bridge translates each inbound rendezvous request into a spliced byte
// pipe between the overlay and a local UDS (spec.md §4.1 HiddenServiceBridge).
type Bridge struct {
	source      Listener
	dial        func(ctx context.Context) (net.Conn, error)
	dialTimeout time.Duration
	logger      *logging.Logger

	// breaker is shared across every stream's outbound dial, not
	// per-stream: if the local target (a crashed spawned app, say) is
	// down, it trips once and every subsequent stream fails fast instead
	// of each independently burning through AggressiveRetryPolicy.
	breaker *errs.CircuitBreaker

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewBridge constructs a Bridge from cfg.
func NewBridge(cfg BridgeConfig) *Bridge {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault()
	}
	dt := cfg.DialTimeout
	if dt == 0 {
		dt = 10 * time.Second
	}
	return &Bridge{
		source:      cfg.Source,
		dial:        cfg.Dial,
		dialTimeout: dt,
		logger:      log.Component("bridge"),
		breaker:     errs.NewCircuitBreaker(nil),
		done:        make(chan struct{}),
	}
}

// Run accepts inbound streams until the source's Accept loop ends (the
// onion service was dropped) or ctx is cancelled. Each request is handled
// in its own goroutine; the accept loop never blocks on per-request work
// (spec.md §4.1 concurrency).
func (b *Bridge) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.Stop()
	}()

	for {
		conn, err := b.source.Accept()
		if err != nil {
			select {
			case <-b.done:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return errs.TransportError("bridge accept loop ended", err)
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleStream(ctx, conn)
		}()
	}
}

// Stop ends the bridge's accept loop and waits for in-flight streams to
// finish draining.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		_ = b.source.Close()
	})
	b.wg.Wait()
}

// handleStream splices conn (the accepted rendezvous stream) against the
// dialed local target. Per-stream errors are logged and dropped; they never
// terminate the bridge (spec.md §4.1 failure semantics).
func (b *Bridge) handleStream(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dialCtx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	defer cancel()

	var target net.Conn
	err := b.breaker.ExecuteWithRetry(dialCtx, errs.AggressiveRetryPolicy(), func() error {
		t, derr := b.dial(dialCtx)
		if derr != nil {
			return errs.TransportError("dial local target for rendezvous stream", derr)
		}
		target = t
		return nil
	})
	if err != nil {
		b.logger.Warn("failed to dial local target for rendezvous stream", "error", err)
		return
	}
	defer target.Close()

	spliceBidirectional(b.logger, conn, target)
}

// halfCloser is satisfied by *net.UnixConn and bine's onion connections,
// both of which support shutting down one direction without closing the fd.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// spliceBidirectional copies bytes in both directions until both sides
// have reached EOF, half-closing the opposite direction as each side
// finishes so the remote observes a clean half-close rather than a reset
// (spec.md §4.1 step 5).
func spliceBidirectional(log *logging.Logger, a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	copyOne := func(dst, src net.Conn) {
		defer wg.Done()
		_, err := io.Copy(dst, src)
		if err != nil && !isClosedOrEOF(err) {
			log.Debug("splice direction ended with error", "error", err)
		}
		if hc, ok := dst.(halfCloser); ok {
			_ = hc.CloseWrite()
		} else {
			_ = dst.Close()
		}
		if hc, ok := src.(halfCloser); ok {
			_ = hc.CloseRead()
		}
	}

	go copyOne(b, a)
	go copyOne(a, b)

	wg.Wait()
}

func isClosedOrEOF(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
