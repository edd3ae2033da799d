package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/opd-ai/eddi/internal/errs"
)

// Candidate is one identifier to try, paired with the bucket timestamp it
// was derived from (useful for logging which window eventually matched).
type Candidate struct {
	BucketTS   int64
	Identifier string
}

// ClientHandshake is the client side of the rendezvous protocol: given a
// shared namespace and code, it enumerates the hidden-service identifiers a
// broker might currently be publishing under (spec.md §4.7).
type ClientHandshake struct {
	namespace string
	code      string
}

// NewClientHandshake constructs a ClientHandshake for namespace and code.
func NewClientHandshake(namespace, code string) *ClientHandshake {
	return &ClientHandshake{namespace: namespace, code: code}
}

// PossibleIdentifiers returns every candidate identifier within
// ±windowMinutes of now, in the broker's own clock-skew-tolerant search
// order.
func (h *ClientHandshake) PossibleIdentifiers(windowMinutes int) []Candidate {
	timestamps := TimeWindow(time.Now(), windowMinutes)
	out := make([]Candidate, len(timestamps))
	for i, ts := range timestamps {
		out[i] = Candidate{BucketTS: ts, Identifier: Identifier(h.namespace, ts, h.code)}
	}
	return out
}

// DialFunc attempts to reach one candidate identifier's hidden service and
// returns its Introduction, or an error if this candidate is not (yet, or
// no longer) published.
type DialFunc func(ctx context.Context, candidate Candidate) (Introduction, error)

// Discover tries each candidate identifier in order, returning the first
// successful Introduction (spec.md §4.7: "attempt connection to each
// candidate in order; first successful contact returns the Introduction").
func (h *ClientHandshake) Discover(ctx context.Context, windowMinutes int, dial DialFunc) (Introduction, error) {
	candidates := h.PossibleIdentifiers(windowMinutes)

	var lastErr error
	for _, c := range candidates {
		intro, err := dial(ctx, c)
		if err == nil {
			return intro, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return Introduction{}, errs.TransportError("rendezvous discovery cancelled", ctx.Err())
		default:
		}
	}

	return Introduction{}, errs.TransportError(fmt.Sprintf("no broker found among %d candidate identifiers", len(candidates)), lastErr)
}
