package handshake

import "time"

// Introduction is what a BrokerHandshake issues to a client on successful
// code validation: the real server to continue to, and a freshly minted
// access token (spec.md §3 AccessToken; see internal/broker.TokenRegistry
// for why the token is currently unconsumed by Auth).
type Introduction struct {
	TargetServerAddress string
	AccessToken         string
	ExpiresAt            time.Time
}

// BrokerHandshake is the broker side of the rendezvous protocol: it knows
// the shared namespace and code, and publishes an ephemeral hidden service
// at Identifier() for clients to discover (spec.md §4.7).
type BrokerHandshake struct {
	namespace            string
	code                 string
	bucketTS             int64
	targetServerAddress string
}

// NewBrokerHandshake captures the current one-minute bucket timestamp so
// Identifier() stays stable for the lifetime of this handshake.
func NewBrokerHandshake(namespace, code, targetServerAddress string) *BrokerHandshake {
	return &BrokerHandshake{
		namespace:            namespace,
		code:                 code,
		bucketTS:             BucketTimestamp(time.Now()),
		targetServerAddress: targetServerAddress,
	}
}

// Identifier returns the rendezvous identifier this handshake publishes its
// ephemeral hidden service under.
func (h *BrokerHandshake) Identifier() string {
	return Identifier(h.namespace, h.bucketTS, h.code)
}

// ValidateCode performs a constant-string equality check against the known
// code (spec.md §4.7: "constant-string equality", not constant-time — the
// code is not itself secret-length-sensitive the way a token is).
func (h *BrokerHandshake) ValidateCode(provided string) bool {
	return shortCodePayload(h.code) == shortCodePayload(provided)
}

// CreateIntroduction mints a fresh access token and returns the Introduction
// a client should receive after a successful ValidateCode.
func (h *BrokerHandshake) CreateIntroduction(tokenTTL time.Duration) Introduction {
	return Introduction{
		TargetServerAddress: h.targetServerAddress,
		AccessToken:         GenerateAccessToken(),
		ExpiresAt:           time.Now().Add(tokenTTL),
	}
}
