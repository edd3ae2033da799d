// Package handshake implements eddi's rendezvous protocol (spec.md §4.7):
// a client and broker with no direct wire connection agree on a shared
// ephemeral hidden-service nickname derived from a short code and the
// current one-minute time window.
package handshake

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/opd-ai/eddi/internal/randcode"
)

const (
	shortCodeCharset   = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	shortCodePayloadLen = 6

	accessTokenCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	accessTokenLen     = 32

	bucketInterval = 60 * time.Second
)

// GenerateShortCode returns a fresh 6-character short code over the
// no-confusing-characters alphabet, printed with a hyphen after the third
// character for readability (7 characters printed; the 6-character payload
// is what participates in identifier derivation).
func GenerateShortCode() string {
	payload := randcode.String(shortCodeCharset, shortCodePayloadLen)
	return payload[:3] + "-" + payload[3:]
}

// shortCodePayload strips the display hyphen, if present, back to the
// 6-character alphabet payload used in identifier derivation.
func shortCodePayload(code string) string {
	out := make([]byte, 0, shortCodePayloadLen)
	for _, c := range code {
		if c != '-' {
			out = append(out, byte(c))
		}
	}
	return string(out)
}

// GenerateAccessToken returns a fresh 32-character mixed-case alphanumeric
// access token (spec.md §3 AccessToken).
func GenerateAccessToken() string {
	return randcode.String(accessTokenCharset, accessTokenLen)
}

// BucketTimestamp floors t to the nearest 60-second boundary (spec.md §3
// RendezvousIdentifier bucket_ts).
func BucketTimestamp(t time.Time) int64 {
	return t.Unix() / int64(bucketInterval/time.Second) * int64(bucketInterval/time.Second)
}

// Identifier derives the deterministic rendezvous identifier: the first 16
// bytes of SHA-256(namespace ‖ bucket_ts_le64 ‖ short_code), hex-encoded
// (spec.md §3 RendezvousIdentifier).
func Identifier(namespace string, bucketTS int64, code string) string {
	h := sha256.New()
	h.Write([]byte(namespace))

	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(bucketTS))
	h.Write(tsBuf[:])

	h.Write([]byte(shortCodePayload(code)))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// TimeWindow returns the bucket timestamps to try within ±windowMinutes of
// now, center first is not guaranteed — callers try them in the returned
// (ascending) order, matching the Rust source's generate_time_window.
func TimeWindow(now time.Time, windowMinutes int) []int64 {
	const intervalSeconds = int64(bucketInterval / time.Second)

	rounded := BucketTimestamp(now)
	windowSeconds := int64(windowMinutes) * 60
	numIntervals := (windowSeconds/intervalSeconds)*2 + 1

	out := make([]int64, 0, numIntervals)
	for i := int64(0); i < numIntervals; i++ {
		offset := (i - numIntervals/2) * intervalSeconds
		out = append(out, BucketTimestamp(time.Unix(rounded+offset, 0)))
	}
	return out
}
