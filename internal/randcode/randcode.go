// Package randcode generates cryptographically random strings over a fixed
// alphabet, shared by client-code (statestore), short-code and access-token
// generation (handshake) (spec.md §4.7 alphabets).
package randcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// String returns a cryptographically random string of length n drawn
// uniformly from charset.
func String(charset string, n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand.Reader failing means the OS CSPRNG is broken;
			// there is no sane degraded mode for security-sensitive codes.
			panic(fmt.Sprintf("randcode: crypto/rand failed: %v", err))
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out)
}
