package handshake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateShortCodeFormat(t *testing.T) {
	code := GenerateShortCode()
	if len(code) != 7 {
		t.Fatalf("expected 7-character code (6 + hyphen), got %d: %q", len(code), code)
	}
	if code[3] != '-' {
		t.Fatalf("expected hyphen at position 3, got %q", code)
	}
	for _, c := range strings.ReplaceAll(code, "-", "") {
		if !strings.ContainsRune(shortCodeCharset, c) {
			t.Errorf("character %q not in short code alphabet", c)
		}
	}
}

func TestGenerateAccessTokenFormat(t *testing.T) {
	token := GenerateAccessToken()
	if len(token) != accessTokenLen {
		t.Fatalf("expected %d-character token, got %d", accessTokenLen, len(token))
	}
	for _, c := range token {
		if !strings.ContainsRune(accessTokenCharset, c) {
			t.Errorf("character %q not in access token alphabet", c)
		}
	}
}

func TestIdentifierDeterministic(t *testing.T) {
	id1 := Identifier("ns", 1234567890, "ABC-XYZ")
	id2 := Identifier("ns", 1234567890, "ABC-XYZ")
	if id1 != id2 {
		t.Fatal("identical inputs should produce identical identifiers")
	}
	if len(id1) != 32 { // 16 bytes hex-encoded
		t.Fatalf("expected 32 hex characters, got %d", len(id1))
	}
}

func TestIdentifierDiffersByCode(t *testing.T) {
	id1 := Identifier("ns", 1234567890, "ABC-XYZ")
	id2 := Identifier("ns", 1234567890, "DEF-123")
	if id1 == id2 {
		t.Fatal("different codes should produce different identifiers")
	}
}

func TestIdentifierDiffersByNamespace(t *testing.T) {
	id1 := Identifier("ns1", 1234567890, "ABC-XYZ")
	id2 := Identifier("ns2", 1234567890, "ABC-XYZ")
	if id1 == id2 {
		t.Fatal("different namespaces should produce different identifiers")
	}
}

func TestIdentifierDiffersByTimestamp(t *testing.T) {
	id1 := Identifier("ns", 1234567890, "ABC-XYZ")
	id2 := Identifier("ns", 1234567950, "ABC-XYZ")
	if id1 == id2 {
		t.Fatal("different bucket timestamps should produce different identifiers")
	}
}

func TestBucketTimestampRoundsDown(t *testing.T) {
	ts := BucketTimestamp(time.Unix(1234567890, 0))
	if ts%60 != 0 {
		t.Errorf("expected bucket timestamp divisible by 60, got %d", ts)
	}
	if ts > 1234567890 {
		t.Error("bucket timestamp should round down, not up")
	}
	if 1234567890-ts >= 60 {
		t.Error("bucket timestamp should be within one interval of input")
	}
}

func TestTimeWindowCoversRange(t *testing.T) {
	now := time.Unix(1234567890, 0)
	window := TimeWindow(now, 2)

	if len(window) < 5 {
		t.Fatalf("expected at least 5 timestamps for a ±2 minute window, got %d", len(window))
	}
	for _, ts := range window {
		if ts%60 != 0 {
			t.Errorf("expected all timestamps on minute boundaries, got %d", ts)
		}
	}
	for i := 1; i < len(window); i++ {
		if window[i] < window[i-1] {
			t.Error("expected ascending timestamps")
		}
	}
}

func TestBrokerHandshakeValidateCode(t *testing.T) {
	bh := NewBrokerHandshake("ns", "ABC-123", "target.onion")

	if !bh.ValidateCode("ABC-123") {
		t.Error("expected matching code to validate")
	}
	if bh.ValidateCode("XYZ-999") {
		t.Error("expected non-matching code to fail validation")
	}
}

func TestBrokerHandshakeIdentifierMatchesClientCandidate(t *testing.T) {
	bh := NewBrokerHandshake("ns", "ABC-123", "target.onion")
	ch := NewClientHandshake("ns", "ABC-123")

	found := false
	for _, c := range ch.PossibleIdentifiers(1) {
		if c.Identifier == bh.Identifier() {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("broker's published identifier should appear among the client's candidates within the same window")
	}
}

func TestCreateIntroduction(t *testing.T) {
	bh := NewBrokerHandshake("ns", "ABC-123", "target.onion")
	intro := bh.CreateIntroduction(time.Hour)

	if intro.TargetServerAddress != "target.onion" {
		t.Errorf("expected target.onion, got %q", intro.TargetServerAddress)
	}
	if intro.AccessToken == "" {
		t.Error("expected a minted access token")
	}
	if !intro.ExpiresAt.After(time.Now()) {
		t.Error("expected expiry to be in the future")
	}
}

func TestClientDiscoverReturnsFirstSuccess(t *testing.T) {
	ch := NewClientHandshake("ns", "ABC-123")
	calls := 0

	intro, err := ch.Discover(context.Background(), 1, func(ctx context.Context, c Candidate) (Introduction, error) {
		calls++
		if calls < 3 {
			return Introduction{}, errors.New("not found")
		}
		return Introduction{TargetServerAddress: "found.onion"}, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if intro.TargetServerAddress != "found.onion" {
		t.Errorf("expected found.onion, got %q", intro.TargetServerAddress)
	}
}

func TestClientDiscoverExhaustsCandidates(t *testing.T) {
	ch := NewClientHandshake("ns", "ABC-123")

	_, err := ch.Discover(context.Background(), 1, func(ctx context.Context, c Candidate) (Introduction, error) {
		return Introduction{}, errors.New("no broker here")
	})
	if err == nil {
		t.Fatal("expected an error when no candidate succeeds")
	}
}
