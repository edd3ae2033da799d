package wire

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []ProtocolMessage{
		Auth("K1", "client-1"),
		AuthResponse(true, "Authenticated", "server-1"),
		Send([]byte("hello")),
		Broadcast(Message{ID: "m1", From: "client-1", Content: []byte("hi"), CreatedAt: time.Unix(100, 0).UTC(), ExpiresAt: time.Unix(200, 0).UTC()}),
		Receive(nil),
		ReceiveResponse([]Message{{ID: "m1", From: "c1", Content: []byte("x")}}),
		Ping(),
		Pong(),
		NewError("bad code"),
	}

	for _, want := range tests {
		encoded, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%+v) failed: %v", want, err)
		}
		got, err := Decode(bytes.TrimRight(encoded, "\n"))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got.Tag != want.Tag {
			t.Errorf("tag mismatch: got %s, want %s", got.Tag, want.Tag)
		}
	}
}

func TestReaderSkipsEmptyLines(t *testing.T) {
	raw, _ := Encode(Ping())
	input := "\n\n" + string(raw) + "\n"

	r := NewReader(bytes.NewReader([]byte(input)))
	result, err := r.Next()
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if result.ParseError != nil {
		t.Fatalf("unexpected parse error: %v", result.ParseError)
	}
	if result.Message.Tag != TagPing {
		t.Errorf("expected Ping, got %s", result.Message.Tag)
	}

	_, err = r.Next()
	if err != io.EOF {
		t.Errorf("expected io.EOF after last message, got %v", err)
	}
}

func TestReaderParseFailureDoesNotCloseStream(t *testing.T) {
	goodLine, _ := Encode(Ping())
	input := "{not valid json\n" + string(goodLine)

	r := NewReader(bytes.NewReader([]byte(input)))

	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next returned unexpected error: %v", err)
	}
	if first.ParseError == nil {
		t.Fatal("expected a parse error on the malformed line")
	}

	second, err := r.Next()
	if err != nil {
		t.Fatalf("stream should continue after a bad line, got error: %v", err)
	}
	if second.Message.Tag != TagPing {
		t.Errorf("expected Ping on the line after the bad one, got %s", second.Message.Tag)
	}
}

func TestWriterConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = w.Write(Ping())
		}
	}()
	for i := 0; i < 50; i++ {
		_ = w.Write(Pong())
	}
	<-done

	r := NewReader(&buf)
	count := 0
	for {
		res, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if res.ParseError != nil {
			t.Fatalf("unexpected parse error: %v", res.ParseError)
		}
		count++
	}
	if count != 100 {
		t.Errorf("expected 100 interleaved messages, got %d", count)
	}
}

func TestMessageExpired(t *testing.T) {
	m := Message{CreatedAt: time.Unix(0, 0), ExpiresAt: time.Unix(100, 0)}

	if m.Expired(time.Unix(50, 0)) {
		t.Error("message should not be expired before expires_at")
	}
	if !m.Expired(time.Unix(100, 0)) {
		t.Error("message should be expired at exactly expires_at (now >= expires_at)")
	}
	if !m.Expired(time.Unix(150, 0)) {
		t.Error("message should be expired after expires_at")
	}
}
