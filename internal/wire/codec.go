package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

const maxLineSize = 1 << 20 // 1 MiB per message, generous for queued-message batches

// Reader decodes a stream of ProtocolMessages from r, one per line.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r for line-delimited decoding.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: s}
}

// ReadResult is what Next yields: exactly one of Message or ParseError is set.
type ReadResult struct {
	Message    ProtocolMessage
	ParseError error
}

// Next reads through the next newline and parses it. Empty lines are
// skipped silently. A parse failure is reported via ParseError rather than
// returned as an error, so the caller can reply with Error{message} without
// tearing down the stream (spec.md §4.2: one bad line does not kill a
// session). Next returns io.EOF once the underlying stream is exhausted.
func (r *Reader) Next() (ReadResult, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		var msg ProtocolMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return ReadResult{ParseError: fmt.Errorf("wire: malformed message: %w", err)}, nil
		}
		return ReadResult{Message: msg}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return ReadResult{}, err
	}
	return ReadResult{}, io.EOF
}

// Writer encodes ProtocolMessages to w, one JSON object per line.
//
// Writer is safe for concurrent use: the broker and any Ping/keepalive
// goroutine may both write to the same session's outbound stream.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w for line-delimited encoding.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write serializes msg to JSON and appends a newline. A failure here
// terminates the write side only; callers should keep reading until EOF so
// the remote disconnect is still observed (spec.md §4.2).
func (w *Writer) Write(msg ProtocolMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: failed to encode message: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(data)
	return err
}

// Encode serializes msg for tests and other one-shot callers that don't
// need a persistent Writer.
func Encode(msg ProtocolMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: failed to encode message: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a single line (without its trailing newline) into a
// ProtocolMessage, for tests and other one-shot callers.
func Decode(line []byte) (ProtocolMessage, error) {
	var msg ProtocolMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return ProtocolMessage{}, fmt.Errorf("wire: malformed message: %w", err)
	}
	return msg, nil
}
