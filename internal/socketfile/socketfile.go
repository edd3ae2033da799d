// Package socketfile manages the lifecycle of eddi's Unix Domain Socket
// listener files: binding cleanly even when a prior abnormal exit left an
// orphaned socket file behind, and unlinking on normal teardown (spec.md
// §4.6 ServerInstance teardown).
package socketfile

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/opd-ai/eddi/internal/errs"
	"github.com/opd-ai/eddi/internal/logging"
)

// Listener wraps a net.Listener bound to a UDS path, tracking whether the
// socket file still needs to be unlinked on Close.
type Listener struct {
	net.Listener
	path     string
	logger   *logging.Logger
	closeOne sync.Once
}

// Bind listens on path, first unlinking any orphaned socket file left by a
// prior abnormal exit. A socket file is orphaned, not live, when dialing it
// fails with "connection refused" — a live listener would accept or at
// least queue the connection.
func Bind(path string, logger *logging.Logger) (*Listener, error) {
	log := logger
	if log == nil {
		log = logging.NewDefault()
	}
	log = log.Component("socketfile")

	if _, err := os.Stat(path); err == nil {
		if isOrphaned(path) {
			log.Info("unlinking orphaned socket file from a prior abnormal exit", "path", path)
			if err := os.Remove(path); err != nil {
				return nil, errs.ConfigurationError(fmt.Sprintf("failed to unlink orphaned socket file %q", path), err)
			}
		} else {
			return nil, errs.ConfigurationError(fmt.Sprintf("socket file %q is already in use by a running listener", path), nil)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errs.BootstrapError(fmt.Sprintf("failed to bind unix socket %q", path), err)
	}

	return &Listener{Listener: ln, path: path, logger: log}, nil
}

// isOrphaned reports whether path names a socket file nothing is actually
// listening on.
func isOrphaned(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return true
	}
	conn.Close()
	return false
}

// Close closes the underlying listener and unlinks the socket file,
// guaranteeing cleanup on normal exit (spec.md §4.6).
func (l *Listener) Close() error {
	var closeErr error
	l.closeOne.Do(func() {
		closeErr = l.Listener.Close()
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("failed to unlink socket file on close", "path", l.path, "error", err)
		}
	})
	return closeErr
}

// Path returns the UDS path this listener is bound to.
func (l *Listener) Path() string {
	return l.path
}
