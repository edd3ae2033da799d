// Package serverinstance is eddi's composition root (spec.md §4.6): it
// wires a UDS listener, an optional overlay hidden-service bridge, a
// Broker, and per-session reader/writer goroutines into one running
// instance, and tears all of it down idempotently.
package serverinstance

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/eddi/internal/broker"
	"github.com/opd-ai/eddi/internal/logging"
	"github.com/opd-ai/eddi/internal/overlay"
	"github.com/opd-ai/eddi/internal/queue"
	"github.com/opd-ai/eddi/internal/registry"
	"github.com/opd-ai/eddi/internal/socketfile"
	"github.com/opd-ai/eddi/internal/statestore"
	"github.com/opd-ai/eddi/internal/wire"
)

// Config configures one ServerInstance. Store/ServerID/OverlayClient are
// optional: a nil Store puts the Broker in "test mode" (spec.md §4.5); a
// nil OverlayClient means the instance is UDS-only and skips launching a
// hidden service — matching the Rust source's `new_server(..., use_tor)`
// and `new_broker` split, collapsed into one constructor gated on config
// rather than a boolean flag, since Go's zero-value-friendly structs make
// "absent" a natural signal here.
type Config struct {
	Name       string
	SocketPath string
	TTL        time.Duration

	Store    statestore.Store
	ServerID string // required when Store is set; empty mints a fresh id

	QueueMaxSize int

	// Overlay, when set, launches a hidden service and bridges it to the
	// UDS listener (spec.md §4.1). Nil means Unix-socket-only access.
	Overlay       *overlay.Client
	OverlayPorts  map[int]string
	OverlayKeyDir string

	// EphemeralTimeout auto-shuts the instance down after this duration
	// regardless of activity, matching the Rust source's ephemeral broker
	// (spec.md §4.6). Zero disables the auto-shutdown.
	EphemeralTimeout time.Duration

	Logger *logging.Logger
}

// Instance is one running server or broker.
type Instance struct {
	name       string
	serverID   string
	socketPath string
	onionAddr  string

	listener *socketfile.Listener
	bridge   *overlay.Bridge
	hsvc     *overlay.HiddenService

	broker   *broker.Broker
	queue    *queue.Queue
	registry *registry.Registry
	store    statestore.Store

	logger *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	conns sync.Map // net.Conn -> struct{}, tracks accepted sessions for Shutdown

	closeOnce sync.Once
}

// New starts a ServerInstance: binds the UDS listener, optionally launches
// and bridges a hidden service, starts the broker's event loop and the
// queue's background scrubber, and begins accepting connections.
func New(ctx context.Context, cfg Config) (*Instance, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault()
	}
	log = log.Component("serverinstance").With("name", cfg.Name)

	serverID := cfg.ServerID
	if serverID == "" {
		serverID = uuid.NewString()
	}

	maxSize := cfg.QueueMaxSize
	if maxSize == 0 {
		maxSize = 1000
	}

	ln, err := socketfile.Bind(cfg.SocketPath, log)
	if err != nil {
		return nil, fmt.Errorf("serverinstance: failed to bind socket: %w", err)
	}

	q := queue.New(queue.Options{TTL: cfg.TTL, MaxSize: maxSize, Logger: log})
	reg := registry.New()

	b := broker.New(broker.Config{
		Queue:    q,
		Registry: reg,
		Store:    cfg.Store,
		ServerID: serverID,
		Logger:   log,
	})

	instCtx, cancel := context.WithCancel(ctx)

	inst := &Instance{
		name:       cfg.Name,
		serverID:   serverID,
		socketPath: cfg.SocketPath,
		listener:   ln,
		broker:     b,
		queue:      q,
		registry:   reg,
		store:      cfg.Store,
		logger:     log,
		cancel:     cancel,
	}

	if cfg.Store != nil {
		if err := cfg.Store.CreateServer(statestore.ServerRecord{
			ID:         serverID,
			Name:       cfg.Name,
			SocketPath: cfg.SocketPath,
			CreatedAt:  time.Now(),
			TTLMinutes: int64(cfg.TTL / time.Minute),
			Status:     statestore.ServerRunning,
		}); err != nil {
			ln.Close()
			cancel()
			return nil, fmt.Errorf("serverinstance: failed to persist server record: %w", err)
		}
	}

	if cfg.Overlay != nil {
		hsvc, err := cfg.Overlay.LaunchHiddenService(instCtx, overlay.HiddenServiceConfig{
			Nickname: cfg.Name,
			KeyDir:   cfg.OverlayKeyDir,
			Ports:    cfg.OverlayPorts,
		})
		if err != nil {
			ln.Close()
			cancel()
			return nil, fmt.Errorf("serverinstance: failed to launch hidden service: %w", err)
		}
		inst.hsvc = hsvc
		inst.onionAddr = hsvc.OnionAddress()

		if cfg.Store != nil {
			if err := cfg.Store.UpdateServerOnion(serverID, inst.onionAddr); err != nil {
				log.Warn("failed to persist onion address", "error", err)
			}
		}

		inst.bridge = overlay.NewBridge(overlay.BridgeConfig{
			Source: hsvc,
			Dial: func(ctx context.Context) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", cfg.SocketPath)
			},
			Logger: log,
		})

		inst.wg.Add(1)
		go func() {
			defer inst.wg.Done()
			inst.bridge.Run(instCtx)
		}()
	}

	inst.wg.Add(1)
	go func() {
		defer inst.wg.Done()
		b.Run(instCtx)
	}()

	inst.wg.Add(1)
	go func() {
		defer inst.wg.Done()
		q.RunScrubber(instCtx, time.Second)
	}()

	inst.wg.Add(1)
	go func() {
		defer inst.wg.Done()
		inst.acceptLoop(instCtx)
	}()

	if cfg.EphemeralTimeout > 0 {
		inst.wg.Add(1)
		go func() {
			defer inst.wg.Done()
			select {
			case <-instCtx.Done():
			case <-time.After(cfg.EphemeralTimeout):
				log.Info("ephemeral instance timeout reached, shutting down")
				inst.Shutdown()
			}
		}()
	}

	log.Info("server instance started", "socket_path", cfg.SocketPath, "onion_address", inst.onionAddr)
	return inst, nil
}

// acceptLoop accepts UDS connections and spawns a session handler for each,
// until ctx is cancelled or the listener closes.
func (inst *Instance) acceptLoop(ctx context.Context) {
	for {
		conn, err := inst.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			inst.logger.Warn("accept error", "error", err)
			return
		}

		inst.conns.Store(conn, struct{}{})

		inst.wg.Add(1)
		go func() {
			defer inst.wg.Done()
			inst.handleSession(ctx, conn)
		}()
	}
}

// handleSession wires one client connection into the broker: a writer
// goroutine drains the session's outbound queue onto the transport, while
// this goroutine reads incoming ProtocolMessages and submits them to the
// broker (spec.md §4.6, grounded on the Rust source's handle_client_stream
// split into a write task plus a read loop).
func (inst *Instance) handleSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer inst.conns.Delete(conn)

	outbound := make(chan wire.ProtocolMessage, 32)
	clientID := inst.registry.Add(outbound)
	defer inst.registry.Remove(clientID)

	writer := wire.NewWriter(conn)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for msg := range outbound {
			if err := writer.Write(msg); err != nil {
				inst.logger.Debug("session write failed", "client_id", clientID, "error", err)
				return
			}
		}
	}()

	reader := wire.NewReader(conn)
	for {
		result, err := reader.Next()
		if err != nil {
			break
		}
		if result.ParseError != nil {
			inst.registry.SendTo(clientID, wire.NewError(result.ParseError.Error()))
			continue
		}
		inst.broker.Submit(broker.Command{
			ClientMessage: &broker.ClientMessage{ClientID: clientID, Message: result.Message},
		})
	}

	inst.broker.Submit(broker.Command{
		ClientDisconnected: &broker.ClientDisconnected{ClientID: clientID},
	})

	// Unblock and drain the writer goroutine now that no more replies will
	// arrive for this session.
	inst.registry.Remove(clientID)
	close(outbound)
	<-writeDone
}

// Name returns the instance's configured name.
func (inst *Instance) Name() string { return inst.name }

// ServerID returns the instance's server id (fresh or persisted).
func (inst *Instance) ServerID() string { return inst.serverID }

// OnionAddress returns the instance's .onion address, or "" if it has none.
func (inst *Instance) OnionAddress() string { return inst.onionAddr }

// Broker exposes the instance's Broker, e.g. so the CLI's revoke-client
// command can reach its TokenRegistry.
func (inst *Instance) Broker() *broker.Broker { return inst.broker }

// Shutdown tears the instance down idempotently: cancels all background
// goroutines, closes the UDS listener (unlinking its socket file) and any
// hidden service/bridge, and waits for everything to exit.
func (inst *Instance) Shutdown() error {
	var err error
	inst.closeOnce.Do(func() {
		inst.logger.Info("shutting down server instance")
		inst.cancel()

		if cerr := inst.listener.Close(); cerr != nil {
			err = cerr
		}
		if inst.bridge != nil {
			inst.bridge.Stop()
		}
		if inst.hsvc != nil {
			_ = inst.hsvc.Close()
		}

		// Unblock any session goroutines parked in reader.Next() so wg.Wait
		// below can't hang on a still-connected client (e.g. one sitting in
		// the CLI's listen loop).
		inst.conns.Range(func(key, _ any) bool {
			key.(net.Conn).Close()
			return true
		})

		inst.wg.Wait()

		if inst.store != nil {
			if uerr := inst.store.UpdateServerStatus(inst.serverID, statestore.ServerStopped); uerr != nil {
				inst.logger.Warn("failed to persist stopped status", "error", uerr)
			}
		}
		inst.logger.Info("server instance shut down")
	})
	return err
}
