// Package broker implements eddi's message-routing core (spec.md §4.5): a
// single-owner event loop driven by a command channel, handling Auth, Send,
// Receive, and Ping against the MessageQueue and ClientRegistry.
package broker

import (
	"context"

	"github.com/opd-ai/eddi/internal/logging"
	"github.com/opd-ai/eddi/internal/queue"
	"github.com/opd-ai/eddi/internal/registry"
	"github.com/opd-ai/eddi/internal/statestore"
	"github.com/opd-ai/eddi/internal/wire"
)

// Command is the broker's single inbound event type (spec.md §4.5).
type Command struct {
	ClientMessage      *ClientMessage
	ClientDisconnected *ClientDisconnected
	Shutdown           bool
}

// ClientMessage is a ProtocolMessage received from one session.
type ClientMessage struct {
	ClientID string
	Message  wire.ProtocolMessage
}

// ClientDisconnected notifies the broker that a session's transport closed.
type ClientDisconnected struct {
	ClientID string
}

// Config configures a Broker.
type Config struct {
	Queue    *queue.Queue
	Registry *registry.Registry

	// Store and ServerID are optional: when Store is nil the broker runs in
	// "test mode" (spec.md §4.5) and accepts any Auth unconditionally.
	Store    statestore.Store
	ServerID string

	// Tokens is wired in for parity with the Rust source's FortressBroker
	// but is not consulted by handleAuth — see TokenRegistry's doc comment.
	Tokens *TokenRegistry

	Logger *logging.Logger
}

// Broker is the single-owner event loop for one ServerInstance.
type Broker struct {
	commands chan Command
	queue    *queue.Queue
	registry *registry.Registry
	store    statestore.Store
	serverID string
	tokens   *TokenRegistry
	logger   *logging.Logger
}

// New constructs a Broker. Callers must invoke Run in its own goroutine.
func New(cfg Config) *Broker {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault()
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = NewTokenRegistry()
	}
	return &Broker{
		commands: make(chan Command, 64),
		queue:    cfg.Queue,
		registry: cfg.Registry,
		store:    cfg.Store,
		serverID: cfg.ServerID,
		tokens:   tokens,
		logger:   log.Component("broker"),
	}
}

// Tokens returns the broker's TokenRegistry, so ServerInstance (and the CLI's
// revoke-client path) can mint/revoke tokens even though Auth doesn't check
// them yet.
func (b *Broker) Tokens() *TokenRegistry {
	return b.tokens
}

// Submit enqueues a command for the broker's event loop. It is safe to call
// from any goroutine (reader/forwarder tasks per spec.md §4.6).
func (b *Broker) Submit(cmd Command) {
	b.commands <- cmd
}

// Run drives the event loop until a Shutdown command arrives or ctx is
// cancelled.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-b.commands:
			if cmd.Shutdown {
				b.logger.Info("broker shutting down")
				return
			}
			if cmd.ClientMessage != nil {
				b.handleMessage(*cmd.ClientMessage)
			}
			if cmd.ClientDisconnected != nil {
				b.registry.Remove(cmd.ClientDisconnected.ClientID)
			}
		}
	}
}

func (b *Broker) handleMessage(cm ClientMessage) {
	switch cm.Message.Tag {
	case wire.TagAuth:
		b.handleAuth(cm.ClientID, cm.Message)
	case wire.TagSend:
		b.handleSend(cm.ClientID, cm.Message)
	case wire.TagReceive:
		b.handleReceive(cm.ClientID, cm.Message)
	case wire.TagPing:
		b.reply(cm.ClientID, wire.Pong())
	default:
		b.logger.Debug("ignoring message in unhandled state", "tag", cm.Message.Tag, "client_id", cm.ClientID)
	}
}

// handleAuth implements spec.md §4.5's Auth row, including the StateStore-
// absent "test mode" fallback.
func (b *Broker) handleAuth(clientID string, msg wire.ProtocolMessage) {
	if b.store == nil {
		b.registry.Authenticate(clientID)
		b.reply(clientID, wire.AuthResponse(true, "Authenticated", b.serverID))
		return
	}

	record, err := b.store.GetClientByCode(msg.Code)
	if err != nil {
		b.logger.Warn("failed to look up client code", "error", err)
		b.reply(clientID, wire.AuthResponse(false, "Invalid code", ""))
		return
	}
	if record == nil || record.ServerID != b.serverID {
		b.reply(clientID, wire.AuthResponse(false, "Invalid code", ""))
		return
	}

	b.registry.Authenticate(clientID)
	if err := b.store.UpdateClientStatus(record.ID, statestore.ClientConnected); err != nil {
		b.logger.Warn("failed to record client connection", "error", err)
	}
	b.reply(clientID, wire.AuthResponse(true, "Authenticated", b.serverID))
}

func (b *Broker) handleSend(clientID string, msg wire.ProtocolMessage) {
	stored := b.queue.Push(clientID, msg.Content)
	b.registry.Broadcast(wire.Broadcast(stored))
}

func (b *Broker) handleReceive(clientID string, msg wire.ProtocolMessage) {
	var messages []wire.Message
	if msg.Since != nil {
		messages = b.queue.GetSince(*msg.Since)
	} else {
		messages = b.queue.GetAll()
	}
	b.reply(clientID, wire.ReceiveResponse(messages))
}

// reply sends a message to exactly the originating session's outbound
// queue. The broker never writes to a transport directly (spec.md §4.5).
func (b *Broker) reply(clientID string, msg wire.ProtocolMessage) {
	if !b.registry.SendTo(clientID, msg) {
		b.logger.Debug("dropped reply to session with a full or closed outbound queue", "client_id", clientID, "tag", msg.Tag)
	}
}
