package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/opd-ai/eddi/internal/handshake"
	"github.com/opd-ai/eddi/internal/statestore"
	"github.com/opd-ai/eddi/internal/wire"
)

// connectCommand discovers a published broker and records the resulting
// connection as a ConnectionRecord, per SPEC_FULL.md's Open Question
// Decision on identifier-vs-address resolution: same-host discovery dials
// the identifier's own socket file directly; --onion supplies an
// out-of-band address for cross-host discovery instead of simulating one.
func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "discover a broker by namespace/code and record the connection",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "namespace", Usage: "rendezvous namespace", Required: true},
			&cli.StringFlag{Name: "code", Usage: "shared short code", Required: true},
			&cli.StringFlag{Name: "alias", Usage: "local alias for this connection"},
			&cli.StringFlag{Name: "onion", Usage: "known broker onion address (skips local socket discovery)"},
			&cli.IntFlag{Name: "window", Usage: "rendezvous window in minutes", Value: 2},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runConnect(ctx, c)
		},
	}
}

func runConnect(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	store, err := statestore.Open(cfg.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	namespace := c.String("namespace")
	code := c.String("code")
	onion := c.String("onion")

	ch := handshake.NewClientHandshake(namespace, code)

	dial := func(dctx context.Context, candidate handshake.Candidate) (handshake.Introduction, error) {
		target := onion
		if target == "" {
			target = filepath.Join(cfg.SocketDir, "broker-"+candidate.Identifier+".sock")
		}
		return dialBroker(dctx, target, code)
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	intro, err := ch.Discover(dctx, c.Int("window"), dial)
	if err != nil {
		return err
	}

	alias := c.String("alias")
	if alias == "" {
		alias = namespace
	}

	rec := statestore.ConnectionRecord{
		ID:           uuid.NewString(),
		ServerName:   intro.TargetServerAddress,
		Alias:        alias,
		Code:         code,
		OnionAddress: onion,
		ConnectedAt:  time.Now(),
		Status:       statestore.ClientConnected,
	}
	if onion == "" {
		rec.SocketPath = intro.TargetServerAddress
	}
	if err := store.CreateConnection(rec); err != nil {
		return err
	}

	fmt.Printf("connected\n  alias: %s\n  target: %s\n  token: %s\n  expires: %s\n",
		alias, intro.TargetServerAddress, intro.AccessToken, intro.ExpiresAt.Format(time.RFC3339))
	return nil
}

// dialBroker dials target (a local socket path or an operator-supplied
// address) and performs the Auth exchange, returning the resulting
// Introduction.
func dialBroker(ctx context.Context, target, code string) (handshake.Introduction, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", target)
	if err != nil {
		return handshake.Introduction{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	w := wire.NewWriter(conn)
	r := wire.NewReader(conn)

	if err := w.Write(wire.Auth(code, uuid.NewString())); err != nil {
		return handshake.Introduction{}, err
	}
	result, err := r.Next()
	if err != nil {
		return handshake.Introduction{}, err
	}
	if result.ParseError != nil {
		return handshake.Introduction{}, result.ParseError
	}
	if result.Message.Tag != wire.TagAuthResponse || !result.Message.Success {
		return handshake.Introduction{}, fmt.Errorf("eddi: broker rejected code: %s", result.Message.Message)
	}

	return handshake.Introduction{
		TargetServerAddress: target,
		AccessToken:         handshake.GenerateAccessToken(),
		ExpiresAt:           time.Now().Add(time.Hour),
	}, nil
}

func resolveConnection(store statestore.Store, nameOrAlias string) (*statestore.ConnectionRecord, error) {
	rec, err := store.GetConnection(nameOrAlias)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("eddi: no connection named %q", nameOrAlias)
	}
	return rec, nil
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "authenticate to a connection and send one message",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "connection", Usage: "connection alias", Required: true},
			&cli.StringFlag{Name: "message", Usage: "message content", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := statestore.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := resolveConnection(store, c.String("connection"))
			if err != nil {
				return err
			}

			dctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()

			var d net.Dialer
			conn, err := d.DialContext(dctx, "unix", rec.SocketPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			w := wire.NewWriter(conn)
			r := wire.NewReader(conn)

			if err := w.Write(wire.Auth(rec.Code, uuid.NewString())); err != nil {
				return err
			}
			result, err := r.Next()
			if err != nil {
				return err
			}
			if result.ParseError != nil || result.Message.Tag != wire.TagAuthResponse || !result.Message.Success {
				return fmt.Errorf("eddi: auth failed")
			}

			if err := w.Write(wire.Send([]byte(c.String("message")))); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
}

func receiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "receive",
		Usage: "authenticate to a connection and print queued messages once",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "connection", Usage: "connection alias", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := statestore.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := resolveConnection(store, c.String("connection"))
			if err != nil {
				return err
			}

			dctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()

			var d net.Dialer
			conn, err := d.DialContext(dctx, "unix", rec.SocketPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			w := wire.NewWriter(conn)
			r := wire.NewReader(conn)

			if err := w.Write(wire.Auth(rec.Code, uuid.NewString())); err != nil {
				return err
			}
			authResult, err := r.Next()
			if err != nil {
				return err
			}
			if authResult.ParseError != nil || authResult.Message.Tag != wire.TagAuthResponse || !authResult.Message.Success {
				return fmt.Errorf("eddi: auth failed")
			}

			if err := w.Write(wire.Receive(nil)); err != nil {
				return err
			}
			result, err := r.Next()
			if err != nil {
				return err
			}
			if result.ParseError != nil {
				return result.ParseError
			}
			if result.Message.Tag != wire.TagReceiveResponse {
				return fmt.Errorf("eddi: unexpected response tag %q", result.Message.Tag)
			}
			if len(result.Message.Messages) == 0 {
				fmt.Println("no messages")
				return nil
			}
			for _, m := range result.Message.Messages {
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.From, string(m.Content))
			}
			return nil
		},
	}
}

// listenCommand stays connected and prints Broadcast messages as they
// arrive, until interrupted (spec.md §4.2/§4.5 broadcast fan-out).
func listenCommand() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "stay connected and print incoming broadcasts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "connection", Usage: "connection alias", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := statestore.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := resolveConnection(store, c.String("connection"))
			if err != nil {
				return err
			}

			var d net.Dialer
			conn, err := d.DialContext(ctx, "unix", rec.SocketPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			w := wire.NewWriter(conn)
			r := wire.NewReader(conn)

			if err := w.Write(wire.Auth(rec.Code, uuid.NewString())); err != nil {
				return err
			}
			authResult, err := r.Next()
			if err != nil {
				return err
			}
			if authResult.ParseError != nil || authResult.Message.Tag != wire.TagAuthResponse || !authResult.Message.Success {
				return fmt.Errorf("eddi: auth failed")
			}

			fmt.Println("listening, Ctrl+C to stop")
			for {
				result, err := r.Next()
				if err != nil {
					return nil
				}
				if result.ParseError != nil {
					continue
				}
				if result.Message.Tag == wire.TagBroadcast && result.Message.Msg != nil {
					m := result.Message.Msg
					fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.From, string(m.Content))
				}
			}
		},
	}
}

func disconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "forget a locally recorded connection",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "connection", Usage: "connection alias", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := statestore.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteConnection(c.String("connection")); err != nil {
				return err
			}
			fmt.Printf("connection %q removed\n", c.String("connection"))
			return nil
		},
	}
}

func listConnectionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-connections",
		Usage: "list locally recorded connections",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := statestore.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			conns, err := store.ListConnections()
			if err != nil {
				return err
			}
			if len(conns) == 0 {
				fmt.Println("no connections")
				return nil
			}
			for _, rec := range conns {
				fmt.Printf("%s  server=%s  status=%s  connected=%s\n",
					rec.Alias, rec.ServerName, rec.Status, rec.ConnectedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func listClientsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-clients",
		Usage: "list issued client codes for a server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "server name", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := statestore.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			server, err := store.GetServer(c.String("server"))
			if err != nil {
				return err
			}
			if server == nil {
				return fmt.Errorf("eddi: server %q not found", c.String("server"))
			}

			clients, err := store.ListClients(server.ID)
			if err != nil {
				return err
			}
			if len(clients) == 0 {
				fmt.Println("no clients issued")
				return nil
			}
			for _, rec := range clients {
				fmt.Printf("%s  code=%s  status=%s\n", rec.ID, rec.Code, rec.Status)
			}
			return nil
		},
	}
}

func revokeClientCommand() *cli.Command {
	return &cli.Command{
		Name:  "revoke-client",
		Usage: "revoke a previously issued client code",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Usage: "client code to revoke", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := statestore.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.GetClientByCode(c.String("code"))
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("eddi: no client issued with that code")
			}
			// spec.md §9: revocation flips the StateStore record's status; the
			// broker re-checks current status on Auth rather than caching it.
			if err := store.UpdateClientStatus(rec.ID, statestore.ClientDisconnected); err != nil {
				return err
			}
			fmt.Printf("client %q revoked\n", c.String("code"))
			return nil
		},
	}
}

// cleanupCommand removes orphaned socket files and stale StateStore records,
// grounded on the Rust source's own "remove existing socket file" teardown
// step generalized to a standalone maintenance command.
func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "remove orphaned socket files and stopped server records",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			entries, err := os.ReadDir(cfg.SocketDir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("nothing to clean up")
					return nil
				}
				return err
			}

			removed := 0
			for _, e := range entries {
				path := filepath.Join(cfg.SocketDir, e.Name())
				conn, dialErr := net.DialTimeout("unix", path, 200*time.Millisecond)
				if dialErr == nil {
					conn.Close()
					continue
				}
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
			fmt.Printf("removed %d orphaned socket file(s)\n", removed)
			return nil
		},
	}
}
