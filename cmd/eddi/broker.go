package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/opd-ai/eddi/internal/handshake"
	"github.com/opd-ai/eddi/internal/overlay"
	"github.com/opd-ai/eddi/internal/serverinstance"
	"github.com/opd-ai/eddi/internal/statestore"
)

func createBrokerCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-broker",
		Usage: "publish an ephemeral rendezvous broker for a server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "target server name", Required: true},
			&cli.StringFlag{Name: "namespace", Usage: "rendezvous namespace", Required: true},
			&cli.IntFlag{Name: "timeout", Usage: "broker lifetime in seconds", Value: 300},
			&cli.BoolFlag{Name: "local-only", Usage: "disable the hidden service, use Unix sockets only"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runCreateBroker(ctx, c)
		},
	}
}

func runCreateBroker(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	store, err := statestore.Open(cfg.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	serverName := c.String("server")
	namespace := c.String("namespace")
	timeout := time.Duration(c.Int("timeout")) * time.Second

	server, err := store.GetServer(serverName)
	if err != nil {
		return err
	}
	if server == nil {
		return fmt.Errorf("eddi: server %q not found", serverName)
	}

	target := server.OnionAddress
	if target == "" {
		target = server.Name
	}

	code := handshake.GenerateShortCode()
	bh := handshake.NewBrokerHandshake(namespace, code, target)

	fmt.Println("broker published")
	fmt.Printf("  namespace: %s\n  code: %s\n  valid for: %ds\n  rendezvous identifier: %s\n", namespace, code, c.Int("timeout"), bh.Identifier())
	fmt.Printf("\nshare with your client:\n  eddi connect --code %s --namespace %s\n\n", code, namespace)

	if err := os.MkdirAll(cfg.SocketDir, 0o700); err != nil {
		return fmt.Errorf("eddi: failed to create socket directory: %w", err)
	}
	socketPath := filepath.Join(cfg.SocketDir, "broker-"+bh.Identifier()+".sock")

	instCfg := serverinstance.Config{
		Name:             "broker-" + bh.Identifier(),
		SocketPath:       socketPath,
		TTL:              5 * time.Minute,
		QueueMaxSize:     10,
		EphemeralTimeout: timeout,
		Logger:           log,
	}

	var overlayClient *overlay.Client
	if !c.Bool("local-only") {
		overlayClient, err = overlay.Connect(ctx, &overlay.Options{
			DataDirectory:  cfg.StateDir,
			StartupTimeout: cfg.BootstrapTimeout,
			Logger:         log,
		})
		if err != nil {
			return err
		}
		defer overlayClient.Close()

		instCfg.Overlay = overlayClient
		instCfg.OverlayKeyDir = cfg.KeyDir
		instCfg.OverlayPorts = map[int]string{1: socketPath}
	}

	inst, err := serverinstance.New(ctx, instCfg)
	if err != nil {
		return err
	}
	if addr := inst.OnionAddress(); addr != "" {
		fmt.Printf("  broker onion address: %s\n", addr)
	}

	fmt.Printf("waiting up to %ds for a client (or Ctrl+C to stop early)...\n", c.Int("timeout"))
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-time.After(timeout):
		fmt.Println("broker timeout reached")
	}
	return inst.Shutdown()
}

func listBrokersCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-brokers",
		Usage: "list ephemeral brokers currently publishing a socket file",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			entries, err := os.ReadDir(cfg.SocketDir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no brokers running")
					return nil
				}
				return err
			}

			found := 0
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), "broker-") && strings.HasSuffix(e.Name(), ".sock") {
					fmt.Println(strings.TrimSuffix(strings.TrimPrefix(e.Name(), "broker-"), ".sock"))
					found++
				}
			}
			if found == 0 {
				fmt.Println("no brokers running")
			}
			// Brokers are ephemeral and process-local by design (spec.md
			// §4.6/Non-goals: no cross-process broker registry), so this
			// can only ever report what's visible as a live socket file,
			// not brokers running in another process that already exited.
			return nil
		},
	}
}

func stopBrokerCommand() *cli.Command {
	return &cli.Command{
		Name:  "stop-broker",
		Usage: "remove a broker's socket file, signalling shutdown to its listener",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "broker rendezvous identifier", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.SocketDir, "broker-"+c.String("id")+".sock")
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("eddi: broker %q not found", c.String("id"))
			}
			if err := os.Remove(path); err != nil {
				return err
			}
			fmt.Printf("broker %q socket removed\n", c.String("id"))
			return nil
		},
	}
}
