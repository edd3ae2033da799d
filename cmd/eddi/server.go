package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/opd-ai/eddi/internal/overlay"
	"github.com/opd-ai/eddi/internal/serverinstance"
	"github.com/opd-ai/eddi/internal/statestore"
)

func createServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-server",
		Usage: "create and run an eddi messaging server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "server name", Required: true},
			&cli.IntFlag{Name: "ttl", Usage: "message TTL in minutes", Value: 5},
			&cli.BoolFlag{Name: "local-only", Usage: "disable the hidden service, use Unix sockets only"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runCreateServer(ctx, c.String("name"), c.Int("ttl"), c.Bool("local-only"), c)
		},
	}
}

func runCreateServer(ctx context.Context, name string, ttlMinutes int, localOnly bool, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	store, err := statestore.Open(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("eddi: failed to open state store: %w", err)
	}
	defer store.Close()

	if existing, err := store.GetServer(name); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("eddi: server %q already exists", name)
	}

	socketPath := filepath.Join(cfg.SocketDir, name+".sock")
	if err := os.MkdirAll(cfg.SocketDir, 0o700); err != nil {
		return fmt.Errorf("eddi: failed to create socket directory: %w", err)
	}

	instCfg := serverinstance.Config{
		Name:         name,
		SocketPath:   socketPath,
		TTL:          time.Duration(ttlMinutes) * time.Minute,
		Store:        store,
		QueueMaxSize: cfg.QueueMaxSize,
		Logger:       log,
	}

	var overlayClient *overlay.Client
	if !localOnly {
		fmt.Println("bootstrapping hidden service (this can take 30-60s)...")
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
	} else {
		fmt.Println("local-only mode: Unix socket access only, no hidden service")
	}

	inst, err := serverinstance.New(ctx, instCfg)
	if err != nil {
		return err
	}

	fmt.Printf("server %q running\n  socket: %s\n  ttl: %dm\n", name, socketPath, ttlMinutes)
	if addr := inst.OnionAddress(); addr != "" {
		fmt.Printf("  onion address: %s\n", addr)
	}
	fmt.Println("press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	return inst.Shutdown()
}

func stopServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "stop-server",
		Usage: "mark a server stopped in persisted state",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "server name", Required: true},
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

			rec, err := store.GetServer(c.String("name"))
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("eddi: server %q not found", c.String("name"))
			}
			if err := store.UpdateServerStatus(rec.ID, statestore.ServerStopped); err != nil {
				return err
			}
			fmt.Printf("server %q marked stopped\n", rec.Name)
			fmt.Println("note: this only updates persisted state; a running process must be stopped separately (Ctrl+C or its process group).")
			return nil
		},
	}
}

func listServersCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-servers",
		Usage: "list persisted servers",
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

			servers, err := store.ListServers()
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				fmt.Println("no servers configured")
				return nil
			}
			for _, s := range servers {
				onion := s.OnionAddress
				if onion == "" {
					onion = "(local only)"
				}
				fmt.Printf("%s  %s  status=%s  onion=%s\n", s.ID, s.Name, s.Status, onion)
			}
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show a server's persisted status",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "server name", Required: true},
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

			rec, err := store.GetServer(c.String("name"))
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("eddi: server %q not found", c.String("name"))
			}

			fmt.Printf("name: %s\nid: %s\nstatus: %s\nsocket: %s\nttl: %dm\ncreated: %s\n",
				rec.Name, rec.ID, rec.Status, rec.SocketPath, rec.TTLMinutes, rec.CreatedAt.Format(time.RFC3339))
			if rec.OnionAddress != "" {
				fmt.Printf("onion: %s\n", rec.OnionAddress)
			}
			return nil
		},
	}
}
