package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/opd-ai/eddi/internal/overlay"
	"github.com/opd-ai/eddi/internal/supervisor"
)

// createBridgeCommand publishes the generic, payload-transparent web bridge
// (spec.md §1/§4.1): a hidden service on port 80 spliced to a local UDS,
// optionally fronting a spawned local application (gunicorn/uvicorn/nginx)
// via ChildSupervisor (SPEC_FULL.md supplemented feature 1). This is
// distinct from create-server's msgsrv mode: the bridge never parses the
// bytes it carries.
func createBridgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-bridge",
		Usage: "publish a payload-transparent hidden-service bridge to a local UDS or spawned app",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "bridge name", Required: true},
			&cli.StringFlag{Name: "socket", Usage: "existing UDS path to bridge to (mutually exclusive with --spawn)"},
			&cli.StringFlag{Name: "spawn", Usage: "command to spawn, bound to a fresh UDS (e.g. \"gunicorn\")"},
			&cli.StringSliceFlag{Name: "spawn-arg", Usage: "argument for --spawn, repeatable"},
			&cli.StringFlag{Name: "app-dir", Usage: "working directory for --spawn"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runCreateBridge(ctx, c)
		},
	}
}

func runCreateBridge(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	name := c.String("name")
	socketPath := c.String("socket")
	spawnCmd := c.String("spawn")

	if socketPath == "" && spawnCmd == "" {
		return fmt.Errorf("eddi: one of --socket or --spawn is required")
	}
	if socketPath != "" && spawnCmd != "" {
		return fmt.Errorf("eddi: --socket and --spawn are mutually exclusive")
	}

	var sup *supervisor.Supervisor
	if spawnCmd != "" {
		if err := os.MkdirAll(cfg.SocketDir, 0o700); err != nil {
			return fmt.Errorf("eddi: failed to create socket directory: %w", err)
		}
		socketPath = filepath.Join(cfg.SocketDir, "bridge-"+name+".sock")

		sup, err = supervisor.Spawn(supervisor.Config{
			SocketPath: socketPath,
			AppDir:     c.String("app-dir"),
			Command:    spawnCmd,
			Args:       c.StringSlice("spawn-arg"),
			Logger:     log,
		})
		if err != nil {
			return err
		}
		defer sup.Shutdown()

		waitCtx, cancel := context.WithTimeout(ctx, cfg.BootstrapTimeout)
		defer cancel()
		if err := sup.WaitForReady(waitCtx); err != nil {
			return err
		}
		fmt.Printf("spawned %q (pid %d), bound to %s\n", spawnCmd, sup.PID(), socketPath)
	}

	fmt.Println("bootstrapping hidden service (this can take 30-60s)...")
	overlayClient, err := overlay.Connect(ctx, &overlay.Options{
		DataDirectory:  cfg.StateDir,
		StartupTimeout: cfg.BootstrapTimeout,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer overlayClient.Close()

	hsvc, err := overlayClient.LaunchHiddenService(ctx, overlay.HiddenServiceConfig{
		Nickname:            name,
		KeyDir:              cfg.KeyDir,
		Ports:               map[int]string{80: socketPath},
		ReachabilityTimeout: cfg.ReachabilityTimeout,
	})
	if err != nil {
		return err
	}
	defer hsvc.Close()

	fmt.Printf("bridge %q running\n  onion address: %s\n  target socket: %s\n", name, hsvc.OnionAddress(), socketPath)

	bridge := overlay.NewBridge(overlay.BridgeConfig{
		Source: hsvc,
		Dial: func(dctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(dctx, "unix", socketPath)
		},
		Logger: log,
	})

	bridgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go bridge.Run(bridgeCtx)

	fmt.Println("press Ctrl+C to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	bridge.Stop()
	return nil
}

func listBridgesCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-bridges",
		Usage: "list spawned-app bridge socket files",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(cfg.SocketDir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no bridges running")
					return nil
				}
				return err
			}
			found := 0
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), "bridge-") && strings.HasSuffix(e.Name(), ".sock") {
					fmt.Println(strings.TrimSuffix(strings.TrimPrefix(e.Name(), "bridge-"), ".sock"))
					found++
				}
			}
			if found == 0 {
				fmt.Println("no bridges running")
			}
			return nil
		},
	}
}
