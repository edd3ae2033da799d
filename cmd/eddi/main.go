// Command eddi is the CLI surface of the messaging bridge and broker
// (spec.md §6.4): create-server, create-broker, create-bridge, connect,
// send, receive, listen, list-servers, list-brokers, list-bridges,
// list-clients, list-connections, status, stop-server, stop-broker,
// disconnect, revoke-client, cleanup.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/opd-ai/eddi/internal/config"
	"github.com/opd-ai/eddi/internal/errs"
	"github.com/opd-ai/eddi/internal/logging"
)

func main() {
	app := &cli.Command{
		Name:  "eddi",
		Usage: "hidden-service messaging bridge and rendezvous broker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn, or error",
			},
		},
		Commands: []*cli.Command{
			createServerCommand(),
			createBrokerCommand(),
			createBridgeCommand(),
			listBridgesCommand(),
			connectCommand(),
			sendCommand(),
			receiveCommand(),
			listenCommand(),
			listServersCommand(),
			listBrokersCommand(),
			listClientsCommand(),
			listConnectionsCommand(),
			statusCommand(),
			stopServerCommand(),
			stopBrokerCommand(),
			disconnectCommand(),
			revokeClientCommand(),
			cleanupCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "eddi: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a structured error to spec.md §6.4's exit code
// contract: 0 success (never reached here), 1 handled error, 2
// environmental failure.
func exitCodeFor(err error) int {
	var e *errs.Error
	if errors.As(err, &e) {
		switch e.Category {
		case errs.CategoryConfiguration, errs.CategoryBootstrap:
			return 2
		}
	}
	return 1
}

// loadConfig builds the effective Config for a command invocation: defaults,
// overlaid by an env-var pass, overlaid by an optional --config file
// (spec.md's ambient configuration layering, see DESIGN.md).
func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if path := c.String("config"); path != "" {
		if err := config.LoadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	return logging.New(level, os.Stderr)
}
