// Package overlay wraps cretz/bine as eddi's OnionClient collaborator
// (spec.md §6.1): bootstrapping to the anonymity network, launching
// hidden services, and dialing outbound streams.
package overlay

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"time"

	"github.com/cretz/bine/tor"

	"github.com/opd-ai/eddi/internal/errs"
	"github.com/opd-ai/eddi/internal/identity"
	"github.com/opd-ai/eddi/internal/logging"
)

// Options configures the overlay client.
type Options struct {
	// DataDirectory is where the Tor process keeps its runtime state.
	DataDirectory string

	// StartupTimeout bounds how long bootstrap may take (default: 60s per
	// spec.md §5 cancellation & timeouts).
	StartupTimeout time.Duration

	// Logger is used for component logging; a default is used if nil.
	Logger *logging.Logger
}

// Client is eddi's handle onto the anonymity overlay.
type Client struct {
	t      *tor.Tor
	logger *logging.Logger
}

// Connect bootstraps a Tor process and waits until it is ready to build
// circuits, or until StartupTimeout elapses.
func Connect(ctx context.Context, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.StartupTimeout == 0 {
		opts.StartupTimeout = 60 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewDefault()
	}
	log = log.Component("overlay")

	startCtx, cancel := context.WithTimeout(ctx, opts.StartupTimeout)
	defer cancel()

	conf := &tor.StartConf{}
	if opts.DataDirectory != "" {
		conf.DataDir = opts.DataDirectory
	}

	log.Info("bootstrapping overlay client")
	t, err := tor.Start(startCtx, conf)
	if err != nil {
		return nil, errs.BootstrapError("failed to bootstrap overlay client", err)
	}
	log.Info("overlay client bootstrapped")

	return &Client{t: t, logger: log}, nil
}

// Close shuts down the overlay client and all hidden services it launched.
func (c *Client) Close() error {
	if c.t == nil {
		return nil
	}
	return c.t.Close()
}

// HiddenServiceConfig configures one hidden service identity.
type HiddenServiceConfig struct {
	// Nickname is the stable key under KeyDir this identity persists as;
	// restarting with the same Nickname+KeyDir yields the same address
	// (spec.md §3 HiddenServiceIdentity invariant).
	Nickname string

	// KeyDir is the base directory under which per-nickname key material lives.
	KeyDir string

	// Ports maps virtual (remote) port to local target address, matching
	// bine's tor.ListenConf.
	Ports map[int]string

	// ReachabilityTimeout bounds how long to wait for the service to
	// become fully reachable (default: 60s).
	ReachabilityTimeout time.Duration
}

// HiddenService is a running onion service: a net.Listener whose Accept
// yields rendezvous streams from the overlay.
type HiddenService struct {
	onion *tor.OnionService
}

// LaunchHiddenService creates (or resumes, if key material already exists
// under KeyDir/Nickname) a v3 hidden service.
func (c *Client) LaunchHiddenService(ctx context.Context, cfg HiddenServiceConfig) (*HiddenService, error) {
	if cfg.Nickname == "" {
		return nil, errs.ConfigurationError("hidden service nickname is required", nil)
	}
	if cfg.ReachabilityTimeout == 0 {
		cfg.ReachabilityTimeout = 60 * time.Second
	}

	launchCtx, cancel := context.WithTimeout(ctx, cfg.ReachabilityTimeout)
	defer cancel()

	listenConf := &tor.ListenConf{
		RemotePorts: keysOf(cfg.Ports),
		Version3:    true,
	}

	if cfg.KeyDir != "" {
		key, err := identityKeyFor(cfg.KeyDir, cfg.Nickname)
		if err != nil {
			return nil, errs.ConfigurationError("failed to load or create hidden service identity", err)
		}
		listenConf.Key = key
	}

	onion, err := c.t.Listen(launchCtx, listenConf)
	if err != nil {
		return nil, errs.BootstrapError(fmt.Sprintf("failed to launch hidden service %q", cfg.Nickname), err)
	}

	c.logger.Info("hidden service launched", "nickname", cfg.Nickname, "address", onion.ID+".onion")

	return &HiddenService{onion: onion}, nil
}

// OnionAddress returns the .onion address (without scheme).
func (hs *HiddenService) OnionAddress() string {
	return hs.onion.ID + ".onion"
}

// Accept waits for and returns the next inbound rendezvous stream.
func (hs *HiddenService) Accept() (net.Conn, error) {
	return hs.onion.Accept()
}

// Close tears down the hidden service.
func (hs *HiddenService) Close() error {
	return hs.onion.Close()
}

// Dial opens an outbound stream through the overlay to (host, port), to
// either a .onion or clearnet host.
func (c *Client) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	dialer, err := c.t.Dialer(ctx, nil)
	if err != nil {
		return nil, errs.TransportError("failed to create overlay dialer", err)
	}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, errs.TransportError(fmt.Sprintf("failed to dial %s:%d over overlay", host, port), err)
	}
	return conn, nil
}

// identityKeyFor loads the persisted ed25519 identity for nickname under
// keyDir, generating and persisting a fresh one if none exists yet. This is
// what gives the HiddenServiceIdentity invariant (spec.md §3): the same
// nickname+keyDir always yields the same .onion address across restarts.
func identityKeyFor(keyDir, nickname string) (ed25519.PrivateKey, error) {
	return identity.LoadOrCreate(keyDir, nickname)
}

func keysOf(m map[int]string) []int {
	ports := make([]int, 0, len(m))
	for p := range m {
		ports = append(ports, p)
	}
	return ports
}
