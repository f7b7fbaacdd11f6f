// Package ipcsource adapts an external heartbeat daemon process into a
// heartbeat.Source, the way the source this module is grounded on talks to
// Nokia's libiphb inter-process heartbeat daemon instead of owning a timer
// itself (wocky-heartbeat-source.c). The daemon is launched and supervised
// with hashicorp/go-plugin, following the same handshake/launch machinery
// the teacher uses for its own plugin host (pkg/plugin/host.go), wired to
// a new domain: a heartbeat provider instead of a chat-client extension.
package ipcsource

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"

	"github.com/meszmate/xmppcore/internal/logging"
	"github.com/meszmate/xmppcore/pkg/heartbeat"
)

// Handshake is the magic-cookie handshake the daemon process must present,
// the same mechanism the teacher uses to make sure it only ever attaches
// to a process that is actually meant to be one of its plugins.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "XMPPCORE_HEARTBEAT_PLUGIN",
	MagicCookieValue: "heartbeat",
}

// Daemon is the interface a heartbeat daemon plugin exposes: a single
// blocking wait call parameterized by the current [min, max) window,
// directly analogous to libiphb's iphb_wait(heartbeat, min, max, 0).
type Daemon interface {
	Wait(min, max time.Duration) (time.Duration, error)
}

// GRPCPlugin is the go-plugin glue between this process and the daemon
// subprocess. Wiring the generated gRPC client/server stubs for Daemon is
// left to whoever builds the actual daemon binary — the same incompleteness
// the teacher's own GRPCPlugin carries ("would register the gRPC service
// here"); this module only needs to be able to dial and supervise the
// subprocess, which is what Source below exercises.
type GRPCPlugin struct {
	plugin.Plugin
	Impl Daemon
}

func (p *GRPCPlugin) GRPCServer(broker *plugin.GRPCBroker, s *grpc.Server) error {
	// A real daemon registers its generated HeartbeatServer here.
	return nil
}

func (p *GRPCPlugin) GRPCClient(ctx context.Context, broker *plugin.GRPCBroker, conn *grpc.ClientConn) (interface{}, error) {
	return &daemonClient{conn: conn}, nil
}

type daemonClient struct {
	conn *grpc.ClientConn
}

// Wait is a placeholder until a real daemon binary ships generated gRPC
// stubs for Daemon; it always reports the daemon unavailable so Source
// quiesces cleanly rather than hanging, matching the "fail closed" posture
// of the rest of this adapter.
func (c *daemonClient) Wait(min, max time.Duration) (time.Duration, error) {
	return 0, ErrDaemonUnavailable
}

// Source talks to an out-of-process heartbeat daemon launched via
// hashicorp/go-plugin, falling back to closing its Ticks channel (per the
// heartbeat.Source contract) if the subprocess dies or the handshake
// fails, matching wocky-heartbeat-source.c's behavior when iphb_open or
// iphb_wait fails: the source quiesces rather than retrying forever.
type Source struct {
	client *plugin.Client
	logger *logging.Logger

	ticks chan time.Time
	stop  chan struct{}

	min, max time.Duration
}

// New launches daemonPath as a subprocess and starts waiting for ticks.
// If the subprocess cannot be launched or fails the handshake, the
// returned Source's Ticks channel is already closed.
func New(daemonPath string, min, max time.Duration, logger *logging.Logger) *Source {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          plugin.PluginSet{"daemon": &GRPCPlugin{}},
		Cmd:              exec.Command(daemonPath),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		if logger != nil {
			logger.Warn("heartbeat: failed to launch daemon %q: %v", daemonPath, err)
		}
		s := &Source{logger: logger, ticks: make(chan time.Time), stop: make(chan struct{})}
		close(s.ticks)
		return s
	}

	raw, err := rpcClient.Dispense("daemon")
	if err != nil {
		if logger != nil {
			logger.Warn("heartbeat: failed to dispense daemon plugin: %v", err)
		}
		client.Kill()
		s := &Source{logger: logger, ticks: make(chan time.Time), stop: make(chan struct{})}
		close(s.ticks)
		return s
	}

	daemon, ok := raw.(Daemon)
	if !ok {
		if logger != nil {
			logger.Warn("heartbeat: daemon plugin does not implement Daemon")
		}
		client.Kill()
		s := &Source{logger: logger, ticks: make(chan time.Time), stop: make(chan struct{})}
		close(s.ticks)
		return s
	}

	return newSource(client, daemon, min, max, logger)
}

// newSource wires an already-dispensed Daemon into a running Source. It is
// the one seam between subprocess launching (New, above) and the ticking
// logic itself, so tests can drive the latter against a fake Daemon
// without spawning a real plugin subprocess.
func newSource(client *plugin.Client, d Daemon, min, max time.Duration, logger *logging.Logger) *Source {
	s := &Source{
		client: client,
		logger: logger,
		ticks:  make(chan time.Time),
		stop:   make(chan struct{}),
		min:    min,
		max:    max,
	}
	go s.run(d)
	return s
}

func (s *Source) run(d Daemon) {
	defer close(s.ticks)
	defer func() {
		if s.client != nil {
			s.client.Kill()
		}
	}()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		delay, err := d.Wait(s.min, s.max)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("heartbeat: daemon channel closed unexpectedly: %v", err)
			}
			return
		}

		select {
		case <-time.After(delay):
			select {
			case s.ticks <- time.Now():
			case <-s.stop:
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Source) Ticks() <-chan time.Time { return s.ticks }

func (s *Source) UpdateInterval(min, max time.Duration) {
	s.min, s.max = min, max
}

func (s *Source) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

var _ heartbeat.Source = (*Source)(nil)

// ErrDaemonUnavailable reports that no daemon is available to wait on;
// daemonClient.Wait always returns it. Source's run loop handles it like
// any other Wait error: it logs a warning and closes Ticks.
var ErrDaemonUnavailable = fmt.Errorf("ipcsource: heartbeat daemon unavailable")
