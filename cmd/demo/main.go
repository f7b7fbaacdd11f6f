// Command demo wires the roster engine and ping controller to the
// in-memory fake porter, or with -live to a real connection, in the same
// spirit as the teacher's own cmd/roster entry
// point: minimal flag handling, load config, build the collaborators,
// run until interrupted.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mellium.im/sasl"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/xmppcore/internal/config"
	"github.com/meszmate/xmppcore/internal/logging"
	"github.com/meszmate/xmppcore/pkg/heartbeat/ipcsource"
	"github.com/meszmate/xmppcore/pkg/ping"
	"github.com/meszmate/xmppcore/pkg/porter"
	"github.com/meszmate/xmppcore/pkg/porter/fake"
	melliumporter "github.com/meszmate/xmppcore/pkg/porter/mellium"
	"github.com/meszmate/xmppcore/pkg/roster"
)

// dialLiveSession establishes a real connection for -live, adapted from
// the teacher's own internal/xmpp/client.go Connect method: dial, STARTTLS,
// SASL, then resource binding. Authentication itself is still out of this
// module's own scope (the roster/dataforms/ping packages never see a
// password); this is only the demo binary's job of producing the
// *xmpp.Session that pkg/porter/mellium.Adapter is handed afterward.
func dialLiveSession(ctx context.Context, userJID jid.JID, addr, password string) (*xmpp.Session, error) {
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to dial server: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName: userJID.Domainpart(),
		MinVersion: tls.VersionTLS12,
	}

	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Features: []xmpp.StreamFeature{
				xmpp.StartTLS(tlsConfig),
				xmpp.SASL("", password, sasl.ScramSha256Plus, sasl.ScramSha256, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
				xmpp.BindResource(),
			},
		}
	})

	session, err := xmpp.NewSession(ctx, userJID.Domain(), userJID, conn, 0, negotiator)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to negotiate session: %w", err)
	}
	return session, nil
}

func main() {
	account := flag.String("jid", "", "the account's bare JID")
	live := flag.String("live", "", "server:port to dial a real connection instead of the in-memory fake porter")
	passwordEnv := flag.String("password-env", "XMPPCORE_DEMO_PASSWORD", "environment variable holding the account password, used only with -live")
	heartbeatDaemon := flag.String("heartbeat-daemon", "", "path to an external heartbeat daemon binary; if set, pings are paced by pkg/heartbeat/ipcsource instead of the local timer")
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "usage: demo -jid=user@example.com [-live=server:port] [-heartbeat-daemon=/path/to/daemon]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	userJID, err := jid.Parse(*account)
	if err != nil {
		logger.Error("invalid jid %q: %v", *account, err)
		os.Exit(1)
	}

	// By default this demo runs against the in-memory fake Porter, with no
	// network dependency. -live switches to a real *mellium.Adapter over a
	// negotiated *xmpp.Session instead.
	var p porter.Porter
	var liveAdapter *melliumporter.Adapter
	if *live != "" {
		session, err := dialLiveSession(context.Background(), userJID, *live, os.Getenv(*passwordEnv))
		if err != nil {
			logger.Error("failed to establish live connection: %v", err)
			os.Exit(1)
		}
		userJID = session.LocalAddr()
		liveAdapter = melliumporter.New(session)
		p = liveAdapter
		logger.Info("connected live as %s", userJID)
	} else {
		p = fake.New()
	}

	engine, err := roster.New(p, userJID, logger)
	if err != nil {
		logger.Error("failed to start roster engine: %v", err)
		os.Exit(1)
	}
	defer engine.Close()

	engine.OnAdded(func(c *roster.Contact) {
		logger.Info("roster: contact added: %s", c.LogDebug())
	})
	engine.OnRemoved(func(c *roster.Contact) {
		logger.Info("roster: contact removed: %s", c.LogDebug())
	})

	pinger, err := ping.New(p, time.Duration(cfg.Ping.MinInterval)*time.Second, time.Duration(cfg.Ping.PingInterval)*time.Second, logger)
	if err != nil {
		logger.Error("failed to start ping controller: %v", err)
		os.Exit(1)
	}
	defer pinger.Close()

	if *heartbeatDaemon != "" {
		minInterval := time.Duration(cfg.Ping.MinInterval) * time.Second
		maxInterval := time.Duration(cfg.Ping.PingInterval) * time.Second
		pinger.SetSource(ipcsource.New(*heartbeatDaemon, minInterval, maxInterval, logger))
	}

	if liveAdapter != nil {
		go func() {
			if err := liveAdapter.Serve(context.Background()); err != nil {
				logger.Warn("live connection closed: %v", err)
			}
		}()
	}

	engine.Fetch(context.Background(), func(err error) {
		if err != nil {
			logger.Error("roster fetch failed: %v", err)
			return
		}
		logger.Info("roster fetch complete: %d contacts", len(engine.GetAllContacts()))
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}
