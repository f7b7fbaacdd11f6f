// Package ping implements the XEP-0199 keepalive ping controller: it
// answers inbound pings immediately and emits outbound pings on a
// heartbeat.Source-driven cadence, without ever waiting for or acting on
// the outbound ping's reply.
package ping

import (
	"context"
	"time"

	"github.com/meszmate/xmppcore/internal/logging"
	"github.com/meszmate/xmppcore/pkg/heartbeat"
	"github.com/meszmate/xmppcore/pkg/porter"
	"github.com/meszmate/xmppcore/pkg/stanza"
)

// NS is the urn:xmpp:ping namespace.
const NS = "urn:xmpp:ping"

// Controller owns a heartbeat.Source and a Porter handler registration. A
// PingInterval of 0 disables outbound pings but the inbound handler
// remains installed, matching §4.3.
type Controller struct {
	porter porter.Porter
	logger *logging.Logger

	handlerID uint64
	heartbeat heartbeat.Source

	runDone chan struct{}
}

// New constructs a Controller bound to p, with a keepalive window of
// [minInterval, maxInterval]. A maxInterval of 0 disables outbound
// pings. The controller immediately registers its inbound ping handler and
// starts its heartbeat source's run loop on a dedicated goroutine, which
// is the one concurrency exception this module's otherwise single-loop
// design requires — see package roster's doc comment for the general
// rule, and §5 for why timers are the unavoidable exception.
func New(p porter.Porter, minInterval, maxInterval time.Duration, logger *logging.Logger) (*Controller, error) {
	c := &Controller{
		porter:  p,
		logger:  logger,
		runDone: make(chan struct{}),
	}

	id, err := p.RegisterHandler(stanza.IQ, stanza.Get, "", porter.PriorityNormal,
		porter.Predicate{Element: "ping", Namespace: NS}, c.handlePing)
	if err != nil {
		return nil, err
	}
	c.handlerID = id

	c.heartbeat = heartbeat.NewLocal(minInterval, maxInterval)
	go c.run()

	return c, nil
}

// SetSource replaces the controller's heartbeat source, for callers that
// want to drive ticks from an out-of-process daemon (pkg/heartbeat/
// ipcsource) instead of the default local timer. It must be called before
// any concurrent access to the controller begins.
func (c *Controller) SetSource(s heartbeat.Source) {
	c.heartbeat.Close()
	c.heartbeat = s
	go c.run()
}

// UpdateInterval changes the keepalive window for ticks issued after the
// call returns.
func (c *Controller) UpdateInterval(minInterval, maxInterval time.Duration) {
	c.heartbeat.UpdateInterval(minInterval, maxInterval)
	if c.logger != nil {
		c.logger.Debug("ping: updated interval to [%s, %s]", minInterval, maxInterval)
	}
}

// Close unregisters the inbound handler and releases the heartbeat source.
func (c *Controller) Close() {
	if c.handlerID != 0 {
		c.porter.UnregisterHandler(c.handlerID)
		c.handlerID = 0
	}
	c.heartbeat.Close()
}

func (c *Controller) run() {
	for range c.heartbeat.Ticks() {
		c.sendPing()
	}
	if c.logger != nil {
		c.logger.Warn("ping: heartbeat source quiesced, no further outbound pings will be sent")
	}
}

// sendPing emits one outbound keepalive ping. Per §4.3 the reply is never
// awaited or inspected — delivery failure of the ping itself (not its
// reply) is the only thing worth logging.
func (c *Controller) sendPing() {
	iq := stanza.NewIQ(stanza.Get)
	iq.AddChild(stanza.NewNode("ping", NS))

	if c.logger != nil {
		c.logger.Debug("ping: sending keepalive ping")
	}
	c.porter.SendIQAsync(context.Background(), iq, nil)
}

// handlePing answers an inbound ping request with an empty IQ result.
func (c *Controller) handlePing(iq *stanza.IQNode, payload *stanza.Node) bool {
	if c.logger != nil {
		c.logger.Debug("ping: replying to ping from %q", iq.From())
	}
	_ = c.porter.Send(stanza.ResultFor(iq).Node)
	return true
}
