// Package fake provides an in-memory porter.Porter used by this module's
// own test suites. It is a single-threaded, single-goroutine stand-in: all
// dispatch happens synchronously from whichever goroutine calls its
// Deliver/CompleteIQ methods, matching the single-loop model the rest of
// this module assumes.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/meszmate/xmppcore/pkg/porter"
	"github.com/meszmate/xmppcore/pkg/stanza"
)

var _ porter.Porter = (*Porter)(nil)

type registration struct {
	id         uint64
	typ        stanza.StanzaType
	subtype    stanza.IQType
	fromFilter string
	priority   porter.Priority
	pred       porter.Predicate
	handler    porter.Handler
}

type pendingIQ struct {
	id string
	cb porter.IQCallback
}

// Porter is the in-memory reference implementation.
type Porter struct {
	nextID   uint64
	handlers []*registration
	pending  map[string]*pendingIQ

	// Sent records every stanza handed to Send, for assertions.
	Sent []*stanza.Node
	// SentIQ records every IQ handed to SendIQAsync, for assertions.
	SentIQ []*stanza.IQNode
}

// New returns an empty fake porter.
func New() *Porter {
	return &Porter{pending: map[string]*pendingIQ{}}
}

// Send implements porter.Porter.
func (p *Porter) Send(n *stanza.Node) error {
	p.Sent = append(p.Sent, n)
	return nil
}

// SendIQAsync implements porter.Porter. The reply is delivered later via
// CompleteIQ or CompleteIQError, simulating the asynchronous round trip.
func (p *Porter) SendIQAsync(ctx context.Context, iq *stanza.IQNode, cb porter.IQCallback) {
	p.SentIQ = append(p.SentIQ, iq)
	id := iq.ID()
	if id == "" {
		id = fmt.Sprintf("fake-%d", atomic.AddUint64(&p.nextID, 1))
		iq.SetID(id)
	}
	if cb != nil {
		p.pending[id] = &pendingIQ{id: id, cb: cb}
	}
}

// RegisterHandler implements porter.Porter.
func (p *Porter) RegisterHandler(typ stanza.StanzaType, subtype stanza.IQType, fromFilter string, priority porter.Priority, pred porter.Predicate, h porter.Handler) (uint64, error) {
	id := atomic.AddUint64(&p.nextID, 1)
	p.handlers = append(p.handlers, &registration{
		id: id, typ: typ, subtype: subtype, fromFilter: fromFilter,
		priority: priority, pred: pred, handler: h,
	})
	return id, nil
}

// UnregisterHandler implements porter.Porter.
func (p *Porter) UnregisterHandler(id uint64) {
	for i, r := range p.handlers {
		if r.id == id {
			p.handlers = append(p.handlers[:i], p.handlers[i+1:]...)
			return
		}
	}
}

// Deliver simulates an inbound IQ arriving from from, dispatching it to
// every matching registered handler in priority order until one reports
// handled.
func (p *Porter) Deliver(iq *stanza.IQNode, payload *stanza.Node, from string) (handled bool) {
	ordered := make([]*registration, len(p.handlers))
	copy(ordered, p.handlers)
	// stable selection sort by descending priority: registration order
	// among equal priorities is preserved, matching first-registered-
	// first-offered dispatch for same-priority handlers.
	for i := 0; i < len(ordered); i++ {
		best := i
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].priority > ordered[best].priority {
				best = j
			}
		}
		if best != i {
			r := ordered[best]
			copy(ordered[i+1:best+1], ordered[i:best])
			ordered[i] = r
		}
	}

	for _, r := range ordered {
		if r.typ != stanza.IQ || r.subtype != iq.Type() {
			continue
		}
		if r.fromFilter != "" && r.fromFilter != from {
			continue
		}
		if !r.pred.Match(payload) {
			continue
		}
		if r.handler(iq, payload) {
			return true
		}
	}
	return false
}

// CompleteIQ resolves a pending SendIQAsync call with a reply.
func (p *Porter) CompleteIQ(reply *stanza.IQNode) {
	id := reply.ID()
	pend, ok := p.pending[id]
	if !ok {
		return
	}
	delete(p.pending, id)
	pend.cb(reply, nil)
}

// CompleteIQError resolves a pending SendIQAsync call with an error
// instead of a reply.
func (p *Porter) CompleteIQError(id string, err error) {
	pend, ok := p.pending[id]
	if !ok {
		return
	}
	delete(p.pending, id)
	pend.cb(nil, err)
}

// ErrNoSuchPending names the condition of a reply with no outstanding
// request. CompleteIQ and CompleteIQError do not return it: they silently
// ignore an id with no pending request.
var ErrNoSuchPending = errors.New("fake: no pending IQ with that id")
