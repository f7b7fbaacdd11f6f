// Package porter defines the stanza-router contract consumed by the roster
// engine and the ping controller. Porter itself — connection management,
// stream negotiation, stanza (de)serialization — is out of scope for this
// module; only the shape callers depend on is specified here, plus a
// reference in-memory implementation (porter/fake) used by this module's
// own tests and a production adapter (porter/mellium) for wiring against a
// live connection.
package porter

import (
	"context"

	"github.com/meszmate/xmppcore/pkg/stanza"
)

// Priority orders competing handlers registered for the same stanza shape.
// Handlers at a higher priority are offered the stanza first; the first
// handler to report Handled stops dispatch.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Predicate describes the structural match a registered handler wants:
// an element name plus the namespace it must appear in, matched against
// the stanza's payload element (its immediate child). It mirrors the source's `'(', "ping", ':', NS, ')'`
// build-the-predicate idiom translated into data instead of varargs.
type Predicate struct {
	Element   string
	Namespace string
}

// Match reports whether n (typically the immediate child of an <iq/>
// carrying the handler's expected payload) satisfies p.
func (p Predicate) Match(n *stanza.Node) bool {
	if n == nil {
		return false
	}
	return n.Name == p.Element && n.Namespace == p.Namespace
}

// Handler is offered an inbound stanza matching its registered predicate.
// It returns handled=true to stop further dispatch of that stanza to
// lower-priority handlers.
type Handler func(iq *stanza.IQNode, payload *stanza.Node) (handled bool)

// IQCallback receives the outcome of an asynchronous IQ request: either a
// reply stanza, or an error (transport failure, stanza-level <error/>, or
// context cancellation).
type IQCallback func(reply *stanza.IQNode, err error)

// Porter is the stanza router contract consumed by this module's
// subsystems.
type Porter interface {
	// Send dispatches a stanza without awaiting any reply.
	Send(n *stanza.Node) error

	// SendIQAsync sends an IQ get/set and arranges for cb to be invoked
	// exactly once with the matching reply or an error. Cancelling ctx
	// after the IQ has been sent is best-effort: the engine stops caring
	// about the reply, but the server-side effect may already have
	// occurred.
	SendIQAsync(ctx context.Context, iq *stanza.IQNode, cb IQCallback)

	// RegisterHandler installs a handler for inbound stanzas of the given
	// type/subtype whose payload child matches pred, at the given
	// priority. fromFilter, if non-empty, restricts dispatch to stanzas
	// whose `from` equals fromFilter exactly; an empty fromFilter accepts
	// from anywhere, matching `register_handler_from_anyone` in the
	// source this module's ping controller is grounded on.
	RegisterHandler(typ stanza.StanzaType, subtype stanza.IQType, fromFilter string, priority Priority, pred Predicate, h Handler) (id uint64, err error)

	// UnregisterHandler removes a previously registered handler. It is a
	// no-op if id is unknown or already unregistered.
	UnregisterHandler(id uint64)
}
