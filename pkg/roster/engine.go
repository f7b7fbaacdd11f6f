// Package roster implements the client-side replica of the server-stored
// contact list (RFC 6121): fetching it, applying server-initiated pushes,
// and issuing mutation requests, all serialized on a single event loop.
//
// The Engine holds no internal lock. Every exported method must be called
// from the same goroutine that drives the Porter's dispatch loop (the
// goroutine that invokes registered Handlers and IQCallbacks) — exactly as
// the source this package is grounded on relies on a single GLib main
// loop rather than any mutex. Callers that need to reach the engine from
// another goroutine must marshal onto that loop themselves.
package roster

import (
	"context"
	"fmt"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/xmppcore/internal/logging"
	"github.com/meszmate/xmppcore/pkg/porter"
	"github.com/meszmate/xmppcore/pkg/stanza"
)

// NS is the jabber:iq:roster namespace.
const NS = "jabber:iq:roster"

// googleRosterExtAttr is the attribute XEP/Google-roster pushes may carry
// (gr:ext="2") to opt into Google's roster extensions. This engine
// recognizes the flag for observability only; see Design Note (a) — no
// additional semantics are applied.
const googleRosterExtAttr = "ext"

// Completion is invoked exactly once when an asynchronous operation
// finishes, with a nil error on success.
type Completion func(error)

// AddedFunc and RemovedFunc are roster change observers, invoked
// synchronously within the same turn as the stanza (push or fetch reply)
// that caused the change — see package doc and Design Note on mutable
// signal observers.
type AddedFunc func(c *Contact)
type RemovedFunc func(c *Contact)

type observer[F any] struct {
	id int
	fn F
}

// Engine is the roster synchronization engine.
type Engine struct {
	porter  porter.Porter
	logger  *logging.Logger
	userJID jid.JID

	contacts map[string]*Contact

	fetchPending  bool
	pushHandlerID uint64

	nextObserverID int
	addedObservers []observer[AddedFunc]
	removedObsrvrs []observer[RemovedFunc]
}

// New constructs an Engine bound to p, registering its roster-push
// handler immediately (the source registers its push handler from
// `constructed`, before any fetch can be issued). userJID identifies the
// connection's own JID, used to evaluate the push trust boundary in
// trustedPushSource.
func New(p porter.Porter, userJID jid.JID, logger *logging.Logger) (*Engine, error) {
	e := &Engine{
		porter:   p,
		logger:   logger,
		userJID:  userJID,
		contacts: map[string]*Contact{},
	}

	id, err := p.RegisterHandler(stanza.IQ, stanza.Set, "", porter.PriorityNormal,
		porter.Predicate{Element: "query", Namespace: NS}, e.handlePush)
	if err != nil {
		return nil, fmt.Errorf("roster: register push handler: %w", err)
	}
	e.pushHandlerID = id
	return e, nil
}

// Close unregisters the engine's push handler. It does not clear the
// contact map; the engine's state can still be inspected afterwards.
func (e *Engine) Close() {
	if e.pushHandlerID != 0 {
		e.porter.UnregisterHandler(e.pushHandlerID)
		e.pushHandlerID = 0
	}
}

// OnAdded registers an observer invoked for every contact newly
// introduced by a fetch or push. It returns an unsubscribe function.
func (e *Engine) OnAdded(fn AddedFunc) (unsubscribe func()) {
	id := e.nextObserverID
	e.nextObserverID++
	e.addedObservers = append(e.addedObservers, observer[AddedFunc]{id: id, fn: fn})
	return func() { e.removeAddedObserver(id) }
}

func (e *Engine) removeAddedObserver(id int) {
	for i, o := range e.addedObservers {
		if o.id == id {
			e.addedObservers = append(e.addedObservers[:i], e.addedObservers[i+1:]...)
			return
		}
	}
}

// OnRemoved registers an observer invoked for every contact removed by a
// "subscription=remove" push. It returns an unsubscribe function.
func (e *Engine) OnRemoved(fn RemovedFunc) (unsubscribe func()) {
	id := e.nextObserverID
	e.nextObserverID++
	e.removedObsrvrs = append(e.removedObsrvrs, observer[RemovedFunc]{id: id, fn: fn})
	return func() { e.removeRemovedObserver(id) }
}

func (e *Engine) removeRemovedObserver(id int) {
	for i, o := range e.removedObsrvrs {
		if o.id == id {
			e.removedObsrvrs = append(e.removedObsrvrs[:i], e.removedObsrvrs[i+1:]...)
			return
		}
	}
}

func (e *Engine) fireAdded(c *Contact) {
	if e.logger != nil {
		e.logger.Debug("roster: added %s", c.LogDebug())
	}
	for _, o := range e.addedObservers {
		o.fn(c)
	}
}

func (e *Engine) fireRemoved(c *Contact) {
	if e.logger != nil {
		e.logger.Debug("roster: removed %s", c.LogDebug())
	}
	for _, o := range e.removedObsrvrs {
		o.fn(c)
	}
}

// GetContact returns the live record for bare, or (nil, false) if unknown.
// It never suspends.
func (e *Engine) GetContact(bare jid.JID) (*Contact, bool) {
	c, ok := e.contacts[bare.Bare().String()]
	return c, ok
}

// GetAllContacts returns a snapshot of every known contact, cloned so
// later pushes cannot mutate the caller's copy in place.
func (e *Engine) GetAllContacts() []*Contact {
	out := make([]*Contact, 0, len(e.contacts))
	for _, c := range e.contacts {
		out = append(out, c.Clone())
	}
	return out
}

// Fetch requests the full roster and applies the result, completing cb
// once populated. At most one fetch may be outstanding; a concurrent
// second call completes immediately with ErrPending.
func (e *Engine) Fetch(ctx context.Context, cb Completion) {
	if e.fetchPending {
		cb(ErrPending)
		return
	}
	e.fetchPending = true

	iq := stanza.NewIQ(stanza.Get)
	iq.AddChild(stanza.NewNode("query", NS))

	e.porter.SendIQAsync(ctx, iq, func(reply *stanza.IQNode, err error) {
		e.fetchPending = false
		if err != nil {
			cb(err)
			return
		}
		query := reply.Child("query", NS)
		if query == nil {
			cb(ErrInvalidStanza)
			return
		}
		e.applyItems(query, false)
		cb(nil)
	})
}

// handlePush is the registered handler for inbound IQ-set roster pushes.
func (e *Engine) handlePush(iq *stanza.IQNode, payload *stanza.Node) bool {
	from := iq.From()
	if !e.trustedPushSource(from) {
		if e.logger != nil {
			e.logger.Warn("roster: ignoring push from untrusted source %q", from)
		}
		return true
	}

	if payload == nil {
		if e.logger != nil {
			e.logger.Warn("roster: rejecting push with no query payload")
		}
		_ = e.porter.Send(stanza.ErrorFor(iq, stanza.NewNode("bad-request", "urn:ietf:params:xml:ns:xmpp-stanzas")).Node)
		return true
	}

	if ext := payload.Attr(googleRosterExtAttr); ext != "" && e.logger != nil {
		e.logger.Debug("roster: push carries google-roster ext=%q (recognized, no semantics applied)", ext)
	}

	e.applyItems(payload, true)
	_ = e.porter.Send(stanza.ResultFor(iq).Node)
	return true
}

// trustedPushSource implements the trust boundary described in Design
// Note (b): a push with no `from` attribute is unconditionally accepted,
// preserving the source's own behavior though it is flagged there as
// worth tightening. A push with a `from` is accepted only when it names
// the user's own bare JID, full JID, or bare domain (the user's server).
func (e *Engine) trustedPushSource(from string) bool {
	if from == "" {
		return true
	}
	if e.userJID.String() == "" {
		return false
	}
	if from == e.userJID.String() || from == e.userJID.Bare().String() {
		return true
	}
	if from == e.userJID.Domainpart() {
		return true
	}
	return false
}

// applyItems applies every <item/> child of query to the contact map,
// following the shared fetch/push item-parsing rules of §4.1: malformed
// or unrecognized fragments are silently skipped, the rest of the batch
// still applies.
func (e *Engine) applyItems(query *stanza.Node, isPush bool) {
	for _, item := range query.ChildrenNamed("item", "") {
		jidAttr := item.Attr("jid")
		if jidAttr == "" {
			continue
		}
		parsed, err := jid.Parse(jidAttr)
		if err != nil {
			continue
		}
		if parsed.Resourcepart() != "" {
			continue
		}
		bare := parsed.Bare()
		key := bare.String()

		if item.Attr("subscription") == "remove" {
			if existing, ok := e.contacts[key]; ok {
				delete(e.contacts, key)
				e.fireRemoved(existing)
			}
			continue
		}

		sub, ok := ParseSubscription(item.Attr("subscription"))
		if !ok {
			continue
		}

		name := item.Attr("name")
		var groups []string
		for _, g := range item.ChildrenNamed("group", "") {
			groups = append(groups, g.Text)
		}

		if existing, ok := e.contacts[key]; ok {
			existing.Name = name
			existing.Subscription = sub
			existing.Groups = dedupGroups(groups)
			continue
		}

		c := newContact(bare, name, sub, groups)
		e.contacts[key] = c
		e.fireAdded(c)
	}
}

// buildItem constructs the <item/> child shared by every mutation
// request: jid, optional name, optional subscription (omitted when none),
// and one <group/> per group.
func buildItem(j jid.JID, name string, sub Subscription, groups []string) *stanza.Node {
	item := stanza.NewNode("item", "")
	item.SetAttr("jid", j.String())
	item.SetAttr("name", name)
	if sub != SubscriptionNone {
		item.SetAttr("subscription", sub.String())
	}
	for _, g := range groups {
		gn := stanza.NewNode("group", "")
		gn.Text = g
		item.AddChild(gn)
	}
	return item
}

// sendMutation wraps item in a <query/>/<iq type='set'/> and sends it,
// translating the eventual reply into a plain completion. The local
// replica is deliberately not updated here — RFC 6121 guarantees the
// server replies with a roster push carrying the same change, which
// applyItems will apply when it arrives.
func (e *Engine) sendMutation(ctx context.Context, item *stanza.Node, cb Completion) {
	iq := stanza.NewIQ(stanza.Set)
	query := stanza.NewNode("query", NS)
	query.AddChild(item)
	iq.AddChild(query)

	e.porter.SendIQAsync(ctx, iq, func(reply *stanza.IQNode, err error) {
		cb(err)
	})
}

// AddContact requests the server add jid to the roster. If jid is already
// present, it completes immediately without a round trip, matching the
// source's no-op-if-present behavior.
func (e *Engine) AddContact(ctx context.Context, j jid.JID, name string, groups []string, cb Completion) {
	bare := j.Bare()
	if _, ok := e.contacts[bare.String()]; ok {
		cb(nil)
		return
	}
	e.sendMutation(ctx, buildItem(bare, name, SubscriptionNone, groups), cb)
}

// RemoveContact requests the server remove contact from the roster.
// Fails with ErrNotInRoster if the engine does not currently hold it.
func (e *Engine) RemoveContact(ctx context.Context, contact *Contact, cb Completion) {
	if _, ok := e.contacts[contact.JID.Bare().String()]; !ok {
		cb(ErrNotInRoster)
		return
	}
	item := stanza.NewNode("item", "")
	item.SetAttr("jid", contact.JID.String())
	item.SetAttr("subscription", "remove")
	e.sendMutation(ctx, item, cb)
}

// RenameContact requests a new display name for contact. Completes
// immediately if the name is unchanged.
func (e *Engine) RenameContact(ctx context.Context, contact *Contact, newName string, cb Completion) {
	if contact.Name == newName {
		cb(nil)
		return
	}
	e.sendMutation(ctx, buildItem(contact.JID.Bare(), newName, contact.Subscription, contact.Groups), cb)
}

// AddGroup requests contact be added to group. Completes immediately if
// already a member.
func (e *Engine) AddGroup(ctx context.Context, contact *Contact, group string, cb Completion) {
	if contact.InGroup(group) {
		cb(nil)
		return
	}
	groups := append(append([]string(nil), contact.Groups...), group)
	e.sendMutation(ctx, buildItem(contact.JID.Bare(), contact.Name, contact.Subscription, groups), cb)
}

// RemoveGroup requests contact be removed from group. Completes
// immediately if not currently a member.
func (e *Engine) RemoveGroup(ctx context.Context, contact *Contact, group string, cb Completion) {
	if !contact.InGroup(group) {
		cb(nil)
		return
	}
	groups := make([]string, 0, len(contact.Groups))
	for _, g := range contact.Groups {
		if g != group {
			groups = append(groups, g)
		}
	}
	e.sendMutation(ctx, buildItem(contact.JID.Bare(), contact.Name, contact.Subscription, groups), cb)
}
