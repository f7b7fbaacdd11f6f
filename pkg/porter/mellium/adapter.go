// Package mellium adapts a live mellium.im/xmpp session to the porter.Porter
// contract, so the roster engine and ping controller in this module can be
// driven by a real connection instead of only the in-memory fake used by
// their tests. It plays the same role the teacher's internal/xmpp/client.go
// plays for its own roster/presence/disco managers: a thin translation
// layer between a concrete transport and this module's own abstractions.
package mellium

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"sync"

	"mellium.im/xmpp"

	"github.com/meszmate/xmppcore/pkg/porter"
	"github.com/meszmate/xmppcore/pkg/stanza"
)

var _ porter.Porter = (*Adapter)(nil)

// Adapter implements porter.Porter against a *xmpp.Session obtained and
// negotiated elsewhere (TLS/SASL/resource binding are out of scope for this
// module, same as for the rest of the core).
type Adapter struct {
	session *xmpp.Session

	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]*registration
	pending  map[string]porter.IQCallback
}

type registration struct {
	typ        stanza.StanzaType
	subtype    stanza.IQType
	fromFilter string
	priority   porter.Priority
	pred       porter.Predicate
	handler    porter.Handler
}

// New wraps an already-negotiated session.
func New(session *xmpp.Session) *Adapter {
	return &Adapter{
		session:  session,
		handlers: map[uint64]*registration{},
		pending:  map[string]porter.IQCallback{},
	}
}

// Send implements porter.Porter by encoding n and writing it to the
// session with a background context, matching the fire-and-forget
// contract: callers that need delivery confirmation use SendIQAsync.
func (a *Adapter) Send(n *stanza.Node) error {
	return a.session.Encode(context.Background(), nodeToTokenReader(n))
}

// SendIQAsync implements porter.Porter. It assigns an id if the caller
// left one unset, registers the callback, and encodes the IQ onto the
// session; Dispatch (called from Serve or any other read loop over the
// session) routes the eventual reply back to cb.
func (a *Adapter) SendIQAsync(ctx context.Context, iq *stanza.IQNode, cb porter.IQCallback) {
	if iq.ID() == "" {
		iq.SetID(newID())
	}
	id := iq.ID()

	if cb != nil {
		a.mu.Lock()
		a.pending[id] = cb
		a.mu.Unlock()
	}

	if err := a.session.Encode(ctx, nodeToTokenReader(iq.Node)); err != nil {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		if cb != nil {
			cb(nil, fmt.Errorf("send iq: %w", err))
		}
	}
}

// RegisterHandler implements porter.Porter.
func (a *Adapter) RegisterHandler(typ stanza.StanzaType, subtype stanza.IQType, fromFilter string, priority porter.Priority, pred porter.Predicate, h porter.Handler) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.handlers[id] = &registration{typ: typ, subtype: subtype, fromFilter: fromFilter, priority: priority, pred: pred, handler: h}
	return id, nil
}

// UnregisterHandler implements porter.Porter.
func (a *Adapter) UnregisterHandler(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.handlers, id)
}

// Dispatch is called by the session's stanza-reading loop (Serve below, or
// a loop the caller runs itself) for each inbound <iq/> stanza. It routes IQ replies to pending SendIQAsync
// callbacks and inbound requests to registered handlers in priority order.
func (a *Adapter) Dispatch(iq *stanza.IQNode, payload *stanza.Node, from string) (handled bool) {
	if iq.Type() == stanza.Result || iq.Type() == stanza.Error {
		a.mu.Lock()
		cb, ok := a.pending[iq.ID()]
		if ok {
			delete(a.pending, iq.ID())
		}
		a.mu.Unlock()
		if ok {
			if iq.Type() == stanza.Error {
				cb(nil, fmt.Errorf("iq error reply"))
			} else {
				cb(iq, nil)
			}
			return true
		}
		return false
	}

	a.mu.Lock()
	var candidates []*registration
	for _, r := range a.handlers {
		candidates = append(candidates, r)
	}
	a.mu.Unlock()

	for priority := porter.PriorityHigh; priority >= porter.PriorityLow; priority-- {
		for _, r := range candidates {
			if r.priority != priority {
				continue
			}
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
	}
	return false
}

// Serve runs the adapter's inbound read loop until the session's stream
// closes or ctx is cancelled. It is the mellium-specific counterpart of
// the teacher's own internal/xmpp/client.go handleStanzas: decode a
// top-level start element, read its subtree into a stanza.Node, and for
// <iq/> stanzas hand the result to Dispatch. Messages and presence carry
// no meaning for this module's three subsystems, so their subtrees are
// only drained, never interpreted, to keep the token stream in sync.
func (a *Adapter) Serve(ctx context.Context) error {
	tr := a.session.TokenReader()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tok, err := tr.Token()
		if err != nil {
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		n, err := decodeElement(tr, start)
		if err != nil {
			return err
		}
		if start.Name.Local == "iq" {
			iq := &stanza.IQNode{Node: n}
			var payload *stanza.Node
			if len(n.Children) > 0 {
				payload = n.Children[0]
			}
			a.Dispatch(iq, payload, iq.From())
		}
	}
}

// decodeElement reads the subtree rooted at an already-consumed start
// element into a stanza.Node, stopping at its matching end element.
func decodeElement(tr xml.TokenReader, start xml.StartElement) (*stanza.Node, error) {
	n := stanza.NewNode(start.Name.Local, start.Name.Space)
	for _, attr := range start.Attr {
		n.SetAttr(attr.Name.Local, attr.Value)
	}

	for {
		tok, err := tr.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(tr, t)
			if err != nil {
				return nil, err
			}
			n.AddChild(child)
		case xml.CharData:
			n.Text += string(t)
		case xml.EndElement:
			return n, nil
		}
	}
}

func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// nodeToTokenReader adapts this module's stanza.Node into the xml token
// stream mellium's session.Encode expects. It is a narrow translation: the
// module's Node trees are always well-formed by construction (built via
// stanza.NewNode/AddChild), so there is no error path here beyond what
// encoding/xml itself can report while writing.
func nodeToTokenReader(n *stanza.Node) xml.TokenReader {
	return &nodeReader{stack: []frame{{node: n}}}
}

type frame struct {
	node    *stanza.Node
	childAt int
	started bool
	ended   bool
}

type nodeReader struct {
	stack []frame
}

func (r *nodeReader) Token() (xml.Token, error) {
	for len(r.stack) > 0 {
		top := &r.stack[len(r.stack)-1]
		if !top.started {
			top.started = true
			return xml.StartElement{Name: elementName(top.node), Attr: attrsOf(top.node)}, nil
		}
		if top.childAt < len(top.node.Children) {
			child := top.node.Children[top.childAt]
			top.childAt++
			r.stack = append(r.stack, frame{node: child})
			continue
		}
		if top.node.Text != "" && !top.ended {
			top.ended = true
			return xml.CharData(top.node.Text), nil
		}
		name := elementName(top.node)
		r.stack = r.stack[:len(r.stack)-1]
		return xml.EndElement{Name: name}, nil
	}
	return nil, nil
}

func elementName(n *stanza.Node) xml.Name {
	return xml.Name{Local: n.Name, Space: n.Namespace}
}

func attrsOf(n *stanza.Node) []xml.Attr {
	attrs := make([]xml.Attr, 0, len(n.Attrs))
	for k, v := range n.Attrs {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: k}, Value: v})
	}
	return attrs
}
