package mellium

import (
	"encoding/xml"
	"testing"

	"github.com/meszmate/xmppcore/pkg/porter"
	"github.com/meszmate/xmppcore/pkg/stanza"
)

// newTestAdapter builds an Adapter with no backing *xmpp.Session, enough to
// exercise everything except Send/SendIQAsync's final session.Encode call.
func newTestAdapter() *Adapter {
	return &Adapter{handlers: map[uint64]*registration{}, pending: map[string]porter.IQCallback{}}
}

func TestRegisterAndUnregisterHandler(t *testing.T) {
	a := newTestAdapter()
	id, err := a.RegisterHandler(stanza.IQ, stanza.Get, "", porter.PriorityNormal, porter.Predicate{Element: "ping"}, func(*stanza.IQNode, *stanza.Node) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	if len(a.handlers) != 1 {
		t.Fatalf("expected 1 registered handler, got %d", len(a.handlers))
	}

	a.UnregisterHandler(id)
	if len(a.handlers) != 0 {
		t.Fatalf("expected handler removed, got %d remaining", len(a.handlers))
	}
}

func TestDispatchOffersHigherPriorityHandlerFirst(t *testing.T) {
	a := newTestAdapter()
	var order []string
	a.RegisterHandler(stanza.IQ, stanza.Get, "", porter.PriorityLow, porter.Predicate{Element: "ping", Namespace: "urn:xmpp:ping"}, func(*stanza.IQNode, *stanza.Node) bool {
		order = append(order, "low")
		return false
	})
	a.RegisterHandler(stanza.IQ, stanza.Get, "", porter.PriorityHigh, porter.Predicate{Element: "ping", Namespace: "urn:xmpp:ping"}, func(*stanza.IQNode, *stanza.Node) bool {
		order = append(order, "high")
		return true
	})

	iq := stanza.NewIQ(stanza.Get)
	payload := stanza.NewNode("ping", "urn:xmpp:ping")

	if handled := a.Dispatch(iq, payload, ""); !handled {
		t.Fatal("expected dispatch to report handled")
	}
	if len(order) != 1 || order[0] != "high" {
		t.Fatalf("expected only the high-priority handler to run, got %v", order)
	}
}

func TestDispatchRoutesIQResultToPendingCallback(t *testing.T) {
	a := newTestAdapter()
	var gotReply *stanza.IQNode
	var gotErr error
	a.pending["req1"] = func(reply *stanza.IQNode, err error) {
		gotReply, gotErr = reply, err
	}

	reply := stanza.NewIQ(stanza.Result)
	reply.SetID("req1")

	if handled := a.Dispatch(reply, nil, "server"); !handled {
		t.Fatal("expected the IQ result to be reported handled")
	}
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotReply == nil || gotReply.ID() != "req1" {
		t.Fatalf("callback did not receive the reply, got %+v", gotReply)
	}
	if _, ok := a.pending["req1"]; ok {
		t.Fatal("expected pending entry to be removed after delivery")
	}
}

func TestDispatchRoutesIQErrorToPendingCallback(t *testing.T) {
	a := newTestAdapter()
	var gotErr error
	a.pending["req2"] = func(_ *stanza.IQNode, err error) {
		gotErr = err
	}

	errIQ := stanza.NewIQ(stanza.Error)
	errIQ.SetID("req2")

	if handled := a.Dispatch(errIQ, nil, "server"); !handled {
		t.Fatal("expected the IQ error to be reported handled")
	}
	if gotErr == nil {
		t.Fatal("expected the pending callback to receive an error")
	}
}

func TestDispatchUnmatchedIQResultIsNotHandled(t *testing.T) {
	a := newTestAdapter()
	reply := stanza.NewIQ(stanza.Result)
	reply.SetID("nobody-waiting")
	if handled := a.Dispatch(reply, nil, "server"); handled {
		t.Fatal("expected an IQ result with no pending callback to be reported unhandled")
	}
}

func TestNodeToTokenReaderWalksTreeInOrder(t *testing.T) {
	root := stanza.NewNode("iq", "")
	root.SetAttr("id", "abc")
	child := stanza.NewNode("ping", "urn:xmpp:ping")
	root.AddChild(child)

	r := nodeToTokenReader(root)

	tok, err := r.Token()
	if err != nil {
		t.Fatal(err)
	}
	start, ok := tok.(xml.StartElement)
	if !ok || start.Name.Local != "iq" {
		t.Fatalf("expected <iq> start element, got %#v", tok)
	}

	tok, err = r.Token()
	if err != nil {
		t.Fatal(err)
	}
	childStart, ok := tok.(xml.StartElement)
	if !ok || childStart.Name.Local != "ping" || childStart.Name.Space != "urn:xmpp:ping" {
		t.Fatalf("expected <ping> start element, got %#v", tok)
	}

	tok, err = r.Token()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tok.(xml.EndElement); !ok {
		t.Fatalf("expected </ping> end element, got %#v", tok)
	}

	tok, err = r.Token()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tok.(xml.EndElement); !ok {
		t.Fatalf("expected </iq> end element, got %#v", tok)
	}

	tok, err = r.Token()
	if err != nil || tok != nil {
		t.Fatalf("expected stream exhaustion, got tok=%#v err=%v", tok, err)
	}
}

func TestNewIDIsUniqueAndHexEncoded(t *testing.T) {
	a, b := newID(), newID()
	if a == b {
		t.Fatal("expected two distinct ids")
	}
	if len(a) != 16 {
		t.Fatalf("expected a 16-character hex id, got %q (%d chars)", a, len(a))
	}
}

// decodeElement is the inverse of nodeToTokenReader/nodeReader, used by
// Serve to turn inbound tokens back into a stanza.Node. Round-tripping a
// tree through both exercises the same encode/decode pair Serve and
// Send/SendIQAsync rely on.
func TestDecodeElementRoundTripsEncodedNode(t *testing.T) {
	original := stanza.NewNode("iq", "")
	original.SetAttr("type", "get")
	original.SetAttr("id", "r1")
	ping := stanza.NewNode("ping", "urn:xmpp:ping")
	original.AddChild(ping)

	r := nodeToTokenReader(original)
	tok, err := r.Token()
	if err != nil {
		t.Fatal(err)
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		t.Fatalf("expected a start element, got %#v", tok)
	}

	decoded, err := decodeElement(r, start)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Name != "iq" || decoded.Attr("type") != "get" || decoded.Attr("id") != "r1" {
		t.Fatalf("unexpected decoded root: %+v", decoded)
	}
	if len(decoded.Children) != 1 || decoded.Children[0].Name != "ping" || decoded.Children[0].Namespace != "urn:xmpp:ping" {
		t.Fatalf("unexpected decoded children: %+v", decoded.Children)
	}
}
