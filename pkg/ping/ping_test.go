package ping

import (
	"testing"
	"time"

	"github.com/meszmate/xmppcore/pkg/porter/fake"
	"github.com/meszmate/xmppcore/pkg/stanza"
)

func newTestController(t *testing.T) (*Controller, *fake.Porter) {
	t.Helper()
	p := fake.New()
	c, err := New(p, 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c, p
}

// Ping invariant: for any received ping IQ get, the next outbound stanza
// is an IQ result with the same id and swapped from/to.
func TestInboundPingRepliesWithMatchingResult(t *testing.T) {
	c, p := newTestController(t)

	req := stanza.NewIQ(stanza.Get)
	req.SetID("ping1")
	req.SetFrom("peer@example.com/res")
	req.SetTo("user@example.com/res")
	pingNode := stanza.NewNode("ping", NS)
	req.AddChild(pingNode)

	handled := p.Deliver(req, pingNode, "peer@example.com/res")
	if !handled {
		t.Fatal("expected ping request to be handled")
	}
	_ = c

	if len(p.Sent) != 1 {
		t.Fatalf("expected exactly one outbound stanza, got %d", len(p.Sent))
	}
	reply := p.Sent[0]
	if reply.Name != "iq" || reply.Attr("type") != string(stanza.Result) {
		t.Fatalf("expected an iq result, got %+v", reply)
	}
	if reply.Attr("id") != "ping1" {
		t.Fatalf("expected matching id, got %q", reply.Attr("id"))
	}
	if reply.Attr("to") != "peer@example.com/res" || reply.Attr("from") != "user@example.com/res" {
		t.Fatalf("expected swapped from/to, got to=%q from=%q", reply.Attr("to"), reply.Attr("from"))
	}
}

func TestSendPingBuildsWellFormedRequest(t *testing.T) {
	c, p := newTestController(t)
	c.sendPing()

	if len(p.SentIQ) != 1 {
		t.Fatalf("expected one outbound ping IQ, got %d", len(p.SentIQ))
	}
	iq := p.SentIQ[0]
	if iq.Type() != stanza.Get {
		t.Fatalf("expected get IQ, got %s", iq.Type())
	}
	if iq.Child("ping", NS) == nil {
		t.Fatal("expected ping child in the ping namespace")
	}
}

func TestHeartbeatSourceClosesTicksOnControllerClose(t *testing.T) {
	p := fake.New()
	c, err := New(p, 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	select {
	case _, ok := <-c.heartbeat.Ticks():
		if ok {
			t.Fatal("expected ticks channel to be closed after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat source to quiesce")
	}
}
