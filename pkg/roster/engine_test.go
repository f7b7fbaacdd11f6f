package roster

import (
	"context"
	"testing"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/xmppcore/pkg/porter/fake"
	"github.com/meszmate/xmppcore/pkg/stanza"
)

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("parse jid %q: %v", s, err)
	}
	return j
}

func newTestEngine(t *testing.T) (*Engine, *fake.Porter) {
	t.Helper()
	p := fake.New()
	e, err := New(p, mustJID(t, "user@example.com/resource"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return e, p
}

func itemNode(jidAttr, name, sub string, groups ...string) *stanza.Node {
	n := stanza.NewNode("item", "")
	n.SetAttr("jid", jidAttr)
	n.SetAttr("name", name)
	n.SetAttr("subscription", sub)
	for _, g := range groups {
		gn := stanza.NewNode("group", "")
		gn.Text = g
		n.AddChild(gn)
	}
	return n
}

// Scenario 1: fetch with two contacts.
func TestFetchTwoContacts(t *testing.T) {
	e, p := newTestEngine(t)

	var addedOrder []string
	e.OnAdded(func(c *Contact) { addedOrder = append(addedOrder, c.JID.String()) })

	var fetchErr error
	done := false
	e.Fetch(context.Background(), func(err error) { fetchErr = err; done = true })

	if len(p.SentIQ) != 1 {
		t.Fatalf("expected one outbound fetch IQ, got %d", len(p.SentIQ))
	}
	reqIQ := p.SentIQ[0]
	if reqIQ.Child("query", NS) == nil {
		t.Fatal("expected fetch request to carry a roster query")
	}

	reply := stanza.NewIQ(stanza.Result)
	reply.SetID(reqIQ.ID())
	query := stanza.NewNode("query", NS)
	query.AddChild(itemNode("a@x", "A", "both", "g1"))
	query.AddChild(itemNode("b@x", "", "to"))
	reply.AddChild(query)

	p.CompleteIQ(reply)

	if !done || fetchErr != nil {
		t.Fatalf("fetch did not complete cleanly: done=%v err=%v", done, fetchErr)
	}

	a, ok := e.GetContact(mustJID(t, "a@x"))
	if !ok {
		t.Fatal("expected contact a@x")
	}
	if a.Name != "A" || a.Subscription != SubscriptionBoth || !groupsEqual(a.Groups, []string{"g1"}) {
		t.Fatalf("unexpected contact a: %+v", a)
	}

	b, ok := e.GetContact(mustJID(t, "b@x"))
	if !ok {
		t.Fatal("expected contact b@x")
	}
	if b.Subscription != SubscriptionTo || len(b.Groups) != 0 {
		t.Fatalf("unexpected contact b: %+v", b)
	}

	if len(addedOrder) != 2 || addedOrder[0] != "a@x" || addedOrder[1] != "b@x" {
		t.Fatalf("expected added events for a@x then b@x, got %v", addedOrder)
	}
}

// Scenario 2: push removal.
func TestPushRemoval(t *testing.T) {
	e, p := newTestEngine(t)
	e.Fetch(context.Background(), func(error) {})
	reply := stanza.NewIQ(stanza.Result)
	reply.SetID(p.SentIQ[0].ID())
	query := stanza.NewNode("query", NS)
	query.AddChild(itemNode("a@x", "A", "both", "g1"))
	reply.AddChild(query)
	p.CompleteIQ(reply)

	var removed *Contact
	e.OnRemoved(func(c *Contact) { removed = c })

	pushIQ := stanza.NewIQ(stanza.Set)
	pushIQ.SetID("push1")
	pushIQ.SetFrom("user@example.com")
	pushQuery := stanza.NewNode("query", NS)
	pushQuery.AddChild(itemNode("a@x", "", "remove"))
	pushIQ.AddChild(pushQuery)

	handled := p.Deliver(pushIQ, pushQuery, "user@example.com")
	if !handled {
		t.Fatal("expected push to be handled")
	}
	if removed == nil || removed.JID.String() != "a@x" {
		t.Fatalf("expected removed event for a@x, got %+v", removed)
	}
	if _, ok := e.GetContact(mustJID(t, "a@x")); ok {
		t.Fatal("expected a@x to be gone from the roster")
	}
	if len(p.Sent) != 1 {
		t.Fatalf("expected engine to send an IQ result for the push, got %d sends", len(p.Sent))
	}
}

// Scenario 3: rename no-op.
func TestRenameNoOp(t *testing.T) {
	e, p := newTestEngine(t)
	e.Fetch(context.Background(), func(error) {})
	reply := stanza.NewIQ(stanza.Result)
	reply.SetID(p.SentIQ[0].ID())
	query := stanza.NewNode("query", NS)
	query.AddChild(itemNode("a@x", "A", "both"))
	reply.AddChild(query)
	p.CompleteIQ(reply)

	sentBefore := len(p.SentIQ)
	a, _ := e.GetContact(mustJID(t, "a@x"))

	var err error
	called := false
	e.RenameContact(context.Background(), a, "A", func(e error) { err = e; called = true })

	if !called || err != nil {
		t.Fatalf("expected immediate success, got called=%v err=%v", called, err)
	}
	if len(p.SentIQ) != sentBefore {
		t.Fatal("expected no stanza to be sent for a no-op rename")
	}
}

// Scenario 4: double fetch.
func TestDoubleFetch(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Fetch(context.Background(), func(error) {})

	var err error
	e.Fetch(context.Background(), func(e error) { err = e })
	if err != ErrPending {
		t.Fatalf("expected ErrPending, got %v", err)
	}
}

func TestRemoveContactNotInRoster(t *testing.T) {
	e, _ := newTestEngine(t)
	stranger := newContact(mustJID(t, "nobody@x"), "", SubscriptionNone, nil)

	var err error
	e.RemoveContact(context.Background(), stranger, func(e error) { err = e })
	if err != ErrNotInRoster {
		t.Fatalf("expected ErrNotInRoster, got %v", err)
	}
}

func TestUntrustedPushIgnored(t *testing.T) {
	e, p := newTestEngine(t)

	fired := false
	e.OnAdded(func(c *Contact) { fired = true })

	pushIQ := stanza.NewIQ(stanza.Set)
	pushIQ.SetID("push1")
	pushIQ.SetFrom("mallory@evil.example")
	pushQuery := stanza.NewNode("query", NS)
	pushQuery.AddChild(itemNode("a@x", "A", "both"))
	pushIQ.AddChild(pushQuery)

	handled := p.Deliver(pushIQ, pushQuery, "mallory@evil.example")
	if !handled {
		t.Fatal("expected untrusted push to still be reported handled (ignored, not routed elsewhere)")
	}
	if fired {
		t.Fatal("expected untrusted push to be ignored without mutation")
	}
	if _, ok := e.GetContact(mustJID(t, "a@x")); ok {
		t.Fatal("expected untrusted push to not add a contact")
	}
}

func TestAddAndRemoveGroupNoOps(t *testing.T) {
	e, p := newTestEngine(t)
	c := newContact(mustJID(t, "a@x"), "A", SubscriptionNone, []string{"g1"})
	e.contacts[c.JID.String()] = c

	sentBefore := len(p.SentIQ)
	var err error
	e.AddGroup(context.Background(), c, "g1", func(e error) { err = e })
	if err != nil || len(p.SentIQ) != sentBefore {
		t.Fatalf("expected no-op add of existing group, err=%v sent=%d", err, len(p.SentIQ))
	}

	e.RemoveGroup(context.Background(), c, "not-there", func(e error) { err = e })
	if err != nil || len(p.SentIQ) != sentBefore {
		t.Fatalf("expected no-op remove of absent group, err=%v sent=%d", err, len(p.SentIQ))
	}
}
