package roster

import (
	"fmt"
	"sort"
	"strings"

	"mellium.im/xmpp/jid"
)

// Subscription is the directional presence-visibility relationship between
// the user and a contact, encoded as two independent bits rather than a
// flat enum so "both" is structurally "to | from" instead of a fourth
// unrelated value.
type Subscription uint8

const (
	SubscriptionNone Subscription = 0
	// SubscriptionTo means the user is visible to the contact's presence
	// (outgoing-visible).
	SubscriptionTo Subscription = 1 << 0
	// SubscriptionFrom means the contact is visible to the user's presence
	// (incoming-visible).
	SubscriptionFrom Subscription = 1 << 1
	SubscriptionBoth                = SubscriptionTo | SubscriptionFrom
)

// ParseSubscription decodes the `subscription` attribute value used on the
// wire. An empty value (absent attribute) decodes as SubscriptionNone. An
// unrecognized value (anything but "" and the four defined values, or
// "remove" which is handled by the caller before reaching here) yields
// (SubscriptionNone, false).
func ParseSubscription(s string) (Subscription, bool) {
	switch s {
	case "", "none":
		return SubscriptionNone, true
	case "to":
		return SubscriptionTo, true
	case "from":
		return SubscriptionFrom, true
	case "both":
		return SubscriptionBoth, true
	default:
		return SubscriptionNone, false
	}
}

// String returns the wire representation of s.
func (s Subscription) String() string {
	switch s {
	case SubscriptionNone:
		return "none"
	case SubscriptionTo:
		return "to"
	case SubscriptionFrom:
		return "from"
	case SubscriptionBoth:
		return "both"
	default:
		return "none"
	}
}

// Contact is the client-side replica of one roster entry: a bare-JID
// identified contact with a display name, subscription state, and group
// membership.
//
// Contact is not safe for concurrent mutation; the engine that owns it
// serializes all mutation on its single event loop (see package roster
// doc), and callers holding a reference across a later push should call
// Clone to avoid observing in-place mutation of a stale snapshot.
type Contact struct {
	JID          jid.JID
	Name         string
	Subscription Subscription
	Groups       []string
}

// newContact validates and constructs a bare-JID contact. bare must be a
// bare JID (no resource); the engine is responsible for skipping any item
// whose jid carries a resource before calling this.
func newContact(bare jid.JID, name string, sub Subscription, groups []string) *Contact {
	return &Contact{
		JID:          bare,
		Name:         name,
		Subscription: sub,
		Groups:       dedupGroups(groups),
	}
}

func dedupGroups(groups []string) []string {
	if len(groups) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// InGroup reports whether c belongs to group g.
func (c *Contact) InGroup(g string) bool {
	for _, have := range c.Groups {
		if have == g {
			return true
		}
	}
	return false
}

// addGroup adds g if not already present; reports whether it changed
// anything, so callers can short-circuit a no-op mutation per §4.1.
func (c *Contact) addGroup(g string) (changed bool) {
	if c.InGroup(g) {
		return false
	}
	c.Groups = append(c.Groups, g)
	return true
}

// removeGroup removes g if present, building the replacement slice
// functionally rather than mutating in place while scanning — the Go
// analogue of detaching a matched child before freeing it, called out in
// the source as a use-after-detach hazard to avoid.
func (c *Contact) removeGroup(g string) (changed bool) {
	if !c.InGroup(g) {
		return false
	}
	next := make([]string, 0, len(c.Groups))
	for _, have := range c.Groups {
		if have != g {
			next = append(next, have)
		}
	}
	c.Groups = next
	return true
}

// groupsEqual compares two group sets for set-equality, ignoring order and
// duplicates (of which there should never be any after dedupGroups).
func groupsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// Equal reports whether c and other have the same jid, name, subscription,
// and group set.
func (c *Contact) Equal(other *Contact) bool {
	if c == other {
		return true
	}
	if c == nil || other == nil {
		return false
	}
	return c.JID.Equal(other.JID) &&
		c.Name == other.Name &&
		c.Subscription == other.Subscription &&
		groupsEqual(c.Groups, other.Groups)
}

// Clone returns an independent copy of c, so a caller holding a long-lived
// reference (e.g. from GetAllContacts) is not surprised by a later push
// mutating it in place.
func (c *Contact) Clone() *Contact {
	if c == nil {
		return nil
	}
	groups := make([]string, len(c.Groups))
	copy(groups, c.Groups)
	return &Contact{JID: c.JID, Name: c.Name, Subscription: c.Subscription, Groups: groups}
}

// LogDebug formats c for debug logging, mirroring the source's debug-print
// helper for bare contacts.
func (c *Contact) LogDebug() string {
	return fmt.Sprintf("contact{jid=%s name=%q subscription=%s groups=[%s]}",
		c.JID, c.Name, c.Subscription, strings.Join(c.Groups, ","))
}
