// Package stanza defines the minimal XML-like tree the rest of this module
// reads and writes. It is not a parser: callers are expected to build a
// Node from whatever XML library they already use (or decode one produced
// elsewhere), and this module only ever inspects the shape documented by
// its callers.
package stanza

// StanzaType enumerates the three top-level XMPP stanza kinds.
type StanzaType string

const (
	IQ       StanzaType = "iq"
	Message  StanzaType = "message"
	Presence StanzaType = "presence"
)

// IQType enumerates the four IQ subtypes.
type IQType string

const (
	Get    IQType = "get"
	Set    IQType = "set"
	Result IQType = "result"
	Error  IQType = "error"
)

// Node is a single element in an XML-like tree: a name, an optional
// namespace, attributes, ordered children, and text content. Namespace is
// kept separate from Name rather than folded into a Clark-notation string
// because every predicate in this module matches on (Name, Namespace)
// pairs independently.
type Node struct {
	Name       string
	Namespace  string
	Attrs      map[string]string
	Children   []*Node
	Text       string
}

// NewNode constructs a Node with an initialized attribute map.
func NewNode(name, namespace string) *Node {
	return &Node{Name: name, Namespace: namespace, Attrs: map[string]string{}}
}

// Attr returns the named attribute, or "" if absent.
func (n *Node) Attr(name string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// SetAttr sets an attribute, initializing the map if necessary. Setting an
// empty value removes the attribute, matching the common XMPP convention
// that empty optional attributes are omitted rather than emitted empty.
func (n *Node) SetAttr(name, value string) *Node {
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	if value == "" {
		delete(n.Attrs, name)
	} else {
		n.Attrs[name] = value
	}
	return n
}

// AddChild appends a child node and returns it for chaining.
func (n *Node) AddChild(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// Child returns the first child matching name and namespace. An empty
// namespace matches any namespace, which lets callers look for e.g. any
// "group" child regardless of inherited default namespace.
func (n *Node) Child(name, namespace string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name && (namespace == "" || c.Namespace == namespace) {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child matching name and namespace, in
// document order.
func (n *Node) ChildrenNamed(name, namespace string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name && (namespace == "" || c.Namespace == namespace) {
			out = append(out, c)
		}
	}
	return out
}

// IQNode is a stanza-level view over an <iq/> Node: its id/type/to/from
// attributes plus the single payload child that carries the query.
type IQNode struct {
	*Node
}

// NewIQ builds an empty <iq/> of the given type.
func NewIQ(typ IQType) *IQNode {
	n := NewNode("iq", "")
	n.SetAttr("type", string(typ))
	return &IQNode{Node: n}
}

func (iq *IQNode) ID() string        { return iq.Attr("id") }
func (iq *IQNode) Type() IQType      { return IQType(iq.Attr("type")) }
func (iq *IQNode) From() string      { return iq.Attr("from") }
func (iq *IQNode) To() string        { return iq.Attr("to") }
func (iq *IQNode) SetID(id string)   { iq.SetAttr("id", id) }
func (iq *IQNode) SetFrom(v string)  { iq.SetAttr("from", v) }
func (iq *IQNode) SetTo(v string)    { iq.SetAttr("to", v) }

// ResultFor builds the empty-body IQ result for a received get/set,
// swapping from/to and preserving the id, per RFC 6120 §8.2.3.
func ResultFor(req *IQNode) *IQNode {
	res := NewIQ(Result)
	res.SetID(req.ID())
	res.SetTo(req.From())
	res.SetFrom(req.To())
	return res
}

// ErrorFor builds an IQ error reply for a received get/set, wrapping the
// supplied error element as the error child (caller-constructed, since the
// precise condition element depends on the failure).
func ErrorFor(req *IQNode, errEl *Node) *IQNode {
	res := NewIQ(Error)
	res.SetID(req.ID())
	res.SetTo(req.From())
	res.SetFrom(req.To())
	res.AddChild(errEl)
	return res
}
