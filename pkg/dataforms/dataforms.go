// Package dataforms implements a typed, round-trippable codec for XEP-0004
// Data Forms embedded in XMPP stanzas. It is a pure codec: Parse, Submit,
// and ParseResult never touch a Porter or any network state, mirroring the
// source's own data-forms object, which is a plain value type attached to
// whatever stanza carries it.
package dataforms

import (
	"errors"

	"github.com/meszmate/xmppcore/pkg/stanza"
)

// NS is the jabber:x:data namespace.
const NS = "jabber:x:data"

// Errors returned by Parse and ParseResult.
var (
	// ErrNotForm is returned when the subtree has no <x/> child in NS.
	ErrNotForm = errors.New("dataforms: no form element found")
	// ErrWrongType is returned when the <x/> element's type attribute is
	// not the one the caller expects: "form" for Parse, "result" for
	// ParseResult.
	ErrWrongType = errors.New("dataforms: x element has the wrong type")
)

// FieldType enumerates the field types defined by XEP-0004 §3.3.
type FieldType string

const (
	Boolean     FieldType = "boolean"
	Fixed       FieldType = "fixed"
	Hidden      FieldType = "hidden"
	JIDMulti    FieldType = "jid-multi"
	JIDSingle   FieldType = "jid-single"
	ListMulti   FieldType = "list-multi"
	ListSingle  FieldType = "list-single"
	TextMulti   FieldType = "text-multi"
	TextPrivate FieldType = "text-private"
	TextSingle  FieldType = "text-single"
)

func validFieldType(t FieldType) bool {
	switch t {
	case Boolean, Fixed, Hidden, JIDMulti, JIDSingle, ListMulti, ListSingle, TextMulti, TextPrivate, TextSingle:
		return true
	}
	return false
}

// multiValued reports whether t carries an ordered list of strings rather
// than a single scalar.
func multiValued(t FieldType) bool {
	switch t {
	case JIDMulti, TextMulti, ListMulti:
		return true
	}
	return false
}

// Value is a tagged-union value carried by a field: exactly one of Bool,
// Str, or List is meaningful, determined by the owning Field's Type. This
// mirrors the source's dynamically-typed GValue slot, made explicit as a
// Go sum type instead of a runtime-checked variant.
type Value struct {
	set  bool
	bool bool
	str  string
	list []string
}

// BoolValue constructs a boolean Value.
func BoolValue(b bool) Value { return Value{set: true, bool: b} }

// StringValue constructs a single-string Value.
func StringValue(s string) Value { return Value{set: true, str: s} }

// ListValue constructs an ordered multi-value Value.
func ListValue(items []string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{set: true, list: cp}
}

// IsSet reports whether the value carries any content (vs. an absent
// default/filled value).
func (v Value) IsSet() bool { return v.set }

// Bool returns the boolean payload; only meaningful for Boolean fields.
func (v Value) Bool() bool { return v.bool }

// Str returns the scalar string payload; only meaningful for single-valued
// non-boolean fields.
func (v Value) Str() string { return v.str }

// List returns the ordered string payload; only meaningful for multi-
// valued fields.
func (v Value) List() []string { return v.list }

// Option is one entry of a list-single/list-multi field's option set.
type Option struct {
	Label string
	Value string
}

// Field is a single field descriptor within a Form.
type Field struct {
	Type     FieldType
	Var      string
	Label    string
	Desc     string
	Required bool
	Default  Value
	Value    Value
	Options  []Option
}

// Form is a parsed XEP-0004 form, submission, or result.
type Form struct {
	Title        string
	Instructions string
	Fields       []*Field
	byVar        map[string]*Field
	Results      [][]*Field
}

// FieldByVar returns the field with the given var, or nil.
func (f *Form) FieldByVar(v string) *Field {
	if f.byVar == nil {
		return nil
	}
	return f.byVar[v]
}

func (f *Form) index() {
	f.byVar = make(map[string]*Field, len(f.Fields))
	for _, fl := range f.Fields {
		if fl.Var != "" {
			f.byVar[fl.Var] = fl
		}
	}
}

// Parse locates a <x xmlns='jabber:x:data' type='form'/> child of root and
// decodes it into a Form. Fields with an unrecognized or missing type, or
// a missing var (for non-fixed types), are skipped; list-* fields with no
// usable options are dropped entirely, per XEP-0004 §3.3's requirement
// that a selection field always have something to select from.
func Parse(root *stanza.Node) (*Form, error) {
	x := root.Child("x", NS)
	if x == nil {
		return nil, ErrNotForm
	}
	if x.Attr("type") != "form" {
		return nil, ErrWrongType
	}

	form := &Form{}
	if title := x.Child("title", ""); title != nil {
		form.Title = title.Text
	}
	if instr := x.Child("instructions", ""); instr != nil {
		form.Instructions = instr.Text
	}

	for _, fieldNode := range x.ChildrenNamed("field", "") {
		field := decodeFieldDefinition(fieldNode)
		if field == nil {
			continue
		}
		form.Fields = append(form.Fields, field)
	}
	form.index()
	return form, nil
}

func decodeFieldDefinition(n *stanza.Node) *Field {
	typeAttr := FieldType(n.Attr("type"))
	if !validFieldType(typeAttr) {
		return nil
	}

	varAttr := n.Attr("var")
	if varAttr == "" && typeAttr != Fixed {
		return nil
	}

	field := &Field{
		Type:  typeAttr,
		Var:   varAttr,
		Label: n.Attr("label"),
	}
	if desc := n.Child("desc", ""); desc != nil {
		field.Desc = desc.Text
	}
	if n.Child("required", "") != nil {
		field.Required = true
	}

	if typeAttr == ListSingle || typeAttr == ListMulti {
		for _, opt := range n.ChildrenNamed("option", "") {
			valueNode := opt.Child("value", "")
			if valueNode == nil {
				continue
			}
			field.Options = append(field.Options, Option{Label: opt.Attr("label"), Value: valueNode.Text})
		}
		if len(field.Options) == 0 {
			return nil
		}
	}

	field.Default = decodeValue(n, typeAttr)
	return field
}

// decodeValue reads <value/> children of n according to the per-type rules
// of §4.2.
func decodeValue(n *stanza.Node, t FieldType) Value {
	values := n.ChildrenNamed("value", "")

	if t == Boolean {
		if len(values) == 0 {
			return Value{}
		}
		switch values[0].Text {
		case "true", "1":
			return BoolValue(true)
		case "false", "0":
			return BoolValue(false)
		default:
			return Value{}
		}
	}

	if multiValued(t) {
		list := make([]string, 0, len(values))
		for _, v := range values {
			list = append(list, v.Text)
		}
		return ListValue(list)
	}

	if len(values) == 0 {
		return Value{}
	}
	return StringValue(values[0].Text)
}

// Submit serializes a filled-in form back into a <x type='submit'/>
// subtree, in the field order established at parse time. A field whose
// Value is unset is skipped unless it is Hidden, in which case its
// Default is emitted verbatim — hidden fields are never user-modifiable,
// so Default is the only value they ever carry.
func Submit(form *Form) *stanza.Node {
	x := stanza.NewNode("x", NS)
	x.SetAttr("type", "submit")

	for _, field := range form.Fields {
		value := field.Value
		if field.Type == Hidden {
			value = field.Default
		}
		if !value.IsSet() && field.Type != Hidden {
			continue
		}

		fn := stanza.NewNode("field", "")
		fn.SetAttr("var", field.Var)
		fn.SetAttr("type", string(field.Type))
		x.AddChild(fn)

		addFieldValue(fn, field.Type, value)
	}
	return x
}

func addFieldValue(fn *stanza.Node, t FieldType, v Value) {
	switch {
	case t == Boolean:
		text := "0"
		if v.Bool() {
			text = "1"
		}
		fn.AddChild(textValueNode(text))
	case multiValued(t):
		for _, item := range v.List() {
			fn.AddChild(textValueNode(item))
		}
	default:
		if v.IsSet() {
			fn.AddChild(textValueNode(v.Str()))
		}
	}
}

func textValueNode(text string) *stanza.Node {
	n := stanza.NewNode("value", "")
	n.Text = text
	return n
}

// column is a reported-header descriptor: a var plus its declared type,
// used to interpret item field values by position-independent lookup.
type column struct {
	typ FieldType
}

// ParseResult locates a <x xmlns='jabber:x:data' type='result'/> child of
// root and decodes it into rows of fields, in presentation order. Two
// shapes are supported per XEP-0004 §3.4: a tabular shape with a
// <reported/> column-header, or a bare shape where all top-level <field/>
// children together form one single result row.
func ParseResult(root *stanza.Node) (*Form, error) {
	x := root.Child("x", NS)
	if x == nil {
		return nil, ErrNotForm
	}
	if x.Attr("type") != "result" {
		return nil, ErrWrongType
	}

	form := &Form{}
	reported := x.Child("reported", "")
	if reported == nil {
		form.Results = parseUniqueResult(x)
		return form, nil
	}

	columns := map[string]column{}
	for _, fn := range reported.ChildrenNamed("field", "") {
		v := fn.Attr("var")
		if v == "" {
			continue
		}
		columns[v] = column{typ: FieldType(fn.Attr("type"))}
	}

	for _, item := range x.ChildrenNamed("item", "") {
		var row []*Field
		for _, fn := range item.ChildrenNamed("field", "") {
			v := fn.Attr("var")
			col, ok := columns[v]
			if !ok {
				continue
			}
			value := decodeValue(fn, col.typ)
			if !value.IsSet() {
				continue
			}
			row = append(row, &Field{Type: col.typ, Var: v, Value: value})
		}
		form.Results = append(form.Results, row)
	}
	return form, nil
}

// parseUniqueResult handles the no-<reported/> shape: there is no column
// header, so there can only be one result, and every field child of x
// belongs to that single row.
func parseUniqueResult(x *stanza.Node) [][]*Field {
	var row []*Field
	for _, fn := range x.ChildrenNamed("field", "") {
		t := FieldType(fn.Attr("type"))
		value := decodeValue(fn, t)
		if !value.IsSet() {
			continue
		}
		row = append(row, &Field{Type: t, Var: fn.Attr("var"), Value: value})
	}
	if row == nil {
		return nil
	}
	return [][]*Field{row}
}
