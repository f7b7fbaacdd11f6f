package roster

// ResourceContact is an immutable handle to one specific connected
// endpoint of a bare Contact: a projection (bare_contact, resource). It
// shares no implementation with Contact — the source's base/derived pair
// (bare contact / resource contact) is reimplemented here as two distinct
// record types rather than a class hierarchy, since no polymorphism is
// required at this module's API boundary.
//
// The bare contact it refers to is expected to outlive any ResourceContact
// built from it; this module does not itself track resource presence
// (presence aggregation is out of scope) —
// ResourceContact exists so callers that do track presence elsewhere have
// a well-typed way to pair a resource string with the Contact record it
// belongs to.
type ResourceContact struct {
	Bare     *Contact
	Resource string
}

// NewResourceContact pairs a bare contact with one of its resources.
func NewResourceContact(bare *Contact, resource string) *ResourceContact {
	return &ResourceContact{Bare: bare, Resource: resource}
}

// Equal reports whether two resource contacts refer to the same bare
// contact (by value, via Contact.Equal) and the same resource string.
func (r *ResourceContact) Equal(other *ResourceContact) bool {
	if r == other {
		return true
	}
	if r == nil || other == nil {
		return false
	}
	return r.Resource == other.Resource && r.Bare.Equal(other.Bare)
}
