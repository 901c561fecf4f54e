package ir

import "golang.org/x/text/cases"

// Operational and structural attribute names.
const (
	AttrUSNChanged  = "uSNChanged"
	AttrUSNCreated  = "uSNCreated"
	AttrObjectGUID  = "objectGUID"
	AttrObjectClass = "objectClass"
	AttrIsDeleted   = "isDeleted"
	AttrLastKnownDN = "lastKnownDn"
	AttrEntryDN     = "entryDN"
)

// DefaultDeletedObjectsRDN is the RDN of the well-known deleted-objects container.
const DefaultDeletedObjectsRDN = "cn=Deleted Objects"

// Fold returns the caseless form of s used for attribute name and DN comparison.
// A new Caser is created per call because cases.Caser is not safe for concurrent use.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// SameAttr reports whether two attribute names refer to the same attribute.
func SameAttr(a, b string) bool {
	if a == b {
		return true
	}
	return Fold(a) == Fold(b)
}

func (e *Entry) index(name string) int {
	for i := range e.Attrs {
		if SameAttr(e.Attrs[i].Name, name) {
			return i
		}
	}
	return -1
}

// Get returns the attribute named name.
func (e *Entry) Get(name string) (Attribute, bool) {
	i := e.index(name)
	if i < 0 {
		return Attribute{}, false
	}
	return e.Attrs[i], true
}

// Has reports whether the entry carries an attribute named name.
func (e *Entry) Has(name string) bool {
	return e.index(name) >= 0
}

// First returns the first value of name, or "" when absent.
func (e *Entry) First(name string) string {
	a, ok := e.Get(name)
	if !ok || len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

// Remove detaches the attribute named name and returns it.
func (e *Entry) Remove(name string) (Attribute, bool) {
	i := e.index(name)
	if i < 0 {
		return Attribute{}, false
	}
	a := e.Attrs[i]
	e.Attrs = append(e.Attrs[:i], e.Attrs[i+1:]...)
	return a, true
}

// Put stores a, replacing any attribute with the same name.
func (e *Entry) Put(a Attribute) {
	if i := e.index(a.Name); i >= 0 {
		e.Attrs[i] = a
		return
	}
	e.Attrs = append(e.Attrs, a)
}

// AddValue appends value to the attribute named name, creating it when absent.
// A value already present is not duplicated.
func (e *Entry) AddValue(name, value string) {
	i := e.index(name)
	if i < 0 {
		e.Attrs = append(e.Attrs, Attribute{Name: name, Values: []string{value}})
		return
	}
	for _, v := range e.Attrs[i].Values {
		if v == value {
			return
		}
	}
	e.Attrs[i].Values = append(e.Attrs[i].Values, value)
}

// RemoveValue removes value from the attribute named name. An attribute left
// without values is dropped from the entry. Reports whether value was present.
func (e *Entry) RemoveValue(name, value string) bool {
	i := e.index(name)
	if i < 0 {
		return false
	}
	vals := e.Attrs[i].Values
	for j, v := range vals {
		if v != value {
			continue
		}
		e.Attrs[i].Values = append(vals[:j], vals[j+1:]...)
		if len(e.Attrs[i].Values) == 0 {
			e.Attrs = append(e.Attrs[:i], e.Attrs[i+1:]...)
		}
		return true
	}
	return false
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	c := Entry{DN: e.DN}
	if e.Attrs != nil {
		c.Attrs = make([]Attribute, len(e.Attrs))
		for i, a := range e.Attrs {
			c.Attrs[i] = a.Clone()
		}
	}
	return c
}
