// Package schema answers the one schema question replication needs: which
// attributes are mandatory for an entry's object classes.
//
// Object classes form a single-inheritance chain through Sup. The mandatory
// set of an entry is the union of Must over every listed class and all of its
// superclasses. Definitions come from the built-in Default registry and may be
// extended from a YAML or CUE file (see LoadFile).
package schema

import (
	"errors"
	"fmt"

	"github.com/roach88/dirrepl/internal/ir"
)

// ErrUnknownObjectClass is returned when an entry names a class the registry
// does not define.
var ErrUnknownObjectClass = errors.New("unknown object class")

// Schema reports the mandatory attributes for a set of object classes.
type Schema interface {
	MustAttributes(objectClasses []string) ([]string, error)
}

// ObjectClass is one object class definition.
type ObjectClass struct {
	Name string   `json:"name" yaml:"name"`
	Sup  string   `json:"sup,omitempty" yaml:"sup,omitempty"`
	Must []string `json:"must,omitempty" yaml:"must,omitempty"`
	May  []string `json:"may,omitempty" yaml:"may,omitempty"`
}

// Registry is an in-memory set of object classes keyed caselessly by name.
type Registry struct {
	classes map[string]ObjectClass
}

// NewRegistry builds a registry and validates superclass references.
func NewRegistry(classes ...ObjectClass) (*Registry, error) {
	r := &Registry{classes: make(map[string]ObjectClass, len(classes))}
	for _, oc := range classes {
		if oc.Name == "" {
			return nil, fmt.Errorf("object class with empty name")
		}
		r.classes[ir.Fold(oc.Name)] = oc
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Merge returns a new registry holding r's classes overlaid with classes.
// A class in classes replaces a same-named class in r.
func (r *Registry) Merge(classes ...ObjectClass) (*Registry, error) {
	all := make([]ObjectClass, 0, len(r.classes)+len(classes))
	for _, oc := range r.classes {
		all = append(all, oc)
	}
	all = append(all, classes...)
	return NewRegistry(all...)
}

// Lookup returns the class named name.
func (r *Registry) Lookup(name string) (ObjectClass, bool) {
	oc, ok := r.classes[ir.Fold(name)]
	return oc, ok
}

// Len returns the number of classes in the registry.
func (r *Registry) Len() int {
	return len(r.classes)
}

// MustAttributes returns the mandatory attributes of objectClasses and their
// superclasses, deduplicated caselessly, in first-seen order.
func (r *Registry) MustAttributes(objectClasses []string) ([]string, error) {
	var must []string
	seen := make(map[string]bool)
	for _, name := range objectClasses {
		for cur := name; cur != ""; {
			oc, ok := r.Lookup(cur)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownObjectClass, cur)
			}
			for _, attr := range oc.Must {
				key := ir.Fold(attr)
				if !seen[key] {
					seen[key] = true
					must = append(must, attr)
				}
			}
			cur = oc.Sup
		}
	}
	return must, nil
}

// validate checks that every Sup exists and that no chain loops.
func (r *Registry) validate() error {
	for key, oc := range r.classes {
		visited := map[string]bool{key: true}
		for sup := oc.Sup; sup != ""; {
			next, ok := r.Lookup(sup)
			if !ok {
				return fmt.Errorf("object class %q: superclass %q: %w", oc.Name, sup, ErrUnknownObjectClass)
			}
			k := ir.Fold(next.Name)
			if visited[k] {
				return fmt.Errorf("object class %q: superclass cycle through %q", oc.Name, next.Name)
			}
			visited[k] = true
			sup = next.Sup
		}
	}
	return nil
}

// Default returns the built-in directory classes.
func Default() *Registry {
	r, err := NewRegistry(defaultClasses...)
	if err != nil {
		panic(fmt.Sprintf("schema: invalid default classes: %v", err))
	}
	return r
}

var defaultClasses = []ObjectClass{
	{Name: "top", Must: []string{ir.AttrObjectClass}},
	{Name: "person", Sup: "top", Must: []string{"cn", "sn"}, May: []string{"telephoneNumber", "description", "userPassword"}},
	{Name: "organizationalPerson", Sup: "person", May: []string{"title", "ou", "street", "postalCode"}},
	{Name: "inetOrgPerson", Sup: "organizationalPerson", May: []string{"mail", "uid", "givenName", "displayName"}},
	{Name: "user", Sup: "organizationalPerson", May: []string{"sAMAccountName", "userPrincipalName", "memberOf"}},
	{Name: "computer", Sup: "user", May: []string{"dNSHostName"}},
	{Name: "group", Sup: "top", Must: []string{"cn"}, May: []string{"member", "groupType", "description"}},
	{Name: "groupOfNames", Sup: "top", Must: []string{"cn", "member"}, May: []string{"description", "owner"}},
	{Name: "container", Sup: "top", Must: []string{"cn"}},
	{Name: "organizationalUnit", Sup: "top", Must: []string{"ou"}, May: []string{"description"}},
	{Name: "domain", Sup: "top", Must: []string{"dc"}},
	{Name: "dcObject", Sup: "top", Must: []string{"dc"}},
}
