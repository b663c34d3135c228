// Package inspect exposes a type's public properties for inter-service
// communication. Go has no runtime property descriptors, so each type
// declares an explicit table of named accessors (getter plus optional setter)
// instead of being reflected over. Classification as read-only or read-write
// derives from the presence of a setter and never invokes the getter.
//
// The package also provides best-effort conversion of arbitrary value trees
// into wire-safe JSON structures (WireSafe) and deep structural equality over
// exported fields (Equivalent).
package inspect

import (
	"strings"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/propname"
)

// Classification of a property derived from its descriptor.
type Classification int

const (
	// ReadOnly properties have no setter.
	ReadOnly Classification = iota
	// ReadWrite properties have a setter.
	ReadWrite
)

// String returns the category key for the classification.
func (c Classification) String() string {
	if c == ReadWrite {
		return propname.ReadWrite
	}
	return propname.ReadOnly
}

// Accessor is the descriptor for one exposed property. Get must be non-nil;
// a nil Set marks the property read-only.
type Accessor struct {
	Get func() any
	Set func(value any) error
}

// PropertySet is an ordered property-descriptor table for one instance.
// It replaces attribute reflection: a type registers each public property
// once and the table is looked up by name at request time.
type PropertySet struct {
	owner     string
	names     []string
	accessors map[string]Accessor
}

// NewPropertySet creates an empty descriptor table. The owner is the short
// lowercase name of the declaring type, used as the default routing tag.
func NewPropertySet(owner string) *PropertySet {
	return &PropertySet{
		owner:     strings.ToLower(owner),
		accessors: make(map[string]Accessor),
	}
}

// Owner returns the default routing tag for the table.
func (ps *PropertySet) Owner() string {
	return ps.owner
}

// Add registers a property descriptor. Names prefixed with an underscore are
// private by convention and rejected, as are empty names, duplicate names and
// descriptors without a getter.
func (ps *PropertySet) Add(name string, acc Accessor) error {
	if name == "" || strings.HasPrefix(name, "_") {
		return errors.WrapInvalid(errors.ErrInvalidInput, "PropertySet", "Add", "invalid name "+name)
	}
	if acc.Get == nil {
		return errors.WrapInvalid(errors.ErrInvalidInput, "PropertySet", "Add", "missing getter for "+name)
	}
	if _, exists := ps.accessors[name]; exists {
		return errors.WrapInvalid(errors.ErrInvalidInput, "PropertySet", "Add", "duplicate property "+name)
	}
	ps.names = append(ps.names, name)
	ps.accessors[name] = acc
	return nil
}

// MustAdd registers a descriptor and panics on error. Intended for static
// table construction in a type's constructor, where a failure is a
// programming error.
func (ps *PropertySet) MustAdd(name string, acc Accessor) {
	if err := ps.Add(name, acc); err != nil {
		panic(err)
	}
}

// List returns every exposed property name: registered, not ALL_CAPS (those
// are constants) and not in the ignore list. Order is registration order.
func (ps *PropertySet) List(ignore ...string) []string {
	var listed []string
	for _, name := range ps.names {
		if propname.IsConstantCase(name) || contains(ignore, name) {
			continue
		}
		listed = append(listed, name)
	}
	return listed
}

// Has reports whether a property is registered, without invoking its getter.
func (ps *PropertySet) Has(name string) bool {
	_, ok := ps.accessors[name]
	return ok
}

// Classify returns the classification of a property without invoking its
// getter.
func (ps *PropertySet) Classify(name string) (Classification, error) {
	acc, ok := ps.accessors[name]
	if !ok {
		return ReadOnly, errors.WrapInvalid(errors.ErrUnknownProperty, "PropertySet", "Classify", name)
	}
	if acc.Set != nil {
		return ReadWrite, nil
	}
	return ReadOnly, nil
}

// Get returns the current value of a property.
func (ps *PropertySet) Get(name string) (any, error) {
	acc, ok := ps.accessors[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownProperty, "PropertySet", "Get", name)
	}
	return acc.Get(), nil
}

// Set assigns a value through a property's setter.
func (ps *PropertySet) Set(name string, value any) error {
	acc, ok := ps.accessors[name]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownProperty, "PropertySet", "Set", name)
	}
	if acc.Set == nil {
		return errors.WrapInvalid(errors.ErrReadOnlyProperty, "PropertySet", "Set", name)
	}
	return acc.Set(value)
}

// Values returns the current value of every listed property.
func (ps *PropertySet) Values(ignore ...string) map[string]any {
	values := make(map[string]any)
	for _, name := range ps.List(ignore...) {
		values[name] = ps.accessors[name].Get()
	}
	return values
}

// TagOptions controls how a property table is rendered for the wire.
type TagOptions struct {
	// Tag is the explicit routing prefix. Empty with AutoTag set derives the
	// tag from the table owner.
	Tag string
	// AutoTag derives the tag from the owner when Tag is empty.
	AutoTag bool
	// WireCase renders names in camelCase.
	WireCase bool
	// Ignore lists property names to leave out.
	Ignore []string
}

func (o TagOptions) effectiveTag(ps *PropertySet) string {
	if o.Tag == "" && o.AutoTag {
		return ps.Owner()
	}
	return o.Tag
}

// TaggedNames renders the exposed properties as a flat list of (optionally
// tagged, optionally wire-cased) names.
func TaggedNames(ps *PropertySet, opts TagOptions) ([]string, error) {
	tag := opts.effectiveTag(ps)
	var names []string
	for _, name := range ps.List(opts.Ignore...) {
		tagged, err := propname.Tag(name, tag, opts.WireCase)
		if err != nil {
			return nil, err
		}
		names = append(names, tagged)
	}
	return names, nil
}

// TaggedByClass renders the exposed properties grouped by classification.
// Keys are read_only/read_write (wire-cased when WireCase is set) and a key
// is omitted when no property falls in its class.
func TaggedByClass(ps *PropertySet, opts TagOptions) (map[string][]string, error) {
	tag := opts.effectiveTag(ps)
	roKey, rwKey := propname.ReadOnly, propname.ReadWrite
	if opts.WireCase {
		roKey, rwKey = propname.ReadOnlyWire, propname.ReadWriteWire
	}
	grouped := make(map[string][]string)
	for _, name := range ps.List(opts.Ignore...) {
		tagged, err := propname.Tag(name, tag, opts.WireCase)
		if err != nil {
			return nil, err
		}
		class, err := ps.Classify(name)
		if err != nil {
			return nil, err
		}
		key := roKey
		if class == ReadWrite {
			key = rwKey
		}
		grouped[key] = append(grouped[key], tagged)
	}
	return grouped, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
