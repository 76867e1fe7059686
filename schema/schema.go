// Package schema describes the typed field layouts of shared states and
// coerces loosely typed values (OSC arguments, JSON text) into them.
package schema

import (
	"sort"

	"github.com/pkg/errors"
)

// Type is the declared type of a field.
type Type string

// Field types.
const (
	TypeFloat   Type = "float"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeString  Type = "string"
	TypeEnum    Type = "enum"
	TypeAny     Type = "any"
)

// Known reports whether t is one of the declared field types.
func (t Type) Known() bool {
	switch t {
	case TypeFloat, TypeInteger, TypeBoolean, TypeString, TypeEnum, TypeAny:
		return true
	}
	return false
}

// Field describes a single field of a schema.
type Field struct {
	Type     Type  `json:"type" yaml:"type"`
	Default  any   `json:"default" yaml:"default"`
	Nullable bool  `json:"nullable,omitempty" yaml:"nullable"`
	List     []any `json:"list,omitempty" yaml:"list"`
}

// Schema maps field names to their descriptors.
type Schema map[string]Field

// Errors returned by schema validation and value coercion.
var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidValue = errors.New("invalid value")
	ErrInvalidField = errors.New("invalid field definition")
)

// Fields returns the field names of s in lexical order.
func (s Schema) Fields() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the descriptor of the named field, or nil.
func (s Schema) Lookup(name string) *Field {
	f, ok := s[name]
	if !ok {
		return nil
	}
	return &f
}

// Validate checks every field definition of s.
// A default must itself be a valid value for its field.
func (s Schema) Validate() error {
	for _, name := range s.Fields() {
		f := s[name]
		if !f.Type.Known() {
			return errors.Wrapf(ErrInvalidField, "field %q has unknown type %q", name, f.Type)
		}
		if f.Type == TypeEnum && len(f.List) == 0 {
			return errors.Wrapf(ErrInvalidField, "enum field %q has an empty list", name)
		}
		if f.Default == nil {
			if !f.Nullable && f.Type != TypeAny {
				return errors.Wrapf(ErrInvalidField, "field %q has no default and is not nullable", name)
			}
			continue
		}
		if _, err := Coerce(name, f.Default, &f); err != nil {
			return errors.Wrapf(ErrInvalidField, "default of field %q: %v", name, err)
		}
	}
	return nil
}

// Defaults returns the initial values of a state of schema s.
func (s Schema) Defaults() map[string]any {
	values := make(map[string]any, len(s))
	for name, f := range s {
		if f.Default == nil {
			values[name] = nil
			continue
		}
		v, err := Coerce(name, f.Default, &f)
		if err != nil {
			v = f.Default
		}
		values[name] = v
	}
	return values
}

// CoerceUpdates coerces every value of updates against s.
// Fields that fail coercion are left out of the result and reported,
// one error per dropped field, in lexical field order.
func (s Schema) CoerceUpdates(updates map[string]any) (map[string]any, []error) {
	var (
		keys    = make([]string, 0, len(updates))
		coerced = make(map[string]any, len(updates))
		dropped []error
	)
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v, err := Coerce(key, updates[key], s.Lookup(key))
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		coerced[key] = v
	}
	return coerced, dropped
}
