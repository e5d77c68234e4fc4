// Package persist saves and restores participant state as an ordered list
// of named, typed fields, so that one generic codec serves every model.
package persist

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

// FieldType tags each record so a restore can reject a mismatched layout.
type FieldType string

const (
	FieldInt    FieldType = "int"
	FieldUint   FieldType = "uint"
	FieldFloat  FieldType = "float"
	FieldString FieldType = "string"
	FieldBool   FieldType = "bool"
	// FieldValue holds any YAML-encodable value, e.g. a list of schedule entries.
	FieldValue FieldType = "value"
)

type field struct {
	name string
	typ  FieldType
	ptr  any
}

// Schema binds field names to the variables that hold a participant's
// state. The order of declaration is the order of the saved document.
type Schema struct {
	fields []field
	names  map[string]struct{}
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{names: make(map[string]struct{})}
}

func (s *Schema) add(name string, typ FieldType, ptr any) *Schema {
	if _, dup := s.names[name]; dup {
		panic(fmt.Sprintf("persist: field %q declared twice", name))
	}
	if v := reflect.ValueOf(ptr); v.Kind() != reflect.Pointer || v.IsNil() {
		panic(fmt.Sprintf("persist: field %q needs a non-nil pointer, got %T", name, ptr))
	}
	s.names[name] = struct{}{}
	s.fields = append(s.fields, field{name: name, typ: typ, ptr: ptr})
	return s
}

// Int declares an int64 field.
func (s *Schema) Int(name string, p *int64) *Schema { return s.add(name, FieldInt, p) }

// Uint declares a uint64 field, the type of simulation timestamps.
func (s *Schema) Uint(name string, p *uint64) *Schema { return s.add(name, FieldUint, p) }

// Float declares a float64 field.
func (s *Schema) Float(name string, p *float64) *Schema { return s.add(name, FieldFloat, p) }

// String declares a string field.
func (s *Schema) String(name string, p *string) *Schema { return s.add(name, FieldString, p) }

// Bool declares a bool field.
func (s *Schema) Bool(name string, p *bool) *Schema { return s.add(name, FieldBool, p) }

// Value declares a field of any YAML-encodable type. ptr must be a non-nil pointer.
func (s *Schema) Value(name string, ptr any) *Schema { return s.add(name, FieldValue, ptr) }

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.name
	}
	return out
}

// Record is one saved field.
type Record struct {
	Name  string    `yaml:"name"`
	Type  FieldType `yaml:"type"`
	Value yaml.Node `yaml:"value"`
}

// Document is the saved state of one participant.
type Document struct {
	Participant string   `yaml:"participant"`
	Fields      []Record `yaml:"fields"`
}

// Encode snapshots the current values of every field.
func (s *Schema) Encode(participant string) (Document, error) {
	doc := Document{Participant: participant, Fields: make([]Record, len(s.fields))}
	for i, f := range s.fields {
		rec := Record{Name: f.name, Type: f.typ}
		if err := rec.Value.Encode(reflect.ValueOf(f.ptr).Elem().Interface()); err != nil {
			return Document{}, fmt.Errorf("encode field %q: %w", f.name, err)
		}
		doc.Fields[i] = rec
	}
	return doc, nil
}

// Decode restores every field from doc. The document must list exactly the
// schema's fields, in order and with matching types. Nothing is assigned
// unless every field decodes.
func (s *Schema) Decode(doc Document) error {
	if len(doc.Fields) != len(s.fields) {
		return fmt.Errorf("document has %d fields, schema has %d", len(doc.Fields), len(s.fields))
	}
	decoded := make([]reflect.Value, len(s.fields))
	for i, f := range s.fields {
		rec := doc.Fields[i]
		if rec.Name != f.name || rec.Type != f.typ {
			return fmt.Errorf("field %d: got %s %s, want %s %s", i, rec.Name, rec.Type, f.name, f.typ)
		}
		tmp := reflect.New(reflect.TypeOf(f.ptr).Elem())
		if err := rec.Value.Decode(tmp.Interface()); err != nil {
			return fmt.Errorf("decode field %q: %w", f.name, err)
		}
		decoded[i] = tmp.Elem()
	}
	for i, f := range s.fields {
		reflect.ValueOf(f.ptr).Elem().Set(decoded[i])
	}
	return nil
}
