// Package schema holds the in-memory registry of schema field shapes that
// publish validation and the dependency worker consult. Schemas themselves
// are consumed as data (spec.md's Non-goals exclude schema language design);
// this package only validates operation fields against whatever shape was
// registered, the way the teacher's validation package checks issue fields
// against configured custom statuses/types rather than owning a type system.
package schema

import (
	"fmt"
	"sync"

	"github.com/weftdb/weft/internal/wid"
)

// FieldKind enumerates the operation field value kinds spec.md §3 defines.
type FieldKind string

const (
	FieldBool               FieldKind = "bool"
	FieldInt                FieldKind = "int"
	FieldFloat              FieldKind = "float"
	FieldString             FieldKind = "string"
	FieldBytes              FieldKind = "bytes"
	FieldRelation           FieldKind = "relation"
	FieldPinnedRelation     FieldKind = "pinned_relation"
	FieldRelationList       FieldKind = "relation_list"
	FieldPinnedRelationList FieldKind = "pinned_relation_list"
)

// FieldSpec describes one field of a schema.
type FieldSpec struct {
	Name string
	Kind FieldKind
	// TargetSchemaID names the schema relation/pinned-relation fields must
	// point to. Empty for scalar kinds.
	TargetSchemaID wid.SchemaId
}

// Schema is the field shape application code and the blob system schemas
// are validated against.
type Schema struct {
	ID     wid.SchemaId
	Fields []FieldSpec
}

// Field looks up a field spec by name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Registry is a concurrency-safe schema store. The node owns one Registry
// instance, passed explicitly to workers (Design Notes: "no global
// singletons").
type Registry struct {
	mu      sync.RWMutex
	schemas map[wid.SchemaId]*Schema
}

// NewRegistry returns a Registry pre-populated with the four system schemas
// spec.md §3/§4.6 require: blob_v1, blob_piece_v1, schema_v1, schema_field_v1.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[wid.SchemaId]*Schema)}
	r.Register(&Schema{
		ID: wid.SchemaBlobV1,
		Fields: []FieldSpec{
			{Name: "length", Kind: FieldInt},
			{Name: "mime_type", Kind: FieldString},
			{Name: "pieces", Kind: FieldPinnedRelationList, TargetSchemaID: wid.SchemaBlobPieceV1},
		},
	})
	r.Register(&Schema{
		ID: wid.SchemaBlobPieceV1,
		Fields: []FieldSpec{
			{Name: "data", Kind: FieldString},
		},
	})
	r.Register(&Schema{
		ID: wid.SchemaSchemaV1,
		Fields: []FieldSpec{
			{Name: "name", Kind: FieldString},
			{Name: "description", Kind: FieldString},
			{Name: "fields", Kind: FieldRelationList, TargetSchemaID: wid.SchemaFieldV1},
		},
	})
	r.Register(&Schema{
		ID: wid.SchemaFieldV1,
		Fields: []FieldSpec{
			{Name: "name", Kind: FieldString},
			{Name: "type", Kind: FieldString},
		},
	})
	return r
}

// Register adds or replaces a schema.
func (r *Registry) Register(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.ID] = s
}

// Get looks up a schema by id.
func (r *Registry) Get(id wid.SchemaId) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	return s, ok
}

// MustGet looks up a schema, returning an error instead of a bool for
// call sites that want to propagate SchemaNotFound directly.
func (r *Registry) MustGet(id wid.SchemaId) (*Schema, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("schema not found: %s", id)
	}
	return s, nil
}
