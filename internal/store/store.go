// Package store defines the transactional persistence interface for
// entries, operations, logs, documents, and document views (spec.md §4.1,
// §6). Concrete backends live in subpackages (sqlite, memdb), following the
// shape of the teacher's internal/storage: a narrow interface plus
// interchangeable implementations registered behind it.
package store

import (
	"context"

	"github.com/weftdb/weft/internal/wid"
)

// DecodedEntry is the structured form of an EncodedEntry (spec.md §3).
type DecodedEntry struct {
	PublicKey     wid.PublicKey
	LogId         wid.LogId
	SeqNum        wid.SeqNum
	BacklinkHash  wid.Hash // empty if seq_num == 1
	SkiplinkHash  wid.Hash // empty unless required
	PayloadHash   wid.Hash
	PayloadSize   uint64
	Signature     []byte
}

// Entry pairs a decoded entry with its opaque encoded bytes and hash, as
// persisted by the store.
type Entry struct {
	Hash          wid.Hash
	Decoded       DecodedEntry
	EncodedEntry  []byte
	EncodedOp     []byte // nil if the entry's operation payload was not retained
}

// Log records one author's single append-only log for one document.
type Log struct {
	PublicKey  wid.PublicKey
	LogId      wid.LogId
	DocumentId wid.DocumentId
	SchemaId   wid.SchemaId
}

// Action mirrors the operation action tag (spec.md §3).
type Action int

const (
	ActionCreate Action = 0
	ActionUpdate Action = 1
	ActionDelete Action = 2
)

// FieldValueKind tags the dynamic shape of a FieldValue (spec.md Design Notes).
type FieldValueKind int

const (
	ValueBool FieldValueKind = iota
	ValueInt
	ValueFloat
	ValueString
	ValueBytes
	ValueRelation
	ValuePinnedRelation
	ValueRelationList
	ValuePinnedRelationList
)

// FieldValue is a tagged operation field value. List kinds populate List;
// scalar/relation kinds populate the matching scalar field.
type FieldValue struct {
	Kind FieldValueKind

	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Bytes   []byte
	Rel     wid.DocumentId
	Pinned  wid.DocumentViewId

	// List holds per-element values for RelationList/PinnedRelationList.
	// A nil (not empty-non-nil) List together with a List kind represents
	// the operation's own list value; an empty non-nil slice is the
	// "empty list" case persisted as a single null-value row (spec.md §3).
	List []FieldValue
}

// OperationFields maps field name to value, as decoded from an operation's
// CBOR payload or reconstructed from operation_fields_v1 rows.
type OperationFields map[string]FieldValue

// Operation is one CREATE/UPDATE/DELETE applied to a document.
type Operation struct {
	ID          wid.OperationId
	PublicKey   wid.PublicKey
	DocumentId  wid.DocumentId
	Action      Action
	SchemaId    wid.SchemaId
	Previous    wid.DocumentViewId // empty for CREATE
	Fields      OperationFields    // nil for DELETE
	SortedIndex *int               // set once materialized (reduce worker)
}

// Document is the current materialized state of one document.
type Document struct {
	ID        wid.DocumentId
	ViewId    wid.DocumentViewId // zero value if IsDeleted
	SchemaId  wid.SchemaId
	IsDeleted bool
}

// DocumentView is one materialized snapshot: for each field name, the
// operation that contributed its winning value and the value itself.
type DocumentView struct {
	ViewId   wid.DocumentViewId
	SchemaId wid.SchemaId
	Fields   map[string]ViewField
}

// ViewField is one field slot of a materialized view.
type ViewField struct {
	OperationId wid.OperationId
	Value       FieldValue
}

// LogHeight is one (log_id, max seq_num) pair as used by replication (§4.9).
type LogHeight struct {
	LogId  wid.LogId
	SeqNum wid.SeqNum
}

// AuthorLogHeights groups LogHeights by author, as returned by
// GetDocumentLogHeights and consumed by the diff_log_heights strategy.
type AuthorLogHeights struct {
	PublicKey wid.PublicKey
	Logs      []LogHeight
}

// Store is the transactional persistence contract spec.md §4.1 requires.
// All multi-row writes run in one transaction with rollback on any error.
type Store interface {
	// Entries / logs

	InsertEntry(ctx context.Context, entry *Entry, op *Operation) error
	GetEntry(ctx context.Context, hash wid.Hash) (*Entry, error)
	GetEntryAtSeqNum(ctx context.Context, pk wid.PublicKey, logID wid.LogId, seq wid.SeqNum) (*Entry, error)
	GetLatestEntry(ctx context.Context, pk wid.PublicKey, logID wid.LogId) (*Entry, error)
	GetEntriesFrom(ctx context.Context, pk wid.PublicKey, logID wid.LogId, fromSeq wid.SeqNum) ([]*Entry, error)

	InsertLog(ctx context.Context, l *Log) error
	GetLog(ctx context.Context, pk wid.PublicKey, docID wid.DocumentId) (*Log, error)
	NextLogId(ctx context.Context, pk wid.PublicKey) (wid.LogId, error)

	// Operations

	InsertOperation(ctx context.Context, op *Operation) error
	UpdateOperationIndex(ctx context.Context, opID wid.OperationId, sortedIndex int) error
	GetOperationsByDocumentId(ctx context.Context, docID wid.DocumentId) ([]*Operation, error)
	GetOperationsBySchemaId(ctx context.Context, schemaID wid.SchemaId) ([]*Operation, error)
	GetOperation(ctx context.Context, opID wid.OperationId) (*Operation, error)

	// Documents / views

	InsertDocument(ctx context.Context, doc *Document) error
	InsertDocumentView(ctx context.Context, view *DocumentView, docID wid.DocumentId, schemaID wid.SchemaId) error
	GetDocument(ctx context.Context, docID wid.DocumentId) (*Document, error)
	GetDocumentByViewId(ctx context.Context, viewID wid.DocumentViewId) (*DocumentView, wid.DocumentId, error)
	GetDocumentsBySchema(ctx context.Context, schemaID wid.SchemaId) ([]*Document, error)
	GetAllDocumentViewIds(ctx context.Context, docID wid.DocumentId) ([]wid.DocumentViewId, error)
	IsCurrentView(ctx context.Context, viewID wid.DocumentViewId) (bool, error)

	PruneDocumentView(ctx context.Context, viewID wid.DocumentViewId) (bool, error)
	PurgeDocument(ctx context.Context, docID wid.DocumentId) error

	// Relation graph navigation (materializer §4.5-§4.7, replication §4.9)

	GetBlobChildRelations(ctx context.Context, docID wid.DocumentId) ([]wid.DocumentId, error)
	GetChildDocumentIds(ctx context.Context, viewID wid.DocumentViewId) ([]wid.DocumentId, error)
	GetParentsWithPinnedRelation(ctx context.Context, viewID wid.DocumentViewId) ([]wid.DocumentViewId, error)
	GetParentsWithUnpinnedRelation(ctx context.Context, docID wid.DocumentId) ([]wid.DocumentViewId, error)

	GetDocumentLogHeights(ctx context.Context, docIDs []wid.DocumentId) ([]AuthorLogHeights, error)

	Close() error
}
