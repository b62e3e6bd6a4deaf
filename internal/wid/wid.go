// Package wid defines the identifier and value types shared across the
// store, publish pipeline, materializer, and replication packages: public
// keys, content hashes, per-author log/sequence numbers, operation and
// document identifiers, and schema identifiers.
package wid

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// hashPrefix is the 2-byte type/length prefix every Hash carries in its hex
// form, matching the yamf-hash-ish "0020" prefix spec.md §3 requires
// (type 0 = blake-family digest, length 0x20 = 32 bytes).
const hashPrefix = "0020"

// PublicKey is a 32-byte Ed25519 public key. Its string form is lowercase hex.
type PublicKey [32]byte

// ParsePublicKey decodes a lowercase hex public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("wid: invalid public key hex: %w", err)
	}
	if len(b) != len(pk) {
		return pk, fmt.Errorf("wid: public key must be %d bytes, got %d", len(pk), len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }

// Hash is a content hash: a fixed-length hex string carrying a 2-byte type
// prefix ("0020...") followed by the 32-byte digest.
type Hash string

// NewHash wraps a raw 32-byte digest into its prefixed hex Hash form.
func NewHash(digest [32]byte) Hash {
	return Hash(hashPrefix + hex.EncodeToString(digest[:]))
}

// ParseHash validates and wraps a hash string.
func ParseHash(s string) (Hash, error) {
	if len(s) != len(hashPrefix)+64 {
		return "", fmt.Errorf("wid: hash %q has wrong length", s)
	}
	if !strings.HasPrefix(s, hashPrefix) {
		return "", fmt.Errorf("wid: hash %q missing type prefix %s", s, hashPrefix)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("wid: hash %q is not valid hex: %w", s, err)
	}
	return Hash(s), nil
}

func (h Hash) String() string { return string(h) }

// OperationId is the Hash of the entry that carried an operation.
type OperationId = Hash

// DocumentId is the OperationId of a document's root CREATE operation.
type DocumentId = Hash

// LogId is a per-author monotonic log index, stored/transported as decimal
// text to avoid backend numeric-width limits.
type LogId uint64

func (l LogId) String() string { return strconv.FormatUint(uint64(l), 10) }

// ParseLogId parses a decimal log id, rejecting non-canonical forms so that
// text-column equality continues to agree with numeric ordering.
func ParseLogId(s string) (LogId, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wid: invalid log id %q: %w", s, err)
	}
	if strconv.FormatUint(v, 10) != s {
		return 0, fmt.Errorf("wid: non-canonical log id %q", s)
	}
	return LogId(v), nil
}

// SeqNum is a 1-based position within a log, stored/transported as decimal text.
type SeqNum uint64

func (s SeqNum) String() string { return strconv.FormatUint(uint64(s), 10) }

// ParseSeqNum parses a decimal sequence number.
func ParseSeqNum(s string) (SeqNum, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wid: invalid seq num %q: %w", s, err)
	}
	return SeqNum(v), nil
}

// DocumentViewId is an ordered set of OperationIds that uniquely names a
// document snapshot. Its serialized form concatenates member ids in
// ascending order, so two views built from the same operation set always
// serialize identically regardless of construction order.
type DocumentViewId []OperationId

// NewDocumentViewId sorts and dedups the given operation ids into a
// canonical view id.
func NewDocumentViewId(ids []OperationId) DocumentViewId {
	seen := make(map[OperationId]struct{}, len(ids))
	out := make(DocumentViewId, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String concatenates member operation ids in ascending order, the
// canonical serialized form used as a store primary key.
func (v DocumentViewId) String() string {
	sorted := append(DocumentViewId(nil), v...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var b strings.Builder
	for _, id := range sorted {
		b.WriteString(string(id))
	}
	return b.String()
}

// Equal reports whether two view ids name the same snapshot.
func (v DocumentViewId) Equal(other DocumentViewId) bool {
	return v.String() == other.String()
}

// System schema identifiers, consumed as data per spec.md's schema-language
// Non-goal: these are just well-known SchemaId values, not a type system.
const (
	SchemaBlobV1      SchemaId = "blob_v1"
	SchemaBlobPieceV1 SchemaId = "blob_piece_v1"
	SchemaSchemaV1    SchemaId = "schema_v1"
	SchemaFieldV1     SchemaId = "schema_field_v1"
)

// SchemaId is either a system id (blob_v1, blob_piece_v1, schema_v1,
// schema_field_v1) or an application id of the form "name_<document_view_id>".
type SchemaId string

// NewApplicationSchemaId builds "name_<view id>".
func NewApplicationSchemaId(name string, view DocumentViewId) SchemaId {
	return SchemaId(name + "_" + view.String())
}

// IsSystem reports whether the id names one of the four built-in schemas.
func (s SchemaId) IsSystem() bool {
	switch s {
	case SchemaBlobV1, SchemaBlobPieceV1, SchemaSchemaV1, SchemaFieldV1:
		return true
	default:
		return false
	}
}
