// Package werrors defines the error kinds used across the store, publish
// pipeline, materializer, and replication packages (spec.md §7). Modeled as
// a single error sum type rather than exceptions-for-control-flow, with a
// dedicated Critical flag the task queue promotes to its process-wide error
// signal.
package werrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the abstract error kinds from spec.md §7.
type Kind string

const (
	KindEntryDecode              Kind = "entry_decode"
	KindInvalidSignature         Kind = "invalid_signature"
	KindPayloadHashMismatch      Kind = "payload_hash_mismatch"
	KindPayloadSizeMismatch      Kind = "payload_size_mismatch"
	KindOperationDecode          Kind = "operation_decode"
	KindSchemaValidation         Kind = "schema_validation"
	KindSchemaNotFound           Kind = "schema_not_found"
	KindSeqNumMismatch           Kind = "seq_num_mismatch"
	KindLogIdMismatch            Kind = "log_id_mismatch"
	KindBacklinkMismatch         Kind = "backlink_mismatch"
	KindSkiplinkMismatch         Kind = "skiplink_mismatch"
	KindLinkUnexpected           Kind = "link_unexpected"
	KindLipmaaMissing            Kind = "lipmaa_missing"
	KindDuplicateEntry           Kind = "duplicate_entry"
	KindUnknownPrevious          Kind = "unknown_previous"
	KindPreviousDocumentMismatch Kind = "previous_document_mismatch"
	KindStore                    Kind = "store"
	KindBlobNotBlobDocument      Kind = "blob_not_blob_document"
	KindBlobNoPiecesFound        Kind = "blob_no_pieces_found"
	KindBlobMissingPieces        Kind = "blob_missing_pieces"
	KindBlobIncorrectLength      Kind = "blob_incorrect_length"
	KindReplicationUnsupportedMode    Kind = "replication_unsupported_mode"
	KindReplicationNoSessionFound     Kind = "replication_no_session_found"
	KindReplicationNoPeerFound        Kind = "replication_no_peer_found"
	KindReplicationDuplicateSession   Kind = "replication_duplicate_session"
	KindReplicationStrategyFailed     Kind = "replication_strategy_failed"
)

// Error is the single error type surfaced by this module's packages.
type Error struct {
	Kind     Kind
	Message  string
	Critical bool // true for unexpected store/I-O failures (§7 Store{detail})
	Cause    error

	// Structured detail for errors that carry it (§7).
	Expected string
	Claimed  string
	Variant  string // replication DuplicateSession sub-cause
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a non-critical error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a non-critical error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Store builds a critical store-layer error (§7 Store{detail}), surfaced by
// task workers as a Critical task failure.
func Store(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindStore, Message: fmt.Sprintf(format, args...), Cause: cause, Critical: true}
}

// SeqNumMismatch builds the structured §7 SeqNumMismatch{expected, claimed} error.
func SeqNumMismatch(expected, claimed uint64) *Error {
	return &Error{
		Kind:     KindSeqNumMismatch,
		Message:  fmt.Sprintf("expected seq_num %d, claimed %d", expected, claimed),
		Expected: fmt.Sprintf("%d", expected),
		Claimed:  fmt.Sprintf("%d", claimed),
	}
}

// LogIdMismatch builds the structured §7 LogIdMismatch{expected, claimed} error.
func LogIdMismatch(expected, claimed uint64) *Error {
	return &Error{
		Kind:     KindLogIdMismatch,
		Message:  fmt.Sprintf("expected log_id %d, claimed %d", expected, claimed),
		Expected: fmt.Sprintf("%d", expected),
		Claimed:  fmt.Sprintf("%d", claimed),
	}
}

// DuplicateSession builds the structured §7 Replication.DuplicateSession{variant} error.
func DuplicateSession(variant string) *Error {
	return &Error{
		Kind:    KindReplicationDuplicateSession,
		Message: fmt.Sprintf("duplicate session (%s)", variant),
		Variant: variant,
	}
}

// Is reports whether err is a *Error of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsCritical reports whether err is a *Error with Critical set.
func IsCritical(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Critical
	}
	return false
}
