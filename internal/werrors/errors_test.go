package werrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewIsNotCritical(t *testing.T) {
	err := New(KindSchemaNotFound, "schema %s", "note_v1")
	if err.Critical {
		t.Fatalf("New() errors must not be critical")
	}
	if err.Kind != KindSchemaNotFound {
		t.Fatalf("Kind = %s, want %s", err.Kind, KindSchemaNotFound)
	}
	if err.Error() != "schema_not_found: schema note_v1" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindStore, cause, "insert entry")
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is should see through Wrap to the cause")
	}
	want := "store: insert entry: disk full"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestStoreBuildsCriticalError(t *testing.T) {
	err := Store(errors.New("boom"), "write entry")
	if !err.Critical {
		t.Fatalf("Store() errors must be Critical")
	}
	if !IsCritical(err) {
		t.Fatalf("IsCritical(err) = false, want true")
	}
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	inner := New(KindSeqNumMismatch, "boom")
	wrapped := fmt.Errorf("context: %w", inner)
	if !Is(wrapped, KindSeqNumMismatch) {
		t.Fatalf("Is should unwrap through fmt.Errorf wrapping")
	}
	if Is(wrapped, KindLogIdMismatch) {
		t.Fatalf("Is should not match an unrelated kind")
	}
}

func TestIsCriticalFalseForPlainError(t *testing.T) {
	if IsCritical(errors.New("not ours")) {
		t.Fatalf("IsCritical should be false for a non-*Error")
	}
}

func TestSeqNumMismatchCarriesStructuredFields(t *testing.T) {
	err := SeqNumMismatch(5, 7)
	if err.Expected != "5" || err.Claimed != "7" {
		t.Fatalf("Expected=%s Claimed=%s, want 5/7", err.Expected, err.Claimed)
	}
	if err.Kind != KindSeqNumMismatch {
		t.Fatalf("Kind = %s, want %s", err.Kind, KindSeqNumMismatch)
	}
}

func TestDuplicateSessionCarriesVariant(t *testing.T) {
	err := DuplicateSession("already_active")
	if err.Variant != "already_active" {
		t.Fatalf("Variant = %s, want already_active", err.Variant)
	}
	if err.Kind != KindReplicationDuplicateSession {
		t.Fatalf("Kind = %s, want %s", err.Kind, KindReplicationDuplicateSession)
	}
}
