package codec

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

func TestSignAndVerifyEntryRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	payload := []byte("operation payload")

	encoded, hash, err := SignEntry(priv, 1, 1, "", "", payload)
	if err != nil {
		t.Fatalf("SignEntry: %v", err)
	}

	decoded, verifyHash, err := DecodeAndVerifyEntry(encoded, payload)
	if err != nil {
		t.Fatalf("DecodeAndVerifyEntry: %v", err)
	}
	if verifyHash != hash {
		t.Fatalf("verifyHash = %s, want %s", verifyHash, hash)
	}
	if decoded.LogId != 1 || decoded.SeqNum != 1 {
		t.Fatalf("decoded = %+v, want logID=1 seqNum=1", decoded)
	}
	if decoded.PublicKey != wid.PublicKey(pub[:32]) {
		t.Fatalf("decoded public key mismatch")
	}
	if decoded.BacklinkHash != "" || decoded.SkiplinkHash != "" {
		t.Fatalf("seq 1 entry should carry no backlink/skiplink")
	}
}

func TestSignAndVerifyEntryWithLinks(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	payload := []byte("second operation")
	backlink := HashBytes([]byte("entry one"))
	skiplink := HashBytes([]byte("entry skip"))

	encoded, _, err := SignEntry(priv, 1, 13, backlink, skiplink, payload)
	if err != nil {
		t.Fatalf("SignEntry: %v", err)
	}

	decoded, _, err := DecodeAndVerifyEntry(encoded, payload)
	if err != nil {
		t.Fatalf("DecodeAndVerifyEntry: %v", err)
	}
	if decoded.BacklinkHash != backlink || decoded.SkiplinkHash != skiplink {
		t.Fatalf("links = %s/%s, want %s/%s", decoded.BacklinkHash, decoded.SkiplinkHash, backlink, skiplink)
	}
}

func TestDecodeAndVerifyEntryRejectsTamperedPayload(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	payload := []byte("original")
	encoded, _, err := SignEntry(priv, 1, 1, "", "", payload)
	if err != nil {
		t.Fatalf("SignEntry: %v", err)
	}

	if _, _, err := DecodeAndVerifyEntry(encoded, []byte("tampered")); err == nil {
		t.Fatalf("expected payload hash mismatch error")
	}
}

func TestDecodeAndVerifyEntryRejectsSignatureFromWrongKey(t *testing.T) {
	_, priv1, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pub2, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	payload := []byte("payload")

	encoded, _, err := SignEntry(priv1, 1, 1, "", "", payload)
	if err != nil {
		t.Fatalf("SignEntry: %v", err)
	}

	// Splice in a different public key so the header no longer matches the
	// signature that was computed over priv1's own public key.
	var header wireEntry
	if err := cbor.Unmarshal(encoded, &header); err != nil {
		t.Fatalf("cbor unmarshal: %v", err)
	}
	header.PublicKey = append([]byte(nil), pub2...)
	tampered, err := cbor.Marshal(header)
	if err != nil {
		t.Fatalf("cbor marshal: %v", err)
	}

	if _, _, err := DecodeAndVerifyEntry(tampered, payload); err == nil {
		t.Fatalf("expected signature verification to fail against a swapped-in public key")
	}
}

func TestEncodeDecodeOperationCreate(t *testing.T) {
	fields := store.OperationFields{
		"title": {Kind: store.ValueString, Str: "hello"},
		"count": {Kind: store.ValueInt, Int: 42},
	}
	encoded, err := EncodeOperation(fields, store.ActionCreate, "note_v1", nil)
	if err != nil {
		t.Fatalf("EncodeOperation: %v", err)
	}

	decoded, err := DecodeOperation(encoded)
	if err != nil {
		t.Fatalf("DecodeOperation: %v", err)
	}
	if decoded.Action != store.ActionCreate {
		t.Fatalf("Action = %v, want ActionCreate", decoded.Action)
	}
	if decoded.SchemaId != "note_v1" {
		t.Fatalf("SchemaId = %s, want note_v1", decoded.SchemaId)
	}
	if len(decoded.Previous) != 0 {
		t.Fatalf("CREATE must decode with empty Previous")
	}
	if decoded.Fields["title"].Str != "hello" || decoded.Fields["count"].Int != 42 {
		t.Fatalf("decoded fields = %+v", decoded.Fields)
	}
}

func TestEncodeDecodeOperationUpdateRequiresPrevious(t *testing.T) {
	previous := wid.NewDocumentViewId([]wid.OperationId{"op1"})
	fields := store.OperationFields{"title": {Kind: store.ValueString, Str: "updated"}}
	encoded, err := EncodeOperation(fields, store.ActionUpdate, "note_v1", previous)
	if err != nil {
		t.Fatalf("EncodeOperation: %v", err)
	}

	decoded, err := DecodeOperation(encoded)
	if err != nil {
		t.Fatalf("DecodeOperation: %v", err)
	}
	if !decoded.Previous.Equal(previous) {
		t.Fatalf("Previous = %v, want %v", decoded.Previous, previous)
	}
}

func TestDecodeOperationRejectsCreateWithPrevious(t *testing.T) {
	previous := wid.NewDocumentViewId([]wid.OperationId{"op1"})
	// EncodeOperation itself does not forbid this combination (only
	// DecodeOperation enforces the structural rule), so it is enough to
	// encode a CREATE action with a non-empty previous directly.
	encoded, err := EncodeOperation(store.OperationFields{"a": {Kind: store.ValueBool, Bool: true}}, store.ActionCreate, "note_v1", previous)
	if err != nil {
		t.Fatalf("EncodeOperation: %v", err)
	}
	if _, err := DecodeOperation(encoded); err == nil {
		t.Fatalf("expected an error: CREATE must not carry a previous")
	}
}

func TestDecodeOperationRejectsMissingPreviousForUpdate(t *testing.T) {
	encoded, err := EncodeOperation(store.OperationFields{"a": {Kind: store.ValueBool, Bool: true}}, store.ActionUpdate, "note_v1", nil)
	if err != nil {
		t.Fatalf("EncodeOperation: %v", err)
	}
	if _, err := DecodeOperation(encoded); err == nil {
		t.Fatalf("expected an error: UPDATE without previous should be rejected")
	}
}

func TestEncodeDecodeOperationDeleteCarriesNoFields(t *testing.T) {
	previous := wid.NewDocumentViewId([]wid.OperationId{"op1"})
	encoded, err := EncodeOperation(nil, store.ActionDelete, "note_v1", previous)
	if err != nil {
		t.Fatalf("EncodeOperation: %v", err)
	}
	decoded, err := DecodeOperation(encoded)
	if err != nil {
		t.Fatalf("DecodeOperation: %v", err)
	}
	if decoded.Action != store.ActionDelete {
		t.Fatalf("Action = %v, want ActionDelete", decoded.Action)
	}
	if len(decoded.Fields) != 0 {
		t.Fatalf("DELETE must decode with no fields")
	}
}

func TestEncodeDecodeOperationWithRelationFields(t *testing.T) {
	target := wid.DocumentId("doc123")
	pinned := wid.NewDocumentViewId([]wid.OperationId{"op1", "op2"})
	fields := store.OperationFields{
		"attachment": {Kind: store.ValueRelation, Rel: target},
		"pinned":     {Kind: store.ValuePinnedRelation, Pinned: pinned},
		"tags": {Kind: store.ValueRelationList, List: []store.FieldValue{
			{Kind: store.ValueRelation, Rel: "doc1"},
			{Kind: store.ValueRelation, Rel: "doc2"},
		}},
	}
	encoded, err := EncodeOperation(fields, store.ActionCreate, "attachment_v1", nil)
	if err != nil {
		t.Fatalf("EncodeOperation: %v", err)
	}
	decoded, err := DecodeOperation(encoded)
	if err != nil {
		t.Fatalf("DecodeOperation: %v", err)
	}
	if decoded.Fields["attachment"].Rel != target {
		t.Fatalf("attachment = %s, want %s", decoded.Fields["attachment"].Rel, target)
	}
	if !decoded.Fields["pinned"].Pinned.Equal(pinned) {
		t.Fatalf("pinned = %v, want %v", decoded.Fields["pinned"].Pinned, pinned)
	}
	if len(decoded.Fields["tags"].List) != 2 || decoded.Fields["tags"].List[0].Rel != "doc1" {
		t.Fatalf("tags = %+v", decoded.Fields["tags"].List)
	}
}

func TestHashBytesIsDeterministicAndPrefixed(t *testing.T) {
	h1 := HashBytes([]byte("same input"))
	h2 := HashBytes([]byte("same input"))
	if h1 != h2 {
		t.Fatalf("HashBytes should be deterministic")
	}
	if len(h1) != 4+64 {
		t.Fatalf("len(hash) = %d, want 68 (0020 prefix + 64 hex digits)", len(h1))
	}
	if _, err := wid.ParseHash(h1); err != nil {
		t.Fatalf("HashBytes output should parse as a valid wid.Hash: %v", err)
	}
}
