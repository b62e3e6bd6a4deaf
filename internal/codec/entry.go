// Package codec decodes EncodedEntry byte strings, verifies their
// signatures and payload hashes, and encodes/decodes EncodedOperation CBOR
// arrays (spec.md §3). The entry wire format itself is left to this
// package's own internal representation — spec.md's Non-goals explicitly
// exclude defining the entry binary format beyond what the invariants
// require, and treat the CBOR codec and crypto primitives as black-box
// libraries.
package codec

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/fxamacker/cbor/v2"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// wireEntry is the CBOR shape of an EncodedEntry: the signed header fields
// plus the signature itself. Signing covers every field except Signature.
type wireEntry struct {
	_            struct{} `cbor:",toarray"`
	PublicKey    []byte
	LogId        uint64
	SeqNum       uint64
	BacklinkHash []byte // nil if seq_num == 1
	SkiplinkHash []byte // nil unless required
	PayloadHash  []byte
	PayloadSize  uint64
	Signature    []byte
}

// HashBytes returns the wid.Hash of an arbitrary byte string (spec.md §3
// "Hash — content hash ... 0020 prefix").
func HashBytes(b []byte) wid.Hash {
	digest := sha256.Sum256(b)
	return wid.NewHash(digest)
}

// EncodeOperation CBOR-encodes an operation as the 5-element array
// `[version, action, schema_id, previous?, fields?]` spec.md §3 describes.
func EncodeOperation(op store.OperationFields, action store.Action, schemaID wid.SchemaId, previous wid.DocumentViewId) ([]byte, error) {
	wire := wireOperation{
		Version:  1,
		Action:   int(action),
		SchemaId: string(schemaID),
	}
	if len(previous) > 0 {
		prev := make([]string, len(previous))
		for i, id := range previous {
			prev[i] = string(id)
		}
		wire.Previous = prev
	}
	if action != store.ActionDelete {
		fields, err := encodeFields(op)
		if err != nil {
			return nil, werrors.Wrap(werrors.KindOperationDecode, err, "encode operation fields")
		}
		wire.Fields = fields
	}
	b, err := cbor.Marshal(wire)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindOperationDecode, err, "cbor marshal operation")
	}
	return b, nil
}

type wireOperation struct {
	_        struct{} `cbor:",toarray"`
	Version  int
	Action   int
	SchemaId string
	Previous []string                `cbor:",omitempty"`
	Fields   map[string]wireFieldVal `cbor:",omitempty"`
}

// DecodedOperation is the result of decoding an EncodedOperation, before it
// is validated against a schema and assigned a document id.
type DecodedOperation struct {
	Action   store.Action
	SchemaId wid.SchemaId
	Previous wid.DocumentViewId // empty for CREATE
	Fields   store.OperationFields
}

// DecodeOperation CBOR-decodes an operation payload and enforces the
// structural CREATE/no-previous, UPDATE-or-DELETE/has-previous,
// DELETE/no-fields rules (spec.md §4.2 step 3).
func DecodeOperation(encoded []byte) (*DecodedOperation, error) {
	var wire wireOperation
	if err := cbor.Unmarshal(encoded, &wire); err != nil {
		return nil, werrors.Wrap(werrors.KindOperationDecode, err, "cbor unmarshal operation")
	}

	action := store.Action(wire.Action)
	if action != store.ActionCreate && action != store.ActionUpdate && action != store.ActionDelete {
		return nil, werrors.New(werrors.KindOperationDecode, "unknown action %d", wire.Action)
	}

	decoded := &DecodedOperation{Action: action, SchemaId: wid.SchemaId(wire.SchemaId)}

	hasPrevious := len(wire.Previous) > 0
	if action == store.ActionCreate && hasPrevious {
		return nil, werrors.New(werrors.KindOperationDecode, "CREATE must not carry previous")
	}
	if action != store.ActionCreate && !hasPrevious {
		return nil, werrors.New(werrors.KindOperationDecode, "%v must carry a non-empty previous", action)
	}
	if hasPrevious {
		ids := make(wid.DocumentViewId, len(wire.Previous))
		for i, p := range wire.Previous {
			ids[i] = wid.OperationId(p)
		}
		decoded.Previous = wid.NewDocumentViewId(ids)
	}

	if action == store.ActionDelete {
		if len(wire.Fields) > 0 {
			return nil, werrors.New(werrors.KindOperationDecode, "DELETE must not carry fields")
		}
		return decoded, nil
	}

	fields, err := decodeFields(wire.Fields)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindOperationDecode, err, "decode operation fields")
	}
	decoded.Fields = fields
	return decoded, nil
}

// SignEntry signs the header fields with priv and returns the resulting
// EncodedEntry bytes and its hash.
func SignEntry(priv ed25519.PrivateKey, logID wid.LogId, seqNum wid.SeqNum, backlink, skiplink wid.Hash, payload []byte) ([]byte, wid.Hash, error) {
	payloadHash := HashBytes(payload)
	header := wireEntry{
		PublicKey:    append([]byte(nil), priv.Public().(ed25519.PublicKey)...),
		LogId:        uint64(logID),
		SeqNum:       uint64(seqNum),
		PayloadHash:  []byte(payloadHash),
		PayloadSize:  uint64(len(payload)),
	}
	if backlink != "" {
		header.BacklinkHash = []byte(backlink)
	}
	if skiplink != "" {
		header.SkiplinkHash = []byte(skiplink)
	}

	signable, err := cbor.Marshal(header)
	if err != nil {
		return nil, "", werrors.Wrap(werrors.KindEntryDecode, err, "cbor marshal entry header")
	}
	header.Signature = ed25519.Sign(priv, signable)

	encoded, err := cbor.Marshal(header)
	if err != nil {
		return nil, "", werrors.Wrap(werrors.KindEntryDecode, err, "cbor marshal signed entry")
	}
	return encoded, HashBytes(encoded), nil
}

// DecodeAndVerifyEntry decodes an EncodedEntry, verifies its signature, and
// returns the structured result plus its hash (spec.md §4.2 step 1-2).
func DecodeAndVerifyEntry(encoded []byte, payload []byte) (*store.DecodedEntry, wid.Hash, error) {
	var header wireEntry
	if err := cbor.Unmarshal(encoded, &header); err != nil {
		return nil, "", werrors.Wrap(werrors.KindEntryDecode, err, "cbor unmarshal entry")
	}
	if len(header.PublicKey) != ed25519.PublicKeySize {
		return nil, "", werrors.New(werrors.KindEntryDecode, "public key has wrong length %d", len(header.PublicKey))
	}

	sig := header.Signature
	unsigned := header
	unsigned.Signature = nil
	signable, err := cbor.Marshal(unsigned)
	if err != nil {
		return nil, "", werrors.Wrap(werrors.KindEntryDecode, err, "re-marshal entry for verification")
	}
	if !ed25519.Verify(ed25519.PublicKey(header.PublicKey), signable, sig) {
		return nil, "", werrors.New(werrors.KindInvalidSignature, "entry signature verification failed")
	}

	payloadHash := HashBytes(payload)
	if string(payloadHash) != string(header.PayloadHash) {
		return nil, "", werrors.New(werrors.KindPayloadHashMismatch, "payload hash mismatch")
	}
	if uint64(len(payload)) != header.PayloadSize {
		return nil, "", werrors.New(werrors.KindPayloadSizeMismatch,
			"expected payload size %d, got %d", header.PayloadSize, len(payload))
	}

	var pk wid.PublicKey
	copy(pk[:], header.PublicKey)

	decoded := &store.DecodedEntry{
		PublicKey:   pk,
		LogId:       wid.LogId(header.LogId),
		SeqNum:      wid.SeqNum(header.SeqNum),
		PayloadHash: wid.Hash(header.PayloadHash),
		PayloadSize: header.PayloadSize,
		Signature:   sig,
	}
	if len(header.BacklinkHash) > 0 {
		decoded.BacklinkHash = wid.Hash(header.BacklinkHash)
	}
	if len(header.SkiplinkHash) > 0 {
		decoded.SkiplinkHash = wid.Hash(header.SkiplinkHash)
	}
	return decoded, HashBytes(encoded), nil
}
