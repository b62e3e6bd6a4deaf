package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

// wireFieldVal is the CBOR shape of one OperationFields entry (spec.md §3
// "Operation field value"). Scalars populate Kind + the matching scalar
// slot; list kinds populate List with per-element wireFieldVal of the
// corresponding element kind (relation/pinned_relation).
type wireFieldVal struct {
	Kind  uint8
	Bool  bool           `cbor:",omitempty"`
	Int   int64          `cbor:",omitempty"`
	Float float64        `cbor:",omitempty"`
	Str   string         `cbor:",omitempty"` // string, hex-encoded bytes, or relation document id
	Pin   string         `cbor:",omitempty"` // pinned_relation: concatenated document view id
	List  []wireFieldVal `cbor:",omitempty"`
}

func encodeFields(fields store.OperationFields) (map[string]wireFieldVal, error) {
	out := make(map[string]wireFieldVal, len(fields))
	for name, v := range fields {
		wv, err := encodeFieldVal(v)
		if err != nil {
			return nil, err
		}
		out[name] = wv
	}
	return out, nil
}

func encodeFieldVal(v store.FieldValue) (wireFieldVal, error) {
	wv := wireFieldVal{Kind: uint8(v.Kind)}
	switch v.Kind {
	case store.ValueBool:
		wv.Bool = v.Bool
	case store.ValueInt:
		wv.Int = v.Int
	case store.ValueFloat:
		wv.Float = v.Float
	case store.ValueString:
		wv.Str = v.Str
	case store.ValueBytes:
		wv.Str = hex.EncodeToString([]byte(v.Str))
	case store.ValueRelation:
		wv.Str = string(v.Rel)
	case store.ValuePinnedRelation:
		wv.Pin = v.Pinned.String()
	case store.ValueRelationList, store.ValuePinnedRelationList:
		wv.List = make([]wireFieldVal, len(v.List))
		for i, elem := range v.List {
			ewv, err := encodeFieldVal(elem)
			if err != nil {
				return wireFieldVal{}, err
			}
			wv.List[i] = ewv
		}
	}
	return wv, nil
}

func decodeFields(wire map[string]wireFieldVal) (store.OperationFields, error) {
	out := make(store.OperationFields, len(wire))
	for name, wv := range wire {
		v, err := decodeFieldVal(wv)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func decodeFieldVal(wv wireFieldVal) (store.FieldValue, error) {
	kind := store.FieldValueKind(wv.Kind)
	fv := store.FieldValue{Kind: kind}
	switch kind {
	case store.ValueBool:
		fv.Bool = wv.Bool
	case store.ValueInt:
		fv.Int = wv.Int
	case store.ValueFloat:
		fv.Float = wv.Float
	case store.ValueString:
		fv.Str = wv.Str
	case store.ValueBytes:
		raw, err := hex.DecodeString(wv.Str)
		if err != nil {
			return fv, err
		}
		fv.Str = string(raw)
	case store.ValueRelation:
		fv.Rel = wid.DocumentId(wv.Str)
	case store.ValuePinnedRelation:
		ids, err := parseDocumentViewId(wv.Pin)
		if err != nil {
			return fv, err
		}
		fv.Pinned = ids
	case store.ValueRelationList, store.ValuePinnedRelationList:
		fv.List = make([]store.FieldValue, len(wv.List))
		for i, ewv := range wv.List {
			elem, err := decodeFieldVal(ewv)
			if err != nil {
				return fv, err
			}
			fv.List[i] = elem
		}
	}
	return fv, nil
}

// parseDocumentViewId splits a concatenated-hash view id string, mirroring
// the sqlite store's own parser (store backends own persistence framing;
// this package only needs it to decode a pinned_relation field value).
func parseDocumentViewId(s string) (wid.DocumentViewId, error) {
	const hashLen = 68
	var ids wid.DocumentViewId
	for i := 0; i < len(s); i += hashLen {
		end := i + hashLen
		if end > len(s) {
			return nil, fmt.Errorf("codec: malformed document view id %q", s)
		}
		h, err := wid.ParseHash(s[i:end])
		if err != nil {
			return nil, err
		}
		ids = append(ids, h)
	}
	return ids, nil
}
