package publish

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/weftdb/weft/internal/codec"
	"github.com/weftdb/weft/internal/schema"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/store/memdb"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

func newTestRegistry() *schema.Registry {
	r := schema.NewRegistry()
	r.Register(&schema.Schema{
		ID: "note_v1",
		Fields: []schema.FieldSpec{
			{Name: "title", Kind: schema.FieldString},
		},
	})
	return r
}

// signAndEncode builds a signed entry for one CREATE/UPDATE/DELETE step,
// using args from a prior Publish/NextArgsFor result where applicable.
func signAndEncode(t *testing.T, priv ed25519.PrivateKey, action store.Action, fields store.OperationFields, previous wid.DocumentViewId, args NextArgs) (encodedEntry, encodedOp []byte) {
	t.Helper()
	op, err := codec.EncodeOperation(fields, action, "note_v1", previous)
	if err != nil {
		t.Fatalf("EncodeOperation: %v", err)
	}
	entry, _, err := codec.SignEntry(priv, args.LogId, args.SeqNum, args.Backlink, args.Skiplink, op)
	if err != nil {
		t.Fatalf("SignEntry: %v", err)
	}
	return entry, op
}

func TestPublishCreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	registry := newTestRegistry()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	createEntry, createOp := signAndEncode(t, priv, store.ActionCreate,
		store.OperationFields{"title": {Kind: store.ValueString, Str: "first"}},
		nil, NextArgs{LogId: 1, SeqNum: 1})

	res, err := Publish(ctx, st, registry, createEntry, createOp)
	if err != nil {
		t.Fatalf("Publish create: %v", err)
	}
	if res.SeqNum != 2 {
		t.Fatalf("next SeqNum = %d, want 2", res.SeqNum)
	}
	if res.Backlink == "" {
		t.Fatalf("expected a backlink hint for the next publish")
	}
	docID := res.DocumentId
	createdOpID := res.OperationId

	previous := wid.NewDocumentViewId([]wid.OperationId{createdOpID})
	updateEntry, updateOp := signAndEncode(t, priv, store.ActionUpdate,
		store.OperationFields{"title": {Kind: store.ValueString, Str: "second"}},
		previous, res.NextArgs)

	res2, err := Publish(ctx, st, registry, updateEntry, updateOp)
	if err != nil {
		t.Fatalf("Publish update: %v", err)
	}
	if res2.DocumentId != docID {
		t.Fatalf("DocumentId = %s, want %s (update must resolve to the same document)", res2.DocumentId, docID)
	}
	if res2.SeqNum != 3 {
		t.Fatalf("next SeqNum = %d, want 3", res2.SeqNum)
	}
}

func TestPublishRejectsWrongSeqNum(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	registry := newTestRegistry()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	// Sign an entry claiming seq_num 2 when nothing has been published yet.
	entry, op := signAndEncode(t, priv, store.ActionCreate,
		store.OperationFields{"title": {Kind: store.ValueString, Str: "first"}},
		nil, NextArgs{LogId: 1, SeqNum: 2})

	if _, err := Publish(ctx, st, registry, entry, op); !werrors.Is(err, werrors.KindSeqNumMismatch) {
		t.Fatalf("err = %v, want KindSeqNumMismatch", err)
	}
}

func TestPublishRejectsDuplicateEntry(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	registry := newTestRegistry()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	entry, op := signAndEncode(t, priv, store.ActionCreate,
		store.OperationFields{"title": {Kind: store.ValueString, Str: "first"}},
		nil, NextArgs{LogId: 1, SeqNum: 1})

	if _, err := Publish(ctx, st, registry, entry, op); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if _, err := Publish(ctx, st, registry, entry, op); err == nil {
		t.Fatalf("expected the second, identical publish to fail")
	}
}

func TestPublishRejectsMissingSchemaField(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	registry := newTestRegistry()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	entry, op := signAndEncode(t, priv, store.ActionCreate, store.OperationFields{}, nil, NextArgs{LogId: 1, SeqNum: 1})
	if _, err := Publish(ctx, st, registry, entry, op); !werrors.Is(err, werrors.KindSchemaValidation) {
		t.Fatalf("err = %v, want KindSchemaValidation", err)
	}
}

func TestPublishRejectsUnknownSchema(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	registry := newTestRegistry()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	op, err := codec.EncodeOperation(store.OperationFields{"a": {Kind: store.ValueBool, Bool: true}}, store.ActionCreate, "unregistered_v1", nil)
	if err != nil {
		t.Fatalf("EncodeOperation: %v", err)
	}
	entry, _, err := codec.SignEntry(priv, 1, 1, "", "", op)
	if err != nil {
		t.Fatalf("SignEntry: %v", err)
	}

	if _, err := Publish(ctx, st, registry, entry, op); !werrors.Is(err, werrors.KindSchemaNotFound) {
		t.Fatalf("err = %v, want KindSchemaNotFound", err)
	}
}

func TestPublishRejectsBacklinkMismatch(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	registry := newTestRegistry()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	createEntry, createOp := signAndEncode(t, priv, store.ActionCreate,
		store.OperationFields{"title": {Kind: store.ValueString, Str: "first"}},
		nil, NextArgs{LogId: 1, SeqNum: 1})
	res, err := Publish(ctx, st, registry, createEntry, createOp)
	if err != nil {
		t.Fatalf("Publish create: %v", err)
	}

	previous := wid.NewDocumentViewId([]wid.OperationId{res.OperationId})
	wrongArgs := res.NextArgs
	wrongArgs.Backlink = "0020" + "ff" // deliberately wrong, still well-formed-ish
	updateEntry, updateOp := signAndEncode(t, priv, store.ActionUpdate,
		store.OperationFields{"title": {Kind: store.ValueString, Str: "second"}},
		previous, wrongArgs)

	if _, err := Publish(ctx, st, registry, updateEntry, updateOp); !werrors.Is(err, werrors.KindBacklinkMismatch) {
		t.Fatalf("err = %v, want KindBacklinkMismatch", err)
	}
}

func TestNextArgsForFreshAuthorStartsAtOne(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var pk wid.PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))

	args, err := NextArgsFor(ctx, st, pk, "nonexistent-doc")
	if err != nil {
		t.Fatalf("NextArgsFor: %v", err)
	}
	if args.SeqNum != 1 || args.Backlink != "" || args.Skiplink != "" {
		t.Fatalf("args = %+v, want a fresh seq 1 with no links", args)
	}
}
