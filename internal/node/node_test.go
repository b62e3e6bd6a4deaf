package node

import (
	"context"
	"testing"

	"github.com/weftdb/weft/internal/schema"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

func TestOpenBuildsAnEphemeralNode(t *testing.T) {
	n, err := Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer n.Shutdown()

	if n.Store == nil || n.Registry == nil || n.Queue == nil || n.Materializer == nil || n.Ingester == nil || n.Replication == nil {
		t.Fatalf("Open left a nil field on %+v", n)
	}
	if n.PublicKey.String() == "" {
		t.Fatalf("expected a generated public key")
	}
}

func TestOpenHonorsCustomPoolSizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pools = PoolConfig{Reduce: 1, Dependency: 1, Blob: 1, GarbageCollect: 1}
	n, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer n.Shutdown()
	if n.Queue == nil {
		t.Fatalf("expected a queue with the materializer pools registered")
	}
}

func TestAuthorCreateThenUpdateRoundTrips(t *testing.T) {
	n, err := Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer n.Shutdown()

	n.Registry.Register(&schema.Schema{
		ID:     "note_v1",
		Fields: []schema.FieldSpec{{Name: "title", Kind: schema.FieldString}},
	})

	res, err := n.Author(context.Background(), store.ActionCreate, "note_v1",
		store.OperationFields{"title": {Kind: store.ValueString, Str: "hello"}}, nil)
	if err != nil {
		t.Fatalf("Author create: %v", err)
	}
	if res.DocumentId == "" {
		t.Fatalf("expected a document id from the create")
	}

	previous := wid.NewDocumentViewId([]wid.OperationId{res.OperationId})
	res2, err := n.Author(context.Background(), store.ActionUpdate, "note_v1",
		store.OperationFields{"title": {Kind: store.ValueString, Str: "world"}},
		previous)
	if err != nil {
		t.Fatalf("Author update: %v", err)
	}
	if res2.DocumentId != res.DocumentId {
		t.Fatalf("DocumentId changed across update: %s != %s", res2.DocumentId, res.DocumentId)
	}
}

func TestNextArgsForFreshDocumentStartsAtOne(t *testing.T) {
	n, err := Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer n.Shutdown()

	args, err := n.NextArgs(context.Background(), "nonexistent-doc")
	if err != nil {
		t.Fatalf("NextArgs: %v", err)
	}
	if args.SeqNum != 1 {
		t.Fatalf("SeqNum = %d, want 1", args.SeqNum)
	}
}
