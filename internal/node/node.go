package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"

	"github.com/weftdb/weft/internal/ingest"
	"github.com/weftdb/weft/internal/materializer"
	"github.com/weftdb/weft/internal/publish"
	"github.com/weftdb/weft/internal/replication"
	"github.com/weftdb/weft/internal/schema"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/store/memdb"
	"github.com/weftdb/weft/internal/store/sqlite"
	"github.com/weftdb/weft/internal/taskqueue"
	"github.com/weftdb/weft/internal/wid"
)

// Node is the process-wide value a running weftd holds: one store, one
// schema registry, one task queue with the materializer's pools registered,
// one ingester, and one replication session manager, all wired through
// explicit fields rather than global singletons (Design Notes
// "process-wide state": every package above takes its dependencies as
// constructor arguments, and Node is simply where those constructors are
// called in order).
type Node struct {
	Config *Config

	Store        store.Store
	Registry     *schema.Registry
	Queue        *taskqueue.Queue
	Materializer *materializer.Materializer
	Ingester     *ingest.Ingester
	Replication  *replication.Manager

	PublicKey  wid.PublicKey
	PrivateKey ed25519.PrivateKey
	TargetSet  []wid.SchemaId

	closeStore func() error
}

// Open builds a Node from cfg: opens the store (SQLite unless StoragePath is
// empty/":memory:", in which case memdb), loads or creates the node's
// identity, registers the materializer's worker pools on a fresh task
// queue, and wires the ingester and replication manager on top.
func Open(ctx context.Context, cfg *Config) (*Node, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		st      store.Store
		closeFn func() error
	)
	if cfg.StoragePath == "" || cfg.StoragePath == ":memory:" {
		db := memdb.New()
		st = db
		closeFn = db.Close
	} else {
		db, err := sqlite.Open(ctx, cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("node: open store: %w", err)
		}
		st = db
		closeFn = db.Close
	}

	priv, pub, err := LoadOrCreateIdentity(cfg.IdentityPath)
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	registry := schema.NewRegistry()

	pools := materializer.DefaultPoolSizes()
	if cfg.Pools != (PoolConfig{}) {
		pools = materializer.PoolSizes{
			Reduce:         cfg.Pools.Reduce,
			Dependency:     cfg.Pools.Dependency,
			Blob:           cfg.Pools.Blob,
			GarbageCollect: cfg.Pools.GarbageCollect,
		}
	}

	queue := taskqueue.New(64)
	mat := materializer.New(st)
	mat.BlobCacheDir = cfg.BlobCacheDir
	mat.SchemaReady = func(viewID wid.DocumentViewId) {
		log.Printf("weft/node: view %s has no outstanding dependency tasks", viewID.String())
	}
	mat.RegisterWorkers(queue, pools)

	ing := ingest.New(st, registry, queue)
	mgr := replication.NewManager(replication.PeerId(pub.String()), st, registry, ing)

	n := &Node{
		Config:       cfg,
		Store:        st,
		Registry:     registry,
		Queue:        queue,
		Materializer: mat,
		Ingester:     ing,
		Replication:  mgr,
		PublicKey:    pub,
		PrivateKey:   priv,
		TargetSet:    schemaIDs(cfg.TargetSet),
		closeStore:   closeFn,
	}
	return n, nil
}

// NextArgs exposes publish.NextArgsFor for the document a local author is
// about to publish an operation onto, the standalone query shape
// aquadoggo's entry_args RPC method gives callers ahead of a publish call.
func (n *Node) NextArgs(ctx context.Context, docID wid.DocumentId) (*publish.NextArgs, error) {
	return publish.NextArgsFor(ctx, n.Store, n.PublicKey, docID)
}

// PublishLocal runs an entry authored by this node's own identity through
// ingest, exactly as a replicated entry would be, just without a peer
// session attached.
func (n *Node) PublishLocal(ctx context.Context, encodedEntry, encodedOperation []byte) (*publish.Result, error) {
	return n.Ingester.HandleEntry(ctx, encodedEntry, encodedOperation)
}

// Shutdown drains the task queue's workers and closes the store. Safe to
// call once; callers own signal handling (cmd/weftd installs it).
func (n *Node) Shutdown() error {
	n.Queue.Shutdown()
	return n.closeStore()
}
