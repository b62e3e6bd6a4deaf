package replication

import (
	"context"

	"github.com/weftdb/weft/internal/replication/logheight"
	"github.com/weftdb/weft/internal/schema"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

// Strategy is the sync-strategy boundary spec.md §4.8 names but only ever
// instantiates one implementation of: LogHeight. The interface exists so
// internal/replication/naive can exercise the same shape in tests; the
// session manager itself never selects anything but LogHeight (mode
// negotiation still rejects everything else with UnsupportedMode at the
// protocol layer, per §4.8).
type Strategy interface {
	Mode() Mode
	IncludedDocuments(ctx context.Context, st store.Store, registry *schema.Registry, targetSet []wid.SchemaId) ([]wid.DocumentId, error)
	EntryResponses(ctx context.Context, st store.Store, registry *schema.Registry, targetSet []wid.SchemaId, remoteLogHeights []store.AuthorLogHeights) ([]logheight.EntryMessage, error)
}

// LogHeightStrategy adapts internal/replication/logheight to Strategy.
type LogHeightStrategy struct{}

func (LogHeightStrategy) Mode() Mode { return ModeLogHeight }

func (LogHeightStrategy) IncludedDocuments(ctx context.Context, st store.Store, registry *schema.Registry, targetSet []wid.SchemaId) ([]wid.DocumentId, error) {
	return logheight.IncludedDocuments(ctx, st, registry, targetSet)
}

func (LogHeightStrategy) EntryResponses(ctx context.Context, st store.Store, registry *schema.Registry, targetSet []wid.SchemaId, remoteLogHeights []store.AuthorLogHeights) ([]logheight.EntryMessage, error) {
	return logheight.EntryResponses(ctx, st, registry, targetSet, remoteLogHeights)
}
