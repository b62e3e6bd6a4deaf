// Package naive is a second, simpler sync strategy ported from
// aquadoggo's strategies/naive.rs: included_documents is just "every
// document whose schema id is in the target set" (no blob/blob-piece
// transitive inclusion), and entries are streamed without regard to
// sorted_index. The session manager never selects this strategy — mode
// negotiation still only accepts LogHeight per spec.md §4.8 — so this
// package exists to give internal/replication.Strategy a second
// implementation to test against.
package naive

import (
	"context"

	"github.com/weftdb/weft/internal/replication"
	"github.com/weftdb/weft/internal/replication/logheight"
	"github.com/weftdb/weft/internal/schema"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

// Strategy implements replication.Strategy with the simpler, un-ordered
// full-schema-set semantics of the original naive strategy.
type Strategy struct{}

func (Strategy) Mode() replication.Mode { return replication.ModeNaive }

// IncludedDocuments is every document whose schema id is literally in
// targetSet, with no blob/piece transitive walk.
func (Strategy) IncludedDocuments(ctx context.Context, st store.Store, registry *schema.Registry, targetSet []wid.SchemaId) ([]wid.DocumentId, error) {
	seen := make(map[wid.DocumentId]struct{})
	var out []wid.DocumentId
	for _, schemaID := range targetSet {
		docs, err := st.GetDocumentsBySchema(ctx, schemaID)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if _, ok := seen[d.ID]; !ok {
				seen[d.ID] = struct{}{}
				out = append(out, d.ID)
			}
		}
	}
	return out, nil
}

// EntryResponses diffs log heights the same way the log-height strategy
// does, but does not filter out un-materialized (no sorted_index) entries
// or sort by (document_id, sorted_index): the original naive strategy
// streams entries in whatever order the store returns them.
func (s Strategy) EntryResponses(ctx context.Context, st store.Store, registry *schema.Registry, targetSet []wid.SchemaId, remoteLogHeights []store.AuthorLogHeights) ([]logheight.EntryMessage, error) {
	included, err := s.IncludedDocuments(ctx, st, registry, targetSet)
	if err != nil {
		return nil, err
	}
	localLogHeights, err := st.GetDocumentLogHeights(ctx, included)
	if err != nil {
		return nil, err
	}
	needs := logheight.DiffLogHeights(localLogHeights, remoteLogHeights)

	var out []logheight.EntryMessage
	for _, need := range needs {
		entries, err := st.GetEntriesFrom(ctx, need.PublicKey, need.LogId, need.FromSeq)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out = append(out, logheight.EntryMessage{EncodedEntry: e.EncodedEntry, EncodedOperation: e.EncodedOp})
		}
	}
	return out, nil
}
