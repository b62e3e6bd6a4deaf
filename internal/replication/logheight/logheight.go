// Package logheight implements the only sync strategy spec.md §4.9 names:
// diffing per-author log heights to find the entries a peer lacks, and
// streaming them back in an order the receiver can ingest without
// reordering.
package logheight

import (
	"context"
	"sort"

	"github.com/weftdb/weft/internal/schema"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

// Need is one (author, log) gap: the peer has entries up to some point and
// needs everything from FromSeq onward.
type Need struct {
	PublicKey wid.PublicKey
	LogId     wid.LogId
	FromSeq   wid.SeqNum
}

// DiffLogHeights computes, for each local (public_key, log_id, seq_num),
// what remote is missing (spec.md §4.9 diff_log_heights). Logs that exist
// only on the remote side never appear in the output.
func DiffLogHeights(local, remote []store.AuthorLogHeights) []Need {
	remoteByAuthor := make(map[wid.PublicKey]map[wid.LogId]wid.SeqNum, len(remote))
	for _, a := range remote {
		logs := make(map[wid.LogId]wid.SeqNum, len(a.Logs))
		for _, l := range a.Logs {
			logs[l.LogId] = l.SeqNum
		}
		remoteByAuthor[a.PublicKey] = logs
	}

	var needs []Need
	for _, a := range local {
		remoteLogs := remoteByAuthor[a.PublicKey]
		for _, l := range a.Logs {
			remoteSeq, hasLog := remoteLogs[l.LogId]
			switch {
			case hasLog && l.SeqNum > remoteSeq:
				needs = append(needs, Need{PublicKey: a.PublicKey, LogId: l.LogId, FromSeq: remoteSeq + 1})
			case !hasLog:
				needs = append(needs, Need{PublicKey: a.PublicKey, LogId: l.LogId, FromSeq: 1})
			}
		}
	}
	return needs
}

// IncludedDocuments resolves a schema target set to the concrete document
// ids a session should exchange (spec.md §4.9 included_documents). Blobs
// and blob pieces are only included transitively, through a relation from
// an included non-blob document; never on the basis of their own schema id.
func IncludedDocuments(ctx context.Context, st store.Store, registry *schema.Registry, targetSet []wid.SchemaId) ([]wid.DocumentId, error) {
	wantBlob := false
	wantPieces := false
	var baseSchemas []wid.SchemaId
	for _, id := range targetSet {
		switch id {
		case wid.SchemaBlobV1:
			wantBlob = true
		case wid.SchemaBlobPieceV1:
			wantPieces = true
		default:
			baseSchemas = append(baseSchemas, id)
		}
	}

	seen := make(map[wid.DocumentId]struct{})
	var docs []wid.DocumentId
	baseDocsBySchema := make(map[wid.SchemaId][]*store.Document, len(baseSchemas))
	for _, schemaID := range baseSchemas {
		found, err := st.GetDocumentsBySchema(ctx, schemaID)
		if err != nil {
			return nil, err
		}
		baseDocsBySchema[schemaID] = found
		for _, d := range found {
			if _, ok := seen[d.ID]; !ok {
				seen[d.ID] = struct{}{}
				docs = append(docs, d.ID)
			}
		}
	}

	if wantBlob {
		var blobDocs []wid.DocumentId
		for _, schemaID := range baseSchemas {
			sch, ok := registry.Get(schemaID)
			if !ok || !hasBlobRelation(sch) {
				continue
			}
			for _, d := range baseDocsBySchema[schemaID] {
				children, err := st.GetBlobChildRelations(ctx, d.ID)
				if err != nil {
					return nil, err
				}
				for _, c := range children {
					if _, ok := seen[c]; !ok {
						seen[c] = struct{}{}
						docs = append(docs, c)
						blobDocs = append(blobDocs, c)
					}
				}
			}
		}

		if wantPieces {
			for _, blobID := range blobDocs {
				views, err := st.GetAllDocumentViewIds(ctx, blobID)
				if err != nil {
					return nil, err
				}
				for _, v := range views {
					pieces, err := st.GetChildDocumentIds(ctx, v)
					if err != nil {
						return nil, err
					}
					for _, p := range pieces {
						if _, ok := seen[p]; !ok {
							seen[p] = struct{}{}
							docs = append(docs, p)
						}
					}
				}
			}
		}
	}

	return docs, nil
}

func hasBlobRelation(sch *schema.Schema) bool {
	for _, f := range sch.Fields {
		switch f.Kind {
		case schema.FieldRelation, schema.FieldPinnedRelation, schema.FieldRelationList, schema.FieldPinnedRelationList:
			if f.TargetSchemaID == wid.SchemaBlobV1 {
				return true
			}
		}
	}
	return false
}

// EntryMessage is one outbound Entry(encoded_entry, encoded_operation?)
// wire message (spec.md §6).
type EntryMessage struct {
	EncodedEntry     []byte
	EncodedOperation []byte
}

type orderedEntry struct {
	msg         EntryMessage
	documentId  wid.DocumentId
	sortedIndex int
}

// EntryResponses implements spec.md §4.9 entry_responses: the ordered
// stream of Entry messages a peer needs, given its own reported log
// heights. Entries whose operation has no sorted_index yet (not locally
// materialized) are omitted rather than risk forwarding them out of order.
func EntryResponses(ctx context.Context, st store.Store, registry *schema.Registry, targetSet []wid.SchemaId, remoteLogHeights []store.AuthorLogHeights) ([]EntryMessage, error) {
	included, err := IncludedDocuments(ctx, st, registry, targetSet)
	if err != nil {
		return nil, err
	}
	localLogHeights, err := st.GetDocumentLogHeights(ctx, included)
	if err != nil {
		return nil, err
	}
	needs := DiffLogHeights(localLogHeights, remoteLogHeights)

	var ordered []orderedEntry
	for _, need := range needs {
		entries, err := st.GetEntriesFrom(ctx, need.PublicKey, need.LogId, need.FromSeq)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			op, err := st.GetOperation(ctx, e.Hash)
			if err != nil {
				continue // not yet materialized as an operation row
			}
			if op.SortedIndex == nil {
				continue
			}
			ordered = append(ordered, orderedEntry{
				msg:         EntryMessage{EncodedEntry: e.EncodedEntry, EncodedOperation: e.EncodedOp},
				documentId:  op.DocumentId,
				sortedIndex: *op.SortedIndex,
			})
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].documentId != ordered[j].documentId {
			return ordered[i].documentId < ordered[j].documentId
		}
		return ordered[i].sortedIndex < ordered[j].sortedIndex
	})

	out := make([]EntryMessage, len(ordered))
	for i, o := range ordered {
		out[i] = o.msg
	}
	return out, nil
}
