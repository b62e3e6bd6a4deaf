// Package memdb is an in-memory store.Store implementation, grounded on the
// teacher's mutex-guarded map caches (internal/rpc/cache.go,
// internal/gate/registry.go): a single sync.RWMutex protecting plain Go maps,
// used for tests and ephemeral single-process nodes that don't need SQLite's
// durability.
package memdb

import (
	"context"
	"sort"
	"sync"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

type logKey struct {
	pk    wid.PublicKey
	logID wid.LogId
}

type entryKey struct {
	pk     wid.PublicKey
	logID  wid.LogId
	seqNum wid.SeqNum
}

// Store is an in-memory, mutex-guarded store.Store.
type Store struct {
	mu sync.RWMutex

	entriesByHash map[wid.Hash]*store.Entry
	entriesByKey  map[entryKey]*store.Entry

	logsByKey   map[logKey]*store.Log
	logsByAuthorDoc map[wid.PublicKey]map[wid.DocumentId]*store.Log

	operations map[wid.OperationId]*store.Operation

	documents map[wid.DocumentId]*store.Document
	views     map[string]*store.DocumentView // keyed by DocumentViewId.String()
	viewDoc   map[string]wid.DocumentId
	pinnedBy  map[string]int // view id string -> count of fields pinning it
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		entriesByHash:   make(map[wid.Hash]*store.Entry),
		entriesByKey:    make(map[entryKey]*store.Entry),
		logsByKey:       make(map[logKey]*store.Log),
		logsByAuthorDoc: make(map[wid.PublicKey]map[wid.DocumentId]*store.Log),
		operations:      make(map[wid.OperationId]*store.Operation),
		documents:       make(map[wid.DocumentId]*store.Document),
		views:           make(map[string]*store.DocumentView),
		viewDoc:         make(map[string]wid.DocumentId),
		pinnedBy:        make(map[string]int),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) InsertEntry(ctx context.Context, entry *store.Entry, op *store.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entriesByHash[entry.Hash]; ok {
		return werrors.New(werrors.KindDuplicateEntry, "entry %s already exists", entry.Hash)
	}
	key := entryKey{entry.Decoded.PublicKey, entry.Decoded.LogId, entry.Decoded.SeqNum}
	if _, ok := s.entriesByKey[key]; ok {
		return werrors.New(werrors.KindDuplicateEntry, "entry (%s, log %d, seq %d) already exists",
			entry.Decoded.PublicKey, entry.Decoded.LogId, entry.Decoded.SeqNum)
	}

	cp := *entry
	s.entriesByHash[entry.Hash] = &cp
	s.entriesByKey[key] = &cp

	if op != nil {
		if _, ok := s.operations[op.ID]; ok {
			return werrors.New(werrors.KindStore, "operation %s already exists", op.ID)
		}
		s.operations[op.ID] = cloneOperation(op)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, hash wid.Hash) (*store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entriesByHash[hash]
	if !ok {
		return nil, werrors.New(werrors.KindStore, "entry %s not found", hash)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) GetEntryAtSeqNum(ctx context.Context, pk wid.PublicKey, logID wid.LogId, seq wid.SeqNum) (*store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entriesByKey[entryKey{pk, logID, seq}]
	if !ok {
		return nil, werrors.New(werrors.KindStore, "entry not found")
	}
	cp := *e
	return &cp, nil
}

func (s *Store) GetLatestEntry(ctx context.Context, pk wid.PublicKey, logID wid.LogId) (*store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *store.Entry
	for k, e := range s.entriesByKey {
		if k.pk != pk || k.logID != logID {
			continue
		}
		if latest == nil || e.Decoded.SeqNum > latest.Decoded.SeqNum {
			latest = e
		}
	}
	if latest == nil {
		return nil, werrors.New(werrors.KindStore, "log is empty")
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) GetEntriesFrom(ctx context.Context, pk wid.PublicKey, logID wid.LogId, fromSeq wid.SeqNum) ([]*store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Entry
	for k, e := range s.entriesByKey {
		if k.pk != pk || k.logID != logID || k.seqNum < fromSeq {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Decoded.SeqNum < out[j].Decoded.SeqNum })
	return out, nil
}

func (s *Store) InsertLog(ctx context.Context, l *store.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := logKey{l.PublicKey, l.LogId}
	if _, ok := s.logsByKey[key]; ok {
		return werrors.New(werrors.KindStore, "log already exists for (public_key=%s, log_id=%s)", l.PublicKey, l.LogId)
	}
	if byDoc, ok := s.logsByAuthorDoc[l.PublicKey]; ok {
		if _, ok := byDoc[l.DocumentId]; ok {
			return werrors.New(werrors.KindStore, "log already exists for (public_key, document_id=%s)", l.DocumentId)
		}
	}

	cp := *l
	s.logsByKey[key] = &cp
	if s.logsByAuthorDoc[l.PublicKey] == nil {
		s.logsByAuthorDoc[l.PublicKey] = make(map[wid.DocumentId]*store.Log)
	}
	s.logsByAuthorDoc[l.PublicKey][l.DocumentId] = &cp
	return nil
}

func (s *Store) GetLog(ctx context.Context, pk wid.PublicKey, docID wid.DocumentId) (*store.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byDoc, ok := s.logsByAuthorDoc[pk]
	if !ok {
		return nil, werrors.New(werrors.KindStore, "log not found")
	}
	l, ok := byDoc[docID]
	if !ok {
		return nil, werrors.New(werrors.KindStore, "log not found")
	}
	cp := *l
	return &cp, nil
}

// NextLogId returns the smallest non-negative log id unused by pk, matching
// sqlite.Store's gap-scan semantics (spec.md §9 Open Questions).
func (s *Store) NextLogId(ctx context.Context, pk wid.PublicKey) (wid.LogId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint64
	for k := range s.logsByKey {
		if k.pk == pk {
			ids = append(ids, uint64(k.logID))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var next uint64
	for _, id := range ids {
		if id != next {
			break
		}
		next++
	}
	return wid.LogId(next), nil
}

func (s *Store) InsertOperation(ctx context.Context, op *store.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[op.ID]; ok {
		return werrors.New(werrors.KindStore, "operation %s already exists", op.ID)
	}
	s.operations[op.ID] = cloneOperation(op)
	return nil
}

func (s *Store) UpdateOperationIndex(ctx context.Context, opID wid.OperationId, sortedIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[opID]
	if !ok {
		return werrors.New(werrors.KindStore, "operation %s not found", opID)
	}
	idx := sortedIndex
	op.SortedIndex = &idx
	return nil
}

func (s *Store) GetOperation(ctx context.Context, opID wid.OperationId) (*store.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[opID]
	if !ok {
		return nil, werrors.New(werrors.KindStore, "operation %s not found", opID)
	}
	return cloneOperation(op), nil
}

func (s *Store) GetOperationsByDocumentId(ctx context.Context, docID wid.DocumentId) ([]*store.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Operation
	for _, op := range s.operations {
		if op.DocumentId == docID {
			out = append(out, cloneOperation(op))
		}
	}
	sortOperations(out)
	return out, nil
}

func (s *Store) GetOperationsBySchemaId(ctx context.Context, schemaID wid.SchemaId) ([]*store.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Operation
	for _, op := range s.operations {
		if op.SchemaId == schemaID {
			out = append(out, cloneOperation(op))
		}
	}
	sortOperations(out)
	return out, nil
}

// sortOperations orders by (sorted_index IS NULL), sorted_index, operation_id,
// matching sqlite.Store's queryOperations ordering.
func sortOperations(ops []*store.Operation) {
	sort.Slice(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		aNil, bNil := a.SortedIndex == nil, b.SortedIndex == nil
		if aNil != bNil {
			return bNil // non-nil sorts first
		}
		if !aNil && *a.SortedIndex != *b.SortedIndex {
			return *a.SortedIndex < *b.SortedIndex
		}
		return a.ID < b.ID
	})
}

func cloneOperation(op *store.Operation) *store.Operation {
	cp := *op
	if op.Fields != nil {
		cp.Fields = make(store.OperationFields, len(op.Fields))
		for k, v := range op.Fields {
			cp.Fields[k] = v
		}
	}
	if op.SortedIndex != nil {
		idx := *op.SortedIndex
		cp.SortedIndex = &idx
	}
	if op.Previous != nil {
		cp.Previous = append(wid.DocumentViewId{}, op.Previous...)
	}
	return &cp
}

func (s *Store) InsertDocument(ctx context.Context, doc *store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *Store) InsertDocumentView(ctx context.Context, view *store.DocumentView, docID wid.DocumentId, schemaID wid.SchemaId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := view.ViewId.String()
	if _, ok := s.views[key]; ok {
		return nil // idempotent no-op, matching sqlite.Store
	}
	cp := *view
	cp.Fields = make(map[string]store.ViewField, len(view.Fields))
	for k, v := range view.Fields {
		cp.Fields[k] = v
	}
	cp.SchemaId = schemaID
	s.views[key] = &cp
	s.viewDoc[key] = docID

	for _, vf := range view.Fields {
		if vf.Value.Kind == store.ValuePinnedRelation {
			s.pinnedBy[vf.Value.Pinned.String()]++
		}
		if vf.Value.Kind == store.ValuePinnedRelationList {
			for _, elem := range vf.Value.List {
				s.pinnedBy[elem.Pinned.String()]++
			}
		}
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, docID wid.DocumentId) (*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[docID]
	if !ok {
		return nil, werrors.New(werrors.KindStore, "document %s not found", docID)
	}
	cp := *doc
	return &cp, nil
}

func (s *Store) GetDocumentByViewId(ctx context.Context, viewID wid.DocumentViewId) (*store.DocumentView, wid.DocumentId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := viewID.String()
	view, ok := s.views[key]
	if !ok {
		return nil, "", werrors.New(werrors.KindStore, "document view not found")
	}
	cp := *view
	cp.Fields = make(map[string]store.ViewField, len(view.Fields))
	for k, v := range view.Fields {
		cp.Fields[k] = v
	}
	return &cp, s.viewDoc[key], nil
}

func (s *Store) GetDocumentsBySchema(ctx context.Context, schemaID wid.SchemaId) ([]*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Document
	for _, doc := range s.documents {
		if doc.SchemaId == schemaID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetAllDocumentViewIds(ctx context.Context, docID wid.DocumentId) ([]wid.DocumentViewId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []wid.DocumentViewId
	for key, d := range s.viewDoc {
		if d == docID {
			out = append(out, s.views[key].ViewId)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *Store) IsCurrentView(ctx context.Context, viewID wid.DocumentViewId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := viewID.String()
	docID, ok := s.viewDoc[key]
	if !ok {
		return false, nil
	}
	doc, ok := s.documents[docID]
	return ok && doc.ViewId.Equal(viewID), nil
}

func (s *Store) PruneDocumentView(ctx context.Context, viewID wid.DocumentViewId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := viewID.String()
	if s.pinnedBy[key] > 0 {
		return false, nil
	}
	if _, ok := s.views[key]; !ok {
		return false, nil
	}
	delete(s.views, key)
	delete(s.viewDoc, key)
	return true, nil
}

func (s *Store) PurgeDocument(ctx context.Context, docID wid.DocumentId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, op := range s.operations {
		if op.DocumentId == docID {
			delete(s.operations, id)
		}
	}
	var logKeys []logKey
	for k, l := range s.logsByKey {
		if l.DocumentId == docID {
			logKeys = append(logKeys, k)
		}
	}
	for ek := range s.entriesByKey {
		for _, lk := range logKeys {
			if ek.pk == lk.pk && ek.logID == lk.logID {
				e := s.entriesByKey[ek]
				delete(s.entriesByKey, ek)
				delete(s.entriesByHash, e.Hash)
				break
			}
		}
	}
	for key, d := range s.viewDoc {
		if d == docID {
			delete(s.views, key)
			delete(s.viewDoc, key)
		}
	}
	delete(s.documents, docID)
	return nil
}

func (s *Store) GetBlobChildRelations(ctx context.Context, docID wid.DocumentId) ([]wid.DocumentId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make(map[wid.DocumentId]struct{})
	for _, op := range s.operations {
		if op.DocumentId != docID || op.Fields == nil {
			continue
		}
		for _, v := range op.Fields {
			collectRelationTargets(v, candidates, s.viewDoc)
		}
	}

	var out []wid.DocumentId
	for docID := range candidates {
		if doc, ok := s.documents[docID]; ok && doc.SchemaId == wid.SchemaBlobV1 {
			out = append(out, docID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func collectRelationTargets(v store.FieldValue, out map[wid.DocumentId]struct{}, viewDoc map[string]wid.DocumentId) {
	switch v.Kind {
	case store.ValueRelation:
		out[v.Rel] = struct{}{}
	case store.ValueRelationList:
		for _, e := range v.List {
			out[e.Rel] = struct{}{}
		}
	case store.ValuePinnedRelation:
		if d, ok := viewDoc[v.Pinned.String()]; ok {
			out[d] = struct{}{}
		}
	case store.ValuePinnedRelationList:
		for _, e := range v.List {
			if d, ok := viewDoc[e.Pinned.String()]; ok {
				out[d] = struct{}{}
			}
		}
	}
}

func (s *Store) GetChildDocumentIds(ctx context.Context, viewID wid.DocumentViewId) ([]wid.DocumentId, error) {
	s.mu.RLock()
	view, ok := s.views[viewID.String()]
	if !ok {
		s.mu.RUnlock()
		return nil, werrors.New(werrors.KindStore, "document view not found")
	}
	fields := make([]store.ViewField, 0, len(view.Fields))
	for _, vf := range view.Fields {
		fields = append(fields, vf)
	}
	viewDoc := s.viewDoc
	s.mu.RUnlock()

	out := make(map[wid.DocumentId]struct{})
	for _, vf := range fields {
		collectRelationTargets(vf.Value, out, viewDoc)
	}
	result := make([]wid.DocumentId, 0, len(out))
	for id := range out {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

func (s *Store) GetParentsWithPinnedRelation(ctx context.Context, viewID wid.DocumentViewId) ([]wid.DocumentViewId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target := viewID.String()
	var out []wid.DocumentViewId
	for _, view := range s.views {
		for _, vf := range view.Fields {
			if vf.Value.Kind == store.ValuePinnedRelation && vf.Value.Pinned.String() == target {
				out = append(out, view.ViewId)
				break
			}
			if vf.Value.Kind == store.ValuePinnedRelationList {
				found := false
				for _, e := range vf.Value.List {
					if e.Pinned.String() == target {
						found = true
						break
					}
				}
				if found {
					out = append(out, view.ViewId)
					break
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *Store) GetParentsWithUnpinnedRelation(ctx context.Context, docID wid.DocumentId) ([]wid.DocumentViewId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []wid.DocumentViewId
	for _, view := range s.views {
		for _, vf := range view.Fields {
			if vf.Value.Kind == store.ValueRelation && vf.Value.Rel == docID {
				out = append(out, view.ViewId)
				break
			}
			if vf.Value.Kind == store.ValueRelationList {
				found := false
				for _, e := range vf.Value.List {
					if e.Rel == docID {
						found = true
						break
					}
				}
				if found {
					out = append(out, view.ViewId)
					break
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *Store) GetDocumentLogHeights(ctx context.Context, docIDs []wid.DocumentId) ([]store.AuthorLogHeights, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[wid.DocumentId]struct{}, len(docIDs))
	for _, d := range docIDs {
		wanted[d] = struct{}{}
	}

	byAuthor := make(map[wid.PublicKey][]store.LogHeight)
	var order []wid.PublicKey
	for _, l := range s.logsByKey {
		if _, ok := wanted[l.DocumentId]; !ok {
			continue
		}
		var maxSeq wid.SeqNum
		for k, e := range s.entriesByKey {
			if k.pk == l.PublicKey && k.logID == l.LogId && e.Decoded.SeqNum > maxSeq {
				maxSeq = e.Decoded.SeqNum
			}
		}
		if _, ok := byAuthor[l.PublicKey]; !ok {
			order = append(order, l.PublicKey)
		}
		byAuthor[l.PublicKey] = append(byAuthor[l.PublicKey], store.LogHeight{LogId: l.LogId, SeqNum: maxSeq})
	}

	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })
	out := make([]store.AuthorLogHeights, 0, len(order))
	for _, pk := range order {
		logs := byAuthor[pk]
		sort.Slice(logs, func(i, j int) bool { return logs[i].LogId < logs[j].LogId })
		out = append(out, store.AuthorLogHeights{PublicKey: pk, Logs: logs})
	}
	return out, nil
}
