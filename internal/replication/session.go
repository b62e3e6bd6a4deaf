// Package replication is the per-peer session manager (spec.md §4.8):
// negotiating log-height sync sessions, resolving concurrent session
// collisions deterministically, and routing incoming entries through
// ingest. The wire messages it emits are opaque to the transport, which
// owns framing and delivery (spec.md §6).
package replication

import (
	"context"
	"sync"

	"github.com/weftdb/weft/internal/ingest"
	"github.com/weftdb/weft/internal/replication/logheight"
	"github.com/weftdb/weft/internal/schema"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// PeerId identifies a remote node for tie-break comparison. Transport
// assigns these; this package only compares them lexically.
type PeerId string

// Mode is a replication strategy. LogHeight is the only supported mode
// (spec.md §4.8); SetReconciliation is rejected with UnsupportedMode.
type Mode int

const (
	ModeLogHeight Mode = iota
	ModeSetReconciliation
	ModeNaive
)

// State is a session's lifecycle stage.
type State int

const (
	StatePending State = iota
	StateEstablished
	StateDone
)

// Session is one negotiated sync exchange with a peer over one target set.
type Session struct {
	ID        uint64
	Peer      PeerId
	TargetSet []wid.SchemaId
	Mode      Mode
	Local     bool
	State     State

	sentHave   bool
	localDone  bool
	remoteDone bool
}

func sameTargetSet(a, b []wid.SchemaId) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[wid.SchemaId]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}

// Manager holds all in-flight sessions, grouped by peer (spec.md §4.8).
type Manager struct {
	LocalPeerId PeerId
	Store       store.Store
	Registry    *schema.Registry
	Ingester    *ingest.Ingester

	mu       sync.Mutex
	sessions map[PeerId][]*Session
}

// NewManager builds a session manager for localPeer.
func NewManager(localPeer PeerId, st store.Store, registry *schema.Registry, ing *ingest.Ingester) *Manager {
	return &Manager{
		LocalPeerId: localPeer,
		Store:       st,
		Registry:    registry,
		Ingester:    ing,
		sessions:    make(map[PeerId][]*Session),
	}
}

// OutMessage is one outbound protocol message (spec.md §6's wire form).
// Exactly one of the typed payload fields is set, matching Kind.
type OutMessage struct {
	Peer      PeerId
	SessionId uint64
	Kind      MessageKind

	SyncRequest *SyncRequestPayload
	Have        *HavePayload
	Entry       *logheight.EntryMessage
	SyncDone    *SyncDonePayload
}

// MessageKind tags an OutMessage/InMessage payload.
type MessageKind int

const (
	KindSyncRequest MessageKind = iota
	KindHave
	KindEntry
	KindSyncDone
)

type SyncRequestPayload struct {
	Mode      Mode
	TargetSet []wid.SchemaId
}

type HavePayload struct {
	LogHeights []store.AuthorLogHeights
}

type SyncDonePayload struct {
	Live bool
}

func (m *Manager) sessionsFor(peer PeerId) []*Session { return m.sessions[peer] }

func (m *Manager) findByTargetSet(peer PeerId, targetSet []wid.SchemaId) *Session {
	for _, s := range m.sessionsFor(peer) {
		if sameTargetSet(s.TargetSet, targetSet) {
			return s
		}
	}
	return nil
}

func (m *Manager) findByID(peer PeerId, id uint64) *Session {
	for _, s := range m.sessionsFor(peer) {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (m *Manager) nextID(peer PeerId) uint64 {
	var max int64 = -1
	for _, s := range m.sessionsFor(peer) {
		if int64(s.ID) > max {
			max = int64(s.ID)
		}
	}
	return uint64(max + 1)
}

func (m *Manager) add(peer PeerId, s *Session) {
	m.sessions[peer] = append(m.sessions[peer], s)
}

func (m *Manager) remove(peer PeerId, id uint64) {
	sessions := m.sessions[peer]
	for i, s := range sessions {
		if s.ID == id {
			m.sessions[peer] = append(sessions[:i], sessions[i+1:]...)
			return
		}
	}
}

// InitiateSession implements spec.md §4.8 outbound initiate_session.
func (m *Manager) InitiateSession(peer PeerId, targetSet []wid.SchemaId, mode Mode) (*OutMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.findByTargetSet(peer, targetSet); existing != nil {
		return nil, werrors.New(werrors.KindReplicationDuplicateSession, "outbound session already exists for target set")
	}

	id := m.nextID(peer)
	m.add(peer, &Session{ID: id, Peer: peer, TargetSet: targetSet, Mode: mode, Local: true, State: StatePending})

	return &OutMessage{
		Peer:        peer,
		SessionId:   id,
		Kind:        KindSyncRequest,
		SyncRequest: &SyncRequestPayload{Mode: mode, TargetSet: targetSet},
	}, nil
}

// HandleSyncRequest implements spec.md §4.8 inbound SyncRequest, including
// the peer-id tie-break rule for concurrent session collisions.
func (m *Manager) HandleSyncRequest(ctx context.Context, peer PeerId, remotePeer PeerId, sessionID uint64, mode Mode, targetSet []wid.SchemaId) ([]*OutMessage, error) {
	if mode != ModeLogHeight {
		return nil, werrors.New(werrors.KindReplicationUnsupportedMode, "mode %d is not supported", mode)
	}

	m.mu.Lock()
	existing := m.findByID(peer, sessionID)
	if existing != nil {
		if existing.Local && existing.State == StatePending {
			if m.LocalPeerId < remotePeer {
				m.remove(peer, sessionID)
				accepted := &Session{ID: sessionID, Peer: peer, TargetSet: targetSet, Mode: mode, Local: false, State: StatePending}
				m.add(peer, accepted)
				needsReinit := !sameTargetSet(existing.TargetSet, targetSet)
				m.mu.Unlock()

				msgs, err := m.installInbound(ctx, peer, accepted)
				if err != nil {
					return nil, err
				}
				if needsReinit {
					reinit, err := m.InitiateSession(peer, existing.TargetSet, existing.Mode)
					if err != nil {
						return nil, err
					}
					msgs = append(msgs, reinit)
				}
				return msgs, nil
			}
			m.mu.Unlock()
			return nil, nil // ignore theirs; ours wins the tie-break
		}

		m.mu.Unlock()
		return nil, werrors.DuplicateSession(duplicateVariant(existing))
	}

	if bySet := m.findByTargetSet(peer, targetSet); bySet != nil {
		if bySet.Local && bySet.State == StatePending {
			if m.LocalPeerId < remotePeer {
				m.remove(peer, bySet.ID)
				accepted := &Session{ID: sessionID, Peer: peer, TargetSet: targetSet, Mode: mode, Local: false, State: StatePending}
				m.add(peer, accepted)
				m.mu.Unlock()
				return m.installInbound(ctx, peer, accepted)
			}
			m.mu.Unlock()
			return nil, nil
		}
		m.mu.Unlock()
		return nil, werrors.DuplicateSession(duplicateVariant(bySet))
	}

	session := &Session{ID: sessionID, Peer: peer, TargetSet: targetSet, Mode: mode, Local: false, State: StatePending}
	m.add(peer, session)
	m.mu.Unlock()

	return m.installInbound(ctx, peer, session)
}

func duplicateVariant(s *Session) string {
	switch {
	case s.Local && s.State == StatePending:
		return "pending"
	case s.State == StateEstablished:
		return "established"
	case s.State == StateDone:
		return "done"
	default:
		return "existing-target-set"
	}
}

// installInbound emits the initial log-height messages for a freshly
// installed inbound session (spec.md §4.8 "install a new inbound session
// and emit initial messages").
func (m *Manager) installInbound(ctx context.Context, peer PeerId, s *Session) ([]*OutMessage, error) {
	included, err := logheight.IncludedDocuments(ctx, m.Store, m.Registry, s.TargetSet)
	if err != nil {
		return nil, err
	}
	heights, err := m.Store.GetDocumentLogHeights(ctx, included)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	s.sentHave = true
	if len(heights) == 0 {
		s.localDone = true
		if s.State != StateDone {
			s.State = StateEstablished
		}
	}
	m.mu.Unlock()

	return []*OutMessage{{
		Peer:      peer,
		SessionId: s.ID,
		Kind:      KindHave,
		Have:      &HavePayload{LogHeights: heights},
	}}, nil
}

// HandleHave implements spec.md §4.8 incoming Have: computing the diff and
// streaming the entries the peer needs, in materialization-safe order.
func (m *Manager) HandleHave(ctx context.Context, peer PeerId, sessionID uint64, remoteLogHeights []store.AuthorLogHeights) ([]*OutMessage, error) {
	m.mu.Lock()
	s := m.findByID(peer, sessionID)
	if s == nil {
		m.mu.Unlock()
		return nil, werrors.New(werrors.KindReplicationNoSessionFound, "no session %d for peer", sessionID)
	}
	targetSet := s.TargetSet
	alreadySentHave := s.sentHave
	m.mu.Unlock()

	var out []*OutMessage
	if !alreadySentHave {
		msgs, err := m.installInbound(ctx, peer, s)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}

	responses, err := logheight.EntryResponses(ctx, m.Store, m.Registry, targetSet, remoteLogHeights)
	if err != nil {
		return nil, err
	}
	for i := range responses {
		r := responses[i]
		out = append(out, &OutMessage{Peer: peer, SessionId: sessionID, Kind: KindEntry, Entry: &r})
	}
	out = append(out, &OutMessage{Peer: peer, SessionId: sessionID, Kind: KindSyncDone, SyncDone: &SyncDonePayload{Live: false}})

	m.mu.Lock()
	s.localDone = true
	if s.remoteDone {
		s.State = StateDone
	} else if s.State != StateDone {
		s.State = StateEstablished
	}
	m.mu.Unlock()

	return out, nil
}

// HandleEntry implements spec.md §4.8 incoming Entry: routing to ingest,
// swallowing DuplicateEntry/SchemaNotFound as expected races.
func (m *Manager) HandleEntry(ctx context.Context, peer PeerId, sessionID uint64, encodedEntry, encodedOperation []byte) error {
	m.mu.Lock()
	s := m.findByID(peer, sessionID)
	m.mu.Unlock()
	if s == nil {
		return werrors.New(werrors.KindReplicationNoSessionFound, "no session %d for peer", sessionID)
	}

	_, err := m.Ingester.HandleEntry(ctx, encodedEntry, encodedOperation)
	if err != nil {
		if werrors.Is(err, werrors.KindDuplicateEntry) || werrors.Is(err, werrors.KindSchemaNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// HandleSyncDone implements spec.md §4.8 incoming SyncDone.
func (m *Manager) HandleSyncDone(peer PeerId, sessionID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findByID(peer, sessionID)
	if s == nil {
		return
	}
	s.remoteDone = true
	if s.localDone {
		m.remove(peer, sessionID)
		return
	}
	s.State = StateEstablished
}

// RemoveSessions purges all sessions for peer, used on disconnect (spec.md
// §4.8 cancellation).
func (m *Manager) RemoveSessions(peer PeerId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, peer)
}
