package coachsync

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// MessageStore
// ============================================================================

// MessageStore holds the per-room ordered message log and owns the
// optimistic-entry lifecycle. The visible order of a room's messages is the
// order of AppendOptimistic/ApplyInbound calls — reconciliation mutates in
// place and never re-sorts, so a fast double-send renders in the order sent
// regardless of ack latency.
type MessageStore struct {
	log   *zap.Logger
	clock Clock

	mu       sync.RWMutex
	rooms    map[string][]*Message
	byLocal  map[string]*Message
	byServer map[string]*Message
}

// NewMessageStore creates an empty store. Pass nil for production defaults.
func NewMessageStore(clock Clock, logger *zap.Logger) *MessageStore {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageStore{
		log:      logger,
		clock:    clock,
		rooms:    make(map[string][]*Message),
		byLocal:  make(map[string]*Message),
		byServer: make(map[string]*Message),
	}
}

// AppendOptimistic appends a pending self-sent message at the tail of the
// room's log and returns its fresh localId synchronously, so the caller can
// render before any network round trip.
func (s *MessageStore) AppendOptimistic(roomID string, d Draft) string {
	kind := d.Kind
	if kind == "" {
		kind = KindText
	}
	m := &Message{
		LocalID:       uuid.NewString(),
		RoomID:        roomID,
		SenderIsSelf:  true,
		Body:          d.Body,
		Kind:          kind,
		AttachmentRef: d.AttachmentRef,
		CreatedAt:     s.clock.Now(),
		Status:        StatusPending,
	}

	s.mu.Lock()
	s.rooms[roomID] = append(s.rooms[roomID], m)
	s.byLocal[m.LocalID] = m
	s.mu.Unlock()

	return m.LocalID
}

// ReconcileSent resolves a pending entry against the HTTP ack: serverId,
// server timestamp, and status=sent are copied in place, position in the log
// is unchanged. A missing localId (e.g. already reconciled) is logged only.
func (s *MessageStore) ReconcileSent(localID string, sm ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byLocal[localID]
	if !ok {
		s.log.Debug("reconcile miss", zap.String("localId", localID))
		return
	}
	if m.ServerID != "" && m.ServerID != sm.ID {
		s.log.Warn("reconcile with conflicting serverId, keeping first",
			zap.String("localId", localID),
			zap.String("have", m.ServerID), zap.String("got", sm.ID))
		return
	}

	m.ServerID = sm.ID
	if !sm.CreatedAt.IsZero() {
		m.CreatedAt = sm.CreatedAt
	}
	if sm.AttachmentURL != "" {
		m.AttachmentRef = sm.AttachmentURL
	}
	s.advanceStatus(m, StatusSent)
	if sm.ID != "" {
		s.byServer[sm.ID] = m
	}
}

// ApplyInbound merges a push-delivered message. Self-originated echoes are
// no-ops (the HTTP ack path already reconciled them); replays of an already
// known serverId are deduplicated. New counterpart messages append at the
// tail. Returns true if a new entry was created.
func (s *MessageStore) ApplyInbound(sm ServerMessage) bool {
	if sm.SenderIsSelf {
		s.log.Debug("self echo suppressed", zap.String("serverId", sm.ID))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sm.ID != "" {
		if existing, ok := s.byServer[sm.ID]; ok {
			s.advanceStatus(existing, inboundStatus(sm.Status))
			return false
		}
	}

	m := &Message{
		LocalID:       uuid.NewString(),
		ServerID:      sm.ID,
		RoomID:        sm.RoomID,
		SenderIsSelf:  false,
		Body:          sm.Content,
		Kind:          sm.Type,
		AttachmentRef: sm.AttachmentURL,
		CreatedAt:     sm.CreatedAt,
		Status:        inboundStatus(sm.Status),
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock.Now()
	}

	s.rooms[sm.RoomID] = append(s.rooms[sm.RoomID], m)
	s.byLocal[m.LocalID] = m
	if sm.ID != "" {
		s.byServer[sm.ID] = m
	}
	return true
}

// MarkFailed marks a pending entry failed. The entry stays visible so the
// user can retry (a retry is a fresh send with a new localId) or retract it.
func (s *MessageStore) MarkFailed(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byLocal[localID]
	if !ok {
		s.log.Debug("markFailed miss", zap.String("localId", localID))
		return
	}
	if m.Status == StatusPending {
		m.Status = StatusFailed
	}
}

// Retract removes a failed entry from the log. This is the only deletion the
// store supports.
func (s *MessageStore) Retract(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byLocal[localID]
	if !ok || m.Status != StatusFailed {
		return false
	}
	delete(s.byLocal, localID)
	entries := s.rooms[m.RoomID]
	for i, e := range entries {
		if e.LocalID == localID {
			s.rooms[m.RoomID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return true
}

// MarkReadThrough sets status=read on every confirmed entry at or before the
// given serverId in the room's log. An unknown serverId is ignored, so a
// stale cutoff can never mark entries beyond it.
func (s *MessageStore) MarkReadThrough(roomID, uptoServerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byServer[uptoServerID]; !ok {
		return
	}
	for _, m := range s.rooms[roomID] {
		if m.ServerID != "" {
			s.advanceStatus(m, StatusRead)
		}
		if m.ServerID == uptoServerID {
			return
		}
	}
}

// AddReaction unions an emoji into a confirmed message's reaction set.
func (s *MessageStore) AddReaction(serverID, emoji string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byServer[serverID]
	if !ok {
		s.log.Debug("reaction for unknown message", zap.String("serverId", serverID))
		return
	}
	for _, r := range m.Reactions {
		if r == emoji {
			return
		}
	}
	m.Reactions = append(m.Reactions, emoji)
}

// MergeHistory folds a fetched history page (newest-last) into the room's
// log. Entries already present (by serverId) are skipped, so re-opening a
// room after a reconnect gap never duplicates. The fetched order is
// authoritative for placement: unknowns older than every known entry in the
// page are prepended, unknowns after a known entry (messages missed during a
// connection gap) are appended, each group in fetched order.
func (s *MessageStore) MergeHistory(roomID string, msgs []ServerMessage, selfID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var older, newer []*Message
	sawKnown := false
	for _, sm := range msgs {
		if sm.ID == "" {
			continue
		}
		if _, ok := s.byServer[sm.ID]; ok {
			sawKnown = true
			continue
		}
		m := &Message{
			LocalID:       uuid.NewString(),
			ServerID:      sm.ID,
			RoomID:        roomID,
			SenderIsSelf:  sm.SenderIsSelf || (selfID != "" && sm.SenderID == selfID),
			Body:          sm.Content,
			Kind:          sm.Type,
			AttachmentRef: sm.AttachmentURL,
			CreatedAt:     sm.CreatedAt,
			Status:        inboundStatus(sm.Status),
		}
		if m.Kind == "" {
			m.Kind = KindText
		}
		if sawKnown {
			newer = append(newer, m)
		} else {
			older = append(older, m)
		}
	}
	if len(older)+len(newer) == 0 {
		return 0
	}

	for _, m := range older {
		s.byLocal[m.LocalID] = m
		s.byServer[m.ServerID] = m
	}
	for _, m := range newer {
		s.byLocal[m.LocalID] = m
		s.byServer[m.ServerID] = m
	}
	s.rooms[roomID] = append(older, s.rooms[roomID]...)
	s.rooms[roomID] = append(s.rooms[roomID], newer...)
	return len(older) + len(newer)
}

// Messages returns a copy of the room's log in append order.
func (s *MessageStore) Messages(roomID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.rooms[roomID]
	out := make([]Message, len(entries))
	for i, m := range entries {
		out[i] = *m
		if m.Reactions != nil {
			out[i].Reactions = append([]string{}, m.Reactions...)
		}
	}
	return out
}

// Get returns a copy of one entry by localId.
func (s *MessageStore) Get(localID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byLocal[localID]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// advanceStatus moves a message forward along pending→sent→delivered→read.
// Backward transitions and transitions out of failed are ignored.
func (s *MessageStore) advanceStatus(m *Message, next MessageStatus) {
	if m.Status == StatusFailed {
		return
	}
	if statusRank[next] > statusRank[m.Status] {
		m.Status = next
	}
}

func inboundStatus(wire string) MessageStatus {
	switch MessageStatus(wire) {
	case StatusSent:
		return StatusSent
	case StatusRead:
		return StatusRead
	default:
		return StatusDelivered
	}
}
