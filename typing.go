package coachsync

import (
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator lives without a refreshing
// event.
const DefaultTypingTTL = 5 * time.Second

// TypingTracker holds the short-lived per-room set of counterparts currently
// typing. Entries expire after the TTL even without an explicit stop event;
// expiry is evaluated lazily against the injected clock on read.
type TypingTracker struct {
	clock Clock
	ttl   time.Duration

	mu    sync.Mutex
	rooms map[string]map[string]time.Time // roomID → userID → expiry
}

// NewTypingTracker creates a tracker. Pass nil/0 for production defaults.
func NewTypingTracker(clock Clock, ttl time.Duration) *TypingTracker {
	if clock == nil {
		clock = SystemClock()
	}
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		clock: clock,
		ttl:   ttl,
		rooms: make(map[string]map[string]time.Time),
	}
}

// Apply handles a typing event: isTyping=true refreshes the expiry,
// isTyping=false clears immediately.
func (t *TypingTracker) Apply(ev TypingEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !ev.IsTyping {
		if users, ok := t.rooms[ev.RoomID]; ok {
			delete(users, ev.UserID)
		}
		return
	}
	users := t.rooms[ev.RoomID]
	if users == nil {
		users = make(map[string]time.Time)
		t.rooms[ev.RoomID] = users
	}
	users[ev.UserID] = t.clock.Now().Add(t.ttl)
}

// TypingUsers returns the non-expired typing set for a room. Expired entries
// are pruned as a side effect.
func (t *TypingTracker) TypingUsers(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.rooms[roomID]
	if len(users) == 0 {
		return nil
	}
	now := t.clock.Now()
	var out []string
	for id, expiry := range users {
		if now.After(expiry) {
			delete(users, id)
			continue
		}
		out = append(out, id)
	}
	return out
}
