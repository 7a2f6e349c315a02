package coachsync

import "sync"

// PresenceTracker maintains the set of counterparts currently online.
// Membership changes only through explicit online_status events — there is
// no time-based expiry. Seeded from the Room Directory refresh.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]struct{})}
}

// IsOnline reports whether the given counterpart is online.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Apply handles an online_status event. Idempotent set membership.
func (p *PresenceTracker) Apply(ev PresenceEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Online {
		p.online[ev.UserID] = struct{}{}
	} else {
		delete(p.online, ev.UserID)
	}
}

// Seed initializes membership from each room's reported online flag.
func (p *PresenceTracker) Seed(rooms []Room) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range rooms {
		if r.CounterpartID == "" {
			continue
		}
		if r.IsOnline {
			p.online[r.CounterpartID] = struct{}{}
		} else {
			delete(p.online, r.CounterpartID)
		}
	}
}
