package coachsync

import (
	"sort"
	"sync"
	"time"
)

// RoomDirectory is the list of conversation rooms with metadata kept
// consistent with the Message Store and Presence Tracker. Rooms are replaced
// wholesale on refresh; unread counts and online flags are mutated in place
// as events arrive.
type RoomDirectory struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRoomDirectory creates an empty directory.
func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{rooms: make(map[string]*Room)}
}

// Replace installs a fresh room list from the collaborator API, discarding
// the previous one.
func (d *RoomDirectory) Replace(rooms []Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rooms = make(map[string]*Room, len(rooms))
	for i := range rooms {
		r := rooms[i]
		d.rooms[r.ID] = &r
	}
}

// Get returns a copy of one room.
func (d *RoomDirectory) Get(roomID string) (Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return *r, true
}

// List returns all rooms sorted by recency (lastMessageTime, newest first).
func (d *RoomDirectory) List() []Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out
}

// Touch updates a room's preview and lastMessageTime after any message was
// sent or received in it.
func (d *RoomDirectory) Touch(roomID, preview string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.rooms[roomID]; ok {
		r.LastMessagePreview = preview
		if at.After(r.LastMessageTime) {
			r.LastMessageTime = at
		}
	}
}

// IncrementUnread bumps a room's unread counter.
func (d *RoomDirectory) IncrementUnread(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.rooms[roomID]; ok {
		r.UnreadCount++
	}
}

// ResetUnread zeroes a room's unread counter. This is the only operation
// that ever lowers it.
func (d *RoomDirectory) ResetUnread(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.rooms[roomID]; ok {
		r.UnreadCount = 0
	}
}

// SetCounterpartOnline flips the online flag on every room whose counterpart
// matches userID.
func (d *RoomDirectory) SetCounterpartOnline(userID string, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.rooms {
		if r.CounterpartID == userID {
			r.IsOnline = online
		}
	}
}
