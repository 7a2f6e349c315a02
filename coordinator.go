package coachsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// previewLimit caps room-list previews.
const previewLimit = 80

// Config configures a Coordinator session.
type Config struct {
	PushURL string // base push-channel URL
	Token   string // session token for the push channel
	SelfID  string // this user's id, used to suppress self echoes

	HistoryPageSize      int // messages fetched per page on room open (default 50)
	TypingTTL            time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	Clock  Clock
	Dialer Dialer
	Logger *zap.Logger

	// OnUpdate, when set, is invoked after inbound events mutate engine
	// state, with the affected room id ("" for session-wide changes). The
	// consumer re-reads through the read API; no payload is carried.
	OnUpdate func(roomID string)
}

// Coordinator wires the engine together: it owns the HTTP client, the single
// push connection, the message store, the trackers, and the focused-room
// pointer, and exposes the one read API the UI consumes. All inbound push
// frames pass through its single router.
type Coordinator struct {
	client   *Client
	conn     *ConnManager
	store    *MessageStore
	presence *PresenceTracker
	typing   *TypingTracker
	rooms    *RoomDirectory
	log      *zap.Logger
	selfID   string
	pageSize int
	onUpdate func(roomID string)

	mu         sync.Mutex
	focused    string
	needRepair bool
}

// NewCoordinator creates a session around an authenticated API client.
func NewCoordinator(client *Client, cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	pageSize := cfg.HistoryPageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	co := &Coordinator{
		client:   client,
		store:    NewMessageStore(clock, logger),
		presence: NewPresenceTracker(),
		typing:   NewTypingTracker(clock, cfg.TypingTTL),
		rooms:    NewRoomDirectory(),
		log:      logger,
		selfID:   cfg.SelfID,
		pageSize: pageSize,
		onUpdate: cfg.OnUpdate,
	}
	co.conn = NewConnManager(ConnConfig{
		PushURL:              cfg.PushURL,
		Token:                cfg.Token,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Dialer:               cfg.Dialer,
		Clock:                clock,
		Logger:               logger,
	})
	co.conn.OnFrame(co.route)
	co.conn.OnStateChange(co.onConnState)
	return co
}

// Start fetches the room directory and opens the push channel.
func (co *Coordinator) Start(ctx context.Context) error {
	if err := co.RefreshRooms(ctx); err != nil {
		return err
	}
	return co.conn.Connect(ctx)
}

// Close tears the session down. Terminal.
func (co *Coordinator) Close() error {
	return co.conn.Disconnect()
}

// ============================================================================
// Read API
// ============================================================================

// Messages returns the ordered message log for a room.
func (co *Coordinator) Messages(roomID string) []Message {
	return co.store.Messages(roomID)
}

// Rooms returns the directory sorted by recency.
func (co *Coordinator) Rooms() []Room {
	return co.rooms.List()
}

// TypingUsers returns who is currently typing in a room.
func (co *Coordinator) TypingUsers(roomID string) []string {
	return co.typing.TypingUsers(roomID)
}

// IsOnline reports a counterpart's presence.
func (co *Coordinator) IsOnline(userID string) bool {
	return co.presence.IsOnline(userID)
}

// ConnState returns the push-channel state.
func (co *Coordinator) ConnState() ConnState {
	return co.conn.State()
}

// FocusedRoom returns the currently focused room id, if any.
func (co *Coordinator) FocusedRoom() string {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.focused
}

// ============================================================================
// Outbound paths
// ============================================================================

// SendText appends an optimistic entry, persists it over HTTP, reconciles on
// ack, and mirrors the confirmed message onto the push channel. A transient
// failure is absorbed into status=failed on the returned localId; only
// session-fatal errors are returned.
func (co *Coordinator) SendText(ctx context.Context, roomID, body string) (string, error) {
	localID := co.store.AppendOptimistic(roomID, Draft{Body: body, Kind: KindText})
	sm, err := co.client.CreateMessage(ctx, roomID, body, KindText)
	return co.finishSend(ctx, roomID, localID, sm, err)
}

// SendAttachment uploads a file and sends it as a message, with the same
// optimistic lifecycle as SendText.
func (co *Coordinator) SendAttachment(ctx context.Context, roomID, fileName string, data []byte) (string, error) {
	kind := kindForMime(guessMimeType(fileName))
	localID := co.store.AppendOptimistic(roomID, Draft{
		Body:          fileName,
		Kind:          kind,
		AttachmentRef: fileName,
	})
	sm, err := co.client.Upload(ctx, roomID, data, &UploadOptions{FileName: fileName, Kind: kind})
	return co.finishSend(ctx, roomID, localID, sm, err)
}

func (co *Coordinator) finishSend(ctx context.Context, roomID, localID string, sm *ServerMessage, err error) (string, error) {
	if err != nil {
		co.store.MarkFailed(localID)
		if IsFatal(err) {
			return localID, err
		}
		co.log.Warn("send failed", zap.String("roomId", roomID),
			zap.String("localId", localID), zap.Error(err))
		return localID, nil
	}

	co.store.ReconcileSent(localID, *sm)
	co.rooms.Touch(roomID, preview(*sm), sm.CreatedAt)

	// Mirror the confirmed message so other participants' push listeners
	// receive it. Dropped silently when the channel is down: the message is
	// already persisted server-side.
	ev := MessageEvent{Type: FrameMessage, RoomID: roomID, Message: *sm}
	if err := co.conn.Send(ctx, ev); err != nil {
		co.log.Debug("broadcast failed", zap.Error(err))
	}
	return localID, nil
}

// SendTyping reports the local user's typing state to the push channel.
// Debouncing a flood of these is the caller's concern.
func (co *Coordinator) SendTyping(ctx context.Context, roomID string, isTyping bool) error {
	return co.conn.Send(ctx, TypingEvent{
		Type:     FrameTyping,
		RoomID:   roomID,
		UserID:   co.selfID,
		IsTyping: isTyping,
	})
}

// Retract removes a failed entry from the log.
func (co *Coordinator) Retract(localID string) bool {
	return co.store.Retract(localID)
}

// ============================================================================
// Room lifecycle
// ============================================================================

// RefreshRooms replaces the directory from the collaborator API and reseeds
// presence from the reported online flags.
func (co *Coordinator) RefreshRooms(ctx context.Context) error {
	rooms, err := co.client.ListRooms(ctx)
	if err != nil {
		return err
	}
	co.rooms.Replace(rooms)
	co.presence.Seed(rooms)
	return nil
}

// FocusRoom switches the focused room: loads history into the store, marks
// everything read locally, resets the unread counter, and issues the
// server-side read receipt. Transient failures are absorbed (logged);
// session-fatal errors propagate.
func (co *Coordinator) FocusRoom(ctx context.Context, roomID string) error {
	co.mu.Lock()
	co.focused = roomID
	co.mu.Unlock()

	if roomID == "" {
		return nil
	}
	if err := co.loadHistory(ctx, roomID); err != nil {
		if IsFatal(err) {
			return err
		}
		co.log.Warn("history load failed", zap.String("roomId", roomID), zap.Error(err))
	}
	co.markRoomRead(ctx, roomID)
	return nil
}

func (co *Coordinator) loadHistory(ctx context.Context, roomID string) error {
	msgs, err := co.client.ListMessages(ctx, roomID, 1, co.pageSize)
	if err != nil {
		return err
	}
	merged := co.store.MergeHistory(roomID, msgs, co.selfID)
	if merged > 0 {
		co.log.Debug("history merged",
			zap.String("roomId", roomID), zap.Int("count", merged))
	}
	return nil
}

func (co *Coordinator) markRoomRead(ctx context.Context, roomID string) {
	if last := lastServerID(co.store.Messages(roomID)); last != "" {
		co.store.MarkReadThrough(roomID, last)
	}
	co.rooms.ResetUnread(roomID)
	if err := co.client.MarkRead(ctx, roomID); err != nil {
		co.log.Warn("read receipt failed", zap.String("roomId", roomID), zap.Error(err))
	}
}

// ============================================================================
// Inbound routing
// ============================================================================

// route is the single dispatch point for inbound push frames.
func (co *Coordinator) route(raw []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		co.log.Debug("undecodable frame dropped", zap.Error(err))
		return
	}

	switch head.Type {
	case FrameMessage:
		var ev MessageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			co.log.Debug("bad message frame", zap.Error(err))
			return
		}
		co.handleInboundMessage(ev)

	case FrameTyping:
		var ev TypingEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			co.log.Debug("bad typing frame", zap.Error(err))
			return
		}
		co.typing.Apply(ev)
		co.notify(ev.RoomID)

	case FramePresence:
		var ev PresenceEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			co.log.Debug("bad presence frame", zap.Error(err))
			return
		}
		co.presence.Apply(ev)
		co.rooms.SetCounterpartOnline(ev.UserID, ev.Online)
		co.notify("")

	case FrameReaction:
		var ev ReactionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			co.log.Debug("bad reaction frame", zap.Error(err))
			return
		}
		co.store.AddReaction(ev.ServerID, ev.Emoji)
		co.notify(ev.RoomID)

	default:
		co.log.Debug("unknown frame type", zap.String("type", head.Type))
	}
}

func (co *Coordinator) handleInboundMessage(ev MessageEvent) {
	sm := ev.Message
	if sm.RoomID == "" {
		sm.RoomID = ev.RoomID
	}
	if co.selfID != "" && sm.SenderID == co.selfID {
		sm.SenderIsSelf = true
	}

	if !co.store.ApplyInbound(sm) {
		return // self echo or duplicate replay
	}

	co.rooms.Touch(sm.RoomID, preview(sm), sm.CreatedAt)
	if co.FocusedRoom() == sm.RoomID {
		if sm.ID != "" {
			co.store.MarkReadThrough(sm.RoomID, sm.ID)
		}
	} else {
		co.rooms.IncrementUnread(sm.RoomID)
	}
	co.notify(sm.RoomID)
}

func (co *Coordinator) notify(roomID string) {
	if co.onUpdate != nil {
		co.onUpdate(roomID)
	}
}

// onConnState repairs state after a reconnect gap: events missed while
// disconnected are not replayed, so the directory is re-fetched and the
// focused room's history is re-synced.
func (co *Coordinator) onConnState(s ConnState) {
	co.mu.Lock()
	switch s {
	case StateReconnecting:
		co.needRepair = true
		co.mu.Unlock()
	case StateConnected:
		repair := co.needRepair
		co.needRepair = false
		co.mu.Unlock()
		if repair {
			go co.repair(context.Background())
		}
	default:
		co.mu.Unlock()
	}
}

func (co *Coordinator) repair(ctx context.Context) {
	if err := co.RefreshRooms(ctx); err != nil {
		co.log.Warn("post-reconnect refresh failed", zap.Error(err))
		return
	}
	if focused := co.FocusedRoom(); focused != "" {
		if err := co.loadHistory(ctx, focused); err != nil {
			co.log.Warn("post-reconnect history sync failed",
				zap.String("roomId", focused), zap.Error(err))
			return
		}
		co.markRoomRead(ctx, focused)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func preview(sm ServerMessage) string {
	switch sm.Type {
	case KindImage:
		return "[image]"
	case KindVideo:
		return "[video]"
	case KindFile:
		return "[file]"
	}
	if len(sm.Content) <= previewLimit {
		return sm.Content
	}
	// Back up to a rune boundary so the cut never splits a multi-byte rune.
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(sm.Content[cut]) {
		cut--
	}
	return sm.Content[:cut]
}

func lastServerID(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ServerID != "" {
			return msgs[i].ServerID
		}
	}
	return ""
}
