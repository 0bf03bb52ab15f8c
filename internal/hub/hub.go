package hub

import (
	"log"
	"sync"
	"time"
)

// Conn is the transport a session writes to. *websocket.Conn satisfies it;
// tests substitute a fake.
type Conn interface {
	WriteJSON(v any) error
}

// cursorColors is the fixed presentation palette. When more users than
// colors share a board, the first color is reused; collisions are accepted.
var cursorColors = []string{
	"#FF6B6B", // red
	"#4ECDC4", // teal
	"#45B7D1", // blue
	"#96CEB4", // green
	"#FFEAA7", // yellow
	"#DDA0DD", // plum
	"#98D8C8", // mint
	"#F7DC6F", // gold
	"#BB8FCE", // purple
	"#85C1E9", // light blue
}

const (
	// DefaultVoiceChannelID is the reserved id of the per-board default
	// channel. It is lazily created and cannot be removed.
	DefaultVoiceChannelID   = "voice-general"
	defaultVoiceChannelName = "Allgemein"
)

// Session is one live connection of one user to one board. It exists only
// for the lifetime of the connection and is never persisted.
type Session struct {
	BoardID     string
	UserID      string
	DisplayName string
	Color       string
	AvatarURL   *string
	CursorX     float64
	CursorY     float64
	ConnectedAt time.Time

	conn    Conn
	writeMu sync.Mutex
}

// Send writes one message to the session transport. Writes are serialized
// per connection.
func (s *Session) Send(msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// boardState bundles everything the hub tracks for one board behind a
// board-scoped lock, so activity on one board never blocks another.
type boardState struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	voiceChannels map[string]map[string]any
	voiceUsers    map[string]string
	regions       map[string]map[string]any
}

func newBoardState() *boardState {
	return &boardState{
		sessions:      make(map[string]*Session),
		voiceChannels: make(map[string]map[string]any),
		voiceUsers:    make(map[string]string),
		regions:       make(map[string]map[string]any),
	}
}

// ensureDefaultChannelLocked requires b.mu held for writing.
func (b *boardState) ensureDefaultChannelLocked() {
	if _, ok := b.voiceChannels[DefaultVoiceChannelID]; !ok {
		b.voiceChannels[DefaultVoiceChannelID] = map[string]any{
			"id":   DefaultVoiceChannelID,
			"name": defaultVoiceChannelName,
		}
	}
}

// Hub tracks who is connected to which board and fans messages out to them.
// It is the single owner of session state.
type Hub struct {
	mu     sync.RWMutex
	boards map[string]*boardState
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{boards: make(map[string]*boardState)}
}

func (h *Hub) board(boardID string) *boardState {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.boards[boardID]
	if !ok {
		b = newBoardState()
		h.boards[boardID] = b
	}
	return b
}

// peek returns the board state without creating it.
func (h *Hub) peek(boardID string) *boardState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.boards[boardID]
}

// Connect registers a new session, assigns a cursor color and default voice
// channel membership, announces the user to the board and replies with the
// current presence state (user list, voice channels, memberships, regions).
// A stale session under the same user id is replaced: last connect wins.
func (h *Hub) Connect(boardID, userID, displayName string, conn Conn) *Session {
	b := h.board(boardID)

	b.mu.Lock()
	used := make(map[string]bool, len(b.sessions))
	for _, s := range b.sessions {
		used[s.Color] = true
	}
	color := cursorColors[0]
	for _, c := range cursorColors {
		if !used[c] {
			color = c
			break
		}
	}

	session := &Session{
		BoardID:     boardID,
		UserID:      userID,
		DisplayName: displayName,
		Color:       color,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
	b.sessions[userID] = session

	b.ensureDefaultChannelLocked()
	b.voiceUsers[userID] = DefaultVoiceChannelID

	others := make([]map[string]any, 0, len(b.sessions)-1)
	for _, s := range b.sessions {
		if s.UserID == userID {
			continue
		}
		others = append(others, map[string]any{
			"userId":      s.UserID,
			"displayName": s.DisplayName,
			"color":       s.Color,
			"cursorX":     s.CursorX,
			"cursorY":     s.CursorY,
			"avatarUrl":   s.AvatarURL,
			"channelId":   b.voiceUsers[s.UserID],
		})
	}
	channels := b.voiceChannelListLocked()
	memberships := b.voiceUserListLocked()
	regions := b.regionListLocked()
	b.mu.Unlock()

	h.Broadcast(boardID, map[string]any{
		"type":        "user_joined",
		"userId":      userID,
		"displayName": displayName,
		"color":       color,
		"avatarUrl":   nil,
		"channelId":   DefaultVoiceChannelID,
	}, userID)

	// Full presence sync for the newcomer. A failed write here is handled
	// like any other dead transport on the next send attempt.
	for _, msg := range []map[string]any{
		{"type": "users_list", "users": others},
		{"type": "voice_channels_sync", "channels": channels},
		{"type": "voice_channel_users", "users": memberships},
		{"type": "workspace_regions_sync", "regions": regions},
	} {
		if err := session.Send(msg); err != nil {
			log.Printf("[Hub] initial sync failed for %s on board %s: %v", userID, boardID, err)
			break
		}
	}

	return session
}

// Disconnect removes a session and its voice membership, returning the
// channel the user was in so the caller can broadcast the leave notice.
// The board's session set is pruned as soon as it empties; the channel and
// region registries survive while they still hold content.
func (h *Hub) Disconnect(boardID, userID string) (channelID string) {
	b := h.peek(boardID)
	if b == nil {
		return ""
	}

	b.mu.Lock()
	channelID = b.voiceUsers[userID]
	delete(b.sessions, userID)
	delete(b.voiceUsers, userID)
	empty := len(b.sessions) == 0 && len(b.regions) == 0 && !b.hasCustomChannelsLocked()
	b.mu.Unlock()

	if empty {
		h.mu.Lock()
		if cur, ok := h.boards[boardID]; ok && cur == b {
			delete(h.boards, boardID)
		}
		h.mu.Unlock()
	}
	return channelID
}

func (b *boardState) hasCustomChannelsLocked() bool {
	for id := range b.voiceChannels {
		if id != DefaultVoiceChannelID {
			return true
		}
	}
	return false
}

// Broadcast delivers a message to every session on the board except
// excludeUserID. Delivery runs against a snapshot of the session set; a
// failed write marks that session as implicitly disconnected and the reaping
// happens after the fan-out pass, so one dead transport never aborts
// delivery to the rest.
func (h *Hub) Broadcast(boardID string, msg any, excludeUserID string) {
	b := h.peek(boardID)
	if b == nil {
		return
	}

	b.mu.RLock()
	recipients := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		if excludeUserID != "" && s.UserID == excludeUserID {
			continue
		}
		recipients = append(recipients, s)
	}
	b.mu.RUnlock()

	var failed []string
	for _, s := range recipients {
		if err := s.Send(msg); err != nil {
			log.Printf("[Hub] send to %s on board %s failed: %v", s.UserID, boardID, err)
			failed = append(failed, s.UserID)
		}
	}
	for _, userID := range failed {
		h.Disconnect(boardID, userID)
	}
}

// SendTo unicasts to one session. An unknown user is a no-op; a failed write
// is an implicit disconnect.
func (h *Hub) SendTo(boardID, userID string, msg any) {
	b := h.peek(boardID)
	if b == nil {
		return
	}

	b.mu.RLock()
	s := b.sessions[userID]
	b.mu.RUnlock()
	if s == nil {
		return
	}

	if err := s.Send(msg); err != nil {
		log.Printf("[Hub] send to %s on board %s failed: %v", userID, boardID, err)
		h.Disconnect(boardID, userID)
	}
}

// HasSession reports whether the user currently holds a session on the board.
func (h *Hub) HasSession(boardID, userID string) bool {
	b := h.peek(boardID)
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.sessions[userID]
	return ok
}

// SessionCount returns the number of live sessions on a board.
func (h *Hub) SessionCount(boardID string) int {
	b := h.peek(boardID)
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// UpdateCursor stores the last-known cursor position of a session.
func (h *Hub) UpdateCursor(boardID, userID string, x, y float64) {
	b := h.peek(boardID)
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[userID]; ok {
		s.CursorX = x
		s.CursorY = y
	}
}

// Profile is a snapshot of a session's presentation state.
type Profile struct {
	UserID      string
	DisplayName string
	Color       string
	AvatarURL   *string
}

// GetProfile returns a snapshot of a session's presentation state.
func (h *Hub) GetProfile(boardID, userID string) (Profile, bool) {
	b := h.peek(boardID)
	if b == nil {
		return Profile{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[userID]
	if !ok {
		return Profile{}, false
	}
	return Profile{
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Color:       s.Color,
		AvatarURL:   s.AvatarURL,
	}, true
}

// UpdateProfile mutates display name and/or avatar. It returns the updated
// profile and whether anything actually changed, so the dispatch layer can
// skip the broadcast for no-op updates.
func (h *Hub) UpdateProfile(boardID, userID string, displayName, avatarURL *string) (Profile, bool) {
	b := h.peek(boardID)
	if b == nil {
		return Profile{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[userID]
	if !ok {
		return Profile{}, false
	}

	changed := false
	if displayName != nil && *displayName != s.DisplayName {
		s.DisplayName = *displayName
		changed = true
	}
	if avatarURL != nil && (s.AvatarURL == nil || *s.AvatarURL != *avatarURL) {
		s.AvatarURL = avatarURL
		changed = true
	}
	return Profile{
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Color:       s.Color,
		AvatarURL:   s.AvatarURL,
	}, changed
}
