package handler

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/history"
	"canvas-backend/internal/hub"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/spatial"
)

// BoardWSHandler owns the realtime endpoint: it registers sessions with the
// hub, feeds canvas mutations into the spatial index and the event log, and
// routes every client message type to its broadcast or unicast.
type BoardWSHandler struct {
	hub      *hub.Hub
	spatial  *spatial.Registry
	history  *history.Registry
	redis    *cache.RedisClient // optional
	presence *presence.Manager  // optional
}

// NewBoardWSHandler creates a BoardWSHandler. redis and presenceMgr may be
// nil; chat caching and the cross-server roster mirror degrade to no-ops.
func NewBoardWSHandler(h *hub.Hub, sp *spatial.Registry, hist *history.Registry, redis *cache.RedisClient, presenceMgr *presence.Manager) *BoardWSHandler {
	return &BoardWSHandler{
		hub:      h,
		spatial:  sp,
		history:  hist,
		redis:    redis,
		presence: presenceMgr,
	}
}

// wsMessage is the union envelope of every client message. Unused fields
// stay at their zero value; each case reads only what it needs.
type wsMessage struct {
	Type string `json:"type"`

	X float64 `json:"x"`
	Y float64 `json:"y"`

	Object        map[string]any   `json:"object"`
	ObjectID      string           `json:"objectId"`
	Changes       map[string]any   `json:"changes"`
	PreviousState map[string]any   `json:"previousState"`
	Objects       []map[string]any `json:"objects"`

	Channel      map[string]any `json:"channel"`
	ChannelID    string         `json:"channelId"`
	TargetUserID string         `json:"targetUserId"`

	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`

	Viewport map[string]any `json:"viewport"`

	GroupID  string `json:"groupId"`
	Message  string `json:"message"`
	IsTyping bool   `json:"isTyping"`

	Region   map[string]any `json:"region"`
	RegionID string         `json:"regionId"`
}

// HandleWebSocket runs the read loop for one connection. Identity comes from
// the query string; a connection without a user id gets a throwaway guest id.
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	boardID, _ := c.Locals("boardId").(string)
	userID, _ := c.Locals("userId").(string)
	displayName, _ := c.Locals("displayName").(string)

	if boardID == "" {
		c.Close()
		return
	}
	if userID == "" {
		userID = "guest-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}
	if displayName == "" {
		displayName = "Anonymous"
	}

	session := h.hub.Connect(boardID, userID, displayName, c)
	log.Printf("[WS] %s (%s) connected to board %s", displayName, userID, boardID)

	h.mirrorPresence(boardID, userID, displayName, session.Color)
	defer h.dropPresence(boardID, userID)

	// Late joiners get the full canvas before any incremental updates.
	if objects := h.spatial.Get(boardID).AllObjects(); len(objects) > 0 {
		if err := session.Send(map[string]any{
			"type":    "board_sync",
			"objects": objects,
		}); err != nil {
			log.Printf("[WS] board_sync to %s failed: %v", userID, err)
		}
	}

	defer func() {
		channelID := h.hub.Disconnect(boardID, userID)
		h.hub.Broadcast(boardID, map[string]any{
			"type":   "user_left",
			"userId": userID,
		}, "")
		if channelID != "" {
			h.hub.Broadcast(boardID, map[string]any{
				"type":      "voice_channel_leave",
				"userId":    userID,
				"channelId": channelID,
			}, "")
		}
		log.Printf("[WS] %s disconnected from board %s", userID, boardID)
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(boardID, userID, raw)
	}
}

// dispatch routes one inbound frame. A frame that fails to parse or misses
// its required fields is dropped with a log line; the connection stays up.
func (h *BoardWSHandler) dispatch(boardID, userID string, raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[WS] malformed message from %s on board %s: %v", userID, boardID, err)
		return
	}

	switch msg.Type {
	case "cursor_move":
		h.hub.UpdateCursor(boardID, userID, msg.X, msg.Y)
		h.hub.Broadcast(boardID, map[string]any{
			"type":   "cursor_update",
			"userId": userID,
			"x":      msg.X,
			"y":      msg.Y,
		}, userID)

	case "object_create":
		h.handleObjectCreate(boardID, userID, msg)

	case "object_update":
		h.handleObjectUpdate(boardID, userID, msg)

	case "object_delete":
		h.handleObjectDelete(boardID, userID, msg)

	case "board_publish":
		h.handleBoardPublish(boardID, userID, msg)

	case "ping":
		h.hub.SendTo(boardID, userID, map[string]any{"type": "pong"})
		if h.presence != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = h.presence.UpdateHeartbeat(ctx, boardID, userID)
			}()
		}

	case "voice_channel_create", "voice_channel_update":
		if msg.Channel == nil {
			log.Printf("[WS] %s from %s without channel payload", msg.Type, userID)
			return
		}
		if !h.hub.UpsertVoiceChannel(boardID, msg.Channel) {
			return
		}
		event := "voice_channel_created"
		if msg.Type == "voice_channel_update" {
			event = "voice_channel_updated"
		}
		h.hub.Broadcast(boardID, map[string]any{
			"type":    event,
			"userId":  userID,
			"channel": msg.Channel,
		}, "")

	case "voice_channel_delete":
		if msg.ChannelID == "" {
			return
		}
		if !h.hub.RemoveVoiceChannel(boardID, msg.ChannelID) {
			return
		}
		h.hub.Broadcast(boardID, map[string]any{
			"type":      "voice_channel_deleted",
			"userId":    userID,
			"channelId": msg.ChannelID,
		}, "")

	case "voice_channel_join":
		if msg.ChannelID == "" {
			return
		}
		h.hub.SetVoiceUser(boardID, userID, msg.ChannelID)
		h.hub.Broadcast(boardID, map[string]any{
			"type":      "voice_channel_join",
			"userId":    userID,
			"channelId": msg.ChannelID,
		}, "")

	case "voice_channel_move":
		if msg.ChannelID == "" || msg.TargetUserID == "" {
			return
		}
		if !h.hub.HasSession(boardID, msg.TargetUserID) {
			return
		}
		h.hub.SetVoiceUser(boardID, msg.TargetUserID, msg.ChannelID)
		h.hub.Broadcast(boardID, map[string]any{
			"type":      "voice_channel_join",
			"userId":    msg.TargetUserID,
			"channelId": msg.ChannelID,
			"movedBy":   userID,
		}, "")

	case "call_start", "call_join", "call_end", "call_mute", "call_video", "call_decline",
		"webrtc_offer", "webrtc_answer", "webrtc_ice":
		h.relaySignal(boardID, userID, msg.TargetUserID, raw)

	case "user_profile":
		profile, changed := h.hub.UpdateProfile(boardID, userID, msg.DisplayName, msg.AvatarURL)
		if !changed {
			return
		}
		h.hub.Broadcast(boardID, map[string]any{
			"type":        "user_profile_update",
			"userId":      userID,
			"displayName": profile.DisplayName,
			"avatarUrl":   profile.AvatarURL,
		}, userID)

	case "presenter_start":
		name := ""
		if msg.DisplayName != nil {
			name = *msg.DisplayName
		} else if p, ok := h.hub.GetProfile(boardID, userID); ok {
			name = p.DisplayName
		}
		h.hub.Broadcast(boardID, map[string]any{
			"type":        "presenter_start",
			"userId":      userID,
			"displayName": name,
		}, "")

	case "presenter_viewport":
		h.hub.Broadcast(boardID, map[string]any{
			"type":     "presenter_viewport",
			"userId":   userID,
			"viewport": msg.Viewport,
		}, userID)

	case "presenter_end":
		h.hub.Broadcast(boardID, map[string]any{
			"type":   "presenter_end",
			"userId": userID,
		}, "")

	case "chat_message":
		h.handleChatMessage(boardID, userID, msg)

	case "chat_typing":
		h.hub.Broadcast(boardID, map[string]any{
			"type":     "chat_typing",
			"userId":   userID,
			"groupId":  msg.GroupID,
			"isTyping": msg.IsTyping,
		}, userID)

	case "workspace_region_create", "workspace_region_update":
		if msg.Region == nil {
			return
		}
		if !h.hub.UpsertRegion(boardID, msg.Region) {
			return
		}
		event := "workspace_region_created"
		if msg.Type == "workspace_region_update" {
			event = "workspace_region_updated"
		}
		h.hub.Broadcast(boardID, map[string]any{
			"type":   event,
			"userId": userID,
			"region": msg.Region,
		}, userID)

	case "workspace_region_delete":
		if msg.RegionID == "" {
			return
		}
		if !h.hub.RemoveRegion(boardID, msg.RegionID) {
			return
		}
		h.hub.Broadcast(boardID, map[string]any{
			"type":     "workspace_region_deleted",
			"userId":   userID,
			"regionId": msg.RegionID,
		}, userID)

	default:
		log.Printf("[WS] unknown message type %q from %s on board %s", msg.Type, userID, boardID)
	}
}

func (h *BoardWSHandler) handleObjectCreate(boardID, userID string, msg wsMessage) {
	if msg.Object == nil {
		log.Printf("[WS] object_create from %s without object payload", userID)
		return
	}
	objectID, _ := msg.Object["id"].(string)
	if objectID == "" {
		objectID = uuid.New().String()
		msg.Object["id"] = objectID
	}

	h.history.Get(boardID).Append(history.KindCreate, objectID, nil, msg.Object, userID)
	h.spatial.Get(boardID).Upsert(objectID, msg.Object)

	h.hub.Broadcast(boardID, map[string]any{
		"type":   "object_created",
		"userId": userID,
		"object": msg.Object,
	}, userID)
}

func (h *BoardWSHandler) handleObjectUpdate(boardID, userID string, msg wsMessage) {
	if msg.ObjectID == "" {
		log.Printf("[WS] object_update from %s without objectId", userID)
		return
	}
	changes := msg.Changes
	if changes == nil {
		changes = map[string]any{}
	}

	h.history.Get(boardID).Append(history.KindUpdate, msg.ObjectID, msg.PreviousState, changes, userID)

	// Merge onto whatever the index currently holds; fall back to the
	// client-reported previous state when the object is unknown here.
	idx := h.spatial.Get(boardID)
	base, ok := idx.Get(msg.ObjectID)
	if !ok {
		base = msg.PreviousState
	}
	merged := make(map[string]any, len(base)+len(changes))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range changes {
		merged[k] = v
	}
	merged["id"] = msg.ObjectID
	idx.Upsert(msg.ObjectID, merged)

	h.hub.Broadcast(boardID, map[string]any{
		"type":     "object_updated",
		"userId":   userID,
		"objectId": msg.ObjectID,
		"changes":  changes,
	}, userID)
}

func (h *BoardWSHandler) handleObjectDelete(boardID, userID string, msg wsMessage) {
	if msg.ObjectID == "" {
		log.Printf("[WS] object_delete from %s without objectId", userID)
		return
	}

	previous := msg.PreviousState
	if previous == nil {
		if current, ok := h.spatial.Get(boardID).Get(msg.ObjectID); ok {
			previous = current
		}
	}

	h.history.Get(boardID).Append(history.KindDelete, msg.ObjectID, previous, nil, userID)
	h.spatial.Get(boardID).Remove(msg.ObjectID)

	h.hub.Broadcast(boardID, map[string]any{
		"type":     "object_deleted",
		"userId":   userID,
		"objectId": msg.ObjectID,
	}, userID)
}

// handleBoardPublish bulk-loads a client-side canvas into the index and
// resyncs everyone else. Publishing is not an edit, so nothing is logged.
func (h *BoardWSHandler) handleBoardPublish(boardID, userID string, msg wsMessage) {
	if len(msg.Objects) == 0 {
		return
	}

	idx := h.spatial.Get(boardID)
	for _, obj := range msg.Objects {
		id, _ := obj["id"].(string)
		if id == "" {
			continue
		}
		idx.Upsert(id, obj)
	}

	h.hub.Broadcast(boardID, map[string]any{
		"type":    "board_sync",
		"objects": msg.Objects,
	}, userID)
}

// relaySignal forwards call and WebRTC signaling verbatim, stamped with the
// sender. A targetUserId makes it a unicast; an unknown target is dropped.
func (h *BoardWSHandler) relaySignal(boardID, userID, targetUserID string, raw []byte) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	payload["userId"] = userID

	if targetUserID != "" {
		h.hub.SendTo(boardID, targetUserID, payload)
		return
	}
	h.hub.Broadcast(boardID, payload, "")
}

func (h *BoardWSHandler) handleChatMessage(boardID, userID string, msg wsMessage) {
	if msg.Message == "" {
		return
	}

	displayName := ""
	if p, ok := h.hub.GetProfile(boardID, userID); ok {
		displayName = p.DisplayName
	}

	h.hub.Broadcast(boardID, map[string]any{
		"type":        "chat_message",
		"userId":      userID,
		"displayName": displayName,
		"groupId":     msg.GroupID,
		"message":     msg.Message,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}, userID)

	if h.redis != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = h.redis.AddChatMessage(ctx, boardID, &cache.ChatMessage{
				BoardID:     boardID,
				GroupID:     msg.GroupID,
				UserID:      userID,
				DisplayName: displayName,
				Message:     msg.Message,
			})
		}()
	}
}

func (h *BoardWSHandler) mirrorPresence(boardID, userID, displayName, color string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.presence.SetPresence(ctx, boardID, userID, displayName, color); err != nil {
		log.Printf("[WS] presence mirror for %s failed: %v", userID, err)
		return
	}
	_ = h.presence.PublishPresence(ctx, presence.PresenceData{
		BoardID:     boardID,
		UserID:      userID,
		DisplayName: displayName,
		Color:       color,
	})
}

func (h *BoardWSHandler) dropPresence(boardID, userID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.presence.RemovePresence(ctx, boardID, userID); err != nil {
		log.Printf("[WS] presence cleanup for %s failed: %v", userID, err)
	}
}
