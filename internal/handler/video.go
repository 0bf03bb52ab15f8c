package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	lkauth "github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"canvas-backend/internal/config"
)

// VideoHandler issues LiveKit access tokens for voice-channel rooms and
// proxies participant listings. Rooms are named `<boardId>:<channelId>` so a
// channel maps 1:1 onto a LiveKit room.
type VideoHandler struct {
	cfg  *config.Config
	room *lksdk.RoomServiceClient
}

func NewVideoHandler(cfg *config.Config) *VideoHandler {
	return &VideoHandler{
		cfg:  cfg,
		room: lksdk.NewRoomServiceClient(cfg.LiveKit.Host, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret),
	}
}

type VideoTokenRequest struct {
	BoardID     string `json:"boardId"`
	ChannelID   string `json:"channelId"`
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
}

// GenerateToken creates a LiveKit access token for one participant.
func (h *VideoHandler) GenerateToken(c *fiber.Ctx) error {
	var req VideoTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.BoardID == "" || req.ChannelID == "" || req.Identity == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "boardId, channelId and identity are required"})
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Identity
	}

	roomName := req.BoardID + ":" + req.ChannelID

	at := lkauth.NewAccessToken(h.cfg.LiveKit.APIKey, h.cfg.LiveKit.APISecret)
	grant := &lkauth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.AddGrant(grant).
		SetIdentity(req.Identity).
		SetName(req.DisplayName).
		SetValidFor(24 * time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate token"})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"room":  roomName,
		"host":  h.cfg.LiveKit.Host,
	})
}

// ListParticipants returns the connected participants of a room.
func (h *VideoHandler) ListParticipants(c *fiber.Ctx) error {
	roomName := c.Query("room")
	if roomName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "room query parameter is required"})
	}

	res, err := h.room.ListParticipants(c.Context(), &livekit.ListParticipantsRequest{
		Room: roomName,
	})
	if err != nil {
		// The room not existing yet just means nobody joined.
		return c.JSON(fiber.Map{"room": roomName, "participants": []fiber.Map{}})
	}

	participants := make([]fiber.Map, 0, len(res.Participants))
	for _, p := range res.Participants {
		participants = append(participants, fiber.Map{
			"identity": p.Identity,
			"name":     p.Name,
			"state":    p.State.String(),
			"joinedAt": p.JoinedAt,
		})
	}
	return c.JSON(fiber.Map{"room": roomName, "participants": participants})
}
