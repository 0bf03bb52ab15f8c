package handler

import (
	"github.com/gofiber/fiber/v2"

	"canvas-backend/internal/hub"
	"canvas-backend/internal/presence"
)

// PresenceHandler reports who is on a board. The local hub answers for this
// process; the Redis mirror, when configured, adds sessions held by other
// servers.
type PresenceHandler struct {
	hub      *hub.Hub
	presence *presence.Manager // optional
}

func NewPresenceHandler(h *hub.Hub, mgr *presence.Manager) *PresenceHandler {
	return &PresenceHandler{hub: h, presence: mgr}
}

// GetBoardPresence returns the board roster.
func (h *PresenceHandler) GetBoardPresence(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	response := fiber.Map{
		"boardId":     boardID,
		"local_count": h.hub.SessionCount(boardID),
	}

	if h.presence != nil {
		roster, err := h.presence.GetBoardPresence(c.Context(), boardID)
		if err == nil {
			response["users"] = roster
			response["total_count"] = len(roster)
			return c.JSON(response)
		}
		// Mirror unavailable: fall through to the local answer.
	}

	response["total_count"] = h.hub.SessionCount(boardID)
	return c.JSON(response)
}
