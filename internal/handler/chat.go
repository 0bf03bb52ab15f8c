package handler

import (
	"github.com/gofiber/fiber/v2"

	"canvas-backend/internal/cache"
)

// ChatHandler serves the cached chat backlog. Live chat travels over the
// websocket; this endpoint only exists so late joiners can catch up.
type ChatHandler struct {
	redis *cache.RedisClient // optional
	limit int64
}

func NewChatHandler(redis *cache.RedisClient, limit int) *ChatHandler {
	if limit <= 0 {
		limit = 100
	}
	return &ChatHandler{redis: redis, limit: int64(limit)}
}

// GetRecentMessages returns the last messages of a board. Without Redis the
// backlog is simply empty.
func (h *ChatHandler) GetRecentMessages(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	count := int64(c.QueryInt("count", 50))
	if count < 1 {
		count = 1
	}
	if count > h.limit {
		count = h.limit
	}

	if h.redis == nil {
		return c.JSON(fiber.Map{"boardId": boardID, "messages": []cache.ChatMessage{}})
	}

	messages, err := h.redis.GetRecentChatMessages(c.Context(), boardID, count)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load chat history"})
	}
	return c.JSON(fiber.Map{"boardId": boardID, "messages": messages})
}
