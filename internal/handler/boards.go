package handler

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/history"
	"canvas-backend/internal/hub"
	"canvas-backend/internal/model"
	"canvas-backend/internal/spatial"
)

// BoardHandler is the board lifecycle surface. Deleting a board is the one
// place persistent rows and the in-memory collaboration state (index, log,
// hub registries, chat cache) are torn down together.
type BoardHandler struct {
	db      *gorm.DB
	spatial *spatial.Registry
	history *history.Registry
	hub     *hub.Hub
	redis   *cache.RedisClient // optional
}

func NewBoardHandler(db *gorm.DB, sp *spatial.Registry, hist *history.Registry, h *hub.Hub, redis *cache.RedisClient) *BoardHandler {
	return &BoardHandler{db: db, spatial: sp, history: hist, hub: h, redis: redis}
}

func newBoardID() string {
	h := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "board-" + h[:8] + "-" + h[8:13]
}

// ListBoards returns the caller's boards when authenticated, otherwise the
// most recent public boards.
func (h *BoardHandler) ListBoards(c *fiber.Ctx) error {
	query := h.db.Model(&model.Board{}).Order("updated_at DESC")

	if userID, ok := c.Locals("userID").(string); ok && userID != "" {
		query = query.Where("owner_id = ?", userID)
	} else {
		query = query.Limit(100)
	}

	var boards []model.Board
	if err := query.Find(&boards).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list boards"})
	}
	return c.JSON(fiber.Map{"boards": boards})
}

type CreateBoardRequest struct {
	Name string `json:"name"`
}

// CreateBoard creates a board row. The collaboration state (index, log, hub)
// is created lazily on first use, not here.
func (h *BoardHandler) CreateBoard(c *fiber.Ctx) error {
	var req CreateBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = "Untitled Board"
	}

	board := model.Board{
		ID:   newBoardID(),
		Name: strings.TrimSpace(req.Name),
	}
	if userID, ok := c.Locals("userID").(string); ok && userID != "" {
		board.OwnerID = &userID
	}

	if err := h.db.Create(&board).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create board"})
	}

	log.Printf("[Board] created %s (%s)", board.ID, board.Name)
	return c.Status(fiber.StatusCreated).JSON(board)
}

// GetBoard returns a board row plus its live collaboration stats.
func (h *BoardHandler) GetBoard(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	var board model.Board
	if err := h.db.First(&board, "id = ?", boardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Board not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load board"})
	}

	return c.JSON(fiber.Map{
		"board":         board,
		"active_users":  h.hub.SessionCount(boardID),
		"object_count":  h.spatial.Get(boardID).Stats().TotalObjects,
		"history_count": h.history.Get(boardID).Len(),
	})
}

// DeleteBoard removes the board and everything hanging off it: persisted
// objects and guest links, the spatial index, the event log, hub registries
// and the cached chat backlog. Owned boards can only be deleted by the owner.
func (h *BoardHandler) DeleteBoard(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	var board model.Board
	if err := h.db.First(&board, "id = ?", boardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Board not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load board"})
	}

	if board.OwnerID != nil {
		userID, _ := c.Locals("userID").(string)
		if userID != *board.OwnerID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only the owner can delete this board"})
		}
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("board_id = ?", boardID).Delete(&model.CanvasObject{}).Error; err != nil {
			return err
		}
		if err := tx.Where("board_id = ?", boardID).Delete(&model.GuestLink{}).Error; err != nil {
			return err
		}
		return tx.Delete(&board).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete board"})
	}

	h.spatial.Drop(boardID)
	h.history.Drop(boardID)
	h.hub.Drop(boardID)
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.redis.FlushBoard(ctx, boardID); err != nil {
			log.Printf("[Board] chat flush for %s failed: %v", boardID, err)
		}
	}

	log.Printf("[Board] deleted %s", boardID)
	return c.JSON(fiber.Map{"deleted": boardID})
}
