package handler

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"canvas-backend/internal/model"
)

// ObjectHandler is the persistence surface for canvas objects. It writes
// rows, not live state: realtime edits travel over the websocket and only
// land here when a client checkpoints its board.
type ObjectHandler struct {
	db *gorm.DB
}

func NewObjectHandler(db *gorm.DB) *ObjectHandler {
	return &ObjectHandler{db: db}
}

type ObjectRequest struct {
	ID         string         `json:"id"`
	ObjectType string         `json:"object_type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Data       map[string]any `json:"data"`
}

func marshalData(data map[string]any) string {
	if data == nil {
		return "{}"
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// ListObjects returns the board's persisted, non-deleted objects.
func (h *ObjectHandler) ListObjects(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	var objects []model.CanvasObject
	if err := h.db.Where("board_id = ? AND is_deleted = ?", boardID, false).
		Order("created_at ASC").
		Find(&objects).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list objects"})
	}

	return c.JSON(fiber.Map{
		"boardId": boardID,
		"objects": objects,
		"count":   len(objects),
	})
}

// CreateObject persists one object row.
func (h *ObjectHandler) CreateObject(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	var req ObjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.ObjectType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "object_type is required"})
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	obj := model.CanvasObject{
		ID:         req.ID,
		BoardID:    boardID,
		ObjectType: req.ObjectType,
		X:          req.X,
		Y:          req.Y,
		Width:      req.Width,
		Height:     req.Height,
		Data:       marshalData(req.Data),
	}
	if userID, ok := c.Locals("userID").(string); ok && userID != "" {
		obj.CreatedBy = &userID
	}

	if err := h.db.Create(&obj).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create object"})
	}
	return c.Status(fiber.StatusCreated).JSON(obj)
}

// GetObject returns one persisted object.
func (h *ObjectHandler) GetObject(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	objectID := c.Params("objectId")

	var obj model.CanvasObject
	err := h.db.Where("id = ? AND board_id = ? AND is_deleted = ?", objectID, boardID, false).
		First(&obj).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Object not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load object"})
	}
	return c.JSON(obj)
}

// UpdateObject patches position, extent and payload of a persisted object.
func (h *ObjectHandler) UpdateObject(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	objectID := c.Params("objectId")

	var obj model.CanvasObject
	err := h.db.Where("id = ? AND board_id = ? AND is_deleted = ?", objectID, boardID, false).
		First(&obj).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Object not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load object"})
	}

	var patch map[string]any
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	updates := map[string]any{}
	for key, value := range patch {
		switch key {
		case "x", "y", "width", "height":
			if v, ok := value.(float64); ok {
				updates[key] = v
			}
		case "object_type":
			if v, ok := value.(string); ok && v != "" {
				updates["object_type"] = v
			}
		case "data":
			if v, ok := value.(map[string]any); ok {
				updates["data"] = marshalData(v)
			}
		}
	}
	if len(updates) == 0 {
		return c.JSON(obj)
	}

	if err := h.db.Model(&obj).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update object"})
	}
	return c.JSON(obj)
}

// DeleteObject soft-deletes a persisted object.
func (h *ObjectHandler) DeleteObject(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	objectID := c.Params("objectId")

	now := time.Now().UTC()
	result := h.db.Model(&model.CanvasObject{}).
		Where("id = ? AND board_id = ? AND is_deleted = ?", objectID, boardID, false).
		Updates(map[string]any{"is_deleted": true, "deleted_at": now})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete object"})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Object not found"})
	}
	return c.JSON(fiber.Map{"deleted": objectID})
}
