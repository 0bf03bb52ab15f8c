package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/model"
)

// GuestHandler manages shareable guest links: creation, listing,
// deactivation and the join flow that trades a link (plus optional password)
// for a board-scoped session token.
type GuestHandler struct {
	db  *gorm.DB
	jwt *auth.JWTManager
}

func NewGuestHandler(db *gorm.DB, jwt *auth.JWTManager) *GuestHandler {
	return &GuestHandler{db: db, jwt: jwt}
}

func newLinkID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

type CreateGuestLinkRequest struct {
	BoardID     string `json:"board_id"`
	BoardName   string `json:"board_name"`
	ExpiresDays int    `json:"expires_days"`
	MaxUses     *int   `json:"max_uses"`
	Password    string `json:"password"`
	Permissions string `json:"permissions"`
}

// CreateGuestLink issues a link for a board. An unknown board id creates the
// board row on the fly, so a client can share a board it has only held
// locally so far.
func (h *GuestHandler) CreateGuestLink(c *fiber.Ctx) error {
	var req CreateGuestLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.BoardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "board_id is required"})
	}
	if req.ExpiresDays <= 0 {
		req.ExpiresDays = 7
	}
	if req.Permissions != "view" {
		req.Permissions = "edit"
	}

	var userID *string
	if uid, ok := c.Locals("userID").(string); ok && uid != "" {
		userID = &uid
	}

	var board model.Board
	err := h.db.First(&board, "id = ?", req.BoardID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		name := req.BoardName
		if name == "" {
			name = "Shared Board"
		}
		board = model.Board{ID: req.BoardID, Name: name, OwnerID: userID}
		err = h.db.Create(&board).Error
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to resolve board"})
	}

	link := model.GuestLink{
		ID:          newLinkID(),
		BoardID:     board.ID,
		ExpiresAt:   time.Now().UTC().AddDate(0, 0, req.ExpiresDays),
		MaxUses:     req.MaxUses,
		Permissions: req.Permissions,
		CreatedBy:   userID,
		IsActive:    true,
	}
	if req.Password != "" {
		hashed := hashPassword(req.Password)
		link.PasswordHash = &hashed
	}

	if err := h.db.Create(&link).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create guest link"})
	}

	log.Printf("[Guest] link %s created for board %s", link.ID, board.ID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"link":              link,
		"requires_password": link.PasswordHash != nil,
	})
}

// ListGuestLinks returns the links of a board, newest first.
func (h *GuestHandler) ListGuestLinks(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	var links []model.GuestLink
	if err := h.db.Where("board_id = ?", boardID).
		Order("created_at DESC").
		Find(&links).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list guest links"})
	}
	return c.JSON(fiber.Map{"boardId": boardID, "links": links})
}

// DeactivateGuestLink turns a link off without deleting its usage record.
func (h *GuestHandler) DeactivateGuestLink(c *fiber.Ctx) error {
	linkID := c.Params("linkId")

	result := h.db.Model(&model.GuestLink{}).
		Where("id = ? AND is_active = ?", linkID, true).
		Update("is_active", false)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to deactivate link"})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Guest link not found"})
	}
	return c.JSON(fiber.Map{"deactivated": linkID})
}

// GetGuestLinkInfo is the public preview a guest sees before joining. It
// never leaks the password hash, only whether a password is needed.
func (h *GuestHandler) GetGuestLinkInfo(c *fiber.Ctx) error {
	linkID := c.Params("linkId")

	var link model.GuestLink
	if err := h.db.Preload("Board").First(&link, "id = ?", linkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Guest link not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load guest link"})
	}

	return c.JSON(fiber.Map{
		"link_id":           link.ID,
		"board_id":          link.BoardID,
		"board_name":        link.Board.Name,
		"permissions":       link.Permissions,
		"expires_at":        link.ExpiresAt,
		"is_active":         link.IsActive,
		"requires_password": link.PasswordHash != nil,
	})
}

type GuestJoinRequest struct {
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// JoinAsGuest validates a link and issues a guest session token. The checks
// run strictest-first: inactive, expired, exhausted, then password.
func (h *GuestHandler) JoinAsGuest(c *fiber.Ctx) error {
	linkID := c.Params("linkId")

	var req GuestJoinRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.DisplayName == "" {
		req.DisplayName = "Guest"
	}

	var link model.GuestLink
	if err := h.db.First(&link, "id = ?", linkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Guest link not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load guest link"})
	}

	if !link.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "This link has been deactivated"})
	}
	if time.Now().UTC().After(link.ExpiresAt) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "This link has expired"})
	}
	if link.MaxUses != nil && link.UsageCount >= *link.MaxUses {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "This link has reached its usage limit"})
	}
	if link.PasswordHash != nil {
		if req.Password == "" || hashPassword(req.Password) != *link.PasswordHash {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid password"})
		}
	}

	if err := h.db.Model(&link).
		Update("usage_count", gorm.Expr("usage_count + 1")).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record join"})
	}

	token, err := h.jwt.GenerateGuestToken(link.BoardID, link.ID, req.DisplayName, link.Permissions)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to issue guest token"})
	}

	return c.JSON(fiber.Map{
		"token":        token,
		"board_id":     link.BoardID,
		"display_name": req.DisplayName,
		"permissions":  link.Permissions,
	})
}
