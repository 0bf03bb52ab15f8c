package handler

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/config"
	"canvas-backend/internal/model"
)

// AuthHandler handles Google sign-in and token lifecycle.
type AuthHandler struct {
	db     *gorm.DB
	jwt    *auth.JWTManager
	google *auth.GoogleAuthenticator
	cfg    *config.Config
}

func NewAuthHandler(db *gorm.DB, jwt *auth.JWTManager, google *auth.GoogleAuthenticator, cfg *config.Config) *AuthHandler {
	return &AuthHandler{db: db, jwt: jwt, google: google, cfg: cfg}
}

type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

// GoogleLogin verifies a Google id token, upserts the user row and issues
// access and refresh tokens (also set as cookies for browser clients).
func (h *AuthHandler) GoogleLogin(c *fiber.Ctx) error {
	var req GoogleLoginRequest
	if err := c.BodyParser(&req); err != nil || req.IDToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id_token is required"})
	}

	info, err := h.google.VerifyIDToken(c.Context(), req.IDToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Google sign-in failed"})
	}

	provider := "google"
	user := model.User{
		ID:         "user-" + info.ID,
		Email:      info.Email,
		Name:       info.Name,
		Provider:   &provider,
		ProviderID: &info.ID,
	}
	if info.Picture != "" {
		user.AvatarURL = &info.Picture
	}

	var existing model.User
	err = h.db.First(&existing, "id = ?", user.ID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := h.db.Create(&user).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create user"})
		}
		log.Printf("[Auth] new user %s (%s)", user.ID, user.Email)
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load user"})
	default:
		// Refresh profile fields that may have changed upstream.
		updates := map[string]any{"email": user.Email, "name": user.Name}
		if user.AvatarURL != nil {
			updates["avatar_url"] = *user.AvatarURL
		}
		h.db.Model(&existing).Updates(updates)
		user = existing
	}

	accessToken, err := h.jwt.GenerateAccessToken(user.ID, user.Email, user.Name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to issue token"})
	}
	refreshToken, err := h.jwt.GenerateRefreshToken(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to issue token"})
	}

	h.setTokenCookies(c, accessToken, refreshToken)

	return c.JSON(fiber.Map{
		"user":          user,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

// RefreshToken trades a refresh token for a fresh access token.
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		req.RefreshToken = c.Cookies("refresh_token")
	}
	if req.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "refresh_token is required"})
	}

	userID, err := h.jwt.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid refresh token"})
	}

	var user model.User
	if err := h.db.First(&user, "id = ?", userID).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "User not found"})
	}

	accessToken, err := h.jwt.GenerateAccessToken(user.ID, user.Email, user.Name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to issue token"})
	}

	h.setTokenCookies(c, accessToken, "")
	return c.JSON(fiber.Map{"access_token": accessToken})
}

// Logout clears the auth cookies.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	expire := time.Now().Add(-time.Hour)
	for _, name := range []string{"access_token", "refresh_token"} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Expires:  expire,
			HTTPOnly: true,
			Secure:   h.cfg.Auth.SecureCookie,
			SameSite: "Lax",
			Path:     "/",
		})
	}
	return c.JSON(fiber.Map{"logged_out": true})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
	}

	var user model.User
	if err := h.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load user"})
	}
	return c.JSON(user)
}

func (h *AuthHandler) setTokenCookies(c *fiber.Ctx, accessToken, refreshToken string) {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		Expires:  time.Now().Add(h.cfg.Auth.AccessTokenExpiry),
		HTTPOnly: true,
		Secure:   h.cfg.Auth.SecureCookie,
		SameSite: "Lax",
		Path:     "/",
	})
	if refreshToken != "" {
		c.Cookie(&fiber.Cookie{
			Name:     "refresh_token",
			Value:    refreshToken,
			Expires:  time.Now().Add(h.cfg.Auth.RefreshTokenExpiry),
			HTTPOnly: true,
			Secure:   h.cfg.Auth.SecureCookie,
			SameSite: "Lax",
			Path:     "/",
		})
	}
}
