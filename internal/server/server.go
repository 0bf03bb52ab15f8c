package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/cache"
	"canvas-backend/internal/config"
	"canvas-backend/internal/handler"
	"canvas-backend/internal/history"
	"canvas-backend/internal/hub"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/spatial"
)

// Server wires the collaboration core (hub, spatial index, event log) to the
// HTTP and websocket surface.
type Server struct {
	app *fiber.App
	cfg *config.Config
	db  *gorm.DB

	hub     *hub.Hub
	spatial *spatial.Registry
	history *history.Registry

	boardWSHandler  *handler.BoardWSHandler
	boardHandler    *handler.BoardHandler
	objectHandler   *handler.ObjectHandler
	chunkHandler    *handler.ChunkHandler
	historyHandler  *handler.HistoryHandler
	guestHandler    *handler.GuestHandler
	authHandler     *handler.AuthHandler
	videoHandler    *handler.VideoHandler
	chatHandler     *handler.ChatHandler
	presenceHandler *handler.PresenceHandler
	healthHandler   *handler.HealthHandler
	jwtManager      *auth.JWTManager

	redis       *cache.RedisClient
	presenceMgr *presence.Manager
}

// New creates the server and all its handlers.
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Infinite Canvas API",
		ServerHeader:    "Fiber",
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // incompatible with websocket sessions
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       10 * 1024 * 1024,
	})

	sessionHub := hub.New()
	spatialRegistry := spatial.NewRegistry(cfg.Canvas.ChunkSize)
	historyRegistry := history.NewRegistry()

	// Redis is optional: chat backlog and the cross-server presence mirror
	// degrade to no-ops when it is not reachable.
	var redisClient *cache.RedisClient
	var presenceMgr *presence.Manager
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Canvas.ChatHistoryLimit)
		if err != nil {
			log.Printf("[Server] Redis unavailable, chat cache and presence mirror disabled: %v", err)
			redisClient = nil
		} else {
			hostname, _ := os.Hostname()
			presenceMgr = presence.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, hostname)
		}
	}

	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.GuestTokenExpiry,
	)
	googleAuth := auth.NewGoogleAuthenticator(cfg.Auth.GoogleClientID)

	return &Server{
		app:     app,
		cfg:     cfg,
		db:      db,
		hub:     sessionHub,
		spatial: spatialRegistry,
		history: historyRegistry,

		boardWSHandler:  handler.NewBoardWSHandler(sessionHub, spatialRegistry, historyRegistry, redisClient, presenceMgr),
		boardHandler:    handler.NewBoardHandler(db, spatialRegistry, historyRegistry, sessionHub, redisClient),
		objectHandler:   handler.NewObjectHandler(db),
		chunkHandler:    handler.NewChunkHandler(spatialRegistry),
		historyHandler:  handler.NewHistoryHandler(historyRegistry, spatialRegistry, sessionHub, cfg.Canvas.HistoryPageLimit),
		guestHandler:    handler.NewGuestHandler(db, jwtManager),
		authHandler:     handler.NewAuthHandler(db, jwtManager, googleAuth, cfg),
		videoHandler:    handler.NewVideoHandler(cfg),
		chatHandler:     handler.NewChatHandler(redisClient, cfg.Canvas.ChatHistoryLimit),
		presenceHandler: handler.NewPresenceHandler(sessionHub, presenceMgr),
		healthHandler:   handler.NewHealthHandler(db),
		jwtManager:      jwtManager,

		redis:       redisClient,
		presenceMgr: presenceMgr,
	}
}

// SetupMiddleware installs the global middleware chain.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes installs every REST and websocket route.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.healthHandler.Health)
	s.app.Get("/ready", s.healthHandler.Ready)

	// Brute-force protection on the auth surface.
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	authGroup := s.app.Group("/auth")
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/refresh", authLimiter, s.authHandler.RefreshToken)
	authGroup.Post("/logout", auth.AuthMiddleware(s.jwtManager), s.authHandler.Logout)
	authGroup.Get("/me", auth.AuthMiddleware(s.jwtManager), s.authHandler.Me)

	// Boards work with or without a logged-in user; guests reach them
	// through share links.
	boards := s.app.Group("/api/boards", auth.OptionalAuthMiddleware(s.jwtManager))
	boards.Get("/", s.boardHandler.ListBoards)
	boards.Post("/", s.boardHandler.CreateBoard)
	boards.Get("/:boardId", s.boardHandler.GetBoard)
	boards.Delete("/:boardId", s.boardHandler.DeleteBoard)

	boards.Get("/:boardId/objects", s.objectHandler.ListObjects)
	boards.Post("/:boardId/objects", s.objectHandler.CreateObject)
	boards.Get("/:boardId/objects/:objectId", s.objectHandler.GetObject)
	boards.Patch("/:boardId/objects/:objectId", s.objectHandler.UpdateObject)
	boards.Delete("/:boardId/objects/:objectId", s.objectHandler.DeleteObject)

	boards.Post("/:boardId/chunks/viewport", s.chunkHandler.QueryViewport)
	boards.Get("/:boardId/chunks/list", s.chunkHandler.ListChunks)
	boards.Get("/:boardId/chunks/by-ids", s.chunkHandler.GetChunksByIDs)
	boards.Get("/:boardId/chunks/around", s.chunkHandler.GetChunksAround)
	boards.Get("/:boardId/chunks/stats", s.chunkHandler.GetStats)

	boards.Get("/:boardId/history", s.historyHandler.ListEvents)
	boards.Get("/:boardId/history/snapshot", s.historyHandler.GetSnapshot)
	boards.Post("/:boardId/history/rollback", s.historyHandler.Rollback)
	boards.Get("/:boardId/history/timeline", s.historyHandler.GetTimeline)

	boards.Get("/:boardId/guest-links", s.guestHandler.ListGuestLinks)
	boards.Get("/:boardId/chat", s.chatHandler.GetRecentMessages)
	boards.Get("/:boardId/presence", s.presenceHandler.GetBoardPresence)

	guests := s.app.Group("/api/guest-links")
	guests.Post("/", auth.OptionalAuthMiddleware(s.jwtManager), s.guestHandler.CreateGuestLink)
	guests.Get("/:linkId", s.guestHandler.GetGuestLinkInfo)
	guests.Post("/:linkId/join", s.guestHandler.JoinAsGuest)
	guests.Delete("/:linkId", auth.OptionalAuthMiddleware(s.jwtManager), s.guestHandler.DeactivateGuestLink)

	s.app.Post("/api/video/token", s.videoHandler.GenerateToken)
	s.app.Get("/api/video/participants", s.videoHandler.ListParticipants)

	// Collaboration websocket. Identity comes from query parameters; a
	// missing user id gets a synthetic guest id downstream.
	s.app.Get("/ws/:boardId", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		boardID := c.Params("boardId")
		if boardID == "" {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		c.Locals("boardId", boardID)
		c.Locals("userId", c.Query("user_id"))
		c.Locals("displayName", c.Query("display_name", "Anonymous"))

		return c.Next()
	}, websocket.New(s.boardWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start runs the server until SIGINT/SIGTERM.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("[Server] shutting down...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("[Server] shutdown error: %v", err)
		}
	}()

	log.Printf("[Server] Infinite Canvas API starting on %s", s.cfg.Server.Port)
	log.Printf("[Server] websocket endpoint: ws://localhost%s/ws/:boardId", s.cfg.Server.Port)

	err := s.app.Listen(s.cfg.Server.Port)

	if s.redis != nil {
		s.redis.Close()
	}
	if s.presenceMgr != nil {
		s.presenceMgr.Close()
	}
	return err
}

// Shutdown stops the server explicitly, for tests and tooling.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
