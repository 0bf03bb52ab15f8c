package main

import (
	"log"

	"canvas-backend/internal/config"
	"canvas-backend/internal/database"
	"canvas-backend/internal/server"
)

func main() {
	cfg := config.Load()

	db, err := database.Connect()
	if err != nil {
		log.Fatalf("[Main] database connection failed: %v", err)
	}
	defer database.Close(db)

	srv := server.New(cfg, db)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		log.Fatalf("[Main] server failed: %v", err)
	}
}
