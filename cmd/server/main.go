package main

import (
	"context"
	"log"
	"os"

	"github.com/agenthands/canon/internal/bootstrap"
	"github.com/agenthands/canon/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := bootstrap.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	ctx := context.Background()
	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize server: %v", err)
	}
	defer srv.Store.Close(ctx)

	gin.SetMode(cfg.Server.Mode)
	r := srv.SetupRouter()

	logger.Infof("Starting server on port %s (store: %s)", cfg.Server.Port, cfg.Store.Backend)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal(err)
	}
}
