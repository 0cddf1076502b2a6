// Package main provides the API server entry point for the wallet tracker.
// The server also owns the collection scheduler.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wallet-tracker/internal/api"
	"github.com/wallet-tracker/internal/config"
	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/service"
)

func main() {
	fmt.Println("Wallet Tracker API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Connecting to databases...")
	app, err := service.NewApp(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer app.Close()
	logger.Info("Services initialized")

	if cfg.Scheduler.Autostart {
		if err := app.Scheduler.Start(ctx, cfg.Collector.DefaultPages); err != nil {
			logger.WithError(err).Fatal("Failed to start collection scheduler")
		}
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    10 * time.Minute, // POST /api/scans holds the request for a whole collection run
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestRPS:      cfg.Server.RequestRPS,
		DefaultPages:    cfg.Collector.DefaultPages,
	}

	server := api.NewServerForApp(serverConfig, app)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	app.Scheduler.Stop()
	logger.Info("Server exited")
}
