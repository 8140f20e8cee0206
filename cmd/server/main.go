package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"emsdispatch/internal/config"
	handlers "emsdispatch/internal/handlers/shared"
	"emsdispatch/internal/middleware"
	"emsdispatch/internal/models"
	"emsdispatch/internal/repositories/mongodb"
	"emsdispatch/internal/services"
	"emsdispatch/pkg/cache"
	"emsdispatch/pkg/database"
	"emsdispatch/pkg/logger"
	"emsdispatch/pkg/websocket"
	"emsdispatch/routes"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(&logger.Config{
		Level:      logger.LogLevel(cfg.App.LogLevel),
		Format:     cfg.App.LogFormat,
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// MongoDB
	db, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer db.Close()

	if err := database.NewMigrator(db.Database).Up(); err != nil {
		appLogger.WithError(err).Fatal("Failed to run migrations")
	}

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mongodb.EnsureEMSRequestIndexes(indexCtx, db.Database); err != nil {
		cancel()
		appLogger.WithError(err).Fatal("Failed to ensure EMS request indexes")
	}
	cancel()

	// Redis
	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	// Repositories
	requestRepo := mongodb.NewEMSRequestRepository(db.Database, redisCache)
	userRepo := mongodb.NewUserRepository(db.Database, redisCache)

	// WebSocket relay, bridged across instances over Redis pub/sub
	wsHandler := websocket.NewHandler(redisCache)

	// Services
	emsService := services.NewEMSService(requestRepo, userRepo, wsHandler, appLogger)

	// Inbound position frames from websocket clients flow through the same
	// authorization path as the REST endpoint.
	wsHandler.GetHub().SetPositionSink(func(requestID, actorID primitive.ObjectID, lat, lng float64) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		position := models.NewGeoPoint(lat, lng)
		if _, err := emsService.UpdatePosition(ctx, requestID, actorID, position); err != nil {
			appLogger.WithError(err).WithField("request_id", requestID.Hex()).Warn("Position update rejected")
		}
	})

	// Handlers
	emsHandler := handlers.NewEMSHandler(emsService)

	// Gin router
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Global middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())

	// API routes
	v1 := router.Group("/api/v1")
	{
		routes.SetupEMSRoutes(v1, emsHandler, cfg.Security.JWTSecret)
	}

	// Live tracking socket
	router.GET(cfg.WebSocket.Path, middleware.AuthRequired(cfg.Security.JWTSecret), wsHandler.HandleWebSocket)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		code := http.StatusOK
		if err := db.Ping(); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"version": cfg.App.Version,
		})
	})

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	appLogger.WithField("addr", addr).Info("Starting EMS dispatch server")
	if err := http.ListenAndServe(addr, router); err != nil {
		appLogger.WithError(err).Fatal("Server stopped")
	}
}
