package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"collab-sync-server/auth"
	"collab-sync-server/internal/api"
	"collab-sync-server/internal/broadcast"
	"collab-sync-server/internal/config"
	"collab-sync-server/internal/crdt"
	"collab-sync-server/internal/db"
	"collab-sync-server/internal/middleware"
	"collab-sync-server/internal/persist"
	"collab-sync-server/internal/session"
	"collab-sync-server/internal/store"
	"collab-sync-server/internal/worker"
	"collab-sync-server/internal/ws"
	"collab-sync-server/redis"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Environment == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	// Connect to database
	db.ConnectDb()
	defer db.CloseDb()

	// Migrate database schema
	db.Migrate()

	// Initialize Redis
	redis.InitRedis(cfg.RedisAddress)
	cache := redis.NewCache()
	presence := redis.NewPresence()

	// Wire the core
	storeAdapter := store.NewGormAdapter(db.AppDb, cache)
	engine := crdt.NewTextEngine()
	hub := ws.NewHub(log)
	broadcaster := broadcast.New(hub, log)

	registry := session.NewRegistry(session.Options{
		Store:        storeAdapter,
		Engine:       engine,
		Broadcaster:  broadcaster,
		Presence:     presence,
		Grace:        cfg.SessionGrace,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       log,
	})

	pool := worker.NewPool(cfg.WorkerPoolSize, log)
	scheduler := persist.NewScheduler(
		registry,
		storeAdapter,
		pool,
		cfg.FlushInterval,
		cfg.StoreTimeout,
		log,
	)
	registry.SetFlusher(scheduler)

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	go scheduler.Run(schedCtx)

	wsHandler := ws.NewHandler(hub, registry, log)
	apiHandler := api.NewHandler(api.NewService(registry, storeAdapter, presence))

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.ErrorHandler(log))

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if cfg.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{cfg.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// collaborative editing endpoint
	router.GET("/ws", auth.AuthMiddleware(cfg.JWTSecret), wsHandler.Serve)

	// internal use routes
	internal := router.Group("/internal", auth.InternalAuthMiddleware(cfg.InternalSecret))
	internal.POST("/documents", apiHandler.CreateDocument)
	internal.GET("/documents/:id/state", apiHandler.ShowDocumentState)
	internal.PUT("/documents/:id/permission", apiHandler.UpdatePermission)
	internal.GET("/documents/:id/active", apiHandler.ShowActiveConnections)
	internal.DELETE("/documents/:id", apiHandler.RemoveDocument)

	// Server configuration
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("server listening")
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	// stop the interval loop, then take one last synchronous pass so no
	// live session is lost
	stopScheduler()
	scheduler.FlushAll(ctx)
	pool.Shutdown()

	log.Info().Msg("server shutdown complete")
}
