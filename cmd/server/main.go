package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/worshiptools/lyricsync/config"
	"github.com/worshiptools/lyricsync/internal/cache"
	"github.com/worshiptools/lyricsync/internal/database"
	"github.com/worshiptools/lyricsync/internal/handlers"
	"github.com/worshiptools/lyricsync/internal/pipeline"
	"github.com/worshiptools/lyricsync/internal/queue"
	"github.com/worshiptools/lyricsync/internal/services"
	"github.com/worshiptools/lyricsync/internal/stages"
)

func main() {
	fmt.Println("LyricSync LRC Generation Service")

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Server port: %d", cfg.ServerPort)

	// Rotate the server log when a log file is configured
	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	if err := os.MkdirAll(cfg.LogsPath, 0755); err != nil {
		log.Fatalf("Failed to create storage directory: %v", err)
	}

	// Initialize database
	db, err := database.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Create repositories
	jobRepo := database.NewJobRepository(db)

	// Pick the result cache backend
	var store cache.Store
	if cfg.Cache.Backend == "redis" {
		redisStore, err := cache.NewRedisStore(cfg.Cache.RedisURL, time.Duration(cfg.Cache.TTLHours)*time.Hour)
		if err != nil {
			log.Fatalf("Failed to connect to redis cache: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
		log.Println("Result cache backend: redis")
	} else {
		store = database.NewCacheRepository(db)
		log.Println("Result cache backend: sqlite")
	}

	// Create progress broadcaster for live updates
	broadcaster := services.NewProgressBroadcaster()

	// Create pipeline stage clients
	transcriptClient := stages.NewTranscriptClient(cfg.Transcript.BaseURL, cfg.Transcript.AuthToken, cfg.Transcript.Timeout())
	asrClient := stages.NewASRClient(cfg.ASR.BaseURL, cfg.ASR.AuthToken, cfg.ASR.Model, cfg.ASR.Timeout())
	alignerClient := stages.NewAlignerClient(cfg.Aligner.BaseURL, cfg.Aligner.AuthToken, cfg.Aligner.Timeout())
	llmClient := stages.NewLLMClient(cfg.LLM.BaseURL, cfg.LLM.AuthToken, cfg.LLM.Model, cfg.LLM.Timeout(), 3)

	controller := pipeline.NewController(transcriptClient, asrClient, alignerClient, llmClient, nil, broadcaster, cfg.StoragePath)

	// Create and start the job queue
	jobQueue := queue.NewQueue(jobRepo, store, controller, broadcaster, queue.Config{
		HeavyLimit:   cfg.Queue.HeavyLimit,
		LightLimit:   cfg.Queue.LightLimit,
		PollInterval: time.Duration(cfg.Queue.PollIntervalSec) * time.Second,
		ArtifactDir:  filepath.Join(cfg.StoragePath, "lrc"),
	})
	jobQueue.Start()

	// Create handlers
	jobHandler := handlers.NewJobHandler(jobQueue)
	progressHandler := handlers.NewProgressHandler(broadcaster, jobQueue)

	// Create Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// CORS middleware - MUST be first
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Add("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Add("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Add("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Add("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}

		c.Next()
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "lyricsync",
		})
	})

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Job endpoints
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.GetAll)
			jobs.POST("", jobHandler.Submit)
			jobs.GET("/:id", jobHandler.GetByID)
			jobs.POST("/:id/cancel", jobHandler.Cancel)
			jobs.GET("/:id/lrc", jobHandler.GetLRC)
		}

		// Progress streaming endpoints (SSE)
		progress := v1.Group("/progress")
		{
			progress.GET("/stream", progressHandler.StreamProgress)
			progress.GET("/stream/:id", progressHandler.StreamJobProgress)
			progress.GET("/stats", progressHandler.GetStats)
		}
	}

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Printf("Starting server on %s", addr)

	go func() {
		if err := router.Run(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	jobQueue.Stop()

	log.Println("Shutdown complete")
}
