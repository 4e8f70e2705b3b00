package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/config"
	"github.com/dse120071750/anime-dance-publisher/internal/handler"
	"github.com/dse120071750/anime-dance-publisher/internal/middleware"
	"github.com/dse120071750/anime-dance-publisher/internal/pipeline"
	"github.com/dse120071750/anime-dance-publisher/internal/registry"
	"github.com/dse120071750/anime-dance-publisher/internal/service"
	"github.com/dse120071750/anime-dance-publisher/internal/worker"
	ws "github.com/dse120071750/anime-dance-publisher/internal/websocket"
)

const registryCollection = "characters"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Redis backs the task queue and (by default) the job documents
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Firestore is optional; only dialed when a backend asks for it
	var fsClient *firestore.Client
	if cfg.Registry.Backend == "firestore" || cfg.Jobs.Backend == "firestore" {
		opts := []option.ClientOption{}
		if cfg.GCP.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCP.CredentialsFile))
		}
		fsClient, err = firestore.NewClient(ctx, cfg.GCP.ProjectID, opts...)
		if err != nil {
			log.Fatalf("Failed to create Firestore client: %v", err)
		}
		defer fsClient.Close()
	}

	var characterStore registry.Store
	if cfg.Registry.Backend == "firestore" {
		characterStore = registry.NewFirestoreStore(fsClient, registryCollection)
	} else {
		characterStore, err = registry.NewFileStore(cfg.Registry.Path)
		if err != nil {
			log.Fatalf("Failed to open character registry: %v", err)
		}
	}

	var jobStore service.JobStore
	if cfg.Jobs.Backend == "firestore" {
		jobStore = service.NewFirestoreJobStore(fsClient, cfg.Jobs.Collection)
	} else {
		jobStore = service.NewRedisJobStore(redisClient, time.Duration(cfg.Jobs.Retention)*time.Hour)
	}

	// External clients
	geminiClient, err := client.NewGeminiClient(&cfg.Gemini)
	if err != nil {
		log.Fatalf("Failed to create Gemini client: %v", err)
	}
	falClient := client.NewFalClient(&cfg.Motion)
	minimaxClient := client.NewMinimaxClient(&cfg.Music)
	compositorClient := client.NewCompositorClient(&cfg.Compositor)
	instagramClient := client.NewInstagramClient(&cfg.Instagram)
	tiktokClient := client.NewTikTokClient(&cfg.TikTok)
	webhookClient := client.NewWebhookClient()

	gcsClient, err := client.NewGCSClient(ctx, &cfg.GCP)
	if err != nil {
		log.Fatalf("Failed to create GCS client: %v", err)
	}
	defer gcsClient.Close()

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	// Services
	pipelineService := service.NewPipelineService(jobStore, characterStore, asynqClient, cfg.Pipeline)
	publishService := service.NewPublishService(characterStore, instagramClient, tiktokClient, gcsClient)

	// Handlers
	pipelineHandler := handler.NewPipelineHandler(pipelineService, validate)
	publishHandler := handler.NewPublishHandler(publishService, validate)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		pingCtx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini":     len(cfg.Gemini.APIKeys) > 0,
				"motion":     falClient.IsConfigured(),
				"music":      minimaxClient.IsConfigured(),
				"compositor": compositorClient.HealthCheck(pingCtx) == nil,
				"instagram":  instagramClient.IsConfigured(),
				"tiktok":     tiktokClient.IsConfigured(),
			},
		})
	})

	api := app.Group("/api", middleware.APIKeyAuth(cfg.Auth.APIKey))

	pl := api.Group("/pipeline")
	pl.Post("/run", pipelineHandler.Run)
	pl.Get("/status/:jobId", pipelineHandler.Status)
	pl.Get("/jobs", pipelineHandler.List)
	pl.Post("/cancel/:jobId", pipelineHandler.Cancel)
	pl.Get("/characters", pipelineHandler.Characters)

	publish := api.Group("/publish")
	publish.Post("/instagram", publishHandler.Instagram)
	publish.Post("/tiktok", publishHandler.TikTok)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	executor := pipeline.NewExecutor(pipeline.Deps{
		Registry:   characterStore,
		Jobs:       jobStore,
		Creative:   geminiClient,
		Motion:     falClient,
		Music:      minimaxClient,
		Compositor: compositorClient,
		Storage:    gcsClient,
	}, cfg.Pipeline, cfg.GCP.BasePrefix)

	go startWorkerServer(cfg, executor, jobStore, webhookClient, hub)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	executor *pipeline.Executor,
	jobStore service.JobStore,
	webhookClient client.WebhookNotifier,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			// Pipeline runs are long and vendor-bound; one at a time keeps
			// the Gemini key pool from thrashing.
			Concurrency: 1,
			Queues: map[string]int{
				"pipeline": 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	pipelineWorker := worker.NewPipelineWorker(executor, jobStore, webhookClient, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePipeline, pipelineWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "INTERNAL_ERROR",
			"message": message,
		},
	})
}
