package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proctor-backend/internal/config"
	"proctor-backend/internal/database"
	"proctor-backend/internal/handlers"
	"proctor-backend/internal/middleware"
	"proctor-backend/internal/repository"
	"proctor-backend/internal/router"
	"proctor-backend/internal/sandbox"
	"proctor-backend/internal/scheduler"
	"proctor-backend/internal/services"
	"proctor-backend/internal/state"
	"proctor-backend/internal/websocket"
	"proctor-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting Proctor Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	sessionRepo := repository.NewSessionRepo(pool)
	assessmentRepo := repository.NewAssessmentRepo(pool)
	snapshotRepo := repository.NewSnapshotRepo(pool)
	qaRepo := repository.NewQARepo(pool)
	gradeRepo := repository.NewGradeRepo(pool)

	// ──── Step 5: Initialize Gemini Client ────
	aiService, err := services.NewAIService(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer aiService.Close()
	log.Println("✓ Gemini Flash client initialized")

	// ──── Step 6: Initialize Sandbox Provisioner ────
	provisioner, err := sandbox.NewDockerProvisioner(cfg.DockerHost, cfg.SandboxImage, cfg.BackendURL, cfg.HealthRetries, cfg.HealthIntervalMs)
	if err != nil {
		log.Fatalf("✗ Docker client initialization failed: %v", err)
	}
	log.Printf("✓ Docker provisioner ready (image: %s, cap: %d)", cfg.SandboxImage, cfg.MaxSandboxes)

	// ──── Initialize Coordination Store & Services ────
	stateStore := state.NewStore(redisClients.State)
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL)
	authService := services.NewAuthService(userRepo, jwtAuth)
	interviewerService := services.NewInterviewerService(aiService, sessionRepo, assessmentRepo, qaRepo, stateStore)
	nudgeService := services.NewNudgeService(aiService, sessionRepo, assessmentRepo, snapshotRepo, stateStore)
	graderService := services.NewGraderService(aiService, sessionRepo, assessmentRepo, snapshotRepo, qaRepo, gradeRepo, userRepo, stateStore, emailService)

	sched := scheduler.New(sessionRepo, assessmentRepo, stateStore, provisioner, cfg.MaxSandboxes, cfg.ArtifactPath)

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService)
	sessionHandler := handlers.NewSessionHandler(sched, sessionRepo, stateStore)
	interviewHandler := handlers.NewInterviewHandler(interviewerService, sessionRepo, stateStore)
	snapshotHandler := handlers.NewSnapshotHandler(snapshotRepo, stateStore, nudgeService)
	gradeHandler := handlers.NewGradeHandler(gradeRepo, sessionRepo, stateStore)
	assessmentHandler := handlers.NewAssessmentHandler(assessmentRepo)
	adminHandler := handlers.NewAdminHandler(sessionRepo, assessmentRepo, stateStore)

	// ──── Step 7: Start Worker Pool ────
	workerPool := worker.NewPool(redisClients.State, sched, graderService, 5)
	workerPool.Start()
	log.Println("✓ Worker pool started (5 goroutines)")

	// ──── Step 8: Start Reaper ────
	reaper := scheduler.NewReaper(sessionRepo, stateStore, sched)
	reaper.Start()
	log.Println("✓ Session reaper started")

	// ──── Step 9: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, cfg.JWTSecret)
	log.Println("✓ WebSocket hub started")

	// ──── Step 10: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		authHandler,
		sessionHandler,
		interviewHandler,
		snapshotHandler,
		gradeHandler,
		assessmentHandler,
		adminHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		reaper.Stop()
		workerPool.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Proctor Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
