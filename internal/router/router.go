package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"proctor-backend/internal/handlers"
	"proctor-backend/internal/middleware"
	"proctor-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	interviewHandler *handlers.InterviewHandler,
	snapshotHandler *handlers.SnapshotHandler,
	gradeHandler *handlers.GradeHandler,
	assessmentHandler *handlers.AssessmentHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		// ──── Assessment Routes ────
		r.Route("/assessments", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", assessmentHandler.List)
			r.Get("/{id}", assessmentHandler.Get)
		})

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			// Snapshot ingest comes from inside the sandbox, which holds no
			// user token.
			r.Post("/{id}/snapshots", snapshotHandler.Ingest)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/start", sessionHandler.Start)
				r.Get("/{id}/status", sessionHandler.Status)
				r.Post("/{id}/heartbeat", sessionHandler.Heartbeat)
				r.Post("/{id}/end", sessionHandler.End)
				r.Get("/{id}/question", interviewHandler.Question)
				r.Post("/{id}/answer", interviewHandler.Answer)
				r.Get("/{id}/report", gradeHandler.Report)
			})
		})

		// ──── Admin Routes ────
		r.Route("/admin", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Use(jwtAuth.RequireAdmin)
			r.Get("/sessions", adminHandler.ListSessions)
			r.Post("/sessions/{id}/regrade", adminHandler.Regrade)
			r.Post("/sessions/{id}/override", adminHandler.Override)
			r.Put("/assessments", adminHandler.UpsertAssessment)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
