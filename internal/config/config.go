package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Gemini AI
	GeminiAPIKey string

	// Sandbox
	DockerHost       string
	SandboxImage     string
	MaxSandboxes     int
	BackendURL       string
	ArtifactPath     string
	HealthRetries    int
	HealthIntervalMs int

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),
		JWTSecret:   mustGetEnv("JWT_SECRET"),

		GeminiAPIKey: mustGetEnv("GEMINI_API_KEY"),

		DockerHost:       getEnvOrDefault("DOCKER_HOST", "unix:///var/run/docker.sock"),
		SandboxImage:     getEnvOrDefault("SANDBOX_IMAGE", "proctor-lab-kicad"),
		MaxSandboxes:     getEnvAsIntOrDefault("MAX_SANDBOXES", 3),
		BackendURL:       getEnvOrDefault("BACKEND_URL", "http://localhost:8080"),
		ArtifactPath:     getEnvOrDefault("ARTIFACT_PATH", "/root/project.kicad_pcb"),
		HealthRetries:    getEnvAsIntOrDefault("SANDBOX_HEALTH_RETRIES", 20),
		HealthIntervalMs: getEnvAsIntOrDefault("SANDBOX_HEALTH_INTERVAL_MS", 500),

		SMTPHost:    getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:    getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:    getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:    getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:    getEnvOrDefault("SMTP_FROM", "noreply@proctor.app"),
		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
