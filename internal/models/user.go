package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // "candidate" | "admin"
	CreatedAt    time.Time `json:"created_at"`
}

// WebSocket / pub-sub event envelope
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusEvent struct {
	SessionID     uuid.UUID `json:"session_id"`
	Status        string    `json:"status"`
	Phase         string    `json:"phase"`
	QueuePosition int       `json:"queue_position,omitempty"`
}

type NudgeEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	Message   string    `json:"message"`
}

type GradeReadyEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	Verdict   string    `json:"verdict"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
