package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Snapshot is one board-state observation pushed by the sandbox poller.
// Timestamp is unix seconds as reported by the poller.
type Snapshot struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

type QAPair struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Phase     string    `json:"phase"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	EvalScore *int      `json:"eval_score,omitempty"`
	Timestamp float64   `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}
