package sandbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handle identifies one running sandbox. A sandbox never comes back after
// Destroy; a new sandbox is always a new identity.
type Handle struct {
	SandboxID string
	SessionID uuid.UUID
	Endpoint  string
	CreatedAt time.Time
}

// Provisioner creates and tears down isolated tool-environment instances.
type Provisioner interface {
	// Create starts a sandbox tagged with the session id and returns its
	// host-reachable display endpoint.
	Create(ctx context.Context, sessionID uuid.UUID) (*Handle, error)

	// WaitHealthy polls the endpoint until it responds or retries are
	// exhausted. A normal timeout returns false, never an error.
	WaitHealthy(ctx context.Context, endpoint string) bool

	// Destroy force-removes the sandbox. Destroying an already-gone
	// sandbox is not an error.
	Destroy(ctx context.Context, sandboxID string) error

	// ExtractFile pulls one artifact out of the sandbox filesystem.
	// Must be called before Destroy.
	ExtractFile(ctx context.Context, sandboxID, path string) ([]byte, error)
}
