package sandbox

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
)

const displayPort = "6080/tcp"

type DockerProvisioner struct {
	cli            *client.Client
	image          string
	backendURL     string
	healthRetries  int
	healthInterval time.Duration
}

func NewDockerProvisioner(dockerHost, image, backendURL string, healthRetries, healthIntervalMs int) (*DockerProvisioner, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(dockerHost),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if healthRetries <= 0 {
		healthRetries = 20
	}
	if healthIntervalMs <= 0 {
		healthIntervalMs = 500
	}

	return &DockerProvisioner{
		cli:            cli,
		image:          image,
		backendURL:     backendURL,
		healthRetries:  healthRetries,
		healthInterval: time.Duration(healthIntervalMs) * time.Millisecond,
	}, nil
}

func (p *DockerProvisioner) Create(ctx context.Context, sessionID uuid.UUID) (*Handle, error) {
	created, err := p.cli.ContainerCreate(ctx,
		&container.Config{
			Image: p.image,
			Env: []string{
				"SESSION_ID=" + sessionID.String(),
				"BACKEND_URL=" + p.backendURL,
			},
			ExposedPorts: nat.PortSet{displayPort: struct{}{}},
		},
		&container.HostConfig{
			// Empty HostPort asks the daemon for an ephemeral port.
			PortBindings: nat.PortMap{displayPort: []nat.PortBinding{{HostPort: ""}}},
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		p.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	info, err := p.cli.ContainerInspect(ctx, created.ID)
	if err != nil {
		p.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to inspect sandbox container: %w", err)
	}

	bindings := info.NetworkSettings.Ports[nat.Port(displayPort)]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		p.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("sandbox container has no host port binding")
	}

	return &Handle{
		SandboxID: created.ID,
		SessionID: sessionID,
		Endpoint:  "http://localhost:" + bindings[0].HostPort,
		CreatedAt: time.Now(),
	}, nil
}

func (p *DockerProvisioner) WaitHealthy(ctx context.Context, endpoint string) bool {
	healthURL := endpoint + "/vnc.html"
	httpClient := &http.Client{Timeout: 2 * time.Second}

	for i := 0; i < p.healthRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return false
		}
		resp, err := httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.healthInterval):
		}
	}
	return false
}

func (p *DockerProvisioner) Destroy(ctx context.Context, sandboxID string) error {
	err := p.cli.ContainerRemove(ctx, sandboxID, container.RemoveOptions{Force: true})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (p *DockerProvisioner) ExtractFile(ctx context.Context, sandboxID, path string) ([]byte, error) {
	rc, _, err := p.cli.CopyFromContainer(ctx, sandboxID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s from sandbox: %w", path, err)
	}
	defer rc.Close()

	// The copy endpoint wraps the file in a tar stream; the artifact is
	// the first regular file entry.
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sandbox archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("failed to read artifact: %w", err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("artifact %s not found in sandbox", path)
}
