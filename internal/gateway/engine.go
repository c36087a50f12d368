package gateway

import (
	"context"
	"errors"
	"io"

	"github.com/kpndevrootentri/ShipEntri/internal/docker"
)

// dockerEngine adapts the engine client to the gateway's Engine surface.
type dockerEngine struct {
	client *docker.Client
}

// NewDockerEngine wraps an engine client as a gateway Engine.
func NewDockerEngine(client *docker.Client) Engine {
	return &dockerEngine{client: client}
}

func (e *dockerEngine) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := e.client.InspectContainer(ctx, name)
	if err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *dockerEngine) ListRunning(ctx context.Context) ([]ContainerSummary, error) {
	containers, err := e.client.ListRunning(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		summaries = append(summaries, ContainerSummary{ID: c.ID, Names: c.Names, Image: c.Image})
	}
	return summaries, nil
}

func (e *dockerEngine) Exec(ctx context.Context, container, command string) (*ExecSession, error) {
	stream, err := e.client.Exec(ctx, container, command)
	if err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			return nil, ErrNoContainer
		}
		return nil, err
	}
	return &ExecSession{ID: stream.ID, Reader: stream.Reader, Close: stream.Close}, nil
}

func (e *dockerEngine) ExecExitCode(ctx context.Context, execID string) (int, error) {
	return e.client.ExecExitCode(ctx, execID)
}

func (e *dockerEngine) Logs(ctx context.Context, container string, tail int) (io.ReadCloser, error) {
	reader, err := e.client.Logs(ctx, container, tail)
	if err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			return nil, ErrNoContainer
		}
		return nil, err
	}
	return reader, nil
}
