package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ExecStream is a live exec session: a multiplexed stdout/stderr byte stream
// plus the exec id needed to retrieve the exit code afterwards.
type ExecStream struct {
	ID     string
	Reader io.Reader
	close  func()
}

// Close tears down the underlying hijacked connection. Safe to call more
// than once.
func (s *ExecStream) Close() {
	if s != nil && s.close != nil {
		s.close()
		s.close = nil
	}
}

// Exec starts `/bin/sh -c command` inside the container with stdout and
// stderr attached and returns the raw multiplexed stream.
func (c *Client) Exec(ctx context.Context, containerNameOrID, command string) (*ExecStream, error) {
	execCfg := types.ExecConfig{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := c.inner.ContainerExecCreate(ctx, containerNameOrID, execCfg)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("exec create: %w", err)
	}
	attached, err := c.inner.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	return &ExecStream{
		ID:     created.ID,
		Reader: attached.Reader,
		close:  attached.Close,
	}, nil
}

// ExecExitCode retrieves the exit code of a finished exec.
func (c *Client) ExecExitCode(ctx context.Context, execID string) (int, error) {
	info, err := c.inner.ContainerExecInspect(ctx, execID)
	if err != nil {
		return 0, fmt.Errorf("exec inspect: %w", err)
	}
	return info.ExitCode, nil
}

// Logs fetches the last tail lines of a container's output as the raw
// multiplexed stream.
func (c *Client) Logs(ctx context.Context, containerNameOrID string, tail int) (io.ReadCloser, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	}
	reader, err := c.inner.ContainerLogs(ctx, containerNameOrID, opts)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("container logs: %w", err)
	}
	return reader, nil
}
