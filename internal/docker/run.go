package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
	"github.com/kpndevrootentri/ShipEntri/internal/fault"
	"github.com/kpndevrootentri/ShipEntri/internal/recipe"
)

// ReplaceAndRun removes any prior container with containerName, creates a new
// one from imageRef with the framework's internal port bound to a fresh host
// port, applies the configured resource caps and starts it. Returns the
// allocated host port.
func (c *Client) ReplaceAndRun(ctx context.Context, imageRef string, framework domain.Framework, containerName string) (int, error) {
	if strings.TrimSpace(containerName) == "" {
		return 0, fault.New(fault.KindRunFailed, "container name cannot be empty")
	}
	if strings.TrimSpace(imageRef) == "" {
		return 0, fault.New(fault.KindRunFailed, "image reference cannot be empty")
	}

	internalPort, err := recipe.InternalPort(framework)
	if err != nil {
		return 0, err
	}

	// A container with the expected name may survive a crashed pipeline;
	// creating over it fails, so stale ones are cleaned up first.
	if err := c.RemoveContainer(ctx, containerName); err != nil {
		return 0, fault.Wrap(fault.KindRunFailed, "replace prior container", err)
	}

	hostPort, err := allocateHostPort()
	if err != nil {
		return 0, err
	}

	exposed := nat.Port(fmt.Sprintf("%d/tcp", internalPort))
	config := &container.Config{
		Image:        imageRef,
		ExposedPorts: nat.PortSet{exposed: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			exposed: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", hostPort)}},
		},
		Resources: container.Resources{
			Memory:    c.opts.MemoryLimitBytes,
			CPUShares: c.opts.CPUShares,
		},
		RestartPolicy: container.RestartPolicy{Name: "always"},
	}

	created, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, containerName)
	if err != nil {
		return 0, fault.Wrap(fault.KindRunFailed, "container create", err)
	}
	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return 0, fault.Wrap(fault.KindRunFailed, "container start", err)
	}
	return hostPort, nil
}

// InspectContainer returns engine-level details for a container by name or id.
func (c *Client) InspectContainer(ctx context.Context, nameOrID string) (types.ContainerJSON, error) {
	info, err := c.inner.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return types.ContainerJSON{}, ErrNotFound
		}
		return types.ContainerJSON{}, fmt.Errorf("container inspect: %w", err)
	}
	return info, nil
}

// ListRunning returns summaries of all running containers.
func (c *Client) ListRunning(ctx context.Context) ([]types.Container, error) {
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}
	return containers, nil
}

// RemoveContainer stops (if running) and removes a container. Absent
// containers are not an error.
func (c *Client) RemoveContainer(ctx context.Context, nameOrID string) error {
	if strings.TrimSpace(nameOrID) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	info, err := c.inner.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("container inspect: %w", err)
	}
	if info.State != nil && info.State.Running {
		if err := c.inner.ContainerStop(ctx, info.ID, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("stop container: %w", err)
		}
	}
	if err := c.inner.ContainerRemove(ctx, info.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}
