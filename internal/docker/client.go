package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// Options configures container naming and resource caps for the adapter.
type Options struct {
	// Prefix is both the container-name prefix and the image namespace.
	Prefix string
	// MemoryLimitBytes is the hard memory cap for created containers.
	MemoryLimitBytes int64
	// CPUShares is the CPU weight for created containers.
	CPUShares int64
}

const (
	defaultPrefix      = "dropdeploy"
	defaultMemoryLimit = 512 * 1024 * 1024
	defaultCPUShares   = 1024
)

// Client wraps the Docker SDK client with deployment-specific operations.
type Client struct {
	inner *client.Client
	opts  Options
}

// New creates a Docker client using environment defaults.
func New(host string, opts Options) (*Client, error) {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.MemoryLimitBytes <= 0 {
		opts.MemoryLimitBytes = defaultMemoryLimit
	}
	if opts.CPUShares <= 0 {
		opts.CPUShares = defaultCPUShares
	}
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		clientOpts = append(clientOpts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner, opts: opts}, nil
}

// Prefix returns the configured container/image prefix.
func (c *Client) Prefix() string {
	return c.opts.Prefix
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
