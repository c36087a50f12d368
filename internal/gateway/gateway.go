package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kpndevrootentri/ShipEntri/internal/fault"
)

// defaultExecTimeout is the wall-clock limit for a single command.
const defaultExecTimeout = 30 * time.Second

// ContainerSummary is the minimal view of a running container the gateway
// needs for resolution by image.
type ContainerSummary struct {
	ID    string
	Names []string
	Image string
}

// ExecSession is a live exec: a multiplexed output stream plus the id needed
// to fetch the exit code once the stream ends.
type ExecSession struct {
	ID     string
	Reader io.Reader
	Close  func()
}

// Engine is the container-engine surface the gateway drives.
type Engine interface {
	ContainerExists(ctx context.Context, name string) (bool, error)
	ListRunning(ctx context.Context) ([]ContainerSummary, error)
	Exec(ctx context.Context, container, command string) (*ExecSession, error)
	ExecExitCode(ctx context.Context, execID string) (int, error)
	Logs(ctx context.Context, container string, tail int) (io.ReadCloser, error)
}

// Result is the demultiplexed outcome of a command.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// allowedCommands is the fixed set of permitted first tokens: read-oriented
// tools plus the runtime CLIs a deployed app container commonly ships.
var allowedCommands = map[string]struct{}{
	"ls": {}, "cat": {}, "pwd": {}, "echo": {}, "env": {}, "whoami": {},
	"df": {}, "du": {}, "ps": {}, "top": {}, "head": {}, "tail": {},
	"grep": {}, "find": {}, "wc": {}, "date": {}, "uptime": {}, "which": {},
	"printenv": {}, "hostname": {}, "uname": {}, "id": {}, "free": {},
	"stat": {}, "file": {}, "sort": {}, "uniq": {}, "tr": {}, "cut": {},
	"awk": {}, "sed": {}, "less": {}, "more": {}, "mkdir": {}, "touch": {},
	"cp": {}, "mv": {}, "cd": {}, "npm": {}, "node": {}, "python": {},
	"pip": {}, "curl": {}, "wget": {},
}

// Gateway runs restricted commands inside running containers.
type Gateway struct {
	engine  Engine
	prefix  string
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a command gateway. prefix is the container-name/image prefix
// used for resolution.
func New(engine Engine, prefix string, timeout time.Duration, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{engine: engine, prefix: prefix, logger: logger, timeout: timeout}
}

// Execute validates the command against the allow-list and runs it as
// `/bin/sh -c` inside the container, demultiplexing stdout and stderr.
func (g *Gateway) Execute(ctx context.Context, containerName, command string) (Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{}, fault.New(fault.KindValidation, "command cannot be empty")
	}
	token := strings.Fields(command)[0]
	if _, ok := allowedCommands[token]; !ok {
		return Result{}, fault.Newf(fault.KindValidation, "command %q is not permitted; allowed commands: %s", token, allowedCommandList())
	}
	return g.run(ctx, containerName, command)
}

// run executes a pre-validated shell command with the wall-clock timeout.
func (g *Gateway) run(ctx context.Context, containerName, command string) (Result, error) {
	name, err := g.resolve(ctx, containerName)
	if err != nil {
		return Result{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	session, err := g.engine.Exec(execCtx, name, command)
	if err != nil {
		if err == ErrNoContainer {
			return Result{}, containerNotFound(containerName)
		}
		return Result{}, fault.Wrap(fault.KindInternal, "exec command", err)
	}
	defer func() {
		if session.Close != nil {
			session.Close()
		}
	}()

	var demux demuxer
	done := make(chan error, 1)
	go func() {
		_, copyErr := io.Copy(&demux, session.Reader)
		done <- copyErr
	}()

	select {
	case <-execCtx.Done():
		// Destroy the stream so the copier goroutine unblocks.
		if session.Close != nil {
			session.Close()
			session.Close = nil
		}
		<-done
		return Result{}, fault.Newf(fault.KindTimeout, "command did not complete within %s", g.timeout)
	case copyErr := <-done:
		if copyErr != nil {
			return Result{}, fault.Wrap(fault.KindInternal, "read command output", copyErr)
		}
	}

	result := Result{Stdout: demux.Stdout(), Stderr: demux.Stderr()}
	exitCode, err := g.engine.ExecExitCode(ctx, session.ID)
	if err != nil {
		// The buffers are still useful without the exit status.
		g.logger.Warn("exec exit code lookup failed", "container", name, "error", err)
		result.ExitCode = -1
		return result, nil
	}
	result.ExitCode = exitCode
	return result, nil
}

// ErrNoContainer is returned by Engine implementations when the target
// container cannot be resolved.
var ErrNoContainer = fmt.Errorf("gateway: no such container")

// resolve finds a container by exact name, falling back to matching a
// running container whose image is derived from the name's slug.
func (g *Gateway) resolve(ctx context.Context, containerName string) (string, error) {
	exists, err := g.engine.ContainerExists(ctx, containerName)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "resolve container", err)
	}
	if exists {
		return containerName, nil
	}

	slug := stripPrefix(containerName, g.prefix)
	wantImage := fmt.Sprintf("%s/%s:latest", g.prefix, slug)
	running, err := g.engine.ListRunning(ctx)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "list containers", err)
	}
	for _, c := range running {
		if c.Image == wantImage {
			return c.ID, nil
		}
	}
	return "", containerNotFound(containerName)
}

func containerNotFound(containerName string) error {
	return fault.Newf(fault.KindNotFound, "container %q is not running; deploy the project and try again", containerName)
}

// stripPrefix removes the configured prefix and its separator from a
// container name, normalizing `-` and `_` separators.
func stripPrefix(containerName, prefix string) string {
	slug := strings.TrimPrefix(containerName, prefix)
	slug = strings.TrimLeft(slug, "-_")
	if slug == "" {
		return containerName
	}
	return slug
}

func allowedCommandList() string {
	names := make([]string, 0, len(allowedCommands))
	for name := range allowedCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}
