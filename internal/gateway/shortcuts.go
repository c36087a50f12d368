package gateway

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kpndevrootentri/ShipEntri/internal/fault"
)

// shortcut is a named convenience command. Shortcuts either map to a shell
// command, read container logs, or render static help text.
type shortcut struct {
	description string
	command     string
	logTail     int
	static      bool
}

var shortcuts = map[string]shortcut{
	"/show-logs": {description: "show the last 500 log lines", logTail: 500},
	"/tail-logs": {description: "show the last 100 log lines", logTail: 100},
	"/env":       {description: "print the container environment, sorted", command: "env | sort"},
	"/files":     {description: "list files in the working directory", command: "ls -la"},
	"/help":      {description: "list available shortcuts", static: true},
}

// IsShortcut reports whether command names a registered shortcut.
func IsShortcut(command string) bool {
	_, ok := shortcuts[strings.TrimSpace(command)]
	return ok
}

// ExecuteShortcut runs a registered shortcut against the container. /help is
// answered without touching the container at all.
func (g *Gateway) ExecuteShortcut(ctx context.Context, containerName, name string) (Result, error) {
	sc, ok := shortcuts[strings.TrimSpace(name)]
	if !ok {
		return Result{}, fault.Newf(fault.KindValidation, "unknown shortcut %q; try /help", name)
	}
	switch {
	case sc.static:
		return Result{Stdout: helpText()}, nil
	case sc.logTail > 0:
		return g.containerLogs(ctx, containerName, sc.logTail)
	default:
		return g.run(ctx, containerName, sc.command)
	}
}

// containerLogs reads and demultiplexes the container's recent log output.
func (g *Gateway) containerLogs(ctx context.Context, containerName string, tail int) (Result, error) {
	name, err := g.resolve(ctx, containerName)
	if err != nil {
		return Result{}, err
	}
	reader, err := g.engine.Logs(ctx, name, tail)
	if err != nil {
		if err == ErrNoContainer {
			return Result{}, containerNotFound(containerName)
		}
		return Result{}, fault.Wrap(fault.KindInternal, "fetch container logs", err)
	}
	defer reader.Close()

	var demux demuxer
	if _, err := io.Copy(&demux, reader); err != nil {
		return Result{}, fault.Wrap(fault.KindInternal, "read container logs", err)
	}
	return Result{Stdout: demux.Stdout(), Stderr: demux.Stderr()}, nil
}

func helpText() string {
	names := make([]string, 0, len(shortcuts))
	for name := range shortcuts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available shortcuts:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-12s %s\n", name, shortcuts[name].description)
	}
	b.WriteString("\nAllowed commands: ")
	b.WriteString(allowedCommandList())
	return b.String()
}
