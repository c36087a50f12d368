package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
	"github.com/kpndevrootentri/ShipEntri/internal/fault"
	"github.com/kpndevrootentri/ShipEntri/internal/recipe"
)

// buildTailChunks is how many trailing build-output chunks are kept for
// failure diagnostics.
const buildTailChunks = 20

// BuildImage writes the framework recipe into contextDir as Dockerfile and
// builds it tagged <prefix>/<slug>:latest. After the stream completes it
// independently verifies the image exists: the build stream can report
// success yet produce nothing.
func (c *Client) BuildImage(ctx context.Context, slug, contextDir string, framework domain.Framework) (string, error) {
	if c == nil || c.inner == nil {
		return "", fault.New(fault.KindBuildFailed, "docker client not initialized")
	}
	if strings.TrimSpace(slug) == "" {
		return "", fault.New(fault.KindBuildFailed, "slug cannot be empty")
	}
	if strings.TrimSpace(contextDir) == "" {
		return "", fault.New(fault.KindBuildFailed, "build directory cannot be empty")
	}

	rec, err := recipe.For(framework)
	if err != nil {
		return "", err
	}
	if err := recipe.PrepareContext(contextDir, framework); err != nil {
		return "", fault.Wrap(fault.KindBuildFailed, "prepare build context", err)
	}
	if err := os.WriteFile(filepath.Join(contextDir, "Dockerfile"), []byte(rec.Dockerfile), 0o644); err != nil {
		return "", fault.Wrap(fault.KindBuildFailed, "write Dockerfile", err)
	}

	imageRef := domain.ImageRef(c.opts.Prefix, slug)
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return "", fault.Wrap(fault.KindBuildFailed, "create build context", err)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{imageRef},
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := c.inner.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return "", fault.Wrap(fault.KindBuildFailed, "docker image build", err)
	}
	defer resp.Body.Close()

	tail := newTailBuffer(buildTailChunks)
	decoder := json.NewDecoder(resp.Body)
	for {
		var msg imageBuildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return "", fault.Wrap(fault.KindBuildFailed, "decode build output", err)
		}
		if line := msg.render(); line != "" {
			tail.Add(line)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return "", fault.Newf(fault.KindBuildFailed, "docker image build: %s\n%s", errMsg, tail.Join())
		}
	}

	if err := c.verifyImage(ctx, imageRef, framework); err != nil {
		return "", err
	}
	return imageRef, nil
}

// verifyImage inspects the image after a claimed-successful build.
func (c *Client) verifyImage(ctx context.Context, imageRef string, framework domain.Framework) error {
	if _, _, err := c.inner.ImageInspectWithRaw(ctx, imageRef); err != nil {
		return fault.Wrap(fault.KindImageMissingAfterBuild, missingImageHint(imageRef, framework), err)
	}
	return nil
}

// missingImageHint names the most common cause of a build that streams
// success but leaves no image behind.
func missingImageHint(imageRef string, framework domain.Framework) string {
	switch framework {
	case domain.FrameworkNodeJS:
		return fmt.Sprintf("image %s missing after build; check that package.json defines a \"start\" script", imageRef)
	case domain.FrameworkNextJS:
		return fmt.Sprintf("image %s missing after build; check that \"next build\" completes in this repository", imageRef)
	default:
		return fmt.Sprintf("image %s missing after build; the build produced no usable artifact", imageRef)
	}
}

type imageBuildMessage struct {
	Stream      string                `json:"stream"`
	Status      string                `json:"status"`
	ID          string                `json:"id"`
	Progress    string                `json:"progress"`
	Error       string                `json:"error"`
	ErrorDetail imageBuildErrorDetail `json:"errorDetail"`
	Aux         map[string]any        `json:"aux"`
}

type imageBuildErrorDetail struct {
	Message string `json:"message"`
}

func (m imageBuildMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	if strings.TrimSpace(m.ErrorDetail.Message) != "" {
		return strings.TrimSpace(m.ErrorDetail.Message)
	}
	return ""
}

func (m imageBuildMessage) render() string {
	if m.Stream != "" {
		return strings.TrimSpace(m.Stream)
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if strings.TrimSpace(m.ID) != "" {
			parts = append(parts, strings.TrimSpace(m.ID))
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		if progress := strings.TrimSpace(m.Progress); progress != "" {
			parts = append(parts, progress)
		}
		return strings.Join(parts, " ")
	}
	if len(m.Aux) > 0 {
		if id, ok := m.Aux["ID"]; ok {
			return fmt.Sprintf("image id: %v", id)
		}
	}
	return ""
}

// tailBuffer keeps the last n non-empty lines added to it.
type tailBuffer struct {
	lines []string
	size  int
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (b *tailBuffer) Add(line string) {
	if line == "" || b.size <= 0 {
		return
	}
	if len(b.lines) < b.size {
		b.lines = append(b.lines, line)
		return
	}
	b.lines = append(b.lines[1:], line)
}

func (b *tailBuffer) Join() string {
	return strings.Join(b.lines, "\n")
}
