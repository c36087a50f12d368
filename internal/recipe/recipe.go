package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
	"github.com/kpndevrootentri/ShipEntri/internal/fault"
)

// Recipe is the container build recipe for a framework: the Dockerfile text
// written into the context root and the port the application listens on.
type Recipe struct {
	Dockerfile   string
	InternalPort int
}

const staticDockerfile = `FROM nginx:alpine
COPY . /usr/share/nginx/html
EXPOSE 80
`

const nodejsDockerfile = `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm install --omit=dev
COPY . .
EXPOSE 3000
CMD ["npm", "start"]
`

const nextjsDockerfile = `FROM node:20-alpine AS builder
WORKDIR /app
COPY package*.json ./
RUN npm install
COPY . .
RUN npm run build

FROM node:20-alpine
WORKDIR /app
ENV NODE_ENV=production
COPY --from=builder /app/package*.json ./
COPY --from=builder /app/node_modules ./node_modules
COPY --from=builder /app/.next ./.next
COPY --from=builder /app/public ./public
EXPOSE 3000
CMD ["npm", "start"]
`

const djangoDockerfile = `FROM python:3.11-slim
WORKDIR /app
COPY requirements.txt ./
RUN pip install --no-cache-dir -r requirements.txt
COPY . .
EXPOSE 8000
CMD ["python", "manage.py", "runserver", "0.0.0.0:8000"]
`

var catalog = map[domain.Framework]Recipe{
	domain.FrameworkStatic: {Dockerfile: staticDockerfile, InternalPort: 80},
	domain.FrameworkNodeJS: {Dockerfile: nodejsDockerfile, InternalPort: 3000},
	domain.FrameworkNextJS: {Dockerfile: nextjsDockerfile, InternalPort: 3000},
	domain.FrameworkDjango: {Dockerfile: djangoDockerfile, InternalPort: 8000},
}

// For returns the recipe for a framework.
func For(framework domain.Framework) (Recipe, error) {
	r, ok := catalog[framework]
	if !ok {
		return Recipe{}, fault.Newf(fault.KindValidation, "unknown framework %q", framework)
	}
	return r, nil
}

// InternalPort is a convenience lookup for the declared application port.
func InternalPort(framework domain.Framework) (int, error) {
	r, err := For(framework)
	if err != nil {
		return 0, err
	}
	return r.InternalPort, nil
}

// nextConfigSentinel marks a configuration file that has already been
// patched, making PrepareContext idempotent.
const nextConfigSentinel = "shipentri: allow builds with lint or type errors"

// The create-next-app templates declare `const nextConfig = {...}` before
// exporting it, so appended statements can mutate the exported object in both
// the CommonJS and ESM variants. The try/catch keeps the patch best-effort
// for hand-rolled configs that use a different shape.
const nextConfigPatch = `
// ` + nextConfigSentinel + `
try {
  nextConfig.eslint = Object.assign({}, nextConfig.eslint, { ignoreDuringBuilds: true });
  nextConfig.typescript = Object.assign({}, nextConfig.typescript, { ignoreBuildErrors: true });
} catch (e) {}
`

const nextConfigDefault = `// ` + nextConfigSentinel + `
/** @type {import('next').NextConfig} */
const nextConfig = {
  eslint: { ignoreDuringBuilds: true },
  typescript: { ignoreBuildErrors: true },
};

module.exports = nextConfig;
`

var nextConfigCandidates = []string{"next.config.js", "next.config.mjs", "next.config.ts"}

// PrepareContext applies framework-specific fixes to a build context before
// the image build. For NEXTJS it patches (or creates) the next config so lint
// and type-check failures do not abort the build. Other frameworks need none.
func PrepareContext(dir string, framework domain.Framework) error {
	if framework != domain.FrameworkNextJS {
		return nil
	}
	for _, name := range nextConfigCandidates {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", name, err)
		}
		if containsSentinel(content) {
			return nil
		}
		patched := append(content, []byte(nextConfigPatch)...)
		if err := os.WriteFile(path, patched, 0o644); err != nil {
			return fmt.Errorf("patch %s: %w", name, err)
		}
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, "next.config.js"), []byte(nextConfigDefault), 0o644); err != nil {
		return fmt.Errorf("create next.config.js: %w", err)
	}
	return nil
}

func containsSentinel(content []byte) bool {
	return strings.Contains(string(content), nextConfigSentinel)
}
