package httpx

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
	"github.com/kpndevrootentri/ShipEntri/internal/fault"
	"github.com/kpndevrootentri/ShipEntri/internal/gateway"
	"github.com/kpndevrootentri/ShipEntri/internal/service/deploy"
	"github.com/kpndevrootentri/ShipEntri/internal/service/project"
)

const (
	rateWindowDefault  = time.Minute
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitDeploy    = 30
	rateLimitTerminal  = 30
	healthCheckTimeout = 2 * time.Second

	maxCommandLength    = 1000
	recentDeployments   = 5
	maxTerminalBodySize = 4096
)

// Gateway is the command-execution surface the terminal endpoint drives.
type Gateway interface {
	Execute(ctx context.Context, containerName, command string) (gateway.Result, error)
	ExecuteShortcut(ctx context.Context, containerName, name string) (gateway.Result, error)
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	project     project.Service
	deploy      deploy.Service
	gateway     Gateway
	limiter     RateLimiter
	jwtSecret   string
	prefix      string
	dbHealth    func(context.Context) error
	queueHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projectSvc project.Service, deploySvc deploy.Service, gw Gateway, limiter RateLimiter, jwtSecret, prefix string, dbHealth, queueHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		project:     projectSvc,
		deploy:      deploySvc,
		gateway:     gw,
		limiter:     limiter,
		jwtSecret:   jwtSecret,
		prefix:      prefix,
		dbHealth:    dbHealth,
		queueHealth: queueHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/projects", r.audit("projects", r.handlerAuthRate("projects", rateLimitWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit("project_subroutes", r.handleProjectSubroutes))
	r.mux.HandleFunc("/internal/routes/", r.audit("internal_routes", r.handleRouteLookup))
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for projects route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name      string `json:"name"`
			RepoURL   string `json:"repoUrl"`
			Framework string `json:"framework"`
			Branch    string `json:"branch"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.project.Create(req.Context(), project.CreateInput{
			UserID:    info.UserID,
			Name:      payload.Name,
			RepoURL:   payload.RepoURL,
			Framework: payload.Framework,
			Branch:    payload.Branch,
		})
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, projectResponse(created))
	case http.MethodGet:
		projects, err := r.project.List(req.Context(), info.UserID)
		if err != nil {
			writeFault(w, err)
			return
		}
		out := make([]map[string]any, 0, len(projects))
		for i := range projects {
			out = append(out, projectResponse(&projects[i]))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	projectID := parts[0]
	if projectID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		r.handlerAuthRate("project", rateLimitRead, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleProject(w, req, projectID)
		})(w, req)
	case len(parts) == 2 && parts[1] == "branch":
		r.handlerAuthRate("project_branch", rateLimitWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleProjectBranch(w, req, projectID)
		})(w, req)
	case len(parts) == 2 && parts[1] == "deploy":
		r.handlerAuthRate("project_deploy", rateLimitDeploy, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleProjectDeploy(w, req, projectID)
		})(w, req)
	case len(parts) == 2 && parts[1] == "terminal":
		r.handlerAuthRate("project_terminal", rateLimitTerminal, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleProjectTerminal(w, req, projectID)
		})(w, req)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request, projectID string) {
	info, _ := authInfoFromContext(req.Context())
	switch req.Method {
	case http.MethodGet:
		proj, err := r.project.Get(req.Context(), projectID, info.UserID)
		if err != nil {
			writeFault(w, err)
			return
		}
		deployments, err := r.deploy.ListByProject(req.Context(), projectID, info.UserID, recentDeployments)
		if err != nil {
			writeFault(w, err)
			return
		}
		out := make([]map[string]any, 0, len(deployments))
		for i := range deployments {
			out = append(out, deploymentResponse(&deployments[i]))
		}
		payload := projectResponse(proj)
		payload["deployments"] = out
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := r.project.Delete(req.Context(), projectID, info.UserID); err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectBranch(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	var payload struct {
		Branch string `json:"branch"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.project.UpdateBranch(req.Context(), projectID, info.UserID, payload.Branch); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (r *Router) handleProjectDeploy(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	deployment, err := r.deploy.CreateDeployment(req.Context(), projectID, info.UserID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"deploymentId": deployment.ID,
		"message":      "deployment queued",
	})
}

func (r *Router) handleProjectTerminal(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	var payload struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxTerminalBodySize)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payload.Command) < 1 || len(payload.Command) > maxCommandLength {
		writeError(w, http.StatusBadRequest, "command must be between 1 and 1000 characters")
		return
	}

	proj, err := r.project.Get(req.Context(), projectID, info.UserID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if _, err := r.deploy.RouteForSubdomain(req.Context(), proj.Slug); err != nil {
		if fault.Is(err, fault.KindNotFound) {
			writeError(w, http.StatusBadRequest, "project is not deployed")
			return
		}
		writeFault(w, err)
		return
	}

	containerName := domain.ContainerName(r.prefix, proj.Slug)
	var result gateway.Result
	if strings.HasPrefix(payload.Command, "/") {
		result, err = r.gateway.ExecuteShortcut(req.Context(), containerName, payload.Command)
	} else {
		result, err = r.gateway.Execute(req.Context(), containerName, payload.Command)
	}
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRouteLookup resolves subdomain to host port for the reverse proxy.
// This surface is internal and unauthenticated; it must not be exposed
// publicly.
func (r *Router) handleRouteLookup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	subdomain := strings.TrimPrefix(req.URL.Path, "/internal/routes/")
	if subdomain == "" || strings.Contains(subdomain, "/") {
		r.notFound(w)
		return
	}
	deployment, err := r.deploy.RouteForSubdomain(req.Context(), subdomain)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subdomain": subdomain,
		"address":   "127.0.0.1",
		"hostPort":  deployment.ContainerPort,
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	checks := map[string]func(context.Context) error{
		"database": r.dbHealth,
		"queue":    r.queueHealth,
	}
	for name, check := range checks {
		if check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components[name] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequest(req.Method, route, status, duration)
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func projectResponse(p *domain.Project) map[string]any {
	return map[string]any{
		"id":        p.ID,
		"name":      p.Name,
		"slug":      p.Slug,
		"repoUrl":   p.RepoURL,
		"framework": p.Framework,
		"branch":    p.Branch,
		"createdAt": p.CreatedAt,
		"updatedAt": p.UpdatedAt,
	}
}

func deploymentResponse(d *domain.Deployment) map[string]any {
	return map[string]any{
		"id":            d.ID,
		"projectId":     d.ProjectID,
		"status":        d.Status,
		"buildStep":     d.BuildStep,
		"containerPort": d.ContainerPort,
		"subdomain":     d.Subdomain,
		"logs":          d.Logs,
		"startedAt":     d.StartedAt,
		"completedAt":   d.CompletedAt,
		"createdAt":     d.CreatedAt,
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
