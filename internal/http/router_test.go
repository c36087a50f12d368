package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
	"github.com/kpndevrootentri/ShipEntri/internal/fault"
	"github.com/kpndevrootentri/ShipEntri/internal/gateway"
	"github.com/kpndevrootentri/ShipEntri/internal/queue"
	"github.com/kpndevrootentri/ShipEntri/internal/repository"
	"github.com/kpndevrootentri/ShipEntri/internal/service/deploy"
	"github.com/kpndevrootentri/ShipEntri/internal/service/project"
	jwtpkg "github.com/kpndevrootentri/ShipEntri/pkg/jwt"
)

const testSecret = "router-test-secret"

type projectRepoStub struct {
	projects map[string]*domain.Project
}

func (s *projectRepoStub) CreateProject(_ context.Context, p *domain.Project) error {
	for _, existing := range s.projects {
		if existing.Slug == p.Slug {
			return repository.ErrConflict
		}
	}
	s.projects[p.ID] = p
	return nil
}

func (s *projectRepoStub) GetProjectByID(_ context.Context, id string) (*domain.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *projectRepoStub) GetProjectBySlug(_ context.Context, slug string) (*domain.Project, error) {
	for _, p := range s.projects {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *projectRepoStub) ListProjectsByUser(_ context.Context, userID string) ([]domain.Project, error) {
	var out []domain.Project
	for _, p := range s.projects {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *projectRepoStub) UpdateProjectBranch(_ context.Context, id, branch string) error {
	p, ok := s.projects[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Branch = branch
	return nil
}

func (s *projectRepoStub) DeleteProject(_ context.Context, id string) error {
	delete(s.projects, id)
	return nil
}

type deploymentRepoStub struct {
	deployments map[string]*domain.Deployment
}

func (s *deploymentRepoStub) CreateDeployment(_ context.Context, d *domain.Deployment) error {
	s.deployments[d.ID] = d
	return nil
}

func (s *deploymentRepoStub) GetDeploymentByID(_ context.Context, id string) (*domain.Deployment, error) {
	d, ok := s.deployments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

func (s *deploymentRepoStub) UpdateDeployment(_ context.Context, update domain.DeploymentUpdate) error {
	return nil
}

func (s *deploymentRepoStub) ListDeploymentsByProject(_ context.Context, projectID string, _ int) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for _, d := range s.deployments {
		if d.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *deploymentRepoStub) GetDeployedBySubdomain(_ context.Context, subdomain string) (*domain.Deployment, error) {
	for _, d := range s.deployments {
		if d.Status == domain.StatusDeployed && d.Subdomain != nil && *d.Subdomain == subdomain {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *deploymentRepoStub) ClearSubdomainExcept(context.Context, string, string, string) error {
	return nil
}

func (s *deploymentRepoStub) ListBuildingUpdatedBefore(context.Context, time.Time) ([]domain.Deployment, error) {
	return nil, nil
}

func (s *deploymentRepoStub) DeleteDeploymentsByProject(_ context.Context, projectID string) error {
	for id, d := range s.deployments {
		if d.ProjectID == projectID {
			delete(s.deployments, id)
		}
	}
	return nil
}

type repoManagerStub struct{}

func (repoManagerStub) EnsureRepo(context.Context, string, string, string) (string, error) {
	return "/tmp/stub", nil
}

type engineStub struct{}

func (engineStub) BuildImage(context.Context, string, string, domain.Framework) (string, error) {
	return "dropdeploy/site:latest", nil
}

func (engineStub) ReplaceAndRun(context.Context, string, domain.Framework, string) (int, error) {
	return 8123, nil
}

type containerRemoverStub struct{}

func (containerRemoverStub) RemoveContainer(context.Context, string) error { return nil }
func (containerRemoverStub) Prefix() string                                { return "dropdeploy" }

type workdirRemoverStub struct{}

func (workdirRemoverStub) Remove(string) error { return nil }

type submitterStub struct {
	jobs []queue.Job
}

func (s *submitterStub) Submit(_ context.Context, job queue.Job) error {
	s.jobs = append(s.jobs, job)
	return nil
}

type gatewayStub struct {
	result    gateway.Result
	err       error
	container string
	command   string
	shortcut  string
}

func (g *gatewayStub) Execute(_ context.Context, containerName, command string) (gateway.Result, error) {
	g.container = containerName
	g.command = command
	return g.result, g.err
}

func (g *gatewayStub) ExecuteShortcut(_ context.Context, containerName, name string) (gateway.Result, error) {
	g.container = containerName
	g.shortcut = name
	return g.result, g.err
}

type fixture struct {
	router      *Router
	projects    *projectRepoStub
	deployments *deploymentRepoStub
	submitter   *submitterStub
	gateway     *gatewayStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projects := &projectRepoStub{projects: map[string]*domain.Project{
		"proj-1": {
			ID: "proj-1", UserID: "user-1", Name: "Site", Slug: "site",
			RepoURL: "https://git.example.test/u/site.git", Framework: domain.FrameworkStatic, Branch: "main",
		},
	}}
	deployments := &deploymentRepoStub{deployments: map[string]*domain.Deployment{}}
	submitter := &submitterStub{}
	gw := &gatewayStub{result: gateway.Result{Stdout: "ok", ExitCode: 0}}

	projectSvc := project.New(projects, deployments, containerRemoverStub{}, workdirRemoverStub{}, logger)
	deploySvc := deploy.New(projects, deployments, repoManagerStub{}, engineStub{}, submitter, "dropdeploy", deploy.Timeouts{}, logger)
	router := NewRouter(logger, projectSvc, deploySvc, gw, nil, testSecret, "dropdeploy", nil, nil)
	t.Cleanup(router.Close)

	return &fixture{router: router, projects: projects, deployments: deployments, submitter: submitter, gateway: gw}
}

func (f *fixture) request(t *testing.T, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		token, err := jwtpkg.GenerateToken(userID, testSecret, time.Minute)
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestProjectsRequireAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/projects", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateProject(t *testing.T) {
	f := newFixture(t)
	body := `{"name":"My App","repoUrl":"https://git.example.test/u/app.git","framework":"NODEJS"}`
	rec := f.request(t, http.MethodPost, "/projects", body, "user-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["slug"] != "my-app" {
		t.Fatalf("slug = %v", payload["slug"])
	}
	if payload["branch"] != "main" {
		t.Fatalf("branch = %v", payload["branch"])
	}
}

func TestCreateProjectRejectsBadFramework(t *testing.T) {
	f := newFixture(t)
	body := `{"name":"App","repoUrl":"https://x","framework":"COBOL"}`
	rec := f.request(t, http.MethodPost, "/projects", body, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetProjectIncludesDeployments(t *testing.T) {
	f := newFixture(t)
	step := domain.StepBuildingImage
	f.deployments.deployments["dep-1"] = &domain.Deployment{
		ID: "dep-1", ProjectID: "proj-1", Status: domain.StatusBuilding, BuildStep: &step,
	}

	rec := f.request(t, http.MethodGet, "/projects/proj-1", "", "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Slug        string `json:"slug"`
		Deployments []struct {
			ID        string  `json:"id"`
			Status    string  `json:"status"`
			BuildStep *string `json:"buildStep"`
		} `json:"deployments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Slug != "site" {
		t.Fatalf("slug = %q", payload.Slug)
	}
	if len(payload.Deployments) != 1 {
		t.Fatalf("deployments = %+v", payload.Deployments)
	}
	d := payload.Deployments[0]
	if d.Status != "BUILDING" || d.BuildStep == nil || *d.BuildStep != "BUILDING_IMAGE" {
		t.Fatalf("deployment = %+v", d)
	}
}

func TestGetForeignProjectIsNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/projects/proj-1", "", "intruder")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeployEndpointQueuesDeployment(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/projects/proj-1/deploy", "", "user-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["deploymentId"] == "" {
		t.Fatal("missing deploymentId")
	}
	if len(f.submitter.jobs) != 1 {
		t.Fatalf("jobs = %+v", f.submitter.jobs)
	}
}

func deployFixtureProject(f *fixture) {
	subdomain := "site"
	port := 8123
	f.deployments.deployments["dep-live"] = &domain.Deployment{
		ID: "dep-live", ProjectID: "proj-1", Status: domain.StatusDeployed,
		Subdomain: &subdomain, ContainerPort: &port,
	}
}

func TestTerminalRunsCommand(t *testing.T) {
	f := newFixture(t)
	deployFixtureProject(f)

	rec := f.request(t, http.MethodPost, "/projects/proj-1/terminal", `{"command":"ls -la"}`, "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if f.gateway.command != "ls -la" {
		t.Fatalf("command = %q", f.gateway.command)
	}
	if f.gateway.container != "dropdeploy-site" {
		t.Fatalf("container = %q", f.gateway.container)
	}
	var result gateway.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Stdout != "ok" || result.ExitCode != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestTerminalRoutesShortcuts(t *testing.T) {
	f := newFixture(t)
	deployFixtureProject(f)

	rec := f.request(t, http.MethodPost, "/projects/proj-1/terminal", `{"command":"/show-logs"}`, "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.gateway.shortcut != "/show-logs" {
		t.Fatalf("shortcut = %q", f.gateway.shortcut)
	}
	if f.gateway.command != "" {
		t.Fatalf("plain execute was called with %q", f.gateway.command)
	}
}

func TestTerminalRejectsNonDeployedProject(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/projects/proj-1/terminal", `{"command":"ls"}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "not deployed") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestTerminalValidatesCommandLength(t *testing.T) {
	f := newFixture(t)
	deployFixtureProject(f)

	rec := f.request(t, http.MethodPost, "/projects/proj-1/terminal", `{"command":""}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty command: status = %d", rec.Code)
	}

	long := strings.Repeat("a", 1001)
	rec = f.request(t, http.MethodPost, "/projects/proj-1/terminal", `{"command":"`+long+`"}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized command: status = %d", rec.Code)
	}
}

func TestTerminalMapsAllowListRejectionTo400(t *testing.T) {
	f := newFixture(t)
	deployFixtureProject(f)
	f.gateway.err = fault.New(fault.KindValidation, `command "rm" is not permitted`)

	rec := f.request(t, http.MethodPost, "/projects/proj-1/terminal", `{"command":"rm -rf /"}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTerminalMapsTimeoutTo400(t *testing.T) {
	f := newFixture(t)
	deployFixtureProject(f)
	f.gateway.err = fault.New(fault.KindTimeout, "command did not complete within 30s")

	rec := f.request(t, http.MethodPost, "/projects/proj-1/terminal", `{"command":"tail -f x"}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "30s") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRouteLookup(t *testing.T) {
	f := newFixture(t)
	deployFixtureProject(f)

	rec := f.request(t, http.MethodGet, "/internal/routes/site", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Subdomain string `json:"subdomain"`
		Address   string `json:"address"`
		HostPort  *int   `json:"hostPort"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Subdomain != "site" || payload.Address != "127.0.0.1" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.HostPort == nil || *payload.HostPort != 8123 {
		t.Fatalf("hostPort = %v", payload.HostPort)
	}
}

func TestRouteLookupUnknownSubdomain(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/internal/routes/ghost", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteProject(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodDelete, "/projects/proj-1", "", "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, ok := f.projects.projects["proj-1"]; ok {
		t.Fatal("project row still present")
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
