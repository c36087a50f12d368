package project

import (
	"context"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
	"github.com/kpndevrootentri/ShipEntri/internal/fault"
	"github.com/kpndevrootentri/ShipEntri/internal/repository"
)

type fakeProjects struct {
	projects map[string]*domain.Project
	conflict bool
}

func (f *fakeProjects) CreateProject(_ context.Context, project *domain.Project) error {
	if f.conflict {
		return repository.ErrConflict
	}
	f.projects[project.ID] = project
	return nil
}

func (f *fakeProjects) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	project, ok := f.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return project, nil
}

func (f *fakeProjects) GetProjectBySlug(_ context.Context, slug string) (*domain.Project, error) {
	for _, project := range f.projects {
		if project.Slug == slug {
			return project, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProjects) ListProjectsByUser(_ context.Context, userID string) ([]domain.Project, error) {
	var out []domain.Project
	for _, project := range f.projects {
		if project.UserID == userID {
			out = append(out, *project)
		}
	}
	return out, nil
}

func (f *fakeProjects) UpdateProjectBranch(_ context.Context, projectID, branch string) error {
	project, ok := f.projects[projectID]
	if !ok {
		return repository.ErrNotFound
	}
	project.Branch = branch
	return nil
}

func (f *fakeProjects) DeleteProject(_ context.Context, projectID string) error {
	delete(f.projects, projectID)
	return nil
}

type fakeDeployments struct {
	deletedProject string
}

func (f *fakeDeployments) CreateDeployment(context.Context, *domain.Deployment) error { return nil }
func (f *fakeDeployments) GetDeploymentByID(context.Context, string) (*domain.Deployment, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeDeployments) UpdateDeployment(context.Context, domain.DeploymentUpdate) error {
	return nil
}
func (f *fakeDeployments) ListDeploymentsByProject(context.Context, string, int) ([]domain.Deployment, error) {
	return nil, nil
}
func (f *fakeDeployments) GetDeployedBySubdomain(context.Context, string) (*domain.Deployment, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeDeployments) ClearSubdomainExcept(context.Context, string, string, string) error {
	return nil
}
func (f *fakeDeployments) ListBuildingUpdatedBefore(context.Context, time.Time) ([]domain.Deployment, error) {
	return nil, nil
}
func (f *fakeDeployments) DeleteDeploymentsByProject(_ context.Context, projectID string) error {
	f.deletedProject = projectID
	return nil
}

type fakeContainers struct {
	removed []string
}

func (f *fakeContainers) RemoveContainer(_ context.Context, nameOrID string) error {
	f.removed = append(f.removed, nameOrID)
	return nil
}

func (f *fakeContainers) Prefix() string { return "dropdeploy" }

type fakeWorkdirs struct {
	removed []string
}

func (f *fakeWorkdirs) Remove(slug string) error {
	f.removed = append(f.removed, slug)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Site":        "my-site",
		"  API v2!  ":    "api-v2",
		"hello--world":   "hello-world",
		"Already-Sluggy": "already-sluggy",
	}
	for input, want := range cases {
		if got := Slugify(input); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCreateValidatesInput(t *testing.T) {
	svc := New(&fakeProjects{projects: map[string]*domain.Project{}}, &fakeDeployments{}, &fakeContainers{}, &fakeWorkdirs{}, testLogger())

	cases := []CreateInput{
		{UserID: "u", RepoURL: "https://x", Framework: "STATIC"},
		{UserID: "u", Name: "site", Framework: "STATIC"},
		{UserID: "u", Name: "site", RepoURL: "https://x", Framework: "RUBY"},
		{UserID: "u", Name: "!!!", RepoURL: "https://x", Framework: "STATIC"},
	}
	for i, input := range cases {
		if _, err := svc.Create(context.Background(), input); fault.KindOf(err) != fault.KindValidation {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestCreateDefaultsBranchToMain(t *testing.T) {
	svc := New(&fakeProjects{projects: map[string]*domain.Project{}}, &fakeDeployments{}, &fakeContainers{}, &fakeWorkdirs{}, testLogger())

	project, err := svc.Create(context.Background(), CreateInput{
		UserID: "u", Name: "My Site", RepoURL: "https://git.example.test/u/site.git", Framework: "nodejs",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if project.Branch != "main" {
		t.Fatalf("branch = %q", project.Branch)
	}
	if project.Slug != "my-site" {
		t.Fatalf("slug = %q", project.Slug)
	}
	if project.Framework != domain.FrameworkNodeJS {
		t.Fatalf("framework = %s", project.Framework)
	}
}

func TestCreateReportsSlugConflict(t *testing.T) {
	svc := New(&fakeProjects{projects: map[string]*domain.Project{}, conflict: true}, &fakeDeployments{}, &fakeContainers{}, &fakeWorkdirs{}, testLogger())

	_, err := svc.Create(context.Background(), CreateInput{
		UserID: "u", Name: "site", RepoURL: "https://x", Framework: "STATIC",
	})
	if fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("expected validation error on slug conflict, got %v", err)
	}
}

func TestGetHidesForeignProjects(t *testing.T) {
	projects := &fakeProjects{projects: map[string]*domain.Project{
		"p1": {ID: "p1", UserID: "owner", Slug: "site"},
	}}
	svc := New(projects, &fakeDeployments{}, &fakeContainers{}, &fakeWorkdirs{}, testLogger())

	if _, err := svc.Get(context.Background(), "p1", "intruder"); fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "p1", "owner"); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
}

func TestDeleteTearsDownContainerAndWorkdir(t *testing.T) {
	projects := &fakeProjects{projects: map[string]*domain.Project{
		"p1": {ID: "p1", UserID: "owner", Slug: "site"},
	}}
	deployments := &fakeDeployments{}
	containers := &fakeContainers{}
	workdirs := &fakeWorkdirs{}
	svc := New(projects, deployments, containers, workdirs, testLogger())

	if err := svc.Delete(context.Background(), "p1", "owner"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(containers.removed) != 1 || containers.removed[0] != "dropdeploy-site" {
		t.Fatalf("containers removed = %v", containers.removed)
	}
	if len(workdirs.removed) != 1 || workdirs.removed[0] != "site" {
		t.Fatalf("workdirs removed = %v", workdirs.removed)
	}
	if deployments.deletedProject != "p1" {
		t.Fatalf("deployments deleted for %q", deployments.deletedProject)
	}
	if _, ok := projects.projects["p1"]; ok {
		t.Fatal("project row still present")
	}
}
