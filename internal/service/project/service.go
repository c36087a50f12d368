package project

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
	"github.com/kpndevrootentri/ShipEntri/internal/fault"
	"github.com/kpndevrootentri/ShipEntri/internal/repository"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	UserID    string
	Name      string
	RepoURL   string
	Framework string
	Branch    string
}

// ContainerRemover tears down the project's running container on delete.
type ContainerRemover interface {
	RemoveContainer(ctx context.Context, nameOrID string) error
	Prefix() string
}

// WorkdirRemover deletes the project's on-disk clone on delete.
type WorkdirRemover interface {
	Remove(slug string) error
}

// Service manages project registration and teardown.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	containers  ContainerRemover
	workdirs    WorkdirRemover
	logger      *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, containers ContainerRemover, workdirs WorkdirRemover, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		projects:    projects,
		deployments: deployments,
		containers:  containers,
		workdirs:    workdirs,
		logger:      logger,
	}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives the URL-safe identifier used as subdomain and container
// name root.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugStrip.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// Create registers a new project. The slug is derived from the name and must
// be globally unique.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fault.New(fault.KindValidation, "project name is required")
	}
	if strings.TrimSpace(input.RepoURL) == "" {
		return nil, fault.New(fault.KindValidation, "repository URL is required")
	}
	framework := domain.Framework(strings.ToUpper(strings.TrimSpace(input.Framework)))
	if !domain.ValidFramework(framework) {
		return nil, fault.Newf(fault.KindValidation, "framework must be one of %s, %s, %s, %s",
			domain.FrameworkStatic, domain.FrameworkNodeJS, domain.FrameworkNextJS, domain.FrameworkDjango)
	}
	branch := strings.TrimSpace(input.Branch)
	if branch == "" {
		branch = "main"
	}
	slug := Slugify(input.Name)
	if slug == "" {
		return nil, fault.New(fault.KindValidation, "project name must contain letters or digits")
	}

	now := time.Now().UTC()
	project := &domain.Project{
		ID:        uuid.NewString(),
		UserID:    input.UserID,
		Name:      strings.TrimSpace(input.Name),
		Slug:      slug,
		RepoURL:   strings.TrimSpace(input.RepoURL),
		Framework: framework,
		Branch:    branch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fault.Newf(fault.KindValidation, "a project with slug %q already exists", slug)
		}
		return nil, fault.Wrap(fault.KindInternal, "persist project", err)
	}
	s.logger.Info("project created", "project_id", project.ID, "slug", project.Slug, "framework", project.Framework)
	return project, nil
}

// Get returns a caller's project by id.
func (s Service) Get(ctx context.Context, projectID, userID string) (*domain.Project, error) {
	return s.loadOwned(ctx, projectID, userID)
}

// List returns the caller's projects.
func (s Service) List(ctx context.Context, userID string) ([]domain.Project, error) {
	projects, err := s.projects.ListProjectsByUser(ctx, userID)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "list projects", err)
	}
	return projects, nil
}

// UpdateBranch changes the branch future deployments build from.
func (s Service) UpdateBranch(ctx context.Context, projectID, userID, branch string) error {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return fault.New(fault.KindValidation, "branch is required")
	}
	if _, err := s.loadOwned(ctx, projectID, userID); err != nil {
		return err
	}
	if err := s.projects.UpdateProjectBranch(ctx, projectID, branch); err != nil {
		return fault.Wrap(fault.KindInternal, "update branch", err)
	}
	return nil
}

// Delete removes a project: its running container and working directory are
// torn down first, then its deployment rows, then the project itself.
func (s Service) Delete(ctx context.Context, projectID, userID string) error {
	project, err := s.loadOwned(ctx, projectID, userID)
	if err != nil {
		return err
	}

	containerName := domain.ContainerName(s.containers.Prefix(), project.Slug)
	if err := s.containers.RemoveContainer(ctx, containerName); err != nil {
		return fault.Wrap(fault.KindInternal, "remove project container", err)
	}
	if err := s.workdirs.Remove(project.Slug); err != nil {
		s.logger.Warn("working directory cleanup failed", "project_id", project.ID, "slug", project.Slug, "error", err)
	}
	if err := s.deployments.DeleteDeploymentsByProject(ctx, project.ID); err != nil {
		return fault.Wrap(fault.KindInternal, "delete deployments", err)
	}
	if err := s.projects.DeleteProject(ctx, project.ID); err != nil {
		return fault.Wrap(fault.KindInternal, "delete project", err)
	}
	s.logger.Info("project deleted", "project_id", project.ID, "slug", project.Slug)
	return nil
}

func (s Service) loadOwned(ctx context.Context, projectID, userID string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fault.New(fault.KindNotFound, "project not found")
		}
		return nil, fault.Wrap(fault.KindInternal, "load project", err)
	}
	if project.UserID != userID {
		return nil, fault.New(fault.KindNotFound, "project not found")
	}
	return project, nil
}
