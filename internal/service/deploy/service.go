package deploy

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
	"github.com/kpndevrootentri/ShipEntri/internal/fault"
	"github.com/kpndevrootentri/ShipEntri/internal/queue"
	"github.com/kpndevrootentri/ShipEntri/internal/repository"
)

// logTailLimit caps how much failure output is persisted on the row.
const logTailLimit = 4000

// RepoManager maintains per-project working directories.
type RepoManager interface {
	EnsureRepo(ctx context.Context, repoURL, slug, branch string) (string, error)
}

// Engine is the container-engine slice the pipeline drives.
type Engine interface {
	BuildImage(ctx context.Context, slug, contextDir string, framework domain.Framework) (string, error)
	ReplaceAndRun(ctx context.Context, imageRef string, framework domain.Framework, containerName string) (int, error)
}

// Submitter enqueues deployment jobs.
type Submitter interface {
	Submit(ctx context.Context, job queue.Job) error
}

// Timeouts caps the clone stage and the whole build pipeline. Zero values
// fall back to defaults.
type Timeouts struct {
	Git   time.Duration
	Build time.Duration
}

const (
	defaultGitTimeout   = 2 * time.Minute
	defaultBuildTimeout = 10 * time.Minute
)

// Service orchestrates the deployment pipeline: it owns every state
// transition a Deployment row goes through.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	repos       RepoManager
	engine      Engine
	submitter   Submitter
	prefix      string
	timeouts    Timeouts
	logger      *slog.Logger
}

// New returns a deployment orchestrator.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, repos RepoManager, engine Engine, submitter Submitter, prefix string, timeouts Timeouts, logger *slog.Logger) Service {
	if timeouts.Git <= 0 {
		timeouts.Git = defaultGitTimeout
	}
	if timeouts.Build <= 0 {
		timeouts.Build = defaultBuildTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		projects:    projects,
		deployments: deployments,
		repos:       repos,
		engine:      engine,
		submitter:   submitter,
		prefix:      prefix,
		timeouts:    timeouts,
		logger:      logger,
	}
}

// CreateDeployment persists a QUEUED deployment for the caller's project and
// submits a build job. An unreachable queue is not a failure: the row is
// already durable and can be re-submitted once the backend recovers.
func (s Service) CreateDeployment(ctx context.Context, projectID, userID string) (*domain.Deployment, error) {
	project, err := s.loadOwnedProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Status:    domain.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "persist deployment", err)
	}

	job := queue.Job{
		ID:           uuid.NewString(),
		DeploymentID: deployment.ID,
		ProjectID:    project.ID,
		Attempt:      1,
	}
	if err := s.submitter.Submit(ctx, job); err != nil {
		if !queue.IsUnavailable(err) {
			return nil, err
		}
		s.logger.Warn("queue unreachable, deployment stays queued", "deployment_id", deployment.ID, "project_id", project.ID, "error", err)
	}
	return deployment, nil
}

// Disposition summarizes how one job delivery ended.
type Disposition string

const (
	DispositionDeployed Disposition = "deployed"
	DispositionFailed   Disposition = "failed"
	DispositionSkipped  Disposition = "skipped"
)

// BuildAndDeploy runs the pipeline for one deployment. It is invoked by the
// worker; any step failure marks the row FAILED and is returned so the queue
// can apply its retry policy. Jobs for vanished rows are skipped.
func (s Service) BuildAndDeploy(ctx context.Context, deploymentID string) (Disposition, error) {
	deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("deployment no longer exists, dropping job", "deployment_id", deploymentID)
			return DispositionSkipped, nil
		}
		return DispositionFailed, fault.Wrap(fault.KindInternal, "load deployment", err)
	}
	project, err := s.projects.GetProjectByID(ctx, deployment.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("project no longer exists, dropping job", "deployment_id", deploymentID, "project_id", deployment.ProjectID)
			return DispositionSkipped, nil
		}
		return DispositionFailed, fault.Wrap(fault.KindInternal, "load project", err)
	}

	if strings.TrimSpace(project.RepoURL) == "" {
		s.markFailed(ctx, deploymentID, fault.New(fault.KindValidation, "project has no repository URL"))
		return DispositionFailed, nil
	}

	// A retried job re-enters BUILDING from FAILED; the previous attempt's
	// terminal markers must not survive into the non-terminal state.
	startedAt := time.Now().UTC()
	s.advance(ctx, domain.DeploymentUpdate{
		DeploymentID:     deploymentID,
		Status:           domain.StatusBuilding,
		BuildStep:        stepPtr(domain.StepCloning),
		StartedAt:        &startedAt,
		ClearCompletedAt: true,
		ClearLogs:        true,
	})

	buildCtx, cancel := context.WithTimeout(ctx, s.timeouts.Build)
	defer cancel()
	hostPort, err := s.runPipeline(buildCtx, deploymentID, project)
	if err != nil {
		s.markFailed(ctx, deploymentID, err)
		return DispositionFailed, err
	}

	// Transfer the subdomain before the DEPLOYED write so its uniqueness
	// holds at every instant.
	if err := s.deployments.ClearSubdomainExcept(ctx, project.ID, project.Slug, deploymentID); err != nil {
		s.markFailed(ctx, deploymentID, fault.Wrap(fault.KindInternal, "reassign subdomain", err))
		return DispositionFailed, err
	}

	completedAt := time.Now().UTC()
	subdomain := project.Slug
	s.advance(ctx, domain.DeploymentUpdate{
		DeploymentID:  deploymentID,
		Status:        domain.StatusDeployed,
		ClearStep:     true,
		ContainerPort: &hostPort,
		Subdomain:     &subdomain,
		CompletedAt:   &completedAt,
	})
	s.logger.Info("deployment completed", "deployment_id", deploymentID, "project_id", project.ID, "slug", project.Slug, "host_port", hostPort)
	return DispositionDeployed, nil
}

// runPipeline executes clone, build and run, advancing the build step marker
// before each stage. Returns the allocated host port.
func (s Service) runPipeline(ctx context.Context, deploymentID string, project *domain.Project) (int, error) {
	gitCtx, cancelGit := context.WithTimeout(ctx, s.timeouts.Git)
	workDir, err := s.repos.EnsureRepo(gitCtx, project.RepoURL, project.Slug, project.Branch)
	cancelGit()
	if err != nil {
		return 0, err
	}

	s.advance(ctx, domain.DeploymentUpdate{
		DeploymentID: deploymentID,
		Status:       domain.StatusBuilding,
		BuildStep:    stepPtr(domain.StepBuildingImage),
	})
	imageRef, err := s.engine.BuildImage(ctx, project.Slug, workDir, project.Framework)
	if err != nil {
		return 0, err
	}

	s.advance(ctx, domain.DeploymentUpdate{
		DeploymentID: deploymentID,
		Status:       domain.StatusBuilding,
		BuildStep:    stepPtr(domain.StepStarting),
	})
	hostPort, err := s.engine.ReplaceAndRun(ctx, imageRef, project.Framework, domain.ContainerName(s.prefix, project.Slug))
	if err != nil {
		return 0, err
	}
	return hostPort, nil
}

// markFailed writes the terminal FAILED state with the failure tail.
func (s Service) markFailed(ctx context.Context, deploymentID string, cause error) {
	completedAt := time.Now().UTC()
	tail := logTail(cause.Error())
	s.advance(ctx, domain.DeploymentUpdate{
		DeploymentID: deploymentID,
		Status:       domain.StatusFailed,
		ClearStep:    true,
		Logs:         &tail,
		CompletedAt:  &completedAt,
	})
	s.logger.Error("deployment failed", "deployment_id", deploymentID, "kind", fault.KindOf(cause), "error", cause)
}

func (s Service) advance(ctx context.Context, update domain.DeploymentUpdate) {
	if err := s.deployments.UpdateDeployment(ctx, update); err != nil {
		s.logger.Warn("deployment update failed", "deployment_id", update.DeploymentID, "status", update.Status, "error", err)
	}
}

// loadOwnedProject fetches the project and hides ownership mismatches behind
// NotFound so callers cannot probe for other users' projects.
func (s Service) loadOwnedProject(ctx context.Context, projectID, userID string) (*domain.Project, error) {
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

// ListByProject returns recent deployments for a caller's project.
func (s Service) ListByProject(ctx context.Context, projectID, userID string, limit int) ([]domain.Deployment, error) {
	if _, err := s.loadOwnedProject(ctx, projectID, userID); err != nil {
		return nil, err
	}
	deployments, err := s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "list deployments", err)
	}
	return deployments, nil
}

// RouteForSubdomain resolves the reverse-proxy mapping for a subdomain.
func (s Service) RouteForSubdomain(ctx context.Context, subdomain string) (*domain.Deployment, error) {
	deployment, err := s.deployments.GetDeployedBySubdomain(ctx, subdomain)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fault.Newf(fault.KindNotFound, "no deployed project for subdomain %q", subdomain)
		}
		return nil, fault.Wrap(fault.KindInternal, "resolve subdomain", err)
	}
	return deployment, nil
}

// SweepStuckBuilding marks BUILDING rows untouched since the cutoff as
// FAILED. A worker crash mid-pipeline otherwise leaves them stuck forever.
func (s Service) SweepStuckBuilding(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	stuck, err := s.deployments.ListBuildingUpdatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fault.Wrap(fault.KindInternal, "list stuck deployments", err)
	}
	for _, deployment := range stuck {
		s.markFailed(ctx, deployment.ID, fault.New(fault.KindInternal, "worker restarted mid-build"))
	}
	return len(stuck), nil
}

func logTail(message string) string {
	if len(message) <= logTailLimit {
		return message
	}
	return message[len(message)-logTailLimit:]
}

func stepPtr(step domain.BuildStep) *domain.BuildStep {
	return &step
}
