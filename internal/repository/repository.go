package repository

import (
	"context"
	"time"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
)

// ProjectRepository persists project configuration.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*domain.Project, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error)
	UpdateProjectBranch(ctx context.Context, projectID, branch string) error
	DeleteProject(ctx context.Context, projectID string) error
}

// DeploymentRepository stores deployment attempts and their state machine.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	UpdateDeployment(ctx context.Context, update domain.DeploymentUpdate) error
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	GetDeployedBySubdomain(ctx context.Context, subdomain string) (*domain.Deployment, error)
	ClearSubdomainExcept(ctx context.Context, projectID, subdomain, excludeDeploymentID string) error
	ListBuildingUpdatedBefore(ctx context.Context, updatedBefore time.Time) ([]domain.Deployment, error)
	DeleteDeploymentsByProject(ctx context.Context, projectID string) error
}
