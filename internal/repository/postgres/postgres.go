package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kpndevrootentri/ShipEntri/internal/domain"
	"github.com/kpndevrootentri/ShipEntri/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
)

const projectColumns = `id, user_id, name, slug, repo_url, framework, branch, created_at, updated_at`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Slug, &p.RepoURL, &p.Framework, &p.Branch, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateProject inserts a project. A slug collision maps to ErrConflict.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, user_id, name, slug, repo_url, framework, branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		project.ID, project.UserID, project.Name, project.Slug,
		project.RepoURL, project.Framework, project.Branch,
		project.CreatedAt, project.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// GetProjectBySlug fetches a project by its slug.
func (r *Repository) GetProjectBySlug(ctx context.Context, slug string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE slug = $1`
	return scanProject(r.pool.QueryRow(ctx, query, slug))
}

// ListProjectsByUser returns projects owned by the user.
func (r *Repository) ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Slug, &p.RepoURL, &p.Framework, &p.Branch, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectBranch changes the branch the next deployment will build.
func (r *Repository) UpdateProjectBranch(ctx context.Context, projectID, branch string) error {
	const query = `UPDATE projects SET branch = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, branch)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project row. Deployment rows are removed first by
// the caller via DeleteDeploymentsByProject.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const deploymentColumns = `id, project_id, status, build_step, container_port, subdomain, logs, started_at, completed_at, created_at, updated_at`

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Status, &d.BuildStep, &d.ContainerPort, &d.Subdomain, &d.Logs, &d.StartedAt, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// CreateDeployment inserts a deployment attempt.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, status, build_step, container_port, subdomain, logs, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID, deployment.ProjectID, deployment.Status, deployment.BuildStep,
		deployment.ContainerPort, deployment.Subdomain, deployment.Logs,
		deployment.StartedAt, deployment.CompletedAt, deployment.CreatedAt, deployment.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503":
				return repository.ErrNotFound
			case "23505":
				return repository.ErrConflict
			}
		}
		return err
	}
	return nil
}

// GetDeploymentByID retrieves a deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return scanDeployment(r.pool.QueryRow(ctx, query, deploymentID))
}

// UpdateDeployment applies a pipeline state transition to a single row.
// Optional fields are only written when set; build_step is forced to NULL
// when the update marks a terminal state, and logs/completed_at are reset
// when a retry re-enters BUILDING after a FAILED attempt.
func (r *Repository) UpdateDeployment(ctx context.Context, update domain.DeploymentUpdate) error {
	const query = `UPDATE deployments SET
			status = $2,
			build_step = CASE WHEN $3 THEN NULL ELSE COALESCE($4, build_step) END,
			container_port = COALESCE($5, container_port),
			subdomain = COALESCE($6, subdomain),
			logs = CASE WHEN $7 THEN '' ELSE COALESCE($8, logs) END,
			started_at = COALESCE($9, started_at),
			completed_at = CASE WHEN $10 THEN NULL ELSE COALESCE($11, completed_at) END,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		update.DeploymentID,
		update.Status,
		update.ClearStep,
		update.BuildStep,
		update.ContainerPort,
		update.Subdomain,
		update.ClearLogs,
		update.Logs,
		update.StartedAt,
		update.ClearCompletedAt,
		update.CompletedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDeploymentsByProject returns the most recent deployments first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0, limit)
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Status, &d.BuildStep, &d.ContainerPort, &d.Subdomain, &d.Logs, &d.StartedAt, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// GetDeployedBySubdomain resolves the live deployment for a subdomain. This
// is the reverse-proxy lookup: exactly the (subdomain, container_port) pair
// the orchestrator wrote on the winning deployment.
func (r *Repository) GetDeployedBySubdomain(ctx context.Context, subdomain string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE subdomain = $1 AND status = 'DEPLOYED'
		ORDER BY updated_at DESC LIMIT 1`
	return scanDeployment(r.pool.QueryRow(ctx, query, subdomain))
}

// ClearSubdomainExcept nulls the subdomain on every other deployment of the
// project so the winner can take it without violating uniqueness.
func (r *Repository) ClearSubdomainExcept(ctx context.Context, projectID, subdomain, excludeDeploymentID string) error {
	const query = `UPDATE deployments SET subdomain = NULL, updated_at = NOW()
		WHERE project_id = $1 AND subdomain = $2 AND id <> $3`
	_, err := r.pool.Exec(ctx, query, projectID, subdomain, excludeDeploymentID)
	return err
}

// ListBuildingUpdatedBefore returns deployments stuck in BUILDING whose last
// write is older than the cutoff. Used by the worker startup sweeper.
func (r *Repository) ListBuildingUpdatedBefore(ctx context.Context, updatedBefore time.Time) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE status = 'BUILDING' AND updated_at < $1 ORDER BY updated_at ASC`
	rows, err := r.pool.Query(ctx, query, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Status, &d.BuildStep, &d.ContainerPort, &d.Subdomain, &d.Logs, &d.StartedAt, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// DeleteDeploymentsByProject removes all deployment history for a project.
func (r *Repository) DeleteDeploymentsByProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM deployments WHERE project_id = $1`
	_, err := r.pool.Exec(ctx, query, projectID)
	return err
}
