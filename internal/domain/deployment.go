package domain

import "time"

// Status is the deployment lifecycle state.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusBuilding Status = "BUILDING"
	StatusDeployed Status = "DEPLOYED"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDeployed || s == StatusFailed
}

// BuildStep marks progress while a deployment is BUILDING.
type BuildStep string

const (
	StepCloning       BuildStep = "CLONING"
	StepBuildingImage BuildStep = "BUILDING_IMAGE"
	StepStarting      BuildStep = "STARTING"
)

// Deployment captures a single attempt to build and run a project.
//
// Invariants maintained by the orchestrator: CompletedAt is set iff the
// status is terminal; BuildStep is nil outside BUILDING; at most one
// deployment per project holds a non-null subdomain.
type Deployment struct {
	ID            string
	ProjectID     string
	Status        Status
	BuildStep     *BuildStep
	ContainerPort *int
	Subdomain     *string
	Logs          string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeploymentUpdate carries the mutable fields the orchestrator persists as
// the pipeline advances. Nil pointer fields are left untouched; ClearStep
// forces the build step column to NULL, and ClearCompletedAt/ClearLogs reset
// the terminal markers when a retried deployment leaves FAILED for BUILDING.
type DeploymentUpdate struct {
	DeploymentID     string
	Status           Status
	BuildStep        *BuildStep
	ClearStep        bool
	ContainerPort    *int
	Subdomain        *string
	Logs             *string
	ClearLogs        bool
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ClearCompletedAt bool
}
