package domain

import (
	"fmt"
	"time"
)

// Framework identifies the build recipe a project uses.
type Framework string

const (
	FrameworkStatic Framework = "STATIC"
	FrameworkNodeJS Framework = "NODEJS"
	FrameworkNextJS Framework = "NEXTJS"
	FrameworkDjango Framework = "DJANGO"
)

// ValidFramework reports whether f is a recognized framework.
func ValidFramework(f Framework) bool {
	switch f {
	case FrameworkStatic, FrameworkNodeJS, FrameworkNextJS, FrameworkDjango:
		return true
	}
	return false
}

// Project is a registered source repository owned by a user. Its slug doubles
// as the public subdomain and as the root of container and image names.
type Project struct {
	ID        string
	UserID    string
	Name      string
	Slug      string
	RepoURL   string
	Framework Framework
	Branch    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContainerName derives the deterministic container name for a slug.
func ContainerName(prefix, slug string) string {
	return fmt.Sprintf("%s-%s", prefix, slug)
}

// ImageRef derives the deterministic image reference for a slug.
func ImageRef(prefix, slug string) string {
	return fmt.Sprintf("%s/%s:latest", prefix, slug)
}
