package config

import "time"

// WorkerConfig holds runtime configuration for the deployment worker.
type WorkerConfig struct {
	Environment        string
	MetricsAddr        string
	DatabaseURL        string
	ProjectsRoot       string
	DockerDataRoot     string
	DockerHost         string
	QueueRedisAddr     string
	QueueRedisPassword string
	QueueRedisDB       int
	Concurrency        int
	MemoryLimitBytes   int64
	CPUShares          int64
	ContainerPrefix    string
	SubdomainBase      string
	GitTimeout         time.Duration
	BuildTimeout       time.Duration
	SweepStaleAfter    time.Duration
	StartupWait        time.Duration
}

// LoadWorkerConfig constructs a WorkerConfig from environment variables.
func LoadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Environment:        GetString("APP_ENV", "development"),
		MetricsAddr:        GetString("WORKER_METRICS_ADDR", ":9090"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://shipentri:shipentri@db:5432/shipentri?sslmode=disable"),
		ProjectsRoot:       GetString("PROJECTS_ROOT", "/var/lib/shipentri/projects"),
		DockerDataRoot:     GetString("DOCKER_DATA_ROOT", "/var/lib/docker"),
		DockerHost:         GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		QueueRedisAddr:     GetString("QUEUE_REDIS_ADDR", "redis:6379"),
		QueueRedisPassword: GetString("QUEUE_REDIS_PASSWORD", ""),
		QueueRedisDB:       GetInt("QUEUE_REDIS_DB", 0),
		Concurrency:        GetInt("WORKER_CONCURRENCY", 5),
		MemoryLimitBytes:   GetInt64("MEMORY_LIMIT_BYTES", 512*1024*1024),
		CPUShares:          GetInt64("CPU_SHARES", 1024),
		ContainerPrefix:    GetString("CONTAINER_PREFIX", "dropdeploy"),
		SubdomainBase:      GetString("SUBDOMAIN_BASE", "example.app"),
		GitTimeout:         time.Duration(GetInt("GIT_TIMEOUT_SECONDS", 120)) * time.Second,
		BuildTimeout:       time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 600)) * time.Second,
		SweepStaleAfter:    time.Duration(GetInt("SWEEP_STALE_AFTER_MINUTES", 30)) * time.Minute,
		StartupWait:        time.Duration(GetInt("STARTUP_WAIT_SECONDS", 60)) * time.Second,
	}
}
