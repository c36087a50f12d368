package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	QueueRedisAddr     string
	QueueRedisPassword string
	QueueRedisDB       int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	ContainerPrefix    string
	SubdomainBase      string
	DockerHost         string
	ExecTimeout        time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://shipentri:shipentri@db:5432/shipentri?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		QueueRedisAddr:     GetString("QUEUE_REDIS_ADDR", "redis:6379"),
		QueueRedisPassword: GetString("QUEUE_REDIS_PASSWORD", ""),
		QueueRedisDB:       GetInt("QUEUE_REDIS_DB", 0),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 1),
		ContainerPrefix:    GetString("CONTAINER_PREFIX", "dropdeploy"),
		SubdomainBase:      GetString("SUBDOMAIN_BASE", "example.app"),
		DockerHost:         GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		ExecTimeout:        time.Duration(GetInt("EXEC_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}
