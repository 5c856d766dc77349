package config

// CredentialsBackend names the durable key/value store holding the credential pair.
type CredentialsBackend string

const (
	BackendFile   CredentialsBackend = "file"
	BackendRedis  CredentialsBackend = "redis"
	BackendMemory CredentialsBackend = "memory"
)

type StorageConfig interface {
	GetCredentialsBackend() CredentialsBackend
	GetCredentialsFile() string
	GetRedisURL() string
	GetRedisPrefix() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetCredentialsBackend() CredentialsBackend {
	switch CredentialsBackend(GetEnv("CREDENTIALS_BACKEND", string(BackendFile))) {
	case BackendRedis:
		return BackendRedis
	case BackendMemory:
		return BackendMemory
	default:
		return BackendFile
	}
}

func (Storage) GetCredentialsFile() string {
	return GetEnv("CREDENTIALS_FILE", "./data/credentials.json")
}

func (Storage) GetRedisURL() string {
	return GetEnv("REDIS_URL", "redis://localhost:6379/0")
}

func (Storage) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "dash:credentials:")
}
