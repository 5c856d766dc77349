package config

type Config interface {
	EnvConfig
	SessionConfig
	StorageConfig
	MockConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Session
	Storage
	Mock
}

func New() Config {
	return mainConfig{}
}
