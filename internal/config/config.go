package config

type Config interface {
	EnvConfig
	OAuthConfig
	CIBAConfig
	StorageConfig
}

type mainConfig struct {
	EnvVars
	OAuth
	CIBA
	Storage
}

func New() Config {
	return mainConfig{}
}
