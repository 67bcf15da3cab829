package config

type Config interface {
	EnvConfig
	CookieConfig
	OAuthConfig
	SecurityConfig
	RoutesConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetBaseURL() string
	IsProduction() bool
}

type mainConfig struct {
	EnvVars
	Cookie
	OAuth
	Security
	Routes
	Store
}

func New() Config {
	return mainConfig{}
}
