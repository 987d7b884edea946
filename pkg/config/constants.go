package config

const (
	// EnvPrefix is passed to envconfig; individual fields carry explicit
	// PDVJGM_* names so the prefix stays empty.
	EnvPrefix = ""

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "PDVJGM_APP_ENV"
	EnvPort   = "PDVJGM_APP_PORT"

	EnvDBDSN  = "PDVJGM_DB_DSN"
	EnvDBHost = "PDVJGM_DB_HOST"
	EnvDBUser = "PDVJGM_DB_USER"
	EnvDBName = "PDVJGM_DB_NAME"

	EnvRedisURL = "PDVJGM_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
