package config

// EnvPrefix is applied by envconfig to unprefixed fields.
const EnvPrefix = "CRMBRIDGE"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv   = "CRMBRIDGE_APP_ENV"
	EnvPort     = "CRMBRIDGE_APP_PORT"
	EnvDBDSN    = "CRMBRIDGE_DB_DSN"
	EnvDBHost   = "CRMBRIDGE_DB_HOST"
	EnvDBUser   = "CRMBRIDGE_DB_USER"
	EnvDBName   = "CRMBRIDGE_DB_NAME"
	EnvRedisURL = "CRMBRIDGE_REDIS_URL"
	EnvBackend  = "CRMBRIDGE_BACKEND_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
