package config

const (
	EnvPrefix = "QUICKBUYER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv     = "QUICKBUYER_APP_ENV"
	EnvPort       = "QUICKBUYER_APP_PORT"
	EnvAppBaseURL = "QUICKBUYER_APP_BASE_URL"

	EnvDBDSN  = "QUICKBUYER_DB_DSN"
	EnvDBHost = "QUICKBUYER_DB_HOST"
	EnvDBUser = "QUICKBUYER_DB_USER"
	EnvDBName = "QUICKBUYER_DB_NAME"

	EnvRedisURL      = "QUICKBUYER_REDIS_URL"
	EnvAuthJWTSecret = "QUICKBUYER_AUTH_JWT_SECRET"
	EnvAdminEmails   = "QUICKBUYER_ADMIN_EMAILS"

	EnvCreemAPIKey        = "QUICKBUYER_CREEM_API_KEY"
	EnvCreemWebhookSecret = "QUICKBUYER_CREEM_WEBHOOK_SECRET"
	EnvCreemPlanProducts  = "QUICKBUYER_CREEM_PLAN_PRODUCTS"

	EnvStorageBucket = "QUICKBUYER_STORAGE_BUCKET"
	EnvIPFSUploadURL = "QUICKBUYER_IPFS_UPLOAD_URL"
	EnvUseSQLite     = "QUICKBUYER_USE_SQLITE"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
