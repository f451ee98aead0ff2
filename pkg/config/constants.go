package config

const (
	EnvPrefix = "MEMBERSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	ReplicaDriverBolt    = "bolt"
	ReplicaDriverSurreal = "surreal"
)

const (
	EnvAppEnv     = "MEMBERSYNC_APP_ENV"
	EnvPort       = "MEMBERSYNC_APP_PORT"
	EnvLogLevel   = "MEMBERSYNC_LOG_LEVEL"
	EnvDBDSN      = "MEMBERSYNC_DB_DSN"
	EnvDBDriver   = "MEMBERSYNC_DB_DRIVER"
	EnvDBHost     = "MEMBERSYNC_DB_HOST"
	EnvDBUser     = "MEMBERSYNC_DB_USER"
	EnvDBName     = "MEMBERSYNC_DB_NAME"
	EnvRedisURL   = "MEMBERSYNC_REDIS_URL"
	EnvJWTSecret  = "MEMBERSYNC_JWT_SECRET"
	EnvJWTIssuer  = "MEMBERSYNC_JWT_ISSUER"
	EnvJWTExpMins = "MEMBERSYNC_JWT_EXPIRATION_MINUTES"

	EnvSyncBatchSize    = "MEMBERSYNC_SYNC_BATCH_SIZE"
	EnvSyncMaxRetries   = "MEMBERSYNC_SYNC_MAX_RETRIES"
	EnvSyncEntryTimeout = "MEMBERSYNC_SYNC_ENTRY_TIMEOUT"

	EnvRetentionSyncedDays = "MEMBERSYNC_RETENTION_SYNCED_DAYS"
	EnvRetentionAuditKeep  = "MEMBERSYNC_RETENTION_AUDIT_KEEP"

	EnvReplicaDriver     = "MEMBERSYNC_REPLICA_DRIVER"
	EnvReplicaBoltPath   = "MEMBERSYNC_REPLICA_BOLT_PATH"
	EnvReplicaSurrealURL = "MEMBERSYNC_REPLICA_SURREAL_URL"

	EnvGCPProjectID = "MEMBERSYNC_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
