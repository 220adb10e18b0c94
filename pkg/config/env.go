package config

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverSQLite       = "sqlite"
	DriverPostgres     = "postgres"
	RemoteDriverMemory = "memory"

	ChangeFeedNone   = "none"
	ChangeFeedPubSub = "pubsub"
	ChangeFeedAMQP   = "amqp"

	EnvAppEnv   = "EDUFLOW_APP_ENV"
	EnvPort     = "EDUFLOW_APP_PORT"
	EnvLogLevel = "EDUFLOW_LOG_LEVEL"

	EnvDBDriver = "EDUFLOW_DB_DRIVER"
	EnvDBDSN    = "EDUFLOW_DB_DSN"

	EnvRemoteDriver  = "EDUFLOW_REMOTE_DRIVER"
	EnvRemoteDSN     = "EDUFLOW_REMOTE_DSN"
	EnvRemoteTimeout = "EDUFLOW_REMOTE_TIMEOUT"

	EnvRedisURL = "EDUFLOW_REDIS_URL"

	EnvSyncOrgIDs      = "EDUFLOW_SYNC_ORG_IDS"
	EnvSyncMaxAttempts = "EDUFLOW_SYNC_MAX_ATTEMPTS"
	EnvSyncInterval    = "EDUFLOW_SYNC_INTERVAL"

	EnvConnectivityProbeURL = "EDUFLOW_CONNECTIVITY_PROBE_URL"

	EnvChangeFeedDriver   = "EDUFLOW_CHANGEFEED_DRIVER"
	EnvGCPProjectID       = "EDUFLOW_GCP_PROJECT_ID"
	EnvPubSubChangesTopic = "EDUFLOW_PUBSUB_CHANGES_TOPIC"
	EnvPubSubChangesSub   = "EDUFLOW_PUBSUB_CHANGES_SUBSCRIPTION"
	EnvAMQPURL            = "EDUFLOW_AMQP_URL"
)
