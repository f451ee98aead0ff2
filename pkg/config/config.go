package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Sync          SyncConfig
	Retention     RetentionConfig
	Replica       ReplicaConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Replica.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MEMBERSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"MEMBERSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MEMBERSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEMBERSYNC_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"MEMBERSYNC_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEMBERSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEMBERSYNC_DB_DSN"`
	Driver string `envconfig:"MEMBERSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEMBERSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"MEMBERSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEMBERSYNC_DB_USER"`
	LegacyPassword string `envconfig:"MEMBERSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEMBERSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEMBERSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEMBERSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEMBERSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEMBERSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEMBERSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery is the duration past which a statement is logged at warn.
	SlowQuery time.Duration `envconfig:"MEMBERSYNC_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the configured driver targets sqlite.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"MEMBERSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEMBERSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"MEMBERSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEMBERSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEMBERSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEMBERSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEMBERSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEMBERSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEMBERSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
	// KeyPrefix namespaces every key so environments can share an instance.
	KeyPrefix string `envconfig:"MEMBERSYNC_REDIS_KEY_PREFIX" default:"ms"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MEMBERSYNC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MEMBERSYNC_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MEMBERSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"MEMBERSYNC_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"MEMBERSYNC_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"MEMBERSYNC_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"MEMBERSYNC_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"MEMBERSYNC_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	TokenWindow      time.Duration `envconfig:"MEMBERSYNC_AUTH_RATE_LIMIT_TOKEN_WINDOW" default:"10m"`
	TokenIPLimit     int           `envconfig:"MEMBERSYNC_AUTH_RATE_LIMIT_TOKEN_IP_LIMIT" default:"30"`
	TokenClientLimit int           `envconfig:"MEMBERSYNC_AUTH_RATE_LIMIT_TOKEN_CLIENT_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MEMBERSYNC_AUTO_MIGRATE" default:"false"`
}

// SyncConfig tunes the outbound reconciler.
type SyncConfig struct {
	BatchSize      int           `envconfig:"MEMBERSYNC_SYNC_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MEMBERSYNC_SYNC_POLL_MS" default:"1000"`
	MaxRetries     int           `envconfig:"MEMBERSYNC_SYNC_MAX_RETRIES" default:"5"`
	RetryDelay     time.Duration `envconfig:"MEMBERSYNC_SYNC_RETRY_DELAY" default:"1m"`
	EntryTimeout   time.Duration `envconfig:"MEMBERSYNC_SYNC_ENTRY_TIMEOUT" default:"15s"`
	ClaimTTL       time.Duration `envconfig:"MEMBERSYNC_SYNC_CLAIM_TTL" default:"2m"`
	WakeupEnabled  bool          `envconfig:"MEMBERSYNC_SYNC_WAKEUP_ENABLED" default:"false"`
	StatusSamples  int           `envconfig:"MEMBERSYNC_SYNC_STATUS_SAMPLES" default:"10"`
}

// PollInterval returns the idle wait between reconcile batches.
func (s SyncConfig) PollInterval() time.Duration {
	if s.PollIntervalMS <= 0 {
		return 0
	}
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

type RetentionConfig struct {
	SyncedDays     int `envconfig:"MEMBERSYNC_RETENTION_SYNCED_DAYS" default:"30"`
	AuditKeep      int `envconfig:"MEMBERSYNC_RETENTION_AUDIT_KEEP" default:"50"`
	AuditBatchSize int `envconfig:"MEMBERSYNC_RETENTION_AUDIT_BATCH_SIZE" default:"500"`
}

type ReplicaConfig struct {
	Driver     string `envconfig:"MEMBERSYNC_REPLICA_DRIVER" default:"bolt"`
	BoltPath   string `envconfig:"MEMBERSYNC_REPLICA_BOLT_PATH" default:"members-replica.db"`
	SurrealURL string `envconfig:"MEMBERSYNC_REPLICA_SURREAL_URL"`
	Namespace  string `envconfig:"MEMBERSYNC_REPLICA_NAMESPACE" default:"membership"`
	Database   string `envconfig:"MEMBERSYNC_REPLICA_DATABASE" default:"registry"`
	Table      string `envconfig:"MEMBERSYNC_REPLICA_TABLE" default:"members"`
	Username   string `envconfig:"MEMBERSYNC_REPLICA_USERNAME"`
	Password   string `envconfig:"MEMBERSYNC_REPLICA_PASSWORD"`
}

func (r ReplicaConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(r.Driver)) {
	case ReplicaDriverBolt:
		if strings.TrimSpace(r.BoltPath) == "" {
			return fmt.Errorf("%s is required for the bolt replica", EnvReplicaBoltPath)
		}
	case ReplicaDriverSurreal:
		if strings.TrimSpace(r.SurrealURL) == "" {
			return fmt.Errorf("%s is required for the surreal replica", EnvReplicaSurrealURL)
		}
	default:
		return fmt.Errorf("unsupported replica driver %q", r.Driver)
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MEMBERSYNC_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"MEMBERSYNC_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SyncTopic        string `envconfig:"MEMBERSYNC_PUBSUB_SYNC_TOPIC" default:"member-sync-wakeup"`
	SyncSubscription string `envconfig:"MEMBERSYNC_PUBSUB_SYNC_SUBSCRIPTION" default:"member-sync-wakeup-worker"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"MEMBERSYNC_CRON_INTERVAL" default:"24h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
