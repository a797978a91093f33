package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Admin        AdminConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Creem        CreemConfig
	Storage      StorageConfig
	IPFS         IPFSConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"QUICKBUYER_APP_ENV" required:"true"`
	Port         string `envconfig:"QUICKBUYER_APP_PORT" default:"8080"`
	BaseURL      string `envconfig:"QUICKBUYER_APP_BASE_URL" required:"true"`
	LogLevel     string `envconfig:"QUICKBUYER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"QUICKBUYER_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"QUICKBUYER_LOG_FORMAT" default:"json"`
	CORSOrigins  string `envconfig:"QUICKBUYER_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

// AllowedOrigins splits the configured CORS origins.
func (a AppConfig) AllowedOrigins() []string {
	return splitList(a.CORSOrigins)
}

type ServiceConfig struct {
	Kind string `envconfig:"QUICKBUYER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"QUICKBUYER_DB_DSN"`
	Driver string `envconfig:"QUICKBUYER_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"QUICKBUYER_DB_HOST"`
	Port     int    `envconfig:"QUICKBUYER_DB_PORT" default:"5432"`
	User     string `envconfig:"QUICKBUYER_DB_USER"`
	Password string `envconfig:"QUICKBUYER_DB_PASSWORD"`
	Name     string `envconfig:"QUICKBUYER_DB_NAME"`
	SSLMode  string `envconfig:"QUICKBUYER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"QUICKBUYER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"QUICKBUYER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"QUICKBUYER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"QUICKBUYER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"QUICKBUYER_REDIS_URL"`
	Address      string        `envconfig:"QUICKBUYER_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"QUICKBUYER_REDIS_PASSWORD"`
	DB           int           `envconfig:"QUICKBUYER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"QUICKBUYER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"QUICKBUYER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"QUICKBUYER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"QUICKBUYER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"QUICKBUYER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AuthConfig holds the verification settings for tokens minted by the hosted auth provider.
type AuthConfig struct {
	JWTSecret string `envconfig:"QUICKBUYER_AUTH_JWT_SECRET" required:"true"`
	Issuer    string `envconfig:"QUICKBUYER_AUTH_ISSUER"`
	Audience  string `envconfig:"QUICKBUYER_AUTH_AUDIENCE" default:"authenticated"`
}

type AdminConfig struct {
	Emails string `envconfig:"QUICKBUYER_ADMIN_EMAILS"`
}

// EmailSet returns the allow-list as lowercase, trimmed entries.
func (a AdminConfig) EmailSet() []string {
	out := []string{}
	for _, email := range splitList(a.Emails) {
		out = append(out, strings.ToLower(email))
	}
	return out
}

type RateLimitConfig struct {
	CheckoutWindow time.Duration `envconfig:"QUICKBUYER_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutIPMax  int           `envconfig:"QUICKBUYER_RATE_LIMIT_CHECKOUT_IP_LIMIT" default:"20"`
	UploadWindow   time.Duration `envconfig:"QUICKBUYER_RATE_LIMIT_UPLOAD_WINDOW" default:"1m"`
	UploadIPMax    int           `envconfig:"QUICKBUYER_RATE_LIMIT_UPLOAD_IP_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"QUICKBUYER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"QUICKBUYER_AUTO_MIGRATE" default:"false"`
	Metrics     bool `envconfig:"QUICKBUYER_METRICS_ENABLED" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"QUICKBUYER_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"QUICKBUYER_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type CreemConfig struct {
	APIKey        string        `envconfig:"QUICKBUYER_CREEM_API_KEY" required:"true"`
	WebhookSecret string        `envconfig:"QUICKBUYER_CREEM_WEBHOOK_SECRET" required:"true"`
	BaseURL       string        `envconfig:"QUICKBUYER_CREEM_BASE_URL"`
	CartProductID string        `envconfig:"QUICKBUYER_CREEM_CART_PRODUCT_ID"`
	PlanProducts  string        `envconfig:"QUICKBUYER_CREEM_PLAN_PRODUCTS"`
	Timeout       time.Duration `envconfig:"QUICKBUYER_CREEM_TIMEOUT" default:"15s"`
}

// PlanProductMap parses "plan:cycle=prod_x,plan2:cycle=prod_y" into a lookup keyed by
// lowercase "plan:cycle".
func (c CreemConfig) PlanProductMap() map[string]string {
	out := map[string]string{}
	for _, entry := range splitList(c.PlanProducts) {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// StorageConfig points at an S3 compatible bucket used for thumbnails.
type StorageConfig struct {
	Bucket          string `envconfig:"QUICKBUYER_STORAGE_BUCKET" required:"true"`
	Region          string `envconfig:"QUICKBUYER_STORAGE_REGION" default:"auto"`
	Endpoint        string `envconfig:"QUICKBUYER_STORAGE_ENDPOINT"`
	AccessKeyID     string `envconfig:"QUICKBUYER_STORAGE_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"QUICKBUYER_STORAGE_SECRET_ACCESS_KEY"`
	PublicBaseURL   string `envconfig:"QUICKBUYER_STORAGE_PUBLIC_BASE_URL"`
	UsePathStyle    bool   `envconfig:"QUICKBUYER_STORAGE_USE_PATH_STYLE" default:"true"`
	MaxThumbnailMB  int    `envconfig:"QUICKBUYER_STORAGE_MAX_THUMBNAIL_MB" default:"5"`
}

type IPFSConfig struct {
	UploadURL     string        `envconfig:"QUICKBUYER_IPFS_UPLOAD_URL" required:"true"`
	GatewayURL    string        `envconfig:"QUICKBUYER_IPFS_GATEWAY_URL" default:"https://ipfs.io/ipfs"`
	Token         string        `envconfig:"QUICKBUYER_IPFS_TOKEN"`
	MaxFileMB     int           `envconfig:"QUICKBUYER_IPFS_MAX_FILE_MB" default:"20"`
	MaxBatchMB    int           `envconfig:"QUICKBUYER_IPFS_MAX_BATCH_MB" default:"500"`
	UploadTimeout time.Duration `envconfig:"QUICKBUYER_IPFS_UPLOAD_TIMEOUT" default:"10m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"QUICKBUYER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"QUICKBUYER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"QUICKBUYER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EventsTopic string `envconfig:"QUICKBUYER_PUBSUB_EVENTS_TOPIC" default:"marketplace-events"`
	// Optional dedicated topics for revenue and download traffic. Empty keeps
	// those events on EventsTopic.
	PurchasesTopic        string `envconfig:"QUICKBUYER_PUBSUB_PURCHASES_TOPIC"`
	DownloadsTopic        string `envconfig:"QUICKBUYER_PUBSUB_DOWNLOADS_TOPIC"`
	AnalyticsSubscription string `envconfig:"QUICKBUYER_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"marketplace-events-analytics"`
}

// PublishTopics lists each distinct topic the outbox publisher writes to.
func (p PubSubConfig) PublishTopics() []string {
	var topics []string
	seen := map[string]bool{}
	for _, topic := range []string{p.EventsTopic, p.PurchasesTopic, p.DownloadsTopic} {
		topic = strings.TrimSpace(topic)
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		topics = append(topics, topic)
	}
	return topics
}

type BigQueryConfig struct {
	Dataset                string `envconfig:"QUICKBUYER_BIGQUERY_DATASET" default:"quickbuyer"`
	MarketplaceEventsTable string `envconfig:"QUICKBUYER_BIGQUERY_MARKETPLACE_TABLE" default:"marketplace_events"`
	// Optional fact tables. When set, purchase and download rows are also
	// copied there with the marketplace_events schema.
	PurchasesTable string `envconfig:"QUICKBUYER_BIGQUERY_PURCHASES_TABLE"`
	DownloadsTable string `envconfig:"QUICKBUYER_BIGQUERY_DOWNLOADS_TABLE"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"QUICKBUYER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"QUICKBUYER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"QUICKBUYER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = "file:quickbuyer.db?cache=shared"
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
