package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"

	StoreHTTP   = "http"
	StoreS3     = "s3"
	StoreGCS    = "gcs"
	StoreMemory = "memory"

	RegistryNone        = "none"
	RegistryObjectStore = "objectstore"
	RegistryPostgres    = "postgres"
	RegistryRedis       = "redis"
)

// LiveTileInterval is the live tile cadence. It is not configurable.
const LiveTileInterval = 5 * time.Second

type Config struct {
	Addr      string
	Env       string
	Debug     bool
	LogFormat string

	PollInterval     time.Duration
	LiveTileInterval time.Duration
	ActivityWindow   time.Duration
	InitialZoom      int
	RampMin          float64
	RampMax          float64
	// Tasks are polled from startup.
	Tasks []string

	Store    StoreConfig
	Registry RegistryConfig
}

type StoreConfig struct {
	Backend        string
	BaseURL        string
	MaxObjectBytes int64
	CacheEntries   int
	Prefix         string
	S3             S3Config
	GCS            GCSConfig
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket    string
	Anonymous bool
	Endpoint  string
}

type RegistryConfig struct {
	Backend       string
	DefinitionTTL time.Duration
	PostgresDSN   string
	PostgresTable string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Load reads .env, then flags from args. Every flag can also be set through
// a DIGWATCH_* environment variable.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{LiveTileInterval: LiveTileInterval}
	app := kingpin.New("digwatch", "Mirrors remote progress of scan tasks into live map updates.")
	app.DefaultEnvars()

	app.Flag("addr", "HTTP listen address.").Default(":8081").StringVar(&cfg.Addr)
	app.Flag("env", "Deployment environment (local enables MinIO defaults).").Default("local").StringVar(&cfg.Env)
	app.Flag("debug", "Enable debug logging.").BoolVar(&cfg.Debug)
	app.Flag("log-format", "Log output format.").Default(LogFormatText).EnumVar(&cfg.LogFormat, LogFormatText, LogFormatJSON)

	app.Flag("poll-interval", "Snapshot poll interval per task.").Default("15s").DurationVar(&cfg.PollInterval)
	app.Flag("activity-window", "A task without a registry status is running while its newest artifact is younger than this.").Default("30m").DurationVar(&cfg.ActivityWindow)
	app.Flag("zoom", "Initial map zoom used to pick overview levels.").Default("8").IntVar(&cfg.InitialZoom)
	app.Flag("ramp-min", "Elevation mapped to the low end of the color ramp, in meters.").Default("0").Float64Var(&cfg.RampMin)
	app.Flag("ramp-max", "Elevation mapped to the high end of the color ramp, in meters.").Default("3000").Float64Var(&cfg.RampMax)
	app.Flag("task", "Task id to poll from startup. Repeatable.").StringsVar(&cfg.Tasks)

	app.Flag("store", "Object store backend.").Default(StoreHTTP).EnumVar(&cfg.Store.Backend, StoreHTTP, StoreS3, StoreGCS, StoreMemory)
	app.Flag("store-base-url", "Public base URL of the task bucket (http store).").StringVar(&cfg.Store.BaseURL)
	app.Flag("store-prefix", "Key prefix inside the bucket.").StringVar(&cfg.Store.Prefix)
	app.Flag("store-max-object-bytes", "Largest object body read.").Default("16777216").Int64Var(&cfg.Store.MaxObjectBytes)
	app.Flag("store-cache-entries", "Immutable object cache size.").Default("4096").IntVar(&cfg.Store.CacheEntries)
	app.Flag("s3-endpoint", "S3 endpoint.").StringVar(&cfg.Store.S3.Endpoint)
	app.Flag("s3-region", "S3 region.").Default("us-east-1").StringVar(&cfg.Store.S3.Region)
	app.Flag("s3-access-key", "S3 access key.").StringVar(&cfg.Store.S3.AccessKey)
	app.Flag("s3-secret-key", "S3 secret key.").StringVar(&cfg.Store.S3.SecretKey)
	app.Flag("s3-bucket", "S3 bucket.").Default("digwatch-tasks").StringVar(&cfg.Store.S3.Bucket)
	app.Flag("s3-use-ssl", "Use TLS for S3.").Default("true").BoolVar(&cfg.Store.S3.UseSSL)
	app.Flag("gcs-bucket", "Cloud Storage bucket.").StringVar(&cfg.Store.GCS.Bucket)
	app.Flag("gcs-anonymous", "Read the Cloud Storage bucket without credentials.").BoolVar(&cfg.Store.GCS.Anonymous)
	app.Flag("gcs-endpoint", "Cloud Storage API endpoint override.").StringVar(&cfg.Store.GCS.Endpoint)

	app.Flag("registry", "Task status registry.").Default(RegistryObjectStore).EnumVar(&cfg.Registry.Backend, RegistryNone, RegistryObjectStore, RegistryPostgres, RegistryRedis)
	app.Flag("definition-ttl", "Cache TTL of task definitions.").Default("30s").DurationVar(&cfg.Registry.DefinitionTTL)
	app.Flag("postgres-dsn", "Postgres DSN of the task registry.").StringVar(&cfg.Registry.PostgresDSN)
	app.Flag("postgres-table", "Task table name.").Default("tasks").StringVar(&cfg.Registry.PostgresTable)
	app.Flag("redis-address", "Redis address of the task registry.").Default("localhost:6379").StringVar(&cfg.Registry.RedisAddress)
	app.Flag("redis-password", "Redis password.").StringVar(&cfg.Registry.RedisPassword)
	app.Flag("redis-db", "Redis database.").Default("0").IntVar(&cfg.Registry.RedisDB)
	app.Flag("redis-prefix", "Redis task hash key prefix.").Default("task:").StringVar(&cfg.Registry.RedisPrefix)

	if _, err := app.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			cfg.Addr = envPort
		} else {
			cfg.Addr = ":" + envPort
		}
	}
	cfg.applyEnvDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsLocal reports whether the service runs against the local compose stack.
func (c *Config) IsLocal() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "local")
}

func (c *Config) applyEnvDefaults() {
	s3 := &c.Store.S3
	s3.AccessKey = firstNonEmpty(strings.TrimSpace(s3.AccessKey), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER")))
	s3.SecretKey = firstNonEmpty(strings.TrimSpace(s3.SecretKey), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD")))
	if c.IsLocal() && c.Store.Backend == StoreS3 {
		s3.Endpoint = firstNonEmpty(strings.TrimSpace(s3.Endpoint), "minio:9000")
		s3.UseSSL = false
	}
	if c.Store.Backend == StoreHTTP && strings.TrimSpace(c.Store.BaseURL) == "" && c.Store.GCS.Bucket != "" {
		c.Store.BaseURL = "https://storage.googleapis.com/" + strings.TrimSpace(c.Store.GCS.Bucket)
	}
	c.Tasks = compactTasks(c.Tasks)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreHTTP:
		if strings.TrimSpace(c.Store.BaseURL) == "" {
			return fmt.Errorf("http store needs --store-base-url or --gcs-bucket")
		}
	case StoreS3:
		if strings.TrimSpace(c.Store.S3.Endpoint) == "" {
			return fmt.Errorf("s3 store needs --s3-endpoint")
		}
	case StoreGCS:
		if strings.TrimSpace(c.Store.GCS.Bucket) == "" {
			return fmt.Errorf("gcs store needs --gcs-bucket")
		}
	}
	if c.Registry.Backend == RegistryPostgres && strings.TrimSpace(c.Registry.PostgresDSN) == "" {
		return fmt.Errorf("postgres registry needs --postgres-dsn")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.RampMax <= c.RampMin {
		return fmt.Errorf("ramp max must be above ramp min")
	}
	return nil
}

// compactTasks splits comma separated ids (envars carry one value) and
// drops blanks and duplicates.
func compactTasks(in []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, raw := range in {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
