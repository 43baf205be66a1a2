package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configFileEnvName = "INTAKE_CONFIG_FILE"
	envPrefix         = "INTAKE"
)

const (
	DriverS3       = "s3"
	DriverGridFS   = "gridfs"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type logConfig struct {
	Level      slog.Level `mapstructure:"level"`
	File       string     `mapstructure:"file"`
	MaxSizeMB  int        `mapstructure:"max_size_mb"`
	MaxBackups int        `mapstructure:"max_backups"`
	MaxAgeDays int        `mapstructure:"max_age_days"`
	Compress   bool       `mapstructure:"compress"`
}

type httpConfig struct {
	Addr           string        `mapstructure:"addr"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	MaxBodySize    int64         `mapstructure:"max_body_size"`
	StagingDir     string        `mapstructure:"staging_dir"`
}

type serviceConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	Collection   string        `mapstructure:"collection"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	CloseTimeout time.Duration `mapstructure:"close_timeout"`
}

type imageConfig struct {
	Width   int `mapstructure:"width"`
	Height  int `mapstructure:"height"`
	Quality int `mapstructure:"quality"`
}

type resolverConfig struct {
	RootDir       string        `mapstructure:"root_dir"`
	MaxImageSize  int64         `mapstructure:"max_image_size"`
	RemoteEnabled bool          `mapstructure:"remote_enabled"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
}

type s3Config struct {
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	Secure        bool          `mapstructure:"secure"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

type gridFSConfig struct {
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type objectStore struct {
	Driver string       `mapstructure:"driver"`
	S3     s3Config     `mapstructure:"s3"`
	GridFS gridFSConfig `mapstructure:"gridfs"`
}

type documentStore struct {
	Driver        string `mapstructure:"driver"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
}

type redisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	GuardTTL time.Duration `mapstructure:"guard_ttl"`
}

type consumers struct {
	DraftsGroup string `mapstructure:"drafts_group"`
	StatsGroup  string `mapstructure:"stats_group"`
}

type topics struct {
	Drafts   string `mapstructure:"drafts"`
	Outcomes string `mapstructure:"outcomes"`
}

type brokerTLS struct {
	CA   string `mapstructure:"ca"`
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

type brokerSASL struct {
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
}

type broker struct {
	SeedBrokers        []string   `mapstructure:"seed_brokers"`
	SchemaRegistryURLs []string   `mapstructure:"schema_registry_urls"`
	Topics             topics     `mapstructure:"topics"`
	Consumers          consumers  `mapstructure:"consumers"`
	TLS                brokerTLS  `mapstructure:"tls"`
	SASL               brokerSASL `mapstructure:"sasl"`
}

type tracing struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type Config struct {
	Log           logConfig      `mapstructure:"log"`
	HTTP          httpConfig     `mapstructure:"http"`
	Service       serviceConfig  `mapstructure:"service"`
	Image         imageConfig    `mapstructure:"image"`
	Resolver      resolverConfig `mapstructure:"resolver"`
	ObjectStore   objectStore    `mapstructure:"object_store"`
	DocumentStore documentStore  `mapstructure:"document_store"`
	Redis         redisConfig    `mapstructure:"redis"`
	Broker        broker         `mapstructure:"broker"`
	Tracing       tracing        `mapstructure:"tracing"`
}

// KafkaEnabled reports whether the drafts consumer and the stats
// processor should run.
func (c Config) KafkaEnabled() bool {
	return len(c.Broker.SeedBrokers) != 0
}

func Load() Config {
	cfg, err := load(getConfigFilepath())
	if err != nil {
		die(err)
	}
	return cfg
}

func load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	err := v.UnmarshalExact(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	))
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.handler_timeout", "60s")
	v.SetDefault("http.max_body_size", 64<<20)

	v.SetDefault("service.collection", "products")
	v.SetDefault("service.key_prefix", "products/images/")
	v.SetDefault("service.close_timeout", "30s")

	v.SetDefault("image.width", 800)
	v.SetDefault("image.height", 800)
	v.SetDefault("image.quality", 100)

	v.SetDefault("resolver.root_dir", "/var/lib/intake/images")
	v.SetDefault("resolver.max_image_size", 20<<20)
	v.SetDefault("resolver.remote_timeout", "10s")

	v.SetDefault("object_store.driver", DriverS3)
	v.SetDefault("object_store.gridfs.bucket", "images")
	v.SetDefault("document_store.driver", DriverMongo)
	v.SetDefault("document_store.mongo_database", "intake")

	v.SetDefault("redis.guard_ttl", "24h")

	v.SetDefault("broker.topics.drafts", "product-drafts")
	v.SetDefault("broker.topics.outcomes", "product-outcomes")
	v.SetDefault("broker.consumers.drafts_group", "intake-drafts")
	v.SetDefault("broker.consumers.stats_group", "intake-stats")

	v.SetDefault("tracing.service_name", "product-intake")
}

// bindEnv makes keys without a default overridable from env, e.g.
// INTAKE_REDIS_ADDR for "redis.addr".
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"service.concurrency",
		"object_store.s3.endpoint",
		"object_store.s3.access_key",
		"object_store.s3.secret_key",
		"object_store.s3.bucket",
		"document_store.mongo_uri",
		"document_store.postgres_dsn",
		"redis.addr",
		"redis.password",
		"broker.seed_brokers",
		"broker.schema_registry_urls",
		"broker.sasl.user",
		"broker.sasl.pass",
		"tracing.endpoint",
	} {
		_ = v.BindEnv(key)
	}
}

func (c Config) validate() error {
	var errs []error

	switch c.ObjectStore.Driver {
	case DriverS3:
		if c.ObjectStore.S3.Endpoint == "" || c.ObjectStore.S3.Bucket == "" {
			errs = append(errs, errors.New("object_store.s3: endpoint and bucket are required"))
		}
	case DriverGridFS:
		if c.DocumentStore.MongoURI == "" {
			errs = append(errs, errors.New("object_store.gridfs: document_store.mongo_uri is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("object_store.driver: unknown %q", c.ObjectStore.Driver))
	}

	switch c.DocumentStore.Driver {
	case DriverMongo:
		if c.DocumentStore.MongoURI == "" {
			errs = append(errs, errors.New("document_store.mongo_uri: required"))
		}
	case DriverPostgres:
		if c.DocumentStore.PostgresDSN == "" {
			errs = append(errs, errors.New("document_store.postgres_dsn: required"))
		}
	default:
		errs = append(errs, fmt.Errorf("document_store.driver: unknown %q", c.DocumentStore.Driver))
	}

	if c.Service.Concurrency < 0 {
		errs = append(errs, errors.New("service.concurrency: must not be negative"))
	}

	if c.KafkaEnabled() && len(c.Broker.SchemaRegistryURLs) == 0 {
		errs = append(errs, errors.New("broker.schema_registry_urls: required with seed_brokers"))
	}

	return errors.Join(errs...)
}

func getConfigFilepath() string {
	cmdLine := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	arg := cmdLine.String("config", "/config.yaml", "config file")
	_ = cmdLine.Parse(os.Args[1:])
	env, ok := os.LookupEnv(configFileEnvName)
	if ok {
		return env
	}
	return *arg
}

func die(err error) {
	fmt.Printf("failed to load config file: %v\n", err)
	os.Exit(2)
}

func (c Config) Print() {
	tamplate := `
	General:
	LogLevel=%q
	LogFile=%q
	HTTPAddr=%q
	HandlerTimeout=%s
	TracingEndpoint=%q

	Pipeline:
	Concurrency=%d
	Collection=%q
	KeyPrefix=%q
	Image=%dx%d q%d
	ResolverRoot=%q
	RemoteRefs=%t

	Stores:
	ObjectStore=%q
	DocumentStore=%q
	Redis=%q

	BrokerConfig:
	SeedBrokers=%q
	SchemaRegistryURLs=%q
	Topics:
		Drafts=%q
		Outcomes=%q
	Consumers:
		DraftsGroup=%q
		StatsGroup=%q

`
	fmt.Println("Loaded config:")
	fmt.Printf(
		strings.TrimLeft(tamplate, "\n"),
		c.Log.Level,
		c.Log.File,
		c.HTTP.Addr,
		c.HTTP.HandlerTimeout,
		c.Tracing.Endpoint,
		c.Service.Concurrency,
		c.Service.Collection,
		c.Service.KeyPrefix,
		c.Image.Width, c.Image.Height, c.Image.Quality,
		c.Resolver.RootDir,
		c.Resolver.RemoteEnabled,
		c.ObjectStore.Driver,
		c.DocumentStore.Driver,
		c.Redis.Addr,
		c.Broker.SeedBrokers,
		c.Broker.SchemaRegistryURLs,
		c.Broker.Topics.Drafts,
		c.Broker.Topics.Outcomes,
		c.Broker.Consumers.DraftsGroup,
		c.Broker.Consumers.StatsGroup,
	)
}
