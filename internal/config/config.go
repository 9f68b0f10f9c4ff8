package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	LogLevel         string          `mapstructure:"log_level" validate:"required,uppercase,oneof=DEBUG INFO WARN ERROR"`
	HTTPOptions      HTTPConfig      `mapstructure:"http" validate:"required"`
	CatalogOptions   CatalogConfig   `mapstructure:"catalog" validate:"required"`
	GeodataOptions   GeodataConfig   `mapstructure:"geodata" validate:"required"`
	GeoServerOptions GeoServerConfig `mapstructure:"geoserver" validate:"required"`
	QueueOptions     QueueConfig     `mapstructure:"queue" validate:"required"`
	WorkerOptions    WorkerConfig    `mapstructure:"worker" validate:"required"`
	JoinOptions      JoinConfig      `mapstructure:"join" validate:"required"`
	SweeperOptions   SweeperConfig   `mapstructure:"sweeper"`
}

type HTTPConfig struct {
	Listen         string   `mapstructure:"listen" validate:"required"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// JWTSecret enables bearer token authentication on the georeference routes when set.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type CatalogConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

type GeodataConfig struct {
	URL                  string `mapstructure:"url" validate:"required"`
	Schema               string `mapstructure:"schema" validate:"required"`
	Namespace            string `mapstructure:"namespace" validate:"required"`
	RowKey               string `mapstructure:"row_key" validate:"required"`
	GeometryColumn       string `mapstructure:"geometry_column" validate:"required"`
	StringType           string `mapstructure:"string_type" validate:"required"`
	StatementTimeoutSecs int    `mapstructure:"statement_timeout_secs" validate:"min=1"`
}

type GeoServerConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	Workspace    string `mapstructure:"workspace" validate:"required"`
	Datastore    string `mapstructure:"datastore" validate:"required"`
	Auth         string `mapstructure:"auth" validate:"required,oneof=basic bearer"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	TokenURL     string `mapstructure:"token_url" validate:"required_if=Auth bearer"`
	ClientID     string `mapstructure:"client_id" validate:"required_if=Auth bearer"`
	ClientSecret string `mapstructure:"client_secret"`
	TimeoutSecs  int    `mapstructure:"timeout_secs" validate:"min=1"`
}

type QueueConfig struct {
	Backend    string       `mapstructure:"backend" validate:"required,oneof=memory redis kafka sqlite"`
	Name       string       `mapstructure:"name" validate:"required"`
	BufferSize int          `mapstructure:"buffer_size" validate:"min=1"`
	Redis      RedisConfig  `mapstructure:"redis"`
	Kafka      KafkaConfig  `mapstructure:"kafka"`
	SQLite     SQLiteConfig `mapstructure:"sqlite"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0,max=15"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type WorkerConfig struct {
	Concurrency      int `mapstructure:"concurrency" validate:"min=1"`
	RatePerSec       int `mapstructure:"rate_per_sec" validate:"min=1"`
	BatchSize        int `mapstructure:"batch_size" validate:"min=1"`
	PollIntervalMs   int `mapstructure:"poll_interval_ms" validate:"min=1"`
	MaxAttempts      int `mapstructure:"max_attempts" validate:"min=1"`
	RetryBackoffSecs int `mapstructure:"retry_backoff_secs" validate:"min=1"`
	MaxBackoffSecs   int `mapstructure:"max_backoff_secs" validate:"min=1,gtefield=RetryBackoffSecs"`
	LeaseSecs        int `mapstructure:"lease_secs" validate:"min=1"`
}

type JoinConfig struct {
	StartableStates []string `mapstructure:"startable_states" validate:"required,min=1,dive,oneof=WAITING PROCESSED INCOMPLETE INVALID RUNNING"`
	DisplayOrder    int      `mapstructure:"display_order" validate:"min=1"`
	LockLeaseSecs   int      `mapstructure:"lock_lease_secs" validate:"min=1"`
}

type SweeperConfig struct {
	IntervalSecs   int `mapstructure:"interval_secs" validate:"min=0"`
	StaleAfterSecs int `mapstructure:"stale_after_secs" validate:"min=1"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "INFO")
	v.SetDefault("http.listen", ":8000")
	v.SetDefault("http.environment", "development")
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("catalog.url", "")
	v.SetDefault("geodata.url", "")
	v.SetDefault("geodata.schema", "public")
	v.SetDefault("geodata.namespace", "geonode")
	v.SetDefault("geodata.row_key", "ogc_fid")
	v.SetDefault("geodata.geometry_column", "geometry")
	v.SetDefault("geodata.string_type", "xsd:string")
	v.SetDefault("geodata.statement_timeout_secs", 120)
	v.SetDefault("geoserver.url", "http://geoserver:8080/geoserver/")
	v.SetDefault("geoserver.workspace", "geonode")
	v.SetDefault("geoserver.datastore", "sigic_geonode_data")
	v.SetDefault("geoserver.auth", "basic")
	v.SetDefault("geoserver.username", "admin")
	v.SetDefault("geoserver.password", "")
	v.SetDefault("geoserver.token_url", "")
	v.SetDefault("geoserver.client_id", "")
	v.SetDefault("geoserver.client_secret", "")
	v.SetDefault("geoserver.timeout_secs", 15)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.name", "georef.sync_geoserver")
	v.SetDefault("queue.buffer_size", 10000)
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("queue.kafka.topic", "georef.sync_geoserver")
	v.SetDefault("queue.kafka.group_id", "georef-resync")
	v.SetDefault("queue.sqlite.path", "./georef_queue.db")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.rate_per_sec", 5)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.poll_interval_ms", 500)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.retry_backoff_secs", 10)
	v.SetDefault("worker.max_backoff_secs", 300)
	v.SetDefault("worker.lease_secs", 60)
	v.SetDefault("join.startable_states", []string{"PROCESSED", "INCOMPLETE"})
	v.SetDefault("join.display_order", 100)
	v.SetDefault("join.lock_lease_secs", 300)
	v.SetDefault("sweeper.interval_secs", 300)
	v.SetDefault("sweeper.stale_after_secs", 900)
}

func Load() *Config {
	cfg, err := Read()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	zap.L().Info("Configuration validated successfully")
	logConfig(cfg)
	return cfg
}

// Read resolves defaults, the optional config file and GEOREF_ environment
// variables into a validated Config.
func Read() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GEOREF")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configFile := os.Getenv("GEOREF_CONFIG_PATH")
	if configFile != "" {
		v.SetConfigFile(configFile)
		zap.L().Info("Loading configuration from specified file", zap.String("path", configFile))
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/georef/")
		zap.L().Info("Config path not set, using default paths",
			zap.Strings("paths", []string{".", "./config", "/etc/georef/"}),
			zap.String("filename", "config.yaml"))
	}

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			zap.L().Warn("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		zap.L().Info("Configuration loaded", zap.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return &cfg, nil
}

func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func logConfig(cfg *Config) {
	gs := cfg.GeoServerOptions
	zap.L().Info("Final Configuration",
		zap.String("log_level", cfg.LogLevel),
		zap.String("http_listen", cfg.HTTPOptions.Listen),
		zap.Bool("http_auth", cfg.HTTPOptions.JWTSecret != ""),
		zap.String("catalog_url", redactURL(cfg.CatalogOptions.URL)),
		zap.String("geodata_url", redactURL(cfg.GeodataOptions.URL)),
		zap.String("geodata_schema", cfg.GeodataOptions.Schema),
		zap.String("geodata_namespace", cfg.GeodataOptions.Namespace),
		zap.String("geoserver_url", gs.URL),
		zap.String("geoserver_workspace", gs.Workspace),
		zap.String("geoserver_datastore", gs.Datastore),
		zap.String("geoserver_auth", gs.Auth),
		zap.String("queue_backend", cfg.QueueOptions.Backend),
		zap.String("queue_name", cfg.QueueOptions.Name),
		zap.Any("worker", cfg.WorkerOptions),
		zap.Any("join", cfg.JoinOptions),
		zap.Any("sweeper", cfg.SweeperOptions))
}

// redactURL hides the password part of a connection URL.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	userinfo := raw[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon] + ":xxxxx"
	}
	return raw[:scheme+3] + userinfo + raw[at:]
}
