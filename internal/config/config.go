package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/krevetka-D/conecta-realtime/internal/store"
	pkgconfig "github.com/krevetka-D/conecta-realtime/pkg/config"
	"github.com/krevetka-D/conecta-realtime/pkg/database"
	"github.com/krevetka-D/conecta-realtime/pkg/pubsub"
	"github.com/krevetka-D/conecta-realtime/pkg/storage"
)

type Config struct {
	Server     ServerConfig
	WebSocket  WebSocketConfig
	Auth       AuthConfig
	Typing     TypingConfig
	History    HistoryConfig
	Redis      pubsub.RedisConfig
	Cassandra  store.CassandraConfig
	Database   DatabaseConfig
	Kafka      KafkaConfig
	Storage    StorageConfig
	Log        LogConfig
	InstanceID string `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	Secret string
	Issuer string
	// Permissive accepts any non-empty token as the user id. Local
	// development only.
	Permissive bool
}

type TypingConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type HistoryConfig struct {
	PageSize    int           `mapstructure:"page_size"`
	MaxPageSize int           `mapstructure:"max_page_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string `mapstructure:"db_name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type KafkaConfig struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string `mapstructure:"group_id"`
}

type StorageConfig struct {
	Backend string // "local" or "s3"
	Local   storage.LocalConfig
	S3      storage.S3Config
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "conecta")
	v.SetDefault("auth.permissive", false)
	v.SetDefault("typing.ttl", "5s")
	v.SetDefault("history.page_size", 50)
	v.SetDefault("history.max_page_size", 100)
	v.SetDefault("history.cache_ttl", "30s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "conecta")
	v.SetDefault("cassandra.consistency", "quorum")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.num_conns", 4)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "conecta.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "realtime-events")
	v.SetDefault("kafka.group_id", "conecta-realtime")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_path", "./uploads")
	v.SetDefault("storage.local.url_prefix", "/files")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("instance_id", "")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.secret", "JWT_SECRET")
	v.BindEnv("auth.permissive", "AUTH_PERMISSIVE")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("cassandra.keyspace", "CASSANDRA_KEYSPACE")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("instance_id", "INSTANCE_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 15*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Typing.TTL = parseDuration(v, "typing.ttl", 5*time.Second)
	cfg.History.CacheTTL = parseDuration(v, "history.cache_ttl", 30*time.Second)
	cfg.Redis.ReadTimeout = parseDuration(v, "redis.read_timeout", 3*time.Second)
	cfg.Redis.WriteTimeout = parseDuration(v, "redis.write_timeout", 3*time.Second)
	cfg.Cassandra.ConnectTimeout = parseDuration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = parseDuration(v, "cassandra.timeout", 5*time.Second)

	return &cfg, nil
}

// DatabaseConfig converts to the shared database package config.
func (c *DatabaseConfig) ToDatabase() *database.Config {
	return &database.Config{
		Driver:          c.Driver,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		DBName:          c.DBName,
		SSLMode:         c.SSLMode,
		FilePath:        c.FilePath,
		MaxIdleConns:    c.MaxIdleConns,
		MaxOpenConns:    c.MaxOpenConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
