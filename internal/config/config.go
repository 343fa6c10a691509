package config

import (
	"time"
)

// Config объединяет все настройки session-service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	JWT        JWTConfig        `yaml:"jwt"`
	BruteForce BruteForceConfig `yaml:"brute_force"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Retry      RetryConfig      `yaml:"retry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT" env-default:"8086"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"15s"`
	Environment     string        `yaml:"environment" env:"APP_ENV" env-default:"development"`
}

type DatabaseConfig struct {
	Host         string        `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port         int           `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User         string        `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password     string        `yaml:"password" env:"DB_PASSWORD" env-default:"postgres"`
	DBName       string        `yaml:"dbname" env:"DB_NAME" env-default:"sessions"`
	SSLMode      string        `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	MinConns     int           `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life" env:"DB_CONN_MAX_LIFE" env-default:"1h"`
	QueryTimeout time.Duration `yaml:"query_timeout" env:"DB_QUERY_TIMEOUT" env-default:"3s"`
	AutoMigrate  bool          `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"false"`
}

type RedisConfig struct {
	Host        string        `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port        int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB          int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	CallTimeout time.Duration `yaml:"call_timeout" env:"REDIS_CALL_TIMEOUT" env-default:"500ms"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"session.events"`
}

type JWTConfig struct {
	Secret          string        `yaml:"secret" env:"JWT_SECRET" env-default:""`
	Issuer          string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"session-service"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"JWT_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"JWT_REFRESH_TOKEN_TTL" env-default:"720h"`
}

type BruteForceConfig struct {
	Enabled     bool          `yaml:"enabled" env:"BRUTE_FORCE_ENABLED" env-default:"true"`
	MaxAttempts int           `yaml:"max_attempts" env:"BRUTE_FORCE_MAX_ATTEMPTS" env-default:"5"`
	Window      time.Duration `yaml:"window" env:"BRUTE_FORCE_WINDOW" env-default:"15m"`
}

type RateLimitConfig struct {
	Enabled                    bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	ValidationsPerToken        int           `yaml:"validations_per_token" env:"RATE_LIMIT_VALIDATIONS_PER_TOKEN" env-default:"60"`
	ValidationsWindow          time.Duration `yaml:"validations_window" env:"RATE_LIMIT_VALIDATIONS_WINDOW" env-default:"1m"`
	MessagesPerConnection      int           `yaml:"messages_per_connection" env:"RATE_LIMIT_MESSAGES_PER_CONNECTION" env-default:"120"`
	MessagesWindow             time.Duration `yaml:"messages_window" env:"RATE_LIMIT_MESSAGES_WINDOW" env-default:"1m"`
	EventsPerChannel           int           `yaml:"events_per_channel" env:"RATE_LIMIT_EVENTS_PER_CHANNEL" env-default:"600"`
	EventsPerChannelWindow     time.Duration `yaml:"events_per_channel_window" env:"RATE_LIMIT_EVENTS_PER_CHANNEL_WINDOW" env-default:"1m"`
	ConnectionBurst            int           `yaml:"connection_burst" env:"RATE_LIMIT_CONNECTION_BURST" env-default:"10"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"BREAKER_FAILURE_THRESHOLD" env-default:"5"`
	Cooldown         time.Duration `yaml:"cooldown" env:"BREAKER_COOLDOWN" env-default:"10s"`
	CallTimeout      time.Duration `yaml:"call_timeout" env:"BREAKER_CALL_TIMEOUT" env-default:"500ms"`
}

type GatewayConfig struct {
	ChannelCapacity   int           `yaml:"channel_capacity" env:"GATEWAY_CHANNEL_CAPACITY" env-default:"0"`
	TypingTTL         time.Duration `yaml:"typing_ttl" env:"GATEWAY_TYPING_TTL" env-default:"15s"`
	LivenessThreshold time.Duration `yaml:"liveness_threshold" env:"GATEWAY_LIVENESS_THRESHOLD" env-default:"90s"`
	SendBufferSize    int           `yaml:"send_buffer_size" env:"GATEWAY_SEND_BUFFER_SIZE" env-default:"256"`
	MaxMessageSize    int64         `yaml:"max_message_size" env:"GATEWAY_MAX_MESSAGE_SIZE" env-default:"4096"`
	WriteWait         time.Duration `yaml:"write_wait" env:"GATEWAY_WRITE_WAIT" env-default:"10s"`
	PingPeriod        time.Duration `yaml:"ping_period" env:"GATEWAY_PING_PERIOD" env-default:"54s"`
	PongWait          time.Duration `yaml:"pong_wait" env:"GATEWAY_PONG_WAIT" env-default:"60s"`
}

type CleanupConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env:"CLEANUP_SWEEP_INTERVAL" env-default:"5s"`
	SessionSweep  time.Duration `yaml:"session_sweep" env:"CLEANUP_SESSION_SWEEP" env-default:"5m"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" env-default:"3"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY" env-default:"50ms"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY" env-default:"1s"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}
