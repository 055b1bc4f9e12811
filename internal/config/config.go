package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName      string             `mapstructure:"APP_NAME"`
	AppVersion   string             `mapstructure:"APP_VERSION"`
	LogLevel     string             `mapstructure:"LOG_LEVEL"`
	Server       ServerConfig       `mapstructure:"SERVER"`
	Database     DatabaseConfig     `mapstructure:"DATABASE"`
	Redis        RedisConfig        `mapstructure:"REDIS"`
	Kafka        KafkaConfig        `mapstructure:"KAFKA"`
	Auth         AuthConfig         `mapstructure:"AUTH"`
	Retry        RetryConfig        `mapstructure:"RETRY"`
	Connectivity ConnectivityConfig `mapstructure:"CONNECTIVITY"`
	OfflineQueue OfflineQueueConfig `mapstructure:"OFFLINE_QUEUE"`
	WebSocket    WebSocketConfig    `mapstructure:"WEBSOCKET"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
	CORS           CORSConfig    `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"`
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Brokers            []string `mapstructure:"BROKERS"`
	ClientID           string   `mapstructure:"CLIENT_ID"`
	NotificationsTopic string   `mapstructure:"NOTIFICATIONS_TOPIC"` // 通知实时分发
	ConsumerGroup      string   `mapstructure:"CONSUMER_GROUP"`
	Protocol           string   `mapstructure:"PROTOCOL"`
}

// AuthConfig holds configuration for the authentication collaborator (JWT
// validation only; token issuing lives outside this service).
type AuthConfig struct {
	JWTSecretKey string `mapstructure:"JWT_SECRET_KEY"`
}

// RetryConfig 配置重试执行器的退避参数。
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"MAX_ATTEMPTS"`
	BaseDelay     time.Duration `mapstructure:"BASE_DELAY"`
	BackoffFactor float64       `mapstructure:"BACKOFF_FACTOR"`
	MaxDelay      time.Duration `mapstructure:"MAX_DELAY"`
}

// ConnectivityConfig 配置连通性探测。
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"PROBE_INTERVAL"`
}

// OfflineQueueConfig 配置离线操作队列。
type OfflineQueueConfig struct {
	RedisKey string `mapstructure:"REDIS_KEY"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "ChatSync")
	v.SetDefault("APP_VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "info")

	// Server Defaults
	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20) // 1 MB
	v.SetDefault("SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"})
	v.SetDefault("SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("SERVER.CORS.MAX_AGE", 300) // 5 minutes

	// Database Defaults (PostgreSQL)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "chatsync_db")
	v.SetDefault("DATABASE.SSL_MODE", "disable")

	// Redis Defaults
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	// Kafka Defaults
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "chatsync-client")
	v.SetDefault("KAFKA.NOTIFICATIONS_TOPIC", "chatsync-notifications")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "chatsync-server-group")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")

	// Auth Defaults
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")

	// Retry Defaults
	v.SetDefault("RETRY.MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY.BASE_DELAY", 500*time.Millisecond)
	v.SetDefault("RETRY.BACKOFF_FACTOR", 2.0)
	v.SetDefault("RETRY.MAX_DELAY", 30*time.Second)

	// Connectivity Defaults
	v.SetDefault("CONNECTIVITY.PROBE_INTERVAL", 15*time.Second)

	// Offline Queue Defaults
	v.SetDefault("OFFLINE_QUEUE.REDIS_KEY", "offline:actions")

	// WebSocket Defaults
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 512)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv() // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return
		}
		// Config file not found; we have defaults, so this is acceptable
	}

	err = v.Unmarshal(&config)
	return
}
