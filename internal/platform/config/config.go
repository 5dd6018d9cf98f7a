package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Bus transports selectable with BUS_TRANSPORT.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportKafka  = "kafka"
)

// Config is the full process configuration.
type Config struct {
	Server    Server
	Log       Log
	Database  Database
	Redis     RedisConfig
	Kafka     KafkaConfig
	Providers Providers
	Poll      Poll
	// BusTransport selects how lookup records reach other processes.
	BusTransport string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	CallbackSecret  string
	ShutdownTimeout time.Duration
}

type Log struct {
	Level  string
	Format string
}

// Database is optional. An empty URL selects the in-memory stores.
type Database struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig is optional. An empty URL disables the negative cache mirror,
// the Redis bus relay and the poll worker.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Providers holds endpoints of the external verification providers.
type Providers struct {
	PANBaseURL        string
	UANBaseURL        string
	EmploymentBaseURL string
	APIKey            string
	Timeout           time.Duration
}

// Poll controls background polling of deferred provider jobs.
type Poll struct {
	Interval    time.Duration
	MaxAttempts int
	Concurrency int
}

// FromEnv builds a Config from environment variables, loading .env first
// when present so main stays lean.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Server: Server{
			Addr:            getString("VERIGATE_ADDR", ":8080"),
			JWTSigningKey:   getString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			CallbackSecret:  os.Getenv("PROVIDER_CALLBACK_SECRET"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Log: Log{
			Level:  getString("LOG_LEVEL", "info"),
			Format: getString("LOG_FORMAT", "json"),
		},
		Database: Database{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:    getString("KAFKA_TOPIC", "verigate.lookup-records"),
			ClientID: getString("KAFKA_CLIENT_ID", "verigate"),
		},
		Providers: Providers{
			PANBaseURL:        os.Getenv("PAN_PROVIDER_URL"),
			UANBaseURL:        os.Getenv("UAN_PROVIDER_URL"),
			EmploymentBaseURL: os.Getenv("EMPLOYMENT_PROVIDER_URL"),
			APIKey:            os.Getenv("PROVIDER_API_KEY"),
			Timeout:           getDuration("PROVIDER_TIMEOUT", 30*time.Second),
		},
		Poll: Poll{
			Interval:    getDuration("POLL_INTERVAL", 30*time.Second),
			MaxAttempts: getInt("POLL_MAX_ATTEMPTS", 20),
			Concurrency: getInt("POLL_CONCURRENCY", 5),
		},
		BusTransport: strings.ToLower(getString("BUS_TRANSPORT", TransportMemory)),
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.BusTransport {
	case TransportMemory:
	case TransportRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("BUS_TRANSPORT=redis requires REDIS_URL")
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("BUS_TRANSPORT=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unsupported BUS_TRANSPORT %q", c.BusTransport)
	}
	if c.Poll.MaxAttempts < 1 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
