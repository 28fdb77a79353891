package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables that are not already set. A missing .env is returned
// as an error that callers may ignore to fall back to the process environment.
// With no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses values such as "10s" or "500ms". Invalid or empty
// values yield fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// GetEnvList splits a comma separated variable, trimming blanks and dropping
// empty items.
func GetEnvList(key string, fallback []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// Server is the server process configuration.
type Server struct {
	Port            string
	LogLevel        string
	LogFormat       string
	LogFile         string
	AuthToken       string
	AllowedOrigins  []string
	StaticDir       string
	TLSCertFile     string
	TLSKeyFile      string
	SendQueueSize   int
	MaxMessageBytes int
	RedisAddr       string
	RedisChannel    string
	ShutdownTimeout time.Duration
}

// LoadServer reads the server configuration from the environment, after
// merging .env if present.
func LoadServer() Server {
	_ = Load()

	return Server{
		Port:            GetEnv("PORT", "3001"),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		LogFormat:       GetEnv("LOG_FORMAT", "json"),
		LogFile:         GetEnv("LOG_FILE", ""),
		AuthToken:       GetEnv("AUTH_TOKEN", ""),
		AllowedOrigins:  GetEnvList("ALLOWED_ORIGINS", []string{"*"}),
		StaticDir:       GetEnv("STATIC_DIR", ""),
		TLSCertFile:     GetEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:      GetEnv("TLS_KEY_FILE", ""),
		SendQueueSize:   GetEnvInt("SEND_QUEUE_SIZE", 64),
		MaxMessageBytes: GetEnvInt("MAX_MESSAGE_BYTES", 1<<20),
		RedisAddr:       GetEnv("REDIS_ADDR", ""),
		RedisChannel:    GetEnv("REDIS_CHANNEL", "curlsync"),
		ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// TLSEnabled reports whether both certificate and key files are configured.
func (s Server) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}
