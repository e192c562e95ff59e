package config

import "os"

// Config holds the runtime configuration for the service.
type Config struct {
	ListenAddr     string
	DatabaseDSN    string
	RedisAddr      string
	ModelServerURL string
	ModelName      string
	UploadDir      string
	JWTSecret      string
	JWTAudience    string
	LogLevel       string
}

// Load reads configuration from environment variables, falling back to
// development defaults.
func Load() *Config {
	return &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=canscan port=5432 sslmode=disable"),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		ModelServerURL: getEnv("MODEL_SERVER_URL", "http://model-server:8501"),
		ModelName:      getEnv("MODEL_NAME", "lesion_classifier"),
		UploadDir:      getEnv("UPLOAD_DIR", "static/uploads"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
