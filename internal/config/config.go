package config

import "os"

// Config carries the service settings sourced from the environment. Database,
// Redis, and JWT settings are optional; leaving them empty disables the
// corresponding feature instead of failing startup.
type Config struct {
	Port        string
	ModelPath   string
	DatabaseDSN string
	RedisAddr   string
	JWTSecret   string
	JWTAudience string
}

// Load reads the configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		ModelPath:   getEnv("MODEL_PATH", "models/kidney_segmentation.onnx"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),
	}
}

// Addr returns the listen address derived from Port.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
