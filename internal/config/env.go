package config

import "os"

// applyEnv lets BROKER_* environment variables override values parsed
// from the config file, for deployments that prefer env-based overrides
// for secrets over checking them into a config file.
func applyEnv(cfg *Config) {
	if addr := os.Getenv("BROKER_BINARY_ADDR"); addr != "" {
		cfg.Server.BinaryAddr = addr
	}
	if addr := os.Getenv("BROKER_HTTP_ADDR"); addr != "" {
		cfg.Server.HTTPAddr = addr
	}
	if level := os.Getenv("BROKER_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}
	if dir := os.Getenv("BROKER_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if secret := os.Getenv("BROKER_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if dsn := os.Getenv("BROKER_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

// GetEnvOrDefault returns the named environment variable, or defaultValue
// if it is unset or empty.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
