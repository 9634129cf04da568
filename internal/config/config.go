// Package config loads the relay's process environment into a typed struct.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-sourced setting the relay and its
// supervisor need at process start. Enforcement knobs (UseAuth) are
// resolved once here and never re-read per session.
type Config struct {
	Port     int
	DataDir  string
	LogLevel string

	JWTSecret       string
	UseAuth         bool
	AllowedSSHHosts []string
	CORSOrigin      []string

	KnownHostsPath string
	DialTimeoutMS  int
}

// Load reads Config from the process environment, applying the defaults
// documented in spec.md §6.3.
func Load() *Config {
	return &Config{
		Port:     getEnvAsInt("PORT", 3001),
		DataDir:  getEnv("DATA_DIR", "."),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		UseAuth:         getEnv("USE_AUTH", "true") != "false",
		AllowedSSHHosts: getEnvAsSlice("ALLOWED_SSH_HOSTS", nil),
		CORSOrigin:      getEnvAsSlice("CORS_ORIGIN", nil),

		KnownHostsPath: getEnv("SSHRELAY_KNOWN_HOSTS", ""),
		DialTimeoutMS:  getEnvAsInt("SSHRELAY_DIAL_TIMEOUT", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
