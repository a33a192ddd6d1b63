// Package config reads environment-backed settings, optionally seeded
// from a .env file.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads .env from the working directory into the environment.
// A missing file is not an error worth stopping for; callers ignore
// the result and fall back to system env or defaults.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	return godotenv.Load(paths...)
}

// GetEnv returns the environment variable named by key, or fallback
// when unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}

	return fallback
}

// GetEnvInt returns the integer value of the environment variable
// named by key, or fallback when unset, empty, or malformed.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}

	return fallback
}

// GetEnvBool returns the boolean value of the environment variable
// named by key, or fallback when unset, empty, or malformed.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}

	return fallback
}
