package topviews

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// RequireEnv returns the value of the environment variable key, or an error if empty.
func RequireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("topviews: required environment variable %s is not set", key)
	}
	return v, nil
}

// EnvInt parses an integer environment variable, returning fallback when unset.
func EnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("topviews: %s: %w", key, err)
	}
	return n, nil
}

// EnvBool parses a boolean environment variable, returning fallback when unset.
func EnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("topviews: %s: %w", key, err)
	}
	return b, nil
}

// EnvDuration parses a duration environment variable ("10m", "24h"),
// returning fallback when unset.
func EnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("topviews: %s: %w", key, err)
	}
	return d, nil
}
