package env

import "os"

// Get reads an environment variable, falling back when unset or blank.
func Get(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
