package rediscache

import "fmt"

const (
	// KeyPrefixGrid is the prefix for cached grid records
	KeyPrefixGrid = "gridman:grid:"
	// KeyAllGrids is the key for the set of all cached grid keys
	KeyAllGrids = "gridman:grids:all"
)

// GridKey returns the Redis key for a cached grid record
func GridKey(key string) string {
	return KeyPrefixGrid + key
}

// AllGridsKey returns the key for the set of all cached grid keys
func AllGridsKey() string {
	return KeyAllGrids
}

// ExtractGridKey extracts the grid key from a Redis key
func ExtractGridKey(key string) (string, error) {
	if len(key) <= len(KeyPrefixGrid) {
		return "", fmt.Errorf("invalid grid cache key: %s", key)
	}
	return key[len(KeyPrefixGrid):], nil
}
