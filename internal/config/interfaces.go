package config

import "context"

// SecretProvider resolves secret values by reference. SSMProvider is the
// production implementation; tests supply a map-backed fake.
type SecretProvider interface {
	// GetParametersBatch returns the plaintext value of each resolvable key.
	// Keys that do not resolve are omitted from the result.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
