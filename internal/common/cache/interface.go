package cache

import (
	"context"
)

// Cache defines the cache operations the services depend on.
type Cache interface {
	HashOps
	ScriptOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// HashOps defines hash (map) operations
type HashOps interface {
	// HGetAll returns all fields and values of the hash stored at key.
	// A missing key yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// ScriptOps runs server-side Lua scripts.
type ScriptOps interface {
	// Eval runs script against keys and args.
	// A nil script reply yields a nil value and a nil error.
	Eval(ctx context.Context, script *Script, keys []string, args ...interface{}) (interface{}, error)
}
