package port

import "context"

type CacheRepository interface {
	// ClaimIdempotency binds key to value if unbound; otherwise returns the bound value and false
	ClaimIdempotency(ctx context.Context, key, value string) (string, bool, error)

	// ReleaseIdempotency unbinds key so the action can be attempted again
	ReleaseIdempotency(ctx context.Context, key string) error
}
