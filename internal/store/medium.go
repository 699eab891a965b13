package store

import "context"

// Medium is the persisted key-value string store the aggregate cache is
// written through. Get reports ok=false for a missing key.
type Medium interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}
