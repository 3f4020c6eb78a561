package posts

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a uuid that is absent from the durable store (or already
// soft-deleted). Expected absence is a normal outcome, not a fault; callers
// surface it as a status:false result rather than a 5xx.
var ErrNotFound = errors.New("post not found")

// ErrCacheKeyMismatch marks a caller-supplied cache key that resolved to a
// record whose uuid disagrees with the uuid in the request. It is never
// silently resolved by falling back to the uuid path.
var ErrCacheKeyMismatch = errors.New("cache key does not match the requested post uuid")

// StorageError wraps a durable-store failure (connectivity, constraint
// violation). Always fatal to the enclosing service operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CacheError wraps a cache-store failure. Fatal during Patch, best-effort
// during Create and Delete; the coherence service decides per operation.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsCacheError reports whether err is (or wraps) a CacheError.
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}
