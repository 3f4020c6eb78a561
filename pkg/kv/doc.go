// Package kv provides a Redis-like key-value store abstraction with in-memory
// and Redis-backed implementations.
//
// The package defines a Store interface scoped to the operations the post
// cache keyspace needs: string keys with TTL, hashes for serialized records,
// and sets for enumerating live record keys.
//
// Example usage:
//
//	store := memory.NewStore()
//	defer store.Close()
//
//	ctx := context.Background()
//	err := store.Set(ctx, "key", []byte("value"), 10*time.Second)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	value, err := store.Get(ctx, "key")
//	if err != nil {
//		if errors.Is(err, kv.ErrNotFound) {
//			log.Println("Key not found")
//		} else {
//			log.Fatal(err)
//		}
//	}
//
// The in-memory implementation provides a first-class development and testing
// experience with full TTL support and background expiration. The Redis adapter
// wraps go-redis/v9 for production use while maintaining the same interface.
package kv
