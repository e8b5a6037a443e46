// Package storage provides the physical key-value stores that back the
// credential store and the permission cache.
//
// Every backend implements Store. Values are opaque strings; encoding of the
// identity and permission snapshots happens in the packages above.
//
//   - FileStore keeps one 0600 file per key in a 0700 directory and can be
//     watched for changes made by other processes.
//   - CookieStore keeps the values as cookies in a single jar file, the
//     redundant second store for identity data.
//   - RedisStore keeps the values under a key prefix in Redis, for
//     deployments where several processes share one session.
//   - MemoryStore keeps everything in memory.
package storage
