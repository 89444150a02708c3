// Package store indexes persisted conversion results by cache key.
//
// # Layout
//
// Each key maps to its own directory below the cache root. The key is base64
// encoded, '+' and '/' are replaced with 'X' and 'Y', and the result is cut
// into fixed-length segments that form nested shard directories. A final
// directory named by the sha256 of the key holds the artifact:
//
//	<root>/aG/Vs/bG/8g/d2/<sha256(key)>/<bundle hash>
//
// This bounds the fan-out of any single directory regardless of how keys are
// distributed.
//
// # Concurrency
//
// The index is guarded by one reader/writer lock. Lookups run in parallel;
// insertions, removals and Clear are exclusive and keep the lock for the
// whole disk operation. The index lives in memory only.
package store
