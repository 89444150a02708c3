// Package convcache caches the results of document conversions on disk.
//
// # Overview
//
// A conversion takes a source bundle and a set of parameters and produces a
// result bundle. Conversions are expensive and deterministic, so the result
// is stored under a key derived from the converter name, the source content
// hash and the parameters:
//
//	<converter>:<content hash>[:<param>:<value>]...
//
// Results are persisted below a cache root using a sharded directory layout
// (see package store) and are evicted oldest access first once their total
// size reaches the configured quota (see package gc).
//
// # Usage
//
//	cfg := convcache.DefaultConfig()
//	cfg.Root = "/var/cache/convcache"
//	cfg.QuotaKB = 512 * 1024
//
//	cache, err := convcache.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
//
//	result, err := cache.Convert(ctx, converter, source, convcache.Parameters{
//	    {Name: "format", Value: "pdf"},
//	})
//
// # Failure Policy
//
// Caching is an optimization. Failing to persist a result only means it is
// not cached, and a result that cannot be restored is treated as a miss and
// dropped from the index. Key derivation errors are different: a source
// whose hash cannot be computed must not be cached at all, so Lookup and
// Store return ErrHashUnavailable and Convert bypasses the cache.
//
// # Lifecycle
//
// The index lives in memory. With Config.PurgeOnStart the cache root is
// emptied when the cache is created, since artifacts left by an earlier
// process would never count against the quota. Close stops the background
// collector.
package convcache
