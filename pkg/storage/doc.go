// Package storage holds the storage configuration and the counter store
// contract. Implementations live in subpackages: redisstore for counters,
// sets and cached summaries, postgres for the relational connection pool and
// archive for the S3 event export.
package storage
