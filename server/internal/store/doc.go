// Package store is the canonical entity store for monitored admissions.
//
// All mutation is serialized per admission: admissions are partitioned into
// shards by an FNV hash of the admission id and every read or write of a
// record happens under its shard lock. The event-driven update path and the
// periodic sweeper both funnel through the same locks, so last-writer-wins
// is always consistent with monotonic-max test timestamps and the cached
// last-known tier.
//
// Closed admissions stay in the store for audit but are excluded from the
// active views used by the staleness index and the query surfaces.
package store
