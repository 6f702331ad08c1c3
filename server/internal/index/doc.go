// Package index maintains the staleness index: one entry per active
// admission, keyed by (tier, elapsed time), answering "top-N most overdue"
// queries and handing out lease-bounded claims so concurrent consumers never
// process the same admission twice. Leases that are not released within the
// configured window are reclaimed automatically — a crashed worker can delay
// an admission's processing, never lose it.
package index
