// Package domain holds the core monitoring types shared across the engine:
// admissions, normalized feed events, staleness tiers and the threshold
// configuration they are derived from. Everything here is plain data and
// pure functions — no locking, no IO.
package domain
