// Package sweeper drives passive aging: time moves admissions toward
// warning and critical tiers even when no events arrive, so a fixed-interval
// sweep re-derives elapsed time for every active admission, refreshes the
// staleness index and reports tier transitions to the dispatcher. Sweeps
// are idempotent — transitions fire only when the cached tier actually
// changes — and never fatal: a failing admission is logged and skipped.
package sweeper
