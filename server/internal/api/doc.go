// Package api is the read-only REST surface over the entity store, the
// staleness index, the alert history and the dead-letter log. It never
// mutates engine state.
package api
