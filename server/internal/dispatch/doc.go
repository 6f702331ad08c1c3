// Package dispatch turns tier transitions into alerts and fans them out.
//
// The dispatcher keeps per-admission transition state (last alerted tier and
// a recovery epoch) so that a transition detected by both the event path and
// the aging sweeper still produces exactly one alert. Delivery targets are
// Publishers: the WebSocket hub for live subscribers and webhook targets for
// external channels. The escalator is a separate worker that drains overdue
// Critical admissions from the staleness index in claimed batches.
package dispatch
