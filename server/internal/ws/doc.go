// Package ws is the live subscription surface. Each connected client first
// receives a snapshot of the currently warning/critical admissions matching
// its filter, then a stream of alert events until it disconnects. Delivery
// is best-effort: a client whose send buffer fills is dropped and must
// reconnect, at which point the fresh snapshot resynchronizes it — the hub
// never blocks on a slow subscriber and never replays missed transitions.
package ws
