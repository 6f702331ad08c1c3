// Package receiver is the HTTP ingestion endpoint for normalized feed
// events. Upstream collaborators (one per feed) POST single events or
// batches; each event is validated and handed to the normalizer, and the
// response reports per-event acceptance so at-least-once upstreams can
// retry safely.
package receiver
