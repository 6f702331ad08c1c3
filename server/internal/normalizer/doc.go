// Package normalizer is the single entry point for feed events. It applies
// events to the entity store, keeps the staleness index and alert dispatcher
// in step with every accepted change, parks events that reference admissions
// not yet seen (feeds are independently clocked, so a lab test can outrun
// its admission record) and dead-letters whatever cannot be applied within
// the orphan timeout. Dead letters are kept in a bounded ring for operator
// inspection — nothing is silently dropped.
package normalizer
