// Package chain links domain events into a per-aggregate hash chain.
//
// Each chained event carries a content id derived from the event's canonical
// bytes plus the previous event's id, so any reader can verify a stream's
// integrity without a shared secret: recomputing the ids exposes both
// tampered payloads and broken links.
package chain
