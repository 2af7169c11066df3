// Package event defines the closed set of domain events recorded by the
// graph editing domain, together with their canonical wire encoding.
//
// Events are immutable business facts. The set is sealed: every consumer
// that switches on the concrete payload type is forced to handle additions
// at compile time. The wire envelope carries a mandatory event_type
// discriminant and is encoded canonically, because those exact bytes feed
// the integrity-chain hash.
package event
