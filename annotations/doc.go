// Package annotations parses and evaluates annotation definitions attached
// to organisations and contacts.
//
// An annotation is a JSON object of one of two shapes:
//
//	{"type": "tag", "value": "daily"}
//	{"type": "inhibition", "condition": ["eq", ["event_field", "classification.identifier"], "openportmapper"]}
//
// A condition is either a JSON scalar or an array whose first element names
// a function from a Registry. Parsing validates the whole tree up front, so
// evaluating a parsed Inhibition against an Event only fails when a function
// itself misbehaves.
//
// event_field is the missing-safe way to read a field: an absent field
// yields Missing, which equals nothing. The cel function indexes a plain
// map instead, so event['k'] on an event without k is an evaluation error.
// Guard such fields in CEL with 'k' in event.
//
// Parsed annotations, expressions and registries are immutable and may be
// shared between goroutines without locking.
package annotations
