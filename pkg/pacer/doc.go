// Package pacer spaces out deferred operations.
//
// Callers submit operations with Add and get back a Future that settles
// with the operation's outcome. The Scheduler dispatches strictly in
// submission order, one at a time, with a configurable interval between
// dispatches no matter how fast callers enqueue. Typical use is pacing
// calls against a rate-limited downstream (an API, a network probe target)
// while letting producers fire-and-observe.
//
// The engine never runs two dispatch slots at once and never retries;
// a failed operation fails only its own Future.
package pacer
