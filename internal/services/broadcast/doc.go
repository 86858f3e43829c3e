// Package broadcast delivers one payload to a list of recipient chats.
//
// Dispatch sends exactly once per recipient, in order, and never lets one
// recipient hold up the rest: each send gets its own deadline, sends are
// paced by a rate limiter, and a circuit breaker fails fast while the
// platform keeps timing out. Failures are classified as permanent (the chat
// is gone) or transient and returned in a Report. Nothing is retried within
// a dispatch; the scheduler decides what a failure means.
package broadcast
