// Package tasks provides decorators for engine tasks: retry with exponential
// backoff on retryable errors, token bucket rate limiting and panic recovery.
// Decorated tasks keep answering engine.Placeholder calls of the task they
// wrap, so short-circuited runs still get the wrapped task's placeholders.
package tasks
