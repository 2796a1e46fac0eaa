// Package notifier turns engine failure events into operator alerts.
//
// It subscribes to the event bus and forwards high-signal conditions
// (failed generations, stuck or deauthenticated sessions, an exhausted
// pool) to a Telegram chat. Delivery runs through an async pipeline:
// a bounded queue that drops the oldest alert under pressure, a small
// worker pool, a token-bucket rate limit, retry with backoff, and an
// in-memory dedup window so a flapping condition produces one message
// instead of a stream.
//
// # History
//
// For debugging and operator visibility, the service keeps a small
// in-memory history of recently sent alerts.
package notifier
