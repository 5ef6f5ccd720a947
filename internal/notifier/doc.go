// Package notifier delivers health alerts to chat.
//
// Notifications go through a bounded queue drained by a small worker pool.
// Each send waits on a global token bucket and on a per-chat limiter, is
// retried with backoff on transport errors, and is suppressed when the same
// dedup key was accepted within DedupTTL.
//
// The service keeps a short in-memory history of delivered texts for the
// ops surface.
package notifier
