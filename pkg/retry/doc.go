// Package retry implements per-dependency exponential backoff with
// optional jitter and a typed exhaustion error distinguishable from a
// first-attempt failure.
package retry
