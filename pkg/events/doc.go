// Package events provides an in-process pub/sub broker for fleet events
// (provisioning outcomes, node health transitions, drift detection).
// Slow subscribers are skipped rather than blocking publishers.
package events
