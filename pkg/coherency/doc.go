// Package coherency detects divergence between the desired-state store
// and what nodes actually serve. Quick runs check the store alone; full
// runs additionally query every reachable node's registry. One
// unresponsive node degrades coverage, never the whole report.
package coherency
