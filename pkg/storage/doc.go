/*
Package storage provides the authoritative desired-state store.

The Store interface abstracts persistence for sites, nodes and backup
records; BoltStore is the BoltDB-backed implementation used by the control
plane. Desired state lives in this single store; nodes are treated as
potentially-stale replicas reconciled by the coherency engine, not by a
replicated log.

The store also implements the per-site provisioning lease: a leased lock
keyed by domain that serializes concurrent provisioning attempts for the
same site. Expired leases are reclaimable by any new owner.
*/
package storage
