/*
Package types defines the core data structures used throughout CHOM.

This package contains the fundamental types that represent the fleet's
domain model: sites, nodes, backups, healing attempts, and the node-local
registry format. These types are used by all other packages for state
management, agent communication, and orchestration logic.

# Invariants

  - A Site with status "active" must reference a Node with status "active".
  - A Site's HealingLog is append-only; entries are never mutated.
  - A Backup's Location is unique and its Checksum, once set, is immutable.

All types are designed to be JSON-serializable and self-documenting;
enumerated states are typed string constants so that storage and wire
representations stay human-readable.
*/
package types
