// Package model defines the records a partition persists: commits, the events
// they carry, archived (truncated) commits and per-stream snapshots.
//
// # Record encoding
//
// Every record is stored with MarshalRecord:
//   - object keys sorted by UTF-16 code units
//   - strings written unchanged, no HTML escaping
//   - numbers kept as their literal text so payload precision survives
//
// Ids, stream ids and payloads are opaque, so the stored bytes must match what
// the caller passed; index lookups compare them exactly. MarshalCanonical adds
// NFC normalization and is used only for comparisons and golden traces.
//
// # Commit headers
//
// Commits carry caller-defined header fields next to their fixed fields. Headers
// are flattened into the stored record and merged with MergeHeader. Identity,
// ordering and event fields are never overwritten by a merge (see ProtectedFields).
package model
