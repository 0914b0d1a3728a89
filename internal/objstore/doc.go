// Package objstore provides a versioned, transactional keyed record store on
// top of SQLite.
//
// The store exposes collections of JSON records identified by a primary key
// read from a field of the record (the key path). Collections may carry
// secondary indexes over other fields, each unique or non-unique.
//
// # Physical layout
//
//   - c_{collection}: one table per collection (pk TEXT PRIMARY KEY, value TEXT)
//   - i_{collection}__{index}: expression index over json_extract(value, '$.{keyPath}')
//   - _collections / _indexes: catalog of key paths and index definitions
//   - PRAGMA user_version: schema version of the database
//
// Records are written with model.MarshalRecord: sorted keys, strings
// preserved byte for byte.
//
// # Versioning
//
// Open compares the requested version with PRAGMA user_version. When the
// requested version is higher, the Upgrade callback runs inside one
// BEGIN IMMEDIATE transaction together with the version bump, so a failed
// upgrade leaves the previous version in place. If another connection holds
// the write lock past the busy timeout, Open fails with ErrBlocked.
//
// # Transactions
//
// View and Update run a function inside a transaction scoped to named
// collections. Records are accessed through Tx.Store. A single connection is
// used (SQLite allows one writer), so concurrent callers are serialized by
// the store itself.
//
//	err := db.Update(ctx, []string{"commits"}, func(tx *objstore.Tx) error {
//	    commits, err := tx.Store("commits")
//	    if err != nil {
//	        return err
//	    }
//	    return commits.Add(record)
//	})
//
// Add signals a uniqueness violation with *ConstraintError, which matches
// ErrKeyExists and reports whether the primary key or which unique index fired.
package objstore
