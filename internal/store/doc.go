// Package store persists runs, functions, loops and feature snapshots as
// JSON documents in a SQL database.
//
// Every entity is a document in a named collection. Top-level scalar fields
// of each document body are copied into document_fields so that documents
// can be matched, sorted and faceted by field without a per-entity schema.
//
// # Drivers
//
//   - sqlite3 (github.com/mattn/go-sqlite3): default. WAL journal, NORMAL
//     synchronous, 5s busy timeout, foreign keys on, one open connection.
//   - mysql (github.com/go-sql-driver/mysql): for a shared result database.
//
// DDL is rendered per dialect from a single template.
//
// # Ordering
//
// Search results without a sort field come back in insertion order (seq).
// Ties on a sort field are broken by seq as well, so results are
// deterministic across calls.
//
// # Identity
//
// Document IDs come from an IDGenerator, UUIDv7 by default. Find-or-create
// keys are hashed with SHA-256 under a domain prefix before they are stored,
// which keeps the unique column a fixed width on every dialect.
package store
