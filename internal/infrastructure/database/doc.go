// Package database provides the SQLite connection wrapper and the
// embedded-migration runner used by every persistent store in Marquee Core.
//
// The wrapper enforces WAL mode, a single writer connection, and restrictive
// file permissions. Migrations are .sql files embedded into the binary and
// applied in version order, each in its own transaction.
package database
