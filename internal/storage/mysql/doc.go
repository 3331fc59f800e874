// Package mysql persists append-only run and match records. The default
// backend appends JSON lines to local files; the SQL backend stores the same
// records in MySQL and applies the embedded schema migrations on startup.
package mysql
