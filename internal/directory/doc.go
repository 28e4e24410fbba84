// Package directory resolves a broadcast's recipients.
//
// A Source is either a literal list of chat ids or a lookup key into a paged
// Directory. Backends:
//   - "http": JSON endpoint queried with ?key=...&page=...
//   - "sqlite": local database file (schema created on open)
//   - "postgres": existing PostgreSQL database (pgx via database/sql)
//   - "redis": one sorted set per key
package directory
