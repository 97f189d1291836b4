// Package storage defines the persistence interfaces of the proxy.
//
// UserStore holds local accounts together with their backend bearer tokens.
// RepositoryStore holds registered module sources. pkg/storage/sqlstore
// implements both on database/sql for PostgreSQL and SQLite.
//
// Lookups that find nothing return auth.ErrNotFound, so callers can use
// errors.Is without knowing the backing database.
//
// NewRedisClient builds the optional redis client shared by the distributed
// rate limiter and the readiness check.
package storage
