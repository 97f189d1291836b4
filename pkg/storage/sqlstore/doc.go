// Package sqlstore implements storage.Store on database/sql.
//
// Two drivers are supported: PostgreSQL through lib/pq and SQLite through
// mattn/go-sqlite3. Queries are written with ? placeholders and rebound to
// $n for PostgreSQL. Each dialect has its own embedded goose migration set
// applied by Migrate.
//
//	store, err := sqlstore.Open(ctx, sqlstore.ConnectionConfig{
//		Driver: "sqlite3",
//		URL:    "file:tfgate.db?_busy_timeout=5000",
//	})
//	if err != nil {
//		return err
//	}
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
//
// Permission and namespace lists are stored as JSON text so both dialects
// share one schema shape.
package sqlstore
