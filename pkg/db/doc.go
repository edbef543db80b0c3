// Package db provides PostgreSQL connection, transaction and migration helpers
// built on [github.com/jackc/pgx/v5/pgxpool] and [github.com/pressly/goose/v3].
//
// # Configuration
//
//	DATABASE_CONN_URL           - PostgreSQL connection URL (required)
//	DATABASE_MAX_OPEN_CONNS     - Maximum open connections (default: 20)
//	DATABASE_MIN_CONNS          - Minimum idle connections (default: 2)
//	DATABASE_HEALTHCHECK_PERIOD - Health check interval (default: 1m)
//	DATABASE_MAX_CONN_IDLE_TIME - Maximum connection idle time (default: 10m)
//	DATABASE_MAX_CONN_LIFETIME  - Maximum connection lifetime (default: 30m)
//	DATABASE_RETRY_ATTEMPTS     - Connection retry attempts (default: 3)
//	DATABASE_RETRY_INTERVAL     - Base retry interval (default: 5s)
//	DATABASE_MIGRATIONS_TABLE   - Migrations table name (default: schema_migrations)
//
// # Transactions
//
// [WithTx] runs a function inside a transaction and rolls back on error or panic:
//
//	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, "DELETE FROM queue WHERE message_id = $1", id)
//		return err
//	})
//
// # Errors
//
// Sentinel errors ([ErrFailedToParseDBConfig], [ErrFailedToOpenDBConnection],
// [ErrHealthcheckFailed], [ErrSetDialect], [ErrApplyMigrations]) are joined with
// the underlying cause using [errors.Join].
package db
