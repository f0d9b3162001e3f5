package storage

import (
	"context"
	"database/sql"
)

func (r *Repository) SQLDB() *sql.DB {
	if r == nil {
		return nil
	}
	return r.db
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
