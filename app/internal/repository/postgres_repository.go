package repository

import (
	"database/sql"
	"fmt"
	"time"
)

// NewPostgresRepository opens a Postgres-backed repository.
// The driver "postgres" is registered by a blank import of github.com/lib/pq.
func NewPostgresRepository(dsn string) (*SQLRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return &SQLRepository{db: db, dsn: dsn, name: "postgres", bindType: bindDollar, now: time.Now}, nil
}
