package repository

import (
	"database/sql"
	"fmt"
	"time"
)

// NewSQLiteRepository opens an SQLite-backed repository.
// The DSN is the data source name for the SQLite database.
func NewSQLiteRepository(dsn string) (*SQLRepository, error) {
	// The driver "sqlite3" must be registered by the application importing this package,
	// typically by a blank import like `_ "github.com/mattn/go-sqlite3"`.
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &SQLRepository{db: db, dsn: dsn, name: "sqlite", bindType: bindQuestion, now: time.Now}, nil
}
