package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to the hosted Postgres database and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	dsn := withDisablePreparedStatements(databaseURL)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	// Kept small: the pooler in front of the database does the real multiplexing.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// withDisablePreparedStatements appends disable_prepared_statements=true and binary_parameters=yes to the DSN if not present.
// This nudges lib/pq to avoid server-side prepared statements and binary mode, which can break with PgBouncer transaction pooling.
func withDisablePreparedStatements(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.Contains(lower, "disable_prepared_statements=") || strings.Contains(lower, "prefer_simple_protocol=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	extras := []string{"disable_prepared_statements=true"}
	if !strings.Contains(lower, "binary_parameters=") {
		extras = append(extras, "binary_parameters=yes")
	}
	return dsn + sep + strings.Join(extras, "&")
}
