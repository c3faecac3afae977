package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// NewTursoMirror connects to a Turso database. The auth token may also be
// carried in the URL's authToken query parameter.
func NewTursoMirror(ctx context.Context, dbURL, authToken string) (*SQLMirror, error) {
	connStr := dbURL
	if authToken != "" {
		u, err := url.Parse(dbURL)
		if err != nil {
			return nil, fmt.Errorf("invalid Turso URL: %w", err)
		}
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		connStr = u.String()
	}

	db, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Turso: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Turso: %w", err)
	}

	m := &SQLMirror{db: db, name: "Turso", dialect: sqliteDialect}
	if err := m.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Println("[Mirror] Connected to Turso")
	return m, nil
}
