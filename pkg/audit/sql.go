package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store on database/sql. Supports PostgreSQL, MySQL and
// SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS step_records (
    id VARCHAR(255) PRIMARY KEY,
    collaboration_id VARCHAR(255) NOT NULL,
    step_id VARCHAR(255) NOT NULL,
    worker VARCHAR(255) NOT NULL,
    kind VARCHAR(50) NOT NULL,
    content TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_step_records_collaboration_id ON step_records(collaboration_id);
`

// NewSQLStore creates a SQL-backed store and initializes its schema.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
		// Valid
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Open opens a database connection for the dialect and returns a store on it.
// The config dialect "sqlite" maps to the go-sqlite3 driver name "sqlite3".
func Open(dialect, dsn string) (*SQLStore, error) {
	driverName := dialect
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := NewSQLStore(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	_, err := s.db.Exec(createTableSQL)
	return err
}

// rebind converts ? placeholders to the dialect's form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// Append stores the record and returns its identifier.
func (s *SQLStore) Append(ctx context.Context, rec *Record) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := s.rebind(`INSERT INTO step_records
		(id, collaboration_id, step_id, worker, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		id, rec.CollaborationID, rec.StepID, rec.Worker, rec.Kind, rec.Content, createdAt,
	); err != nil {
		return "", fmt.Errorf("failed to append record: %w", err)
	}
	return id, nil
}

// List returns all records for a collaboration in append order.
func (s *SQLStore) List(ctx context.Context, collaborationID string) ([]*Record, error) {
	query := s.rebind(`SELECT id, collaboration_id, step_id, worker, kind, content, created_at
		FROM step_records WHERE collaboration_id = ? ORDER BY created_at, id`)
	rows, err := s.db.QueryContext(ctx, query, collaborationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(
			&rec.ID, &rec.CollaborationID, &rec.StepID,
			&rec.Worker, &rec.Kind, &rec.Content, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
