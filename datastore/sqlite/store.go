// Package sqlite is the embedded store for clinic-internal records the
// sync engine reconciles against.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	syncengine "github.com/YIKHLEF/ClinicBoost-sub004/sync"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize records schema: %w", err)
	}
	return &Store{db: db}, nil
}

// QueryByWindow returns records of one entity type whose time-like field
// falls inside the window, ordered by that field ascending.
func (s *Store) QueryByWindow(ctx context.Context, entityType string, window syncengine.Window) ([]syncengine.Entity, error) {
	const q = `
SELECT internal_id, external_id, entity_type, fields, last_modified, origin
FROM records
WHERE entity_type = ? AND occurs_at >= ? AND occurs_at <= ?
ORDER BY occurs_at, internal_id;
`
	rows, err := s.db.QueryContext(ctx, q,
		entityType,
		window.From.UTC().Format(time.RFC3339Nano),
		window.To.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", entityType, err)
	}
	defer rows.Close()

	var out []syncengine.Entity
	for rows.Next() {
		var (
			e        syncengine.Entity
			fields   string
			modified string
			origin   string
		)
		if err := rows.Scan(&e.InternalID, &e.ExternalID, &e.EntityType, &fields, &modified, &origin); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
			return nil, fmt.Errorf("decode fields for record %q: %w", e.InternalID, err)
		}
		e.LastModified = parseTime(modified)
		e.Origin = syncengine.Origin(origin)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, entityType string, entity syncengine.Entity) (string, error) {
	id := entity.InternalID
	if id == "" {
		id = uuid.New().String()
	}
	fieldsRaw, err := json.Marshal(entity.CloneFields())
	if err != nil {
		return "", fmt.Errorf("encode record fields: %w", err)
	}
	const q = `
INSERT INTO records (internal_id, external_id, entity_type, fields, occurs_at, last_modified, origin)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
	_, err = s.db.ExecContext(ctx, q,
		id,
		entity.ExternalID,
		entityType,
		string(fieldsRaw),
		occursAt(entity).Format(time.RFC3339Nano),
		entity.LastModified.UTC().Format(time.RFC3339Nano),
		string(entity.Origin),
	)
	if err != nil {
		return "", fmt.Errorf("insert %s record: %w", entityType, err)
	}
	return id, nil
}

func (s *Store) UpdateByID(ctx context.Context, entityType, internalID string, entity syncengine.Entity) error {
	if strings.TrimSpace(internalID) == "" {
		return fmt.Errorf("record id is required")
	}
	fieldsRaw, err := json.Marshal(entity.CloneFields())
	if err != nil {
		return fmt.Errorf("encode record fields: %w", err)
	}
	const q = `
UPDATE records
SET external_id = ?, fields = ?, occurs_at = ?, last_modified = ?
WHERE internal_id = ? AND entity_type = ?;
`
	res, err := s.db.ExecContext(ctx, q,
		entity.ExternalID,
		string(fieldsRaw),
		occursAt(entity).Format(time.RFC3339Nano),
		entity.LastModified.UTC().Format(time.RFC3339Nano),
		internalID,
		entityType,
	)
	if err != nil {
		return fmt.Errorf("update %s record %q: %w", entityType, internalID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s record %q: %w", entityType, internalID, err)
	}
	if affected == 0 {
		return fmt.Errorf("record %q not found", internalID)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// occursAt derives the windowing timestamp from the record's start_time
// field, falling back to last_modified for records without one.
func occursAt(e syncengine.Entity) time.Time {
	if raw := e.Field("start_time"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC()
		}
	}
	return e.LastModified.UTC()
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ syncengine.Datastore = (*Store)(nil)
