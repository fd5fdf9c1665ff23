// Package sqlite persists provider configuration snapshots. Credentials
// never reach this store.
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

	_ "modernc.org/sqlite"

	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
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
		return nil, fmt.Errorf("failed to initialize provider schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, snapshot provider.Snapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}
	settingsRaw, err := json.Marshal(snapshot.Settings)
	if err != nil {
		return fmt.Errorf("encode provider settings: %w", err)
	}
	var lastSync any
	if snapshot.LastSyncAt != nil {
		lastSync = snapshot.LastSyncAt.UTC().Format(time.RFC3339Nano)
	}
	const q = `
INSERT INTO providers (id, display_name, type, enabled, settings, status, last_sync_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  display_name=excluded.display_name,
  type=excluded.type,
  enabled=excluded.enabled,
  settings=excluded.settings,
  status=excluded.status,
  last_sync_at=excluded.last_sync_at,
  updated_at=excluded.updated_at;
`
	_, err = s.db.ExecContext(ctx, q,
		snapshot.ID,
		snapshot.DisplayName,
		string(snapshot.Type),
		boolToInt(snapshot.Enabled),
		string(settingsRaw),
		string(snapshot.Status),
		lastSync,
		snapshot.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save provider snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadAll(ctx context.Context) ([]provider.Snapshot, error) {
	const q = `
SELECT id, display_name, type, enabled, settings, status, last_sync_at, updated_at
FROM providers
ORDER BY id;
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load provider snapshots: %w", err)
	}
	defer rows.Close()
	out := make([]provider.Snapshot, 0)
	for rows.Next() {
		var (
			snap     provider.Snapshot
			typ      string
			enabled  int
			settings string
			status   string
			lastSync sql.NullString
			updated  string
		)
		if err := rows.Scan(&snap.ID, &snap.DisplayName, &typ, &enabled, &settings, &status, &lastSync, &updated); err != nil {
			return nil, fmt.Errorf("scan provider snapshot: %w", err)
		}
		snap.Type = provider.Type(typ)
		snap.Enabled = enabled != 0
		snap.Status = provider.Status(status)
		if err := json.Unmarshal([]byte(settings), &snap.Settings); err != nil {
			return nil, fmt.Errorf("decode settings for provider %q: %w", snap.ID, err)
		}
		if lastSync.Valid {
			t := parseTime(lastSync.String)
			snap.LastSyncAt = &t
		}
		snap.UpdatedAt = parseTime(updated)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider snapshots: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("provider id is required")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete provider snapshot: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
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

var _ provider.ConfigStore = (*Store)(nil)
