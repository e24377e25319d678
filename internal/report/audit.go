package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// AuditStore persists completed incident records to SQLite so decisions stay
// reviewable after the process restarts.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(dbPath string) (*AuditStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	s := &AuditStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	return s, nil
}

func (s *AuditStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS incident_reports (
		id                 TEXT PRIMARY KEY,
		incident_id        TEXT NOT NULL,
		created_at         TEXT NOT NULL,
		namespace          TEXT NOT NULL,
		pod                TEXT NOT NULL,
		node               TEXT,
		container          TEXT,
		signature          TEXT NOT NULL,
		failure_reason     TEXT,
		restart_count      INTEGER NOT NULL DEFAULT 0,
		memory_limit       TEXT,
		root_cause         TEXT,
		confidence         REAL NOT NULL DEFAULT 0,
		recommended_memory TEXT,
		degraded           INTEGER NOT NULL DEFAULT 0,
		degraded_reason    TEXT,
		allowed            INTEGER NOT NULL DEFAULT 0,
		decision_reason    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_reports_created ON incident_reports(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_reports_pod ON incident_reports(namespace, pod);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *AuditStore) Insert(ctx context.Context, rec AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_reports (
			id, incident_id, created_at, namespace, pod, node, container,
			signature, failure_reason, restart_count, memory_limit,
			root_cause, confidence, recommended_memory,
			degraded, degraded_reason, allowed, decision_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.IncidentID,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.Namespace,
		rec.Pod,
		rec.Node,
		rec.Container,
		rec.Signature,
		rec.FailureReason,
		rec.RestartCount,
		rec.MemoryLimit,
		rec.RootCause,
		rec.Confidence,
		rec.RecommendedMemory,
		boolToInt(rec.Degraded),
		rec.DegradedReason,
		boolToInt(rec.Allowed),
		rec.DecisionReason,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, created_at, namespace, pod, node, container,
		       signature, failure_reason, restart_count, memory_limit,
		       root_cause, confidence, recommended_memory,
		       degraded, degraded_reason, allowed, decision_reason
		FROM incident_reports
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord

	for rows.Next() {
		var (
			rec       AuditRecord
			createdAt string
			degraded  int
			allowed   int
		)

		if err := rows.Scan(
			&rec.ID,
			&rec.IncidentID,
			&createdAt,
			&rec.Namespace,
			&rec.Pod,
			&rec.Node,
			&rec.Container,
			&rec.Signature,
			&rec.FailureReason,
			&rec.RestartCount,
			&rec.MemoryLimit,
			&rec.RootCause,
			&rec.Confidence,
			&rec.RecommendedMemory,
			&degraded,
			&rec.DegradedReason,
			&allowed,
			&rec.DecisionReason,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}

		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = t
		}
		rec.Degraded = degraded != 0
		rec.Allowed = allowed != 0

		out = append(out, rec)
	}

	return out, rows.Err()
}

func (s *AuditStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
