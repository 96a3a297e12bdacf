package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kiln/internal/cas"
)

// Store manages catalog persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the catalog database and applies
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordResource upserts one cooked resource. Replays of the same signature
// keep the first recorded placement.
func (s *Store) RecordResource(ctx context.Context, record ResourceRecord) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO resources (
            signature, kind, table_index, offset, size, descriptor_json, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (kind, signature) DO NOTHING`,
		record.Signature,
		string(record.Kind),
		record.Index,
		record.Offset,
		record.Size,
		record.DescriptorJSON,
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

// RecordEntry persists one aggregator entry under a kind.
func (s *Store) RecordEntry(ctx context.Context, kind ResourceKind, entry *cas.Entry) error {
	descriptor, err := json.Marshal(entry.Descriptor)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	return s.RecordResource(ctx, ResourceRecord{
		Signature:      entry.Signature.String(),
		Kind:           kind,
		Index:          entry.Index,
		Offset:         entry.Reservation.AlignedOffset,
		Size:           entry.Size,
		DescriptorJSON: string(descriptor),
	})
}

// Resources lists one kind's records ordered by table index.
func (s *Store) Resources(ctx context.Context, kind ResourceKind) ([]ResourceRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT signature, kind, table_index, offset, size, descriptor_json, created_at
         FROM resources WHERE kind = ? ORDER BY table_index`,
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ResourceRecord
	for rows.Next() {
		var record ResourceRecord
		var kindText, createdAt string
		if err := rows.Scan(&record.Signature, &kindText, &record.Index, &record.Offset,
			&record.Size, &record.DescriptorJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		record.Kind = ResourceKind(kindText)
		record.CreatedAt = parseTimestamp(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return records, nil
}

// RestoreInto seeds an aggregator with one kind's recorded entries so
// repeated signatures resolve to the bytes already on disk. Descriptors are
// rehydrated by the caller-supplied decode func.
func (s *Store) RestoreInto(ctx context.Context, kind ResourceKind, aggregator *cas.Aggregator, decode func([]byte) (any, error)) (int, error) {
	records, err := s.Resources(ctx, kind)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, record := range records {
		sig, err := cas.ParseSignature(record.Signature)
		if err != nil {
			return restored, fmt.Errorf("parse signature %q: %w", record.Signature, err)
		}
		descriptor, err := decode([]byte(record.DescriptorJSON))
		if err != nil {
			return restored, fmt.Errorf("decode descriptor for %s: %w", record.Signature, err)
		}
		aggregator.Restore(sig, cas.WriteReservation{
			Start:         record.Offset,
			AlignedOffset: record.Offset,
		}, record.Size, descriptor)
		restored++
	}
	return restored, nil
}

// BeginJob records a running import job.
func (s *Store) BeginJob(ctx context.Context, id, source string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, source, status, error_count, created_at) VALUES (?, ?, ?, 0, ?)`,
		id, source, string(JobRunning), timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FinishJob records a job's terminal state.
func (s *Store) FinishJob(ctx context.Context, id string, status JobStatus, errorCount int) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_count = ?, finished_at = ? WHERE id = ?`,
		string(status), errorCount, timestamp, id,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("finish job: unknown job id %q", id)
	}
	return nil
}

// Jobs lists job history, newest first.
func (s *Store) Jobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source, status, error_count, created_at, finished_at
         FROM jobs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []JobRecord
	for rows.Next() {
		var record JobRecord
		var status, createdAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&record.ID, &record.Source, &status, &record.ErrorCount, &createdAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		record.Status = JobStatus(status)
		record.CreatedAt = parseTimestamp(createdAt)
		if finishedAt.Valid {
			record.FinishedAt = parseTimestamp(finishedAt.String)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return records, nil
}

func parseTimestamp(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
