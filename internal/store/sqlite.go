package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"conductor/internal/models"
)

// SQLiteStore persists batch records as rows in a local SQLite database.
// The autoincrement primary key makes records append-only by construction.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS batch_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TIMESTAMP NOT NULL,
	total      INTEGER NOT NULL,
	succeeded  INTEGER NOT NULL,
	failed     INTEGER NOT NULL,
	results    TEXT NOT NULL
)`

// NewSQLiteStore opens (creating if necessary) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite store DSN not configured")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", dsn, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create batch_records table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, outcomes []models.TaskOutcome) (string, error) {
	rec := models.NewBatchRecord(outcomes)
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return "", fmt.Errorf("encode batch results: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_records (created_at, total, succeeded, failed, results) VALUES (?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.Total, rec.Succeeded, rec.Failed, string(results),
	)
	if err != nil {
		return "", fmt.Errorf("insert batch record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("read batch record id: %w", err)
	}
	log.Infof("Saved batch record %d (%d results, %d failed)", id, rec.Total, rec.Failed)
	return strconv.FormatInt(id, 10), nil
}

func (s *SQLiteStore) Load(ctx context.Context, recordID string) (*models.BatchRecord, error) {
	id, err := strconv.ParseInt(recordID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT created_at, total, succeeded, failed, results FROM batch_records WHERE id = ?`, id)
	return s.scanRecord(row, recordID)
}

func (s *SQLiteStore) LoadLatest(ctx context.Context) (*models.BatchRecord, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, total, succeeded, failed, results FROM batch_records ORDER BY id DESC LIMIT 1`)

	var (
		id        int64
		createdAt time.Time
		rec       models.BatchRecord
		results   string
	)
	if err := row.Scan(&id, &createdAt, &rec.Total, &rec.Succeeded, &rec.Failed, &results); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("load latest batch record: %w", err)
	}
	rec.Timestamp = createdAt
	if err := json.Unmarshal([]byte(results), &rec.Results); err != nil {
		return nil, "", fmt.Errorf("decode batch record %d: %w: %v", id, ErrCorrupt, err)
	}
	return &rec, strconv.FormatInt(id, 10), nil
}

func (s *SQLiteStore) LoadFailedFromLatest(ctx context.Context) ([]models.TaskOutcome, string, error) {
	rec, recordID, err := s.LoadLatest(ctx)
	if err != nil {
		return nil, "", err
	}
	return rec.FailedOutcomes(), recordID, nil
}

func (s *SQLiteStore) scanRecord(row *sql.Row, recordID string) (*models.BatchRecord, error) {
	var (
		createdAt time.Time
		rec       models.BatchRecord
		results   string
	)
	if err := row.Scan(&createdAt, &rec.Total, &rec.Succeeded, &rec.Failed, &results); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
		}
		return nil, fmt.Errorf("load batch record %s: %w", recordID, err)
	}
	rec.Timestamp = createdAt
	if err := json.Unmarshal([]byte(results), &rec.Results); err != nil {
		return nil, fmt.Errorf("decode batch record %s: %w: %v", recordID, ErrCorrupt, err)
	}
	return &rec, nil
}

var _ BatchStore = (*SQLiteStore)(nil)
