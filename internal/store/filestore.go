package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"conductor/internal/models"
)

const (
	recordPrefix     = "batch_"
	recordSuffix     = ".json"
	recordTimeLayout = "20060102_150405"
)

// FileStore persists batch records as one JSON file per run under a
// directory. File names embed the save timestamp at second resolution;
// same-second collisions get a numeric suffix rather than overwriting.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("batch store directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create batch store directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(ctx context.Context, outcomes []models.TaskOutcome) (string, error) {
	rec := models.NewBatchRecord(outcomes)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode batch record: %w", err)
	}

	base := recordPrefix + rec.Timestamp.Format(recordTimeLayout)
	name := base + recordSuffix
	for n := 2; ; n++ {
		// O_EXCL guarantees two saves in the same second never clobber each
		// other; the loser retries with a suffix.
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			name = fmt.Sprintf("%s_%d%s", base, n, recordSuffix)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create batch record file: %w", err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil {
			return "", fmt.Errorf("write batch record %s: %w", name, werr)
		}
		if cerr != nil {
			return "", fmt.Errorf("close batch record %s: %w", name, cerr)
		}
		log.Infof("Saved batch record %s (%d results, %d failed)", name, rec.Total, rec.Failed)
		return name, nil
	}
}

func (s *FileStore) Load(ctx context.Context, recordID string) (*models.BatchRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, recordID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
		}
		return nil, fmt.Errorf("read batch record %s: %w", recordID, err)
	}
	var rec models.BatchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode batch record %s: %w: %v", recordID, ErrCorrupt, err)
	}
	return &rec, nil
}

func (s *FileStore) LoadLatest(ctx context.Context) (*models.BatchRecord, string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, "", fmt.Errorf("read batch store directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, recordPrefix) || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, "", ErrNotFound
	}
	// Names embed the timestamp, so the lexicographically greatest name is
	// the most recent save ("_N" collision suffixes sort after the bare name).
	sort.Strings(names)
	latest := names[len(names)-1]

	rec, err := s.Load(ctx, latest)
	if err != nil {
		return nil, "", err
	}
	return rec, latest, nil
}

func (s *FileStore) LoadFailedFromLatest(ctx context.Context) ([]models.TaskOutcome, string, error) {
	rec, recordID, err := s.LoadLatest(ctx)
	if err != nil {
		return nil, "", err
	}
	return rec.FailedOutcomes(), recordID, nil
}

var _ BatchStore = (*FileStore)(nil)
