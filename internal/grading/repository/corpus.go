package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"assessengine/internal/common/db"
	"assessengine/internal/common/storage"
	"assessengine/internal/grading/model"
	appErr "assessengine/pkg/errors"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCorpusTTL   = 10 * time.Minute
	maxCorpusObjectLen = 256 << 20
	corpusContentType  = "application/zstd"
)

// CorpusConfig configures a CorpusStore.
type CorpusConfig struct {
	Database db.Database
	// Storage may be nil when no problem keeps its corpus in object storage.
	Storage storage.ObjectStorage
	Bucket  string
	TTL     time.Duration
	Now     func() time.Time
}

// CorpusStore returns hidden test cases from object storage or from test_cases rows.
type CorpusStore struct {
	db      db.Database
	storage storage.ObjectStorage
	bucket  string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[int64]corpusEntry
	loads   singleflight.Group
}

type corpusEntry struct {
	cases     []model.TestCase
	expiresAt time.Time
}

// CorpusObject is the JSON document stored, zstd compressed, under a problem's corpus key.
type CorpusObject struct {
	ProblemID int64            `json:"problem_id"`
	Cases     []model.TestCase `json:"cases"`
}

// NewCorpusStore creates a corpus store.
func NewCorpusStore(cfg CorpusConfig) (*CorpusStore, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Storage != nil && cfg.Bucket == "" {
		return nil, fmt.Errorf("corpus bucket is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCorpusTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CorpusStore{
		db:      cfg.Database,
		storage: cfg.Storage,
		bucket:  cfg.Bucket,
		ttl:     ttl,
		now:     now,
		entries: make(map[int64]corpusEntry),
	}, nil
}

// HiddenCases returns the hidden cases of problem ordered by ordinal.
func (s *CorpusStore) HiddenCases(ctx context.Context, problem *model.Problem) ([]model.TestCase, error) {
	if problem == nil || problem.ID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	s.mu.Lock()
	if entry, ok := s.entries[problem.ID]; ok && s.now().Before(entry.expiresAt) {
		s.mu.Unlock()
		return entry.cases, nil
	}
	s.mu.Unlock()

	// Concurrent misses for one problem share a single load. The load outlives
	// any one waiter's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.loads.DoChan(strconv.FormatInt(problem.ID, 10), func() (interface{}, error) {
		return s.load(loadCtx, problem)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.TestCase), nil
	}
}

func (s *CorpusStore) load(ctx context.Context, problem *model.Problem) ([]model.TestCase, error) {
	var (
		cases []model.TestCase
		err   error
	)
	if problem.CorpusKey != "" {
		cases, err = s.loadObject(ctx, problem)
	} else {
		cases, err = s.loadRows(ctx, problem.ID)
	}
	if err != nil {
		return nil, err
	}
	cases = hiddenOnly(cases)

	now := s.now()
	s.mu.Lock()
	s.evictExpired(now)
	s.entries[problem.ID] = corpusEntry{cases: cases, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
	return cases, nil
}

// evictExpired drops stale entries. Callers hold s.mu.
func (s *CorpusStore) evictExpired(now time.Time) {
	for id, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
}

// PutCorpus uploads cases as the object corpus of problemID under key.
func (s *CorpusStore) PutCorpus(ctx context.Context, problemID int64, key string, cases []model.TestCase) error {
	if s.storage == nil {
		return appErr.New(appErr.StorageError).WithMessage("object storage is not configured")
	}
	data, err := EncodeCorpus(problemID, cases)
	if err != nil {
		return err
	}
	if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), corpusContentType); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "upload corpus failed")
	}
	s.mu.Lock()
	delete(s.entries, problemID)
	s.mu.Unlock()
	return nil
}

func (s *CorpusStore) loadObject(ctx context.Context, problem *model.Problem) ([]model.TestCase, error) {
	if s.storage == nil {
		return nil, appErr.New(appErr.StorageError).WithMessage("object storage is not configured")
	}
	reader, err := s.storage.GetObject(ctx, s.bucket, problem.CorpusKey)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "open corpus %s failed", problem.CorpusKey)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxCorpusObjectLen))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "read corpus %s failed", problem.CorpusKey)
	}
	obj, err := DecodeCorpus(data)
	if err != nil {
		return nil, err
	}
	if obj.ProblemID != problem.ID {
		return nil, appErr.Newf(appErr.TestCaseInvalid, "corpus %s belongs to problem %d", problem.CorpusKey, obj.ProblemID)
	}
	return obj.Cases, nil
}

func (s *CorpusStore) loadRows(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	query := `
		SELECT id, problem_id, ordinal, input, expected_output, hidden
		FROM test_cases
		WHERE problem_id = ? AND hidden = TRUE
		ORDER BY ordinal`
	rows, err := s.db.Query(ctx, query, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.ProblemID, &tc.Ordinal, &tc.Input, &tc.ExpectedOutput, &tc.Hidden); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	return cases, rows.Err()
}

func hiddenOnly(cases []model.TestCase) []model.TestCase {
	out := make([]model.TestCase, 0, len(cases))
	for _, tc := range cases {
		if tc.Hidden {
			out = append(out, tc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// EncodeCorpus serializes cases as zstd compressed JSON.
func EncodeCorpus(problemID int64, cases []model.TestCase) ([]byte, error) {
	payload, err := json.Marshal(CorpusObject{ProblemID: problemID, Cases: cases})
	if err != nil {
		return nil, fmt.Errorf("marshal corpus failed: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(payload, nil), nil
}

// DecodeCorpus reverses EncodeCorpus.
func DecodeCorpus(data []byte) (CorpusObject, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxCorpusObjectLen*4))
	if err != nil {
		return CorpusObject{}, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return CorpusObject{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decompress corpus failed")
	}
	var obj CorpusObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return CorpusObject{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decode corpus failed")
	}
	return obj, nil
}
