package repository_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"time"

	"assessengine/internal/common/db"
	"assessengine/internal/common/mq"
	"assessengine/internal/common/storage"
)

type execCall struct {
	query string
	args  []interface{}
}

// recordingDB records Exec calls and serves canned rows for Query and QueryRow.
type recordingDB struct {
	mu      sync.Mutex
	execs   []execCall
	queries []execCall
	rows    [][]interface{}
	// row answers QueryRow; nil means no rows.
	row []interface{}
}

func (d *recordingDB) Query(_ context.Context, query string, args ...interface{}) (db.Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, execCall{query: query, args: args})
	return &sliceRows{rows: d.rows, idx: -1}, nil
}

func (d *recordingDB) QueryRow(_ context.Context, query string, args ...interface{}) db.Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, execCall{query: query, args: args})
	if d.row == nil {
		return errRow{err: sql.ErrNoRows}
	}
	return &sliceRows{rows: [][]interface{}{d.row}, idx: 0}
}

type errRow struct{ err error }

func (r errRow) Scan(...interface{}) error { return r.err }

func (d *recordingDB) Exec(_ context.Context, query string, args ...interface{}) (db.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, execCall{query: query, args: args})
	return fakeResult(0), nil
}

func (d *recordingDB) Transaction(context.Context, func(tx db.Transaction) error) error {
	return errors.New("not used")
}
func (d *recordingDB) BeginTx(context.Context, *db.TxOptions) (db.Transaction, error) {
	return nil, errors.New("not used")
}
func (d *recordingDB) Ping(context.Context) error { return nil }
func (d *recordingDB) Close() error               { return nil }
func (d *recordingDB) Stats() db.Stats            { return db.Stats{} }

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return int64(r), nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type sliceRows struct {
	rows [][]interface{}
	idx  int
}

func (r *sliceRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *sliceRows) Scan(dest ...interface{}) error {
	row := r.rows[r.idx]
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = row[i].(int64)
		case *int:
			*p = row[i].(int)
		case *string:
			*p = row[i].(string)
		case *bool:
			*p = row[i].(bool)
		case *time.Time:
			*p = row[i].(time.Time)
		case *sql.NullInt64:
			v, ok := row[i].(int64)
			*p = sql.NullInt64{Int64: v, Valid: ok}
		case *sql.NullTime:
			v, ok := row[i].(time.Time)
			*p = sql.NullTime{Time: v, Valid: ok}
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

func (r *sliceRows) Columns() ([]string, error) { return nil, nil }
func (r *sliceRows) Close() error               { return nil }
func (r *sliceRows) Err() error                 { return nil }

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
	// gate, when set, holds every read until it is closed.
	gate chan struct{}
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (s *memStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[bucket+"/"+key] = data
	s.mu.Unlock()
	return nil
}

func (s *memStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, errors.New("no such key")
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

type fakeProducer struct {
	published map[string][]*mq.Message
}

func (p *fakeProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	if p.published == nil {
		p.published = map[string][]*mq.Message{}
	}
	p.published[topic] = append(p.published[topic], message)
	return nil
}

func (p *fakeProducer) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, m := range messages {
		if err := p.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}
