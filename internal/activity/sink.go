// Package activity is the durable activity log: a best-effort, batched
// append-only record of events, operator actions, and run transitions.
// Failures here log and drop; nothing in the pipeline ever waits on it.
package activity

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// Batching defaults.
const (
	DefaultFlushThreshold = 64
	DefaultFlushInterval  = 2 * time.Second
	DefaultBufferMax      = 1024

	flushTimeout = 10 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS activity (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id  TEXT NOT NULL,
	kind    TEXT NOT NULL,
	ref_id  TEXT NOT NULL DEFAULT '',
	at      TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_run ON activity(run_id, id);
`

// Record is one activity row. Payload is marshalled to JSON at flush time.
type Record struct {
	RunID   string
	Kind    string // event type, action name, run.start, run.stop
	RefID   string // claim id, package id, render job id
	At      time.Time
	Payload any
}

// Config tunes the sink.
type Config struct {
	Path           string // SQLite file path
	FlushThreshold int
	FlushInterval  time.Duration
	BufferMax      int
}

// Sink batches records into SQLite. Safe for concurrent producers.
type Sink struct {
	db  *sql.DB
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	buffer []Record

	done chan struct{}
}

// Open creates the sink and its schema. WAL keeps the writer from blocking
// any future readers of the log file.
func Open(cfg Config) (*Sink, error) {
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.BufferMax <= 0 {
		cfg.BufferMax = DefaultBufferMax
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open activity db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create activity schema: %w", err)
	}

	return &Sink{
		db:     db,
		cfg:    cfg,
		log:    log.With().Str("component", "activity").Logger(),
		buffer: make([]Record, 0, cfg.FlushThreshold),
		done:   make(chan struct{}),
	}, nil
}

// Start begins the periodic flush ticker. ctx cancellation triggers the
// final flush.
func (s *Sink) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.flush()
			case <-ctx.Done():
				s.flush()
				close(s.done)
				return
			}
		}
	}()
}

// Add enqueues a record. Overflow drops the oldest buffered records rather
// than blocking the producer.
func (s *Sink) Add(rec Record) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	s.mu.Lock()
	if len(s.buffer) >= s.cfg.BufferMax {
		dropped := len(s.buffer) - s.cfg.BufferMax + 1
		s.buffer = s.buffer[dropped:]
		s.log.Warn().Int("dropped", dropped).Msg("activity buffer overflow")
	}
	s.buffer = append(s.buffer, rec)
	full := len(s.buffer) >= s.cfg.FlushThreshold
	s.mu.Unlock()

	if full {
		go s.flush()
	}
}

// Close waits for the final flush (triggered by the Start context) and
// closes the database.
func (s *Sink) Close() error {
	<-s.done
	return s.db.Close()
}

// BufferLen reports the current buffer size, for health checks.
func (s *Sink) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func (s *Sink) flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]Record, 0, s.cfg.FlushThreshold)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := s.write(ctx, batch); err != nil {
		// Best effort: the batch is gone, the pipeline moves on.
		s.log.Error().Err(err).Int("count", len(batch)).Msg("activity flush failed, batch dropped")
	}
}

func (s *Sink) write(ctx context.Context, batch []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO activity (run_id, kind, ref_id, at, payload) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			payload = []byte(fmt.Sprintf("{\"marshalError\":%q}", err.Error()))
		}
		if _, err := stmt.ExecContext(ctx, rec.RunID, rec.Kind, rec.RefID,
			rec.At.UTC().Format(time.RFC3339Nano), string(payload)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
