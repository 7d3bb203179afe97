package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hpungsan/skim/internal/db"
	"github.com/hpungsan/skim/internal/errors"
)

// watchDebounce batches the burst of WAL writes a single commit produces.
const watchDebounce = 50 * time.Millisecond

// SQLStore is a Store backed by the sqlite kv table.
//
// It keeps a snapshot of the last values it saw so that commits made by
// other processes can be turned into changes by Refresh. Its own writes
// update the snapshot in the same critical section and are reported once.
type SQLStore struct {
	db     *sql.DB
	dir    string
	logger *zap.Logger

	mu       sync.Mutex
	snapshot map[string][]byte
	bc       *broadcaster
}

// NewSQLStore loads the current table contents and returns a store over database.
// baseDir is the directory holding the database file; Watch observes it.
func NewSQLStore(ctx context.Context, database *sql.DB, baseDir string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	snapshot, err := db.GetAll(ctx, database)
	if err != nil {
		return nil, err
	}
	return &SQLStore{
		db:       database,
		dir:      baseDir,
		logger:   logger.Named("store"),
		snapshot: snapshot,
		bc:       newBroadcaster(),
	}, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, keys ...string) (Values, error) {
	raw, err := db.GetValues(ctx, s.db, keys)
	if err != nil {
		return nil, err
	}
	return toValues(raw), nil
}

// Set implements Store.
func (s *SQLStore) Set(ctx context.Context, values Values) error {
	if err := validate(values); err != nil {
		return err
	}
	after := toBytes(values)

	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := db.PutValues(ctx, s.db, after)
	if err != nil {
		return err
	}
	changes := diff(before, after, keysOf(after))
	for k, v := range after {
		s.snapshot[k] = v
	}
	s.bc.publish(changes)
	return nil
}

// Remove implements Store.
func (s *SQLStore) Remove(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := db.DeleteValues(ctx, s.db, keys)
	if err != nil {
		return err
	}
	changes := diff(before, nil, append([]string(nil), keys...))
	for _, k := range keys {
		delete(s.snapshot, k)
	}
	s.bc.publish(changes)
	return nil
}

// Subscribe implements Store.
func (s *SQLStore) Subscribe() (<-chan Change, func()) {
	return s.bc.subscribe()
}

// Refresh re-reads the table and publishes every difference from the snapshot.
func (s *SQLStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := db.GetAll(ctx, s.db)
	if err != nil {
		return err
	}
	changes := diff(s.snapshot, current, unionKeys(s.snapshot, current))
	s.snapshot = current
	if len(changes) > 0 {
		s.logger.Debug("external changes", zap.Int("count", len(changes)))
	}
	s.bc.publish(changes)
	return nil
}

// Watch observes the database directory and calls Refresh after writes by any
// process. It blocks until ctx is done.
func (s *SQLStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewStore("watch", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return errors.NewStore("watch", err)
	}
	s.logger.Debug("watching", zap.String("dir", s.dir))

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDatabaseFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("refresh failed", zap.Error(err))
			}
		}
	}
}

// Close ends every subscription. The database handle is owned by the caller.
func (s *SQLStore) Close() error {
	s.bc.closeAll()
	return nil
}

// isDatabaseFile matches the database file and its WAL/shm companions.
func isDatabaseFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), db.FileName)
}

func keysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
