package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);`

// rescanDelay coalesces bursts of file events into one rescan
const rescanDelay = 50 * time.Millisecond

// LocalTier is a persistent tier in a SQLite file. Writes made by other
// processes sharing the file are detected through filesystem events and
// reported to watchers like local writes.
type LocalTier struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	snapshot map[string]string
	closed   bool

	events  broadcaster
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// OpenLocalTier opens or creates the database at path and starts watching
// it for outside writes
func OpenLocalTier(path string, logger *zap.Logger) (*LocalTier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local storage: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;` + localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	t := &LocalTier{
		db:     db,
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}

	snap, err := t.readAll(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	t.snapshot = snap

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		db.Close()
		return nil, fmt.Errorf("watch storage dir: %w", err)
	}
	t.watcher = watcher

	t.wg.Add(1)
	go t.watch()

	return t, nil
}

// Name returns "local"
func (t *LocalTier) Name() string { return TierLocal }

// Get returns the value of key
func (t *LocalTier) Get(ctx context.Context, key string) (string, bool, error) {
	if t.isClosed() {
		return "", false, ErrClosed
	}

	var value string
	err := t.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value and notifies watchers
func (t *LocalTier) Set(ctx context.Context, key, value string) error {
	if t.isClosed() {
		return ErrClosed
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	t.mu.Lock()
	t.snapshot[key] = value
	t.mu.Unlock()

	t.events.publish(Change{Tier: TierLocal, Key: key, Value: value})
	return nil
}

// Delete removes key, notifying watchers if it existed
func (t *LocalTier) Delete(ctx context.Context, key string) error {
	if t.isClosed() {
		return ErrClosed
	}

	res, err := t.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	t.mu.Lock()
	delete(t.snapshot, key)
	t.mu.Unlock()

	if n, _ := res.RowsAffected(); n > 0 {
		t.events.publish(Change{Tier: TierLocal, Key: key, Deleted: true})
	}
	return nil
}

// Watch subscribes to changes
func (t *LocalTier) Watch() (<-chan Change, func()) {
	return t.events.subscribe()
}

// Close stops the watcher and closes the database
func (t *LocalTier) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	werr := t.watcher.Close()
	t.wg.Wait()
	t.events.close()

	return errors.Join(werr, t.db.Close())
}

func (t *LocalTier) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// watch rescans the table after file events on the database and publishes
// the keys that changed underneath us
func (t *LocalTier) watch() {
	defer t.wg.Done()

	base := filepath.Base(t.path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-t.done:
			return

		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				timer.Reset(rescanDelay)
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("storage watcher error", zap.Error(err))

		case <-timer.C:
			t.rescan()
		}
	}
}

func (t *LocalTier) rescan() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, err := t.readAll(ctx)
	if err != nil {
		t.logger.Debug("storage rescan failed", zap.Error(err))
		return
	}

	t.mu.Lock()
	var changes []Change
	for k, v := range current {
		if old, ok := t.snapshot[k]; !ok || old != v {
			changes = append(changes, Change{Tier: TierLocal, Key: k, Value: v})
		}
	}
	for k := range t.snapshot {
		if _, ok := current[k]; !ok {
			changes = append(changes, Change{Tier: TierLocal, Key: k, Deleted: true})
		}
	}
	t.snapshot = current
	t.mu.Unlock()

	for _, c := range changes {
		t.logger.Debug("external storage change", zap.String("key", c.Key), zap.Bool("deleted", c.Deleted))
		t.events.publish(c)
	}
}

func (t *LocalTier) readAll(ctx context.Context) (map[string]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("scan storage: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
