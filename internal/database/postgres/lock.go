package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// WriterLockKey is the advisory lock id held by the ledgerd instance that
// owns account writes.
const WriterLockKey int64 = 0x6c75636b79

// ErrNotWriter is returned by account commits made without the writer lock
var ErrNotWriter = errors.New("writer lock not held")

// WriterLock is a session-level advisory lock pinned to one connection.
// Account commits run on that same connection, so a commit can only succeed
// while the session, and with it the lock, is alive.
type WriterLock struct {
	conn *sql.Conn
	mu   sync.Mutex // one statement stream per session

	lost     chan struct{}
	lostOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
}

// AcquireWriterLock blocks until the writer lock is granted or ctx is done.
// The returned lock pings its session every interval and reports a failed
// ping on Lost.
func (c *Client) AcquireWriterLock(ctx context.Context, interval time.Duration) (*WriterLock, error) {
	for {
		conn, err := c.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection: %w", err)
		}

		var granted bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, WriterLockKey).Scan(&granted); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to request writer lock: %w", err)
		}
		if granted {
			l := newWriterLock(conn)
			go l.keepalive(interval)
			return l, nil
		}
		_ = conn.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func newWriterLock(conn *sql.Conn) *WriterLock {
	return &WriterLock{
		conn: conn,
		lost: make(chan struct{}),
		stop: make(chan struct{}),
	}
}

// Lost is closed once the session holding the lock has failed
func (l *WriterLock) Lost() <-chan struct{} {
	return l.lost
}

func (l *WriterLock) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

func (l *WriterLock) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.lost:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			l.mu.Lock()
			err := l.conn.PingContext(ctx)
			l.mu.Unlock()
			cancel()
			if err != nil {
				l.markLost()
				return
			}
		}
	}
}

// withTx runs fn in a transaction on the locked session
func (l *WriterLock) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.lost:
		return ErrNotWriter
	default:
	}

	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit accounts: %w", err)
	}
	return nil
}

// Release unlocks and returns the session to the pool
func (l *WriterLock) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markLost()

	_, unlockErr := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, WriterLockKey)
	closeErr := l.conn.Close()
	if unlockErr != nil {
		return fmt.Errorf("failed to release writer lock: %w", unlockErr)
	}
	return closeErr
}
