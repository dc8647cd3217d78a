package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPGChannel matches the channel used by the notify_change trigger.
const DefaultPGChannel = "backoffice_changes"

// OpResync marks a synthetic change published after the listener reconnects.
// Notifications sent while it was down are lost, so every table is treated
// as changed.
const OpResync = "RESYNC"

// Tables lists every table that emits change events.
var Tables = []string{TableSales, TableExpenses, TableReceipts, TableAdjustments, TableItems}

// Listener yields notifications from one LISTEN session.
type Listener interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close()
}

// ListenFunc opens a Listener.
type ListenFunc func(ctx context.Context) (Listener, error)

type pooledListener struct {
	conn *pgxpool.Conn
}

func (l *pooledListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return l.conn.Conn().WaitForNotification(ctx)
}

// Close destroys the connection instead of returning it to the pool, so a
// broken or still-listening session is never reused.
func (l *pooledListener) Close() {
	conn := l.conn.Hijack()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}

// PoolListener acquires a dedicated pooled connection and LISTENs on channel.
func PoolListener(pool *pgxpool.Pool, channel string) ListenFunc {
	if channel == "" {
		channel = DefaultPGChannel
	}
	return func(ctx context.Context) (Listener, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("notify: acquire listener: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, fmt.Errorf("notify: listen: %w", err)
		}
		return &pooledListener{conn: conn}, nil
	}
}

// RelayOptions tunes Relay.
type RelayOptions struct {
	Logger     *slog.Logger
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Bridge relays PostgreSQL NOTIFY payloads from the table triggers onto the
// Redis bus until ctx is cancelled.
func Bridge(ctx context.Context, pool *pgxpool.Pool, pgChannel string, bus *Bus, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("notify: bridge requires pool")
	}
	return Relay(ctx, PoolListener(pool, pgChannel), bus, RelayOptions{Logger: logger})
}

// Relay forwards notifications from listen onto bus. A failed connect or a
// dropped session is retried with exponential backoff. Each successful
// reconnect publishes an OpResync change for every table. It returns nil
// once ctx ends.
func Relay(ctx context.Context, listen ListenFunc, bus *Bus, opts RelayOptions) error {
	if listen == nil || bus == nil {
		return errors.New("notify: relay requires listener and bus")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minBackoff, maxBackoff := opts.MinBackoff, opts.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}

	backoff := minBackoff
	connectedBefore := false
	for {
		l, err := listen(ctx)
		if err == nil {
			if connectedBefore {
				resync(ctx, bus, logger)
			}
			logger.Info("notify bridge listening")
			connectedBefore = true
			backoff = minBackoff
			err = forward(ctx, l, bus, logger)
			l.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("notify bridge: connection lost, retrying",
			slog.Duration("backoff", backoff), slog.Any("error", err))
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func forward(ctx context.Context, l Listener, bus *Bus, logger *slog.Logger) error {
	for {
		n, err := l.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("notify: wait: %w", err)
		}
		change, err := ParseChange(n.Payload)
		if err != nil {
			logger.Warn("notify bridge: bad payload", slog.String("payload", n.Payload), slog.Any("error", err))
			continue
		}
		if err := bus.Publish(ctx, change); err != nil {
			logger.Error("notify bridge: publish", slog.String("table", change.Table), slog.Any("error", err))
		}
	}
}

func resync(ctx context.Context, bus *Bus, logger *slog.Logger) {
	now := time.Now().UTC()
	for _, table := range Tables {
		if err := bus.Publish(ctx, Change{Table: table, Op: OpResync, At: now}); err != nil {
			logger.Error("notify bridge: publish resync", slog.String("table", table), slog.Any("error", err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
