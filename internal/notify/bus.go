// Package notify fans out "a relevant table changed" events to services that
// keep derived views fresh.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "backoffice.changes"

// Tables emitting change events.
const (
	TableSales       = "sales"
	TableExpenses    = "expenses"
	TableReceipts    = "payment_receipts"
	TableAdjustments = "inventory_adjustments"
	TableItems       = "inventory_items"
)

// Change describes a single row level change.
type Change struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	ID    string    `json:"id,omitempty"`
	At    time.Time `json:"at"`
}

// ParseChange decodes a JSON change payload.
func ParseChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("notify: decode change: %w", err)
	}
	if c.Table == "" {
		return Change{}, errors.New("notify: change without table")
	}
	return c, nil
}

// Bus publishes and subscribes changes over Redis pub/sub.
type Bus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewBus constructs a Bus on channel.
func NewBus(client *redis.Client, channel string, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{client: client, channel: channel, logger: logger}
}

// Publish broadcasts a change. A nil Bus drops it.
func (b *Bus) Publish(ctx context.Context, change Change) error {
	if b == nil || b.client == nil {
		return nil
	}
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	raw, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

// Subscribe delivers changes for the given tables (all tables when none are
// given) until ctx is cancelled. The subscription is confirmed before return.
func (b *Bus) Subscribe(ctx context.Context, tables ...string) (<-chan Change, error) {
	if b == nil || b.client == nil {
		return nil, errors.New("notify: bus not initialised")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("notify: subscribe: %w", err)
	}
	filter := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		filter[t] = struct{}{}
	}
	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				change, err := ParseChange(msg.Payload)
				if err != nil {
					b.logger.Warn("notify: drop malformed change", slog.Any("error", err))
					continue
				}
				if len(filter) > 0 {
					if _, ok := filter[change.Table]; !ok {
						continue
					}
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
