package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/pkg/eventbus"
	"github.com/Checker-Finance/bond-venue/pkg/model"
	"github.com/Checker-Finance/bond-venue/venue/internal/venue"
)

const writeTimeout = 2 * time.Second

// Store mirrors the venue's composite board and settlement history into
// Redis so dashboards and late-joining agents can read them without asking
// the venue process.
type Store interface {
	SaveComposite(ctx context.Context, venueName, asset string, quote model.CompositeQuote) error
	DeleteComposite(ctx context.Context, venueName, asset string) error
	Composites(ctx context.Context, venueName string) (map[string]model.CompositeQuote, error)
	RecordSettlement(ctx context.Context, venueName string, settled venue.RfqSettled) error
	HealthCheck(ctx context.Context) error
	Close() error
}

type redisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(addr string, db int, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &redisStore{rdb: rdb, logger: logger}, nil
}

// NewWithClient wraps an existing client. Tests use it with miniredis.
func NewWithClient(rdb *redis.Client, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisStore{rdb: rdb, logger: logger}
}

func compositeKey(venueName string) string {
	return fmt.Sprintf("venue:%s:composites", venueName)
}

func settlementKey(venueName string) string {
	return fmt.Sprintf("venue:%s:settlements", venueName)
}

func (s *redisStore) SaveComposite(ctx context.Context, venueName, asset string, quote model.CompositeQuote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, compositeKey(venueName), asset, data).Err()
}

func (s *redisStore) DeleteComposite(ctx context.Context, venueName, asset string) error {
	return s.rdb.HDel(ctx, compositeKey(venueName), asset).Err()
}

func (s *redisStore) Composites(ctx context.Context, venueName string) (map[string]model.CompositeQuote, error) {
	raw, err := s.rdb.HGetAll(ctx, compositeKey(venueName)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]model.CompositeQuote{}, nil
		}
		return nil, err
	}

	out := make(map[string]model.CompositeQuote, len(raw))
	for asset, data := range raw {
		var quote model.CompositeQuote
		if err := json.Unmarshal([]byte(data), &quote); err != nil {
			return nil, fmt.Errorf("corrupt composite for %q: %w", asset, err)
		}
		out[asset] = quote
	}
	return out, nil
}

// RecordSettlement appends to the venue's settlement history list, newest
// first, capped so the key cannot grow without bound.
func (s *redisStore) RecordSettlement(ctx context.Context, venueName string, settled venue.RfqSettled) error {
	data, err := json.Marshal(settled)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, settlementKey(venueName), data)
	pipe.LTrim(ctx, settlementKey(venueName), 0, 999)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) HealthCheck(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}

// Attach subscribes the store to the venue's domain events. Handlers run off
// the venue loop, so a slow Redis never stalls protocol dispatch; a failed
// write is logged and the next update overwrites it.
func Attach(bus *eventbus.EventBus, store Store, venueName string, logger *zap.Logger) {
	bus.Subscribe(venue.CompositeUpdated{}, func(event any) {
		e := event.(venue.CompositeUpdated)
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := store.SaveComposite(ctx, venueName, e.Asset, e.Quote); err != nil {
			logger.Warn("snapshot.composite_save_failed", zap.String("asset", e.Asset), zap.Error(err))
		}
	})
	bus.Subscribe(venue.CompositeRemoved{}, func(event any) {
		e := event.(venue.CompositeRemoved)
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := store.DeleteComposite(ctx, venueName, e.Asset); err != nil {
			logger.Warn("snapshot.composite_delete_failed", zap.String("asset", e.Asset), zap.Error(err))
		}
	})
	bus.Subscribe(venue.RfqSettled{}, func(event any) {
		e := event.(venue.RfqSettled)
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := store.RecordSettlement(ctx, venueName, e); err != nil {
			logger.Warn("snapshot.settlement_record_failed", zap.Uint64("rfq_id", e.ID), zap.Error(err))
		}
	})
}
