package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riptide-quant/riptide/internal/domain"
)

// MarkCache publishes the latest mark price per instrument so dashboards
// and other processes can read live state without touching the engine.
// Each instrument is a hash at "mark:{instrument}" with fields "price"
// and "ts" (Unix nanoseconds).
type MarkCache struct {
	rdb *redis.Client
}

// NewMarkCache creates a MarkCache backed by the given Client.
func NewMarkCache(c *Client) *MarkCache {
	return &MarkCache{rdb: c.Underlying()}
}

func markKey(instrument string) string {
	return "mark:" + instrument
}

// SetMark stores the latest mark price and timestamp for an instrument.
func (mc *MarkCache) SetMark(ctx context.Context, instrument string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := mc.rdb.HSet(ctx, markKey(instrument), fields).Err(); err != nil {
		return fmt.Errorf("redis: set mark %s: %w", instrument, err)
	}
	return nil
}

// GetMark retrieves the latest mark for an instrument. It returns
// domain.ErrNotFound when no mark has been published.
func (mc *MarkCache) GetMark(ctx context.Context, instrument string) (float64, time.Time, error) {
	vals, err := mc.rdb.HGetAll(ctx, markKey(instrument)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get mark %s: %w", instrument, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark %s: %w", instrument, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark ts %s: %w", instrument, err)
	}

	return price, time.Unix(0, tsNano).UTC(), nil
}

// GetMarks retrieves marks for multiple instruments using a pipeline.
// Instruments with no published mark are omitted from the result.
func (mc *MarkCache) GetMarks(ctx context.Context, instruments []string) (map[string]float64, error) {
	if len(instruments) == 0 {
		return map[string]float64{}, nil
	}

	pipe := mc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(instruments))
	for _, inst := range instruments {
		cmds[inst] = pipe.HGetAll(ctx, markKey(inst))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get marks pipeline: %w", err)
	}

	result := make(map[string]float64, len(instruments))
	for inst, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		priceStr, ok := vals["price"]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		result[inst] = price
	}

	return result, nil
}
