package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riptide-quant/riptide/internal/domain"
)

const (
	// signalStream is the durable, trimmed stream of every scored signal.
	signalStream = "riptide:signals"
	// signalChannel carries the same payloads over Pub/Sub for live
	// consumers that do not need replay.
	signalChannel = "riptide.signals"
	// decisionStream is the durable, trimmed stream of decision audit
	// rows: what the pipeline did with each signal and why.
	decisionStream = "riptide:decisions"

	// defaultStreamMaxLen bounds the streams via XADD MAXLEN ~.
	defaultStreamMaxLen int64 = 10000
)

// signalEnvelope is the wire form of a scored signal. Domain structs stay
// tag-free; the envelope pins the published field names so external
// consumers are not coupled to Go identifiers.
type signalEnvelope struct {
	ID           string            `json:"id"`
	Instrument   string            `json:"instrument"`
	Timestamp    time.Time         `json:"timestamp"`
	Strategy     string            `json:"strategy"`
	Direction    string            `json:"direction"`
	RawStrength  float64           `json:"raw_strength"`
	StopLoss     float64           `json:"stop_loss,omitempty"`
	TakeProfit   float64           `json:"take_profit,omitempty"`
	EntryLimit   float64           `json:"entry_limit,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Confidence   float64           `json:"confidence"`
	ModelVersion string            `json:"model_version"`
	Degraded     bool              `json:"degraded,omitempty"`
}

func envelope(sc domain.ScoredSignal) signalEnvelope {
	return signalEnvelope{
		ID:           sc.ID,
		Instrument:   sc.Instrument,
		Timestamp:    sc.Timestamp.UTC(),
		Strategy:     sc.Strategy,
		Direction:    string(sc.Direction),
		RawStrength:  sc.RawStrength,
		StopLoss:     sc.StopLoss,
		TakeProfit:   sc.TakeProfit,
		EntryLimit:   sc.EntryLimit,
		Tags:         sc.Tags,
		Reason:       sc.Reason,
		Confidence:   sc.Confidence,
		ModelVersion: sc.ModelVersion,
		Degraded:     sc.Degraded,
	}
}

func (e signalEnvelope) signal() domain.ScoredSignal {
	return domain.ScoredSignal{
		Signal: domain.Signal{
			ID:          e.ID,
			Instrument:  e.Instrument,
			Timestamp:   e.Timestamp.UTC(),
			Strategy:    e.Strategy,
			Direction:   domain.Direction(e.Direction),
			RawStrength: e.RawStrength,
			StopLoss:    e.StopLoss,
			TakeProfit:  e.TakeProfit,
			EntryLimit:  e.EntryLimit,
			Tags:        e.Tags,
			Reason:      e.Reason,
		},
		Confidence:   e.Confidence,
		ModelVersion: e.ModelVersion,
		Degraded:     e.Degraded,
	}
}

// SignalMessage is one stream entry: the scored signal plus the Redis
// stream ID to resume from.
type SignalMessage struct {
	ID     string
	Signal domain.ScoredSignal
}

// SignalBus fans scored signals out to external consumers. Each publish
// lands in a trimmed Redis stream for durable, ordered replay and on a
// Pub/Sub channel for ephemeral live delivery.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus with the default stream retention.
func NewSignalBus(c *Client) *SignalBus {
	return NewSignalBusWithMaxLen(c, defaultStreamMaxLen)
}

// NewSignalBusWithMaxLen creates a SignalBus whose stream is trimmed to
// approximately maxLen entries. Non-positive maxLen falls back to the
// default.
func NewSignalBusWithMaxLen(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish appends the signal to the stream and broadcasts it over
// Pub/Sub. The stream write happens first so a Pub/Sub failure never
// loses the durable copy.
func (sb *SignalBus) Publish(ctx context.Context, sc domain.ScoredSignal) error {
	payload, err := json.Marshal(envelope(sc))
	if err != nil {
		return fmt.Errorf("redis: encode signal %s: %w", sc.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: signalStream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", signalStream, err)
	}

	if err := sb.rdb.Publish(ctx, signalChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", signalChannel, err)
	}
	return nil
}

// PublishDecision appends a decision audit row to the decision stream.
// Decisions are lower-volume than signals and have no live consumers,
// so they skip Pub/Sub.
func (sb *SignalBus) PublishDecision(ctx context.Context, dec domain.Decision) error {
	payload, err := json.Marshal(dec)
	if err != nil {
		return fmt.Errorf("redis: encode decision %s: %w", dec.SignalID, err)
	}
	args := &redis.XAddArgs{
		Stream: decisionStream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", decisionStream, err)
	}
	return nil
}

// Subscribe returns a channel of live signals. The subscription is
// confirmed before Subscribe returns; the channel is closed when the
// context is cancelled. Malformed payloads are skipped.
func (sb *SignalBus) Subscribe(ctx context.Context) (<-chan domain.ScoredSignal, error) {
	pubsub := sb.rdb.Subscribe(ctx, signalChannel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", signalChannel, err)
	}

	out := make(chan domain.ScoredSignal, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env signalEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				select {
				case out <- env.signal():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Replay reads up to count signals from the stream starting after
// lastID. Use "0" to read from the beginning. It returns an empty slice
// (not an error) when nothing is available.
func (sb *SignalBus) Replay(ctx context.Context, lastID string, count int) ([]SignalMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{signalStream, lastID},
		Count:   int64(count),
		Block:   -1,
	}

	results, err := sb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", signalStream, err)
	}

	var messages []SignalMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			raw, ok := msg.Values["payload"]
			if !ok {
				continue
			}

			var data []byte
			switch v := raw.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			var env signalEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			messages = append(messages, SignalMessage{ID: msg.ID, Signal: env.signal()})
		}
	}

	return messages, nil
}
