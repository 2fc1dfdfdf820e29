// Package feed delivers bars to the live orchestrator. Three sources
// implement the same contract: a simulated replay of stored history, a
// websocket stream and a Kafka consumer. The orchestrator only ever sees
// the Bars channel, so sources are interchangeable per config.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/marketdata"
)

// Source streams bars until its context is cancelled. Run blocks; the
// bars channel is closed when the source is done so consumers can range
// over it. A nil error from Run means the stream ended normally (the
// simulator ran out of history, or shutdown was requested).
type Source interface {
	Run(ctx context.Context) error
	Bars() <-chan domain.Bar
}

// New builds the source named by cfg.Kind.
func New(cfg config.FeedConfig, instruments []string, store *marketdata.Store, logger *slog.Logger) (Source, error) {
	switch cfg.Kind {
	case "sim":
		return NewSimFeed(store, cfg.SimInterval.Duration, logger), nil
	case "websocket":
		return NewWSFeed(cfg.WSURL, instruments, logger), nil
	case "kafka":
		return NewKafkaFeed(cfg.Kafka, logger), nil
	default:
		return nil, fmt.Errorf("feed: unknown kind %q", cfg.Kind)
	}
}

// barMessage is the wire form shared by the websocket and Kafka feeds.
type barMessage struct {
	Type       string    `json:"type,omitempty"`
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// decodeBar parses and validates one wire message. Messages carrying a
// non-bar type are skipped with ok=false and no error.
func decodeBar(data []byte) (domain.Bar, bool, error) {
	var msg barMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.Bar{}, false, fmt.Errorf("decode bar: %w", err)
	}
	if msg.Type != "" && msg.Type != "bar" {
		return domain.Bar{}, false, nil
	}
	if msg.Instrument == "" {
		return domain.Bar{}, false, fmt.Errorf("decode bar: missing instrument")
	}
	if msg.Timestamp.IsZero() {
		return domain.Bar{}, false, fmt.Errorf("decode bar: missing timestamp for %s", msg.Instrument)
	}
	if msg.High < msg.Low || msg.Close <= 0 {
		return domain.Bar{}, false, fmt.Errorf("decode bar: malformed prices for %s at %s",
			msg.Instrument, msg.Timestamp.Format(time.RFC3339))
	}
	return domain.Bar{
		Instrument: msg.Instrument,
		Timestamp:  msg.Timestamp.UTC(),
		Open:       msg.Open,
		High:       msg.High,
		Low:        msg.Low,
		Close:      msg.Close,
		Volume:     msg.Volume,
	}, true, nil
}
