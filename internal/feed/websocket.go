package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riptide-quant/riptide/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// wsCommand is the subscription request sent after connecting.
type wsCommand struct {
	Type        string   `json:"type"`
	Channel     string   `json:"channel"`
	Instruments []string `json:"instruments"`
}

// WSFeed streams bars from a websocket endpoint. It subscribes to the
// "bars" channel for the configured instruments, keeps the connection
// alive with pings, and reconnects with exponential backoff when the
// peer drops. Malformed messages are logged and skipped, never fatal.
type WSFeed struct {
	url         string
	instruments []string
	bars        chan domain.Bar
	logger      *slog.Logger
}

var _ Source = (*WSFeed)(nil)

// NewWSFeed creates a feed for the given endpoint and instruments.
func NewWSFeed(url string, instruments []string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:         url,
		instruments: instruments,
		bars:        make(chan domain.Bar),
		logger:      logger.With(slog.String("component", "ws_feed")),
	}
}

// Bars returns the stream channel. It is closed when Run returns.
func (f *WSFeed) Bars() <-chan domain.Bar { return f.bars }

// Run connects and reads until ctx is cancelled. Each successful
// connection resets the backoff.
func (f *WSFeed) Run(ctx context.Context) error {
	defer close(f.bars)

	if len(f.instruments) == 0 {
		return fmt.Errorf("ws feed: no instruments to subscribe")
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn("websocket disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection owns one dial-subscribe-read cycle and returns the error
// that ended it.
func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("ws feed: connect %s: %w", f.url, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := wsCommand{Type: "subscribe", Channel: "bars", Instruments: f.instruments}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("ws feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws feed: subscribe: %w", err)
	}
	f.logger.Info("websocket subscribed",
		slog.String("url", f.url),
		slog.Int("instruments", len(f.instruments)),
	)

	// Ping loop and context watcher; closing the connection unblocks the
	// blocked ReadMessage below.
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx, conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws feed: read: %w", err)
		}
		bar, ok, err := decodeBar(message)
		if err != nil {
			f.logger.Warn("skipping malformed message", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		select {
		case f.bars <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			conn.Close()
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
