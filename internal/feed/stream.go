package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"novatrading/internal/model"
)

const (
	heartbeatInterval = 10 * time.Second
	heartbeatMessage  = "ping"

	writeDeadline = 5 * time.Second
)

// StreamConfig configures the live websocket bar source.
type StreamConfig struct {
	URL     string // e.g. wss://stream.example.com/bars
	Session *Session

	Symbols   []string
	Timeframe string

	// Reconnect policy. Zero values get sensible defaults.
	MaxRetries int
	RetryDelay time.Duration
	Multiplier int
}

// StreamSource streams closed bars from the broker websocket into a channel.
// It reconnects with exponential backoff and resubscribes after every
// successful reconnect.
type StreamSource struct {
	cfg StreamConfig

	// OnReconnect is invoked after each successful reconnect, before
	// resubscribing. Used for metrics hooks.
	OnReconnect func()
}

// NewStreamSource validates the config and returns a StreamSource.
func NewStreamSource(cfg StreamConfig) (*StreamSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("feed: stream URL required")
	}
	if cfg.Session == nil || cfg.Session.FeedToken == "" {
		return nil, errors.New("feed: authenticated session required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("feed: at least one symbol required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2
	}
	return &StreamSource{cfg: cfg}, nil
}

// barMessage is the wire format of one closed bar from the stream.
type barMessage struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	TS        int64   `json:"ts"` // epoch milliseconds, bar open time
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// Run connects, subscribes and pumps bars into out until ctx is cancelled or
// the retry budget is exhausted. It never closes out.
func (s *StreamSource) Run(ctx context.Context, out chan<- model.Bar) error {
	attempt := 0
	delay := s.cfg.RetryDelay

	for {
		conn, err := s.connect(ctx)
		if err != nil {
			attempt++
			if attempt > s.cfg.MaxRetries {
				return fmt.Errorf("feed: giving up after %d connect attempts: %w", attempt-1, err)
			}
			log.Printf("[feed] connect failed (attempt %d/%d): %v, retrying in %s",
				attempt, s.cfg.MaxRetries, err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= time.Duration(s.cfg.Multiplier)
			continue
		}

		attempt = 0
		delay = s.cfg.RetryDelay

		err = s.pump(ctx, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[feed] stream interrupted: %v, reconnecting", err)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
	}
}

func (s *StreamSource) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.Session.AuthToken)
	header.Set("x-client-code", s.cfg.Session.ClientCode)
	header.Set("x-feed-token", s.cfg.Session.FeedToken)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	if err := s.subscribe(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[feed] connected to %s, subscribed %d symbols at %s",
		s.cfg.URL, len(s.cfg.Symbols), s.cfg.Timeframe)
	return conn, nil
}

func (s *StreamSource) subscribe(conn *websocket.Conn) error {
	req := map[string]interface{}{
		"action": "subscribe",
		"params": map[string]interface{}{
			"symbols":   s.cfg.Symbols,
			"timeframe": s.cfg.Timeframe,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(req)
}

// pump reads bar messages until the connection breaks or ctx is cancelled.
func (s *StreamSource) pump(ctx context.Context, conn *websocket.Conn, out chan<- model.Bar) error {
	conn.SetPongHandler(func(string) error { return nil })

	// Heartbeat keeps the connection alive and detects dead peers.
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteMessage(websocket.PingMessage, []byte(heartbeatMessage)); err != nil {
					log.Printf("[feed] heartbeat write failed: %v", err)
					conn.Close()
					return
				}
			}
		}
	}()

	// Unblock ReadMessage when the caller cancels.
	go func() {
		<-hbCtx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		if string(raw) == "pong" {
			continue
		}

		var msg barMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[feed] malformed bar message: %v", err)
			continue
		}
		if msg.Symbol == "" || msg.TS == 0 {
			continue
		}

		bar := model.Bar{
			Symbol:    msg.Symbol,
			Timeframe: msg.Timeframe,
			TS:        time.Unix(0, msg.TS*int64(time.Millisecond)).UTC(),
			Open:      msg.Open,
			High:      msg.High,
			Low:       msg.Low,
			Close:     msg.Close,
			Volume:    msg.Volume,
		}
		select {
		case out <- bar:
		default:
			log.Printf("[feed] bar channel full, dropping %s %s", bar.Symbol, bar.Timeframe)
		}
	}
}
