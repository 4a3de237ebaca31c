package quicknode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"solbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sampleBuffer bounds the push queue; the feed drains it continuously.
	sampleBuffer = 256
)

// WSClient is the websocket client for the node's price push feed. Accepted
// notifications are delivered over a channel; the consumer owns ordering and
// staleness decisions. The client reconnects on its own with exponential
// backoff and restores subscriptions afterwards.
type WSClient struct {
	logger  *slog.Logger
	wsURL   string
	minWait time.Duration
	maxWait time.Duration

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// Subscribed mints, restored on reconnect.
	subs map[string]bool

	samples chan domain.PriceSample
	done    chan struct{}
}

// NewWSClient creates a price push client for the given websocket URL.
func NewWSClient(logger *slog.Logger, wsURL string, minWait, maxWait time.Duration) *WSClient {
	return &WSClient{
		logger:  logger.With(slog.String("component", "quicknode_ws")),
		wsURL:   wsURL,
		minWait: minWait,
		maxWait: maxWait,
		subs:    map[string]bool{},
		samples: make(chan domain.PriceSample, sampleBuffer),
		done:    make(chan struct{}),
	}
}

// Samples is the stream of accepted price notifications.
func (w *WSClient) Samples() <-chan domain.PriceSample {
	return w.samples
}

// Connect establishes the websocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("quicknode/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("quicknode/ws: connect: %w", err)
	}
	w.conn = conn

	// The handler closes over this connection, not w.conn: a reconnect swaps
	// w.conn while the old connection's pong can still arrive.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	// Restore subscriptions after reconnect.
	for mint := range w.subs {
		if err := w.sendSubscribe(mint); err != nil {
			return fmt.Errorf("quicknode/ws: restore subscription %s: %w", mint, err)
		}
	}
	return nil
}

// Subscribe starts price notifications for a mint.
func (w *WSClient) Subscribe(mint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("quicknode/ws: not connected")
	}
	if err := w.sendSubscribe(mint); err != nil {
		return fmt.Errorf("quicknode/ws: subscribe %s: %w", mint, err)
	}
	w.subs[mint] = true
	return nil
}

// Unsubscribe stops price notifications for a mint.
func (w *WSClient) Unsubscribe(mint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.subs, mint)
	if w.conn == nil {
		return nil
	}
	cmd := wsCommand{Method: "priceUnsubscribe", Params: []string{mint}}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("quicknode/ws: unsubscribe %s: %w", mint, err)
	}
	return nil
}

// Close shuts down the connection and the sample stream.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// sendSubscribe sends a priceSubscribe command. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(mint string) error {
	return w.sendCommand(wsCommand{Method: "priceSubscribe", Params: []string{mint}})
}

// sendCommand sends a JSON command. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// priceNotification is the push payload for one mint.
type priceNotification struct {
	Method string `json:"method"`
	Params struct {
		Token     string          `json:"token"`
		Price     decimal.Decimal `json:"price"`
		Liquidity decimal.Decimal `json:"liquidity"`
		Timestamp int64           `json:"timestamp"`
	} `json:"params"`
}

// readLoop reads until the connection drops, then hands off to reconnect.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.logger.Warn("connection lost, reconnecting", slog.String("error", err.Error()))
			w.reconnect()
			return
		}
		w.handleMessage(message)
	}
}

// pingLoop keeps the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a push message and queues the sample. A full queue
// drops the sample; the poll path will repair any gap.
func (w *WSClient) handleMessage(raw []byte) {
	var note priceNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		return
	}
	if note.Method != "priceNotification" || note.Params.Token == "" {
		return
	}

	sample := domain.PriceSample{
		Token:      note.Params.Token,
		Price:      note.Params.Price,
		Liquidity:  note.Params.Liquidity,
		ObservedAt: time.UnixMilli(note.Params.Timestamp),
		Source:     "quicknode_ws",
	}
	select {
	case w.samples <- sample:
	default:
		w.logger.Warn("sample queue full, dropping push", slog.String("token", sample.Token))
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := w.minWait

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			w.logger.Info("reconnected")
			return
		}

		delay *= 2
		if delay > w.maxWait {
			delay = w.maxWait
		}
	}
}
