package perps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// MarkPriceHandler is called for every mark-price update from the stream.
type MarkPriceHandler func(MarkPrice)

// WSClient streams real-time mark prices and funding rates for one symbol
// from the perp venue WebSocket API.
type WSClient struct {
	wsHost string
	symbol string
	conn   *websocket.Conn

	mu     sync.RWMutex
	closed bool

	handlerMu sync.RWMutex
	handlers  []MarkPriceHandler

	// done is closed when the client shuts down.
	done chan struct{}
}

// NewWSClient creates a new mark-price stream client.
//
// wsHost is the WebSocket host, e.g. "wss://fstream.binance.com". The symbol
// is lowercased into the venue's stream name.
func NewWSClient(wsHost, symbol string) *WSClient {
	return &WSClient{
		wsHost: wsHost,
		symbol: symbol,
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. The markPrice stream pushes without an explicit subscribe step.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("perps/ws: client is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	streamURL := fmt.Sprintf("%s/ws/%s@markPrice@1s", w.wsHost, strings.ToLower(w.symbol))

	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("perps/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	return nil
}

// OnMarkPrice registers a handler that is called for every mark-price update.
func (w *WSClient) OnMarkPrice(handler MarkPriceHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts down the WebSocket connection.
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

// readLoop continuously reads messages from the WebSocket and dispatches
// them to handlers. On disconnect it attempts reconnection.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw stream message and routes it to handlers.
func (w *WSClient) handleMessage(raw []byte) {
	var ev markPriceEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.EventType != "markPriceUpdate" {
		return
	}

	mp, err := ev.toMarkPrice()
	if err != nil {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(mp)
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

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
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
