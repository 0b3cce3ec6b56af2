// Package indexer talks to the blockchain scanner's real-time stream of
// decoded exchange events.
package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/raremarket/orderwatch/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// OrderEventHandler is called for every decoded exchange log record.
type OrderEventHandler func(domain.LogEvent)

// OrderVersionHandler is called for every off-chain signed order update.
type OrderVersionHandler func(domain.OrderVersion)

// NonceHandler is called when a maker's exchange nonce moves.
type NonceHandler func(maker common.Address, nonce int64)

// BalanceHandler is called when an owner's token holdings change.
type BalanceHandler func(owner, token common.Address)

// WSClient is a WebSocket client for the scanner's real-time event stream.
// It manages the connection lifecycle, subscriptions, and dispatches messages
// to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []WSCommand

	// Handlers
	orderHandlers   []OrderEventHandler
	versionHandlers []OrderVersionHandler
	nonceHandlers   []NonceHandler
	balanceHandlers []BalanceHandler
	handlerMu       sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given stream URL.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection to the scanner stream.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("indexer/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("indexer/ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Start the read loop and ping loop.
	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("indexer/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the given stream channels.
func (w *WSClient) Subscribe(ctx context.Context, channels []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("indexer/ws: not connected")
	}

	for _, ch := range channels {
		cmd := WSCommand{
			Type:    "subscribe",
			Channel: ch,
		}

		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("indexer/ws: subscribe to %s: %w", ch, err)
		}

		// Track subscription for reconnection.
		w.subscriptions = append(w.subscriptions, cmd)
	}

	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		// Send a close message to the server.
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnOrderEvent registers a handler called for every decoded exchange log
// record received on the order-events channel.
func (w *WSClient) OnOrderEvent(handler OrderEventHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.orderHandlers = append(w.orderHandlers, handler)
}

// OnOrderVersion registers a handler called for every signed off-chain order
// update received on the order-updates channel.
func (w *WSClient) OnOrderVersion(handler OrderVersionHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.versionHandlers = append(w.versionHandlers, handler)
}

// OnNonceChange registers a handler called for every maker nonce increment
// received on the maker-nonces channel.
func (w *WSClient) OnNonceChange(handler NonceHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.nonceHandlers = append(w.nonceHandlers, handler)
}

// OnBalanceChange registers a handler called for every holdings change
// received on the owner-balances channel.
func (w *WSClient) OnBalanceChange(handler BalanceHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.balanceHandlers = append(w.balanceHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the appropriate handlers. It runs in its own goroutine.
// On disconnect, it attempts to reconnect with exponential backoff.
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
			// Check if we've been shut down.
			select {
			case <-w.done:
				return
			default:
			}

			// Attempt reconnection.
			w.reconnect()
			return // readLoop will be restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
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

// handleMessage parses a raw WebSocket message and routes it to the
// appropriate handler based on the message type.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Event string `json:"event_type"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	switch envelope.Event {
	case "order_event":
		// The frame body is a domain.LogEvent envelope with the event_type
		// tag added; the decoder ignores the extra field.
		var event domain.LogEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.orderHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(event)
		}

	case "order_update":
		var version domain.OrderVersion
		if err := json.Unmarshal(raw, &version); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.versionHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(version)
		}

	case "nonce_change":
		var msg NonceMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.nonceHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(common.HexToAddress(msg.Maker), msg.Nonce)
		}

	case "balance_change":
		var msg BalanceMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.balanceHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(common.HexToAddress(msg.Owner), common.HexToAddress(msg.Token))
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
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

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
