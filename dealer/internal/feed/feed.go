package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Tick is one mid-price update from the market data feed.
type Tick struct {
	Asset string  `json:"asset"`
	Mid   float64 `json:"mid"`
}

// TickHandler is called for each received tick.
type TickHandler func(tick Tick)

// Client is a reconnecting WebSocket client for the dealer's mid-price feed.
type Client struct {
	url            string
	logger         *zap.Logger
	conn           *websocket.Conn
	handlers       []TickHandler
	handlersMu     sync.RWMutex
	connected      bool
	connectedMu    sync.RWMutex
	done           chan struct{}
	reconnectDelay time.Duration
}

// NewClient creates a feed client for the given URL.
func NewClient(url string, logger *zap.Logger) *Client {
	return &Client{
		url:            url,
		logger:         logger,
		done:           make(chan struct{}),
		reconnectDelay: 5 * time.Second,
	}
}

// Connect establishes the WebSocket connection and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("feed.connecting", zap.String("url", c.url))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to feed: %w", err)
	}

	c.conn = conn
	c.setConnected(true)
	c.logger.Info("feed.connected")

	go c.readLoop()
	return nil
}

// Close closes the connection and stops reconnecting.
func (c *Client) Close() error {
	close(c.done)
	c.setConnected(false)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected reports whether the feed is live.
func (c *Client) IsConnected() bool {
	c.connectedMu.RLock()
	defer c.connectedMu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(connected bool) {
	c.connectedMu.Lock()
	defer c.connectedMu.Unlock()
	c.connected = connected
}

// AddHandler registers a tick handler.
func (c *Client) AddHandler(handler TickHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, handler)
}

func (c *Client) readLoop() {
	defer func() {
		c.setConnected(false)
		c.logger.Info("feed.read_loop_exited")
	}()

	for {
		select {
		case <-c.done:
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Info("feed.closed_normally")
					return
				}
				c.logger.Error("feed.read_failed", zap.Error(err))
				c.scheduleReconnect()
				return
			}

			var tick Tick
			if err := json.Unmarshal(message, &tick); err != nil {
				c.logger.Warn("feed.bad_tick", zap.Error(err))
				continue
			}
			if tick.Asset == "" || tick.Mid <= 0 {
				continue
			}
			c.notifyHandlers(tick)
		}
	}
}

func (c *Client) notifyHandlers(tick Tick) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	for _, handler := range c.handlers {
		handler(tick)
	}
}

func (c *Client) scheduleReconnect() {
	select {
	case <-c.done:
		return
	default:
	}
	c.logger.Info("feed.reconnect_scheduled", zap.Duration("delay", c.reconnectDelay))

	time.AfterFunc(c.reconnectDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.Connect(ctx); err != nil {
			c.logger.Error("feed.reconnect_failed", zap.Error(err))
			c.scheduleReconnect()
		}
	})
}
