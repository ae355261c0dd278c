package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/flipgg/flipsync/internal/bus"
	"github.com/flipgg/flipsync/internal/connmon"
	"github.com/flipgg/flipsync/internal/events"
)

// WSConfig holds websocket client configuration.
type WSConfig struct {
	URL              string
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	ReconnectWait    time.Duration
	MaxReconnectWait time.Duration
}

// DefaultWSConfig returns the default websocket client configuration.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:              url,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReconnectWait:    time.Second,
		MaxReconnectWait: 30 * time.Second,
	}
}

// WSClient maintains a websocket link to the event bridge, feeding decoded
// events into the bus. Outbound it only carries resync requests; actions are
// signed transactions and go through the wallet bridge.
type WSClient struct {
	cfg     WSConfig
	bus     *bus.Bus
	monitor *connmon.Monitor

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSClient creates a websocket transport client.
func NewWSClient(cfg WSConfig, b *bus.Bus, monitor *connmon.Monitor) *WSClient {
	return &WSClient{cfg: cfg, bus: b, monitor: monitor}
}

// Start runs the connect/read/reconnect loop until the context is done.
func (c *WSClient) Start(ctx context.Context) {
	wait := c.cfg.ReconnectWait
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			c.monitor.MarkReconnecting()
			c.monitor.RecordFailure()
			log.Warn().
				Err(err).
				Str("url", c.cfg.URL).
				Dur("retry_in", wait).
				Msg("websocket dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			if wait *= 2; wait > c.cfg.MaxReconnectWait {
				wait = c.cfg.MaxReconnectWait
			}
			continue
		}
		wait = c.cfg.ReconnectWait

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.monitor.MarkConnected()
		log.Info().Str("url", c.cfg.URL).Msg("websocket connected")

		pingCtx, stopPing := context.WithCancel(ctx)
		go c.pingLoop(pingCtx, conn)
		c.readLoop(conn)
		stopPing()

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.monitor.MarkReconnecting()
		log.Warn().Msg("websocket link dropped, reconnecting")
	}
}

// readLoop decodes incoming envelopes and publishes them to the bus. Returns
// when the connection dies.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		var evt events.Envelope
		if err := json.Unmarshal(message, &evt); err != nil {
			log.Warn().Err(err).Msg("undecodable event frame dropped")
			continue
		}
		c.bus.Publish(evt)
	}
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// RequestSync asks the bridge to replay state for a room: incremental by
// default, full when the local cache was discarded.
func (c *WSClient) RequestSync(ctx context.Context, roomID string, full bool) error {
	return c.write(Frame{Op: opSync, RoomID: roomID, Full: full})
}

func (c *WSClient) write(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Op, err)
	}
	return nil
}
