package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrBufferFull is returned when the outgoing buffer cannot take another frame.
	ErrBufferFull = errors.New("outgoing buffer full")
)

// MessageProcessor handles raw OCPP messages.
type MessageProcessor interface {
	Process(ctx context.Context, stationID string, raw []byte) ([]byte, error)
}

// Connection represents active station WebSocket connection.
type Connection struct {
	stationID    string
	ws           *websocket.Conn
	send         chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	logger       *zap.Logger
	processor    MessageProcessor
	writeTimeout time.Duration
	readTimeout  time.Duration
	connectedAt  time.Time
	lastSeen     atomic.Int64
	onClose      func(*Connection)
}

// NewConnection builds connection wrapper.
func NewConnection(stationID string, ws *websocket.Conn, processor MessageProcessor, opts Options, logger *zap.Logger, onClose func(*Connection)) *Connection {
	opts = opts.withDefaults()
	now := time.Now().UTC()
	c := &Connection{
		stationID:    stationID,
		ws:           ws,
		send:         make(chan []byte, opts.SendBuffer),
		closed:       make(chan struct{}),
		logger:       logger,
		processor:    processor,
		writeTimeout: opts.WriteTimeout,
		readTimeout:  opts.ReadTimeout,
		connectedAt:  now,
		onClose:      onClose,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// StationID returns identifier.
func (c *Connection) StationID() string {
	return c.stationID
}

// LastSeen is the time of the last frame or pong received.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load()).UTC()
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// Start launches read/write pumps and blocks until the read side ends.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.Close()
	c.ws.SetReadLimit(1024 * 1024)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("connection read closed", zap.String("station_id", c.stationID), zap.Error(err))
			return
		}
		c.touch()
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))

		response, err := c.processor.Process(ctx, c.stationID, message)
		if err != nil {
			c.logger.Warn("failed to process message", zap.String("station_id", c.stationID), zap.Error(err))
			continue
		}
		if response != nil {
			if err := c.Send(response); err != nil {
				c.logger.Warn("reply dropped", zap.String("station_id", c.stationID), zap.Error(err))
			}
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("write failed", zap.String("station_id", c.stationID), zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

// Send enqueues a message for writing.
func (c *Connection) Send(msg []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.closed:
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

// Ping sends a control ping; safe to call alongside the write pump.
func (c *Connection) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout))
}

// Close tears the connection down once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}
