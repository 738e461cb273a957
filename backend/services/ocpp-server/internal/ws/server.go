package ws

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Options tune socket behaviour.
type Options struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	SendBuffer   int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 90 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 16
	}
	return o
}

// Hooks are invoked when a charge point connects or its connection ends.
type Hooks struct {
	OnConnect    func(ctx context.Context, stationID string)
	OnDisconnect func(ctx context.Context, stationID string)
}

// Server upgrades HTTP connections to WebSockets for OCPP.
type Server struct {
	ctx       context.Context
	manager   *Manager
	processor MessageProcessor
	hooks     Hooks
	opts      Options
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewServer builds ws server. Connections live until ctx is cancelled or the peer goes away.
func NewServer(ctx context.Context, manager *Manager, processor MessageProcessor, opts Options, hooks Hooks, logger *zap.Logger) *Server {
	return &Server{
		ctx:       ctx,
		manager:   manager,
		processor: processor,
		hooks:     hooks,
		opts:      opts.withDefaults(),
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{"ocpp1.6"},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for the /ocpp/:id and bare /ocpp endpoints.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	stationID := stationIDFrom(r, ps)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	connection := NewConnection(stationID, conn, s.processor, s.opts, s.logger, func(c *Connection) {
		if !s.manager.Remove(c) {
			return
		}
		s.logger.Info("station disconnected", zap.String("station_id", c.StationID()))
		if s.hooks.OnDisconnect != nil {
			s.hooks.OnDisconnect(context.Background(), c.StationID())
		}
	})
	if old := s.manager.Add(connection); old != nil {
		s.logger.Info("replacing existing connection", zap.String("station_id", stationID))
		old.Close()
	}
	if s.hooks.OnConnect != nil {
		s.hooks.OnConnect(r.Context(), stationID)
	}

	go connection.Start(s.ctx)
	s.logger.Info("station connected", zap.String("station_id", stationID), zap.String("remote_addr", r.RemoteAddr))
}

func stationIDFrom(r *http.Request, ps httprouter.Params) string {
	if id := strings.TrimSpace(ps.ByName("id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("station_id")); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "cp-" + host
}
