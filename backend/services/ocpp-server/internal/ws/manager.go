package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/commands"
)

// ConnectionInfo describes a live connection. Alive means a frame or pong arrived within
// the stale window.
type ConnectionInfo struct {
	StationID   string    `json:"stationId"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
	Alive       bool      `json:"alive"`
}

// Manager tracks station connections.
type Manager struct {
	mu           sync.RWMutex
	connections  map[string]*Connection
	pingInterval time.Duration
	staleAfter   time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewManager builds connection manager. Connections silent for longer than staleAfter are
// closed by the ping loop.
func NewManager(pingInterval, staleAfter time.Duration, logger *zap.Logger) *Manager {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 2 * pingInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		pingInterval: pingInterval,
		staleAfter:   staleAfter,
		logger:       logger,
		now:          time.Now,
	}
}

// Add registers new connection, returning the one it replaced if any.
func (m *Manager) Add(conn *Connection) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.connections[conn.StationID()]
	m.connections[conn.StationID()] = conn
	if old == conn {
		return nil
	}
	return old
}

// Remove drops conn if it is still the registered connection for its station.
func (m *Manager) Remove(conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections[conn.StationID()] != conn {
		return false
	}
	delete(m.connections, conn.StationID())
	return true
}

// Get returns the live connection of a station.
func (m *Manager) Get(stationID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[stationID]
	return conn, ok
}

// Writer satisfies commands.Connections.
func (m *Manager) Writer(stationID string) (commands.Writer, bool) {
	conn, ok := m.Get(stationID)
	if !ok {
		return nil, false
	}
	return conn, true
}

// List returns live connections sorted by station id.
func (m *Manager) List() []ConnectionInfo {
	now := m.now()
	m.mu.RLock()
	out := make([]ConnectionInfo, 0, len(m.connections))
	for id, conn := range m.connections {
		seen := conn.LastSeen()
		out = append(out, ConnectionInfo{
			StationID:   id,
			ConnectedAt: conn.connectedAt,
			LastSeen:    seen,
			Alive:       now.Sub(seen) <= m.staleAfter,
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// Start begins ping loop to keep connections active.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if now.Sub(conn.LastSeen()) > m.staleAfter {
			m.logger.Warn("closing stale connection", zap.String("station_id", conn.StationID()))
			conn.Close()
			continue
		}
		if err := conn.Ping(); err != nil {
			m.logger.Debug("ping failed", zap.String("station_id", conn.StationID()), zap.Error(err))
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
}
