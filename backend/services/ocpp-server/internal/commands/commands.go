// Package commands tracks central-system initiated calls to charge points and matches the
// replies coming back over the socket.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/ocpp"
)

// Status of a command.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
	StatusTimeout  Status = "timeout"
)

// Terminal reports whether the command has finished.
func (s Status) Terminal() bool {
	return s != StatusPending
}

var (
	// ErrNotConnected is returned when the charge point has no live socket.
	ErrNotConnected = errors.New("charge point not connected")
	// ErrUnknownCommand is returned when waiting on an id the manager never issued.
	ErrUnknownCommand = errors.New("unknown command")
)

var idGenerator = func() string { return uuid.NewString() }

// Writer delivers a raw frame to one charge point.
type Writer interface {
	Send(msg []byte) error
}

// Connections looks up the live writer for a charge point.
type Connections interface {
	Writer(stationID string) (Writer, bool)
}

// Snapshot is a read-only view of a command.
type Snapshot struct {
	ID        string          `json:"id"`
	StationID string          `json:"stationId"`
	Action    string          `json:"action"`
	Status    Status          `json:"status"`
	LastError string          `json:"lastError,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Response  json.RawMessage `json:"response,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type command struct {
	snap  Snapshot
	timer *time.Timer
	done  chan struct{}
}

// Config tunes the manager.
type Config struct {
	Timeout   time.Duration
	Retention time.Duration
}

// Manager issues commands and correlates replies by message id.
type Manager struct {
	mu       sync.Mutex
	commands map[string]*command
	conns    Connections
	timeout  time.Duration
	keep     time.Duration
	logger   *zap.Logger
}

// NewManager builds a manager. Zero config values fall back to defaults.
func NewManager(conns Connections, cfg Config, logger *zap.Logger) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		commands: make(map[string]*command),
		conns:    conns,
		timeout:  cfg.Timeout,
		keep:     cfg.Retention,
		logger:   logger,
	}
}

// Send writes a Call frame to the charge point and returns without waiting for the reply.
func (m *Manager) Send(ctx context.Context, stationID, action string, payload interface{}) (Snapshot, error) {
	stationID = strings.TrimSpace(stationID)
	action = strings.TrimSpace(action)
	if stationID == "" {
		return Snapshot{}, errors.New("station id is required")
	}
	if action == "" {
		return Snapshot{}, errors.New("action is required")
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if payload == nil {
		payload = struct{}{}
	}

	writer, ok := m.conns.Writer(stationID)
	if !ok {
		return Snapshot{}, ErrNotConnected
	}

	id := idGenerator()
	frame, err := ocpp.BuildCall(id, action, payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode %s: %w", action, err)
	}
	body, _ := json.Marshal(payload)

	now := time.Now().UTC()
	cmd := &command{
		snap: Snapshot{
			ID:        id,
			StationID: stationID,
			Action:    action,
			Status:    StatusPending,
			Payload:   body,
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.pruneLocked(now)
	m.commands[id] = cmd
	m.mu.Unlock()

	if err := writer.Send(frame); err != nil {
		m.complete(id, StatusFailed, nil, fmt.Sprintf("send failed: %v", err))
		return Snapshot{}, fmt.Errorf("send %s: %w", action, err)
	}

	m.mu.Lock()
	if !cmd.snap.Status.Terminal() {
		cmd.timer = time.AfterFunc(m.timeout, func() {
			m.complete(id, StatusTimeout, nil, "timeout waiting for response")
		})
	}
	snap := cmd.snap
	m.mu.Unlock()

	m.logger.Info("command sent",
		zap.String("station_id", stationID),
		zap.String("action", action),
		zap.String("command_id", id),
	)
	return snap, nil
}

// Wait blocks until the command finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	cmd, ok := m.commands[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrUnknownCommand
	}
	select {
	case <-cmd.done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cmd.snap, nil
}

// Get returns the snapshot of a command.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[id]
	if !ok {
		return Snapshot{}, false
	}
	return cmd.snap, true
}

// HandleCallResult completes the command awaiting uniqueID.
func (m *Manager) HandleCallResult(stationID, uniqueID string, payload json.RawMessage) {
	var body struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(payload, &body)

	status, errMsg := StatusAccepted, ""
	switch strings.ToLower(strings.TrimSpace(body.Status)) {
	case "", "accepted", "unlocked", "scheduled":
	case "rejected", "unlockfailed", "notsupported":
		status = StatusRejected
	default:
		status = StatusFailed
		errMsg = fmt.Sprintf("unexpected status: %s", body.Status)
	}

	if !m.completeFor(stationID, uniqueID, status, payload, errMsg) {
		m.logger.Debug("call result without pending command",
			zap.String("station_id", stationID),
			zap.String("message_id", uniqueID),
		)
	}
}

// HandleCallError fails the command awaiting uniqueID.
func (m *Manager) HandleCallError(stationID, uniqueID, code, description string, details json.RawMessage) {
	if !m.completeFor(stationID, uniqueID, StatusFailed, details, code+": "+description) {
		m.logger.Debug("call error without pending command",
			zap.String("station_id", stationID),
			zap.String("message_id", uniqueID),
		)
	}
}

// FailStation fails every pending command of a charge point, used when its socket drops.
func (m *Manager) FailStation(stationID, reason string) int {
	m.mu.Lock()
	var ids []string
	for id, cmd := range m.commands {
		if cmd.snap.StationID == stationID && !cmd.snap.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.complete(id, StatusFailed, nil, reason)
	}
	return len(ids)
}

func (m *Manager) completeFor(stationID, id string, status Status, response json.RawMessage, errMsg string) bool {
	m.mu.Lock()
	cmd, ok := m.commands[id]
	matches := ok && cmd.snap.StationID == stationID
	m.mu.Unlock()
	if !matches {
		return false
	}
	return m.complete(id, status, response, errMsg)
}

func (m *Manager) complete(id string, status Status, response json.RawMessage, errMsg string) bool {
	m.mu.Lock()
	cmd, ok := m.commands[id]
	if !ok || cmd.snap.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	if cmd.timer != nil {
		cmd.timer.Stop()
		cmd.timer = nil
	}
	cmd.snap.Status = status
	cmd.snap.LastError = errMsg
	if len(response) > 0 {
		cmd.snap.Response = append(json.RawMessage(nil), response...)
	}
	cmd.snap.UpdatedAt = time.Now().UTC()
	snap := cmd.snap
	close(cmd.done)
	m.mu.Unlock()

	m.logger.Info("command completed",
		zap.String("station_id", snap.StationID),
		zap.String("action", snap.Action),
		zap.String("command_id", snap.ID),
		zap.String("status", string(status)),
		zap.String("error", errMsg),
	)
	return true
}

func (m *Manager) pruneLocked(now time.Time) {
	for id, cmd := range m.commands {
		if cmd.snap.Status.Terminal() && now.Sub(cmd.snap.UpdatedAt) > m.keep {
			delete(m.commands, id)
		}
	}
}
