package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/commands"
	"chargehub/backend/services/ocpp-server/internal/models"
	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
	"chargehub/backend/services/ocpp-server/internal/service"
	"chargehub/backend/services/ocpp-server/internal/ws"
)

// ChargePointLister lists registered charge points.
type ChargePointLister interface {
	List(ctx context.Context) ([]models.ChargePoint, error)
}

// ConnectionLister lists live sockets.
type ConnectionLister interface {
	List() []ws.ConnectionInfo
}

// StateSnapshotter exposes connector runtime state.
type StateSnapshotter interface {
	Snapshot() map[string]service.StationRuntimeState
}

// CommandSender issues server-initiated calls.
type CommandSender interface {
	Send(ctx context.Context, stationID, action string, payload interface{}) (commands.Snapshot, error)
	Wait(ctx context.Context, id string) (commands.Snapshot, error)
	Get(id string) (commands.Snapshot, bool)
}

// MessageLog reads archived frames.
type MessageLog interface {
	Recent(ctx context.Context, stationID string, limit int) ([]models.OCPPMessage, error)
}

var allowedCommands = map[string]bool{
	protocol.ActionRemoteStopTransaction:  true,
	protocol.ActionRemoteStartTransaction: true,
	protocol.ActionReset:                  true,
	protocol.ActionUnlockConnector:        true,
	protocol.ActionChangeAvailability:     true,
	protocol.ActionTriggerMessage:         true,
}

// ChargePointsHandlers serves the charge point admin endpoints.
type ChargePointsHandlers struct {
	chargePoints ChargePointLister
	connections  ConnectionLister
	state        StateSnapshotter
	commands     CommandSender
	messages     MessageLog
	waitTimeout  time.Duration
	logger       *zap.Logger
}

// NewChargePointsHandlers returns handler. messages may be nil.
func NewChargePointsHandlers(cps ChargePointLister, conns ConnectionLister, state StateSnapshotter, cmds CommandSender, messages MessageLog, waitTimeout time.Duration, logger *zap.Logger) *ChargePointsHandlers {
	if waitTimeout <= 0 {
		waitTimeout = 15 * time.Second
	}
	return &ChargePointsHandlers{
		chargePoints: cps,
		connections:  conns,
		state:        state,
		commands:     cmds,
		messages:     messages,
		waitTimeout:  waitTimeout,
		logger:       logger,
	}
}

type chargePointView struct {
	models.ChargePoint
	Registered bool                         `json:"registered"`
	Connected  bool                         `json:"connected"`
	Alive      bool                         `json:"alive"`
	LastSeen   *time.Time                   `json:"lastSeen,omitempty"`
	Runtime    *service.StationRuntimeState `json:"runtime,omitempty"`
}

// List handles GET /admin/chargepoints. Stored charge points come first, followed by
// connected devices that have no stored record yet.
func (h *ChargePointsHandlers) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cps, err := h.chargePoints.List(r.Context())
	if err != nil {
		h.logger.Error("list charge points failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list charge points")
		return
	}

	conns := h.connections.List()
	live := make(map[string]ws.ConnectionInfo, len(conns))
	for _, c := range conns {
		live[c.StationID] = c
	}
	snapshot := h.state.Snapshot()

	view := func(cp models.ChargePoint, registered bool) chargePointView {
		v := chargePointView{ChargePoint: cp, Registered: registered}
		if c, ok := live[cp.ID]; ok {
			v.Connected = true
			v.Alive = c.Alive
			seen := c.LastSeen
			v.LastSeen = &seen
		}
		if st, ok := snapshot[cp.ID]; ok {
			v.Runtime = &st
		}
		return v
	}

	out := make([]chargePointView, 0, len(cps)+len(conns))
	stored := make(map[string]bool, len(cps))
	for _, cp := range cps {
		stored[cp.ID] = true
		out = append(out, view(cp, true))
	}
	for _, c := range conns {
		if !stored[c.StationID] {
			out = append(out, view(models.ChargePoint{ID: c.StationID}, false))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type commandRequest struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Wait    bool            `json:"wait,omitempty"`
}

// SendCommand handles POST /admin/chargepoints/:id/commands.
func (h *ChargePointsHandlers) SendCommand(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req commandRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !allowedCommands[req.Action] {
		writeError(w, http.StatusBadRequest, "unsupported action")
		return
	}
	var payload interface{}
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	snap, err := h.commands.Send(r.Context(), ps.ByName("id"), req.Action, payload)
	if errors.Is(err, commands.ErrNotConnected) {
		writeError(w, http.StatusServiceUnavailable, "charge point not connected")
		return
	}
	if err != nil {
		h.logger.Error("send command failed", zap.String("station_id", ps.ByName("id")), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to send command")
		return
	}

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, snap)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()
	final, err := h.commands.Wait(ctx, snap.ID)
	if err != nil {
		current, _ := h.commands.Get(snap.ID)
		writeJSON(w, http.StatusAccepted, current)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

// GetCommand handles GET /admin/commands/:id.
func (h *ChargePointsHandlers) GetCommand(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snap, ok := h.commands.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Messages handles GET /admin/chargepoints/:id/messages?limit=N.
func (h *ChargePointsHandlers) Messages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if h.messages == nil {
		writeError(w, http.StatusNotImplemented, "message log disabled")
		return
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	msgs, err := h.messages.Recent(r.Context(), ps.ByName("id"), limit)
	if err != nil {
		h.logger.Error("read message log failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read message log")
		return
	}
	if msgs == nil {
		msgs = []models.OCPPMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
