package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/redisstore"
	"chargehub/backend/services/ocpp-server/internal/sessions"
)

// SessionStopper finalizes sessions.
type SessionStopper interface {
	Stop(ctx context.Context, sessionID int64, req sessions.StopRequest) (*sessions.Settlement, error)
}

// ActiveSessions lists cached active sessions.
type ActiveSessions interface {
	List(ctx context.Context) ([]redisstore.ActiveSession, error)
}

// SessionsHandlers serves the session admin endpoints.
type SessionsHandlers struct {
	stopper SessionStopper
	active  ActiveSessions
	logger  *zap.Logger
}

// NewSessionsHandlers returns handler. active may be nil when the cache is disabled.
func NewSessionsHandlers(stopper SessionStopper, active ActiveSessions, logger *zap.Logger) *SessionsHandlers {
	return &SessionsHandlers{stopper: stopper, active: active, logger: logger}
}

type stopRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Stop handles POST /admin/sessions/:id/stop.
func (h *SessionsHandlers) Stop(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := int64Param(ps, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var body stopRequest
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	if body.Reason == "" {
		body.Reason = "stopped by operator"
	}

	settlement, err := h.stopper.Stop(r.Context(), id, sessions.StopRequest{
		Trigger: sessions.TriggerManual,
		Reason:  body.Reason,
	})
	if errors.Is(err, sessions.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("manual stop failed", zap.Int64("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// Active handles GET /admin/sessions/active.
func (h *SessionsHandlers) Active(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if h.active == nil {
		writeError(w, http.StatusNotImplemented, "active session cache disabled")
		return
	}
	items, err := h.active.List(r.Context())
	if err != nil {
		h.logger.Error("list active sessions failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "active session cache unavailable")
		return
	}
	if items == nil {
		items = []redisstore.ActiveSession{}
	}
	writeJSON(w, http.StatusOK, items)
}
