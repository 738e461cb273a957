package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/billing"
	"chargehub/backend/services/ocpp-server/internal/commands"
	"chargehub/backend/services/ocpp-server/internal/http/handlers"
	"chargehub/backend/services/ocpp-server/internal/http/middleware"
	"chargehub/backend/services/ocpp-server/internal/memstore"
	"chargehub/backend/services/ocpp-server/internal/models"
	"chargehub/backend/services/ocpp-server/internal/service"
	"chargehub/backend/services/ocpp-server/internal/sessions"
	"chargehub/backend/services/ocpp-server/internal/ws"
)

const testSecret = "admin-secret"

type testAPI struct {
	handler http.Handler
	store   *memstore.Store
	token   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	store := memstore.New()
	store.PutChargePoint(models.ChargePoint{ID: "CP-1", StationID: "ST-1", RatePerKWh: decimal.NewFromInt(10), Available: true})

	ledger := billing.NewLedger(store, billing.StaticTaxRates{
		GST: decimal.RequireFromString("0.05"),
		PST: decimal.RequireFromString("0.07"),
	}, logger)
	finalizer := sessions.NewFinalizer(sessions.DefaultConfig(), sessions.Deps{
		Sessions:     store.Sessions(),
		Reservations: store.Reservations(),
		ChargePoints: store.ChargePoints(),
		Cards:        store,
		Ledger:       ledger,
		Revenue:      store,
	})
	conns := ws.NewManager(time.Minute, 0, logger)
	cmds := commands.NewManager(conns, commands.Config{}, logger)

	router := NewRouter(RouterDeps{
		WebSocket:    func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) { w.WriteHeader(http.StatusTeapot) },
		ChargePoints: handlers.NewChargePointsHandlers(store.ChargePoints(), conns, service.NewStationState(), cmds, store, time.Second, logger),
		Sessions:     handlers.NewSessionsHandlers(finalizer, nil, logger),
		Accounts:     handlers.NewAccountsHandlers(ledger, logger),
		Health:       func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
	}, middleware.AuthMiddleware(testSecret))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return &testAPI{handler: router, store: store, token: token}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+a.token)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/chargepoints", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health must be public, got %d", rec.Code)
	}
}

func TestTopUpAndBalance(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/admin/accounts/5/credit", map[string]string{"amount": "100"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("credit: expected 201, got %d %s", rec.Code, rec.Body)
	}
	var entry models.LedgerEntry
	_ = json.NewDecoder(rec.Body).Decode(&entry)
	if !entry.Amount.Equal(decimal.NewFromInt(88)) || !entry.GST.Equal(decimal.NewFromInt(5)) || !entry.PST.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("unexpected split %+v", entry)
	}

	rec = api.do(t, http.MethodGet, "/admin/accounts/5/balance", nil)
	var rc billing.Reconciliation
	_ = json.NewDecoder(rec.Body).Decode(&rc)
	if rec.Code != http.StatusOK || !rc.Balance.Equal(decimal.NewFromInt(88)) || !rc.Balanced {
		t.Fatalf("unexpected balance %d %+v", rec.Code, rc)
	}

	rec = api.do(t, http.MethodPost, "/admin/accounts/5/credit", map[string]string{"amount": "-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", rec.Code)
	}
}

func TestCommandToDisconnectedChargePoint(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/admin/chargepoints/CP-1/commands", map[string]interface{}{
		"action":  "Reset",
		"payload": map[string]string{"type": "Soft"},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	rec = api.do(t, http.MethodPost, "/admin/chargepoints/CP-1/commands", map[string]string{"action": "DataTransfer"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported action, got %d", rec.Code)
	}
}

func TestManualStop(t *testing.T) {
	api := newTestAPI(t)

	if rec := api.do(t, http.MethodPost, "/admin/sessions/999/stop", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	id := api.store.PutSession(models.Session{
		ChargePointID: "CP-1",
		ConnectorID:   1,
		Funding:       models.CardFunded("RFID-1"),
		Status:        models.SessionInitiated,
	})
	rec := api.do(t, http.MethodPost, "/admin/sessions/"+itoa(id)+"/stop", map[string]string{"reason": "customer call"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body)
	}
	var st struct {
		Session models.Session `json:"session"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&st)
	if st.Session.Status != models.SessionFailed {
		t.Fatalf("expected failed session, got %s", st.Session.Status)
	}
}

func TestListingEndpoints(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/ocpp/CP-1", "/ocpp"} {
		if rec := api.do(t, http.MethodGet, path, nil); rec.Code != http.StatusTeapot {
			t.Fatalf("%s: expected device handler, got %d", path, rec.Code)
		}
	}

	rec := api.do(t, http.MethodGet, "/admin/chargepoints", nil)
	var cps []map[string]interface{}
	_ = json.NewDecoder(rec.Body).Decode(&cps)
	if rec.Code != http.StatusOK || len(cps) != 1 || cps[0]["connected"] != false {
		t.Fatalf("unexpected listing %d %v", rec.Code, cps)
	}

	if rec := api.do(t, http.MethodGet, "/admin/sessions/active", nil); rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without cache, got %d", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/admin/commands/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown command, got %d", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/admin/chargepoints/CP-1/messages", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for message log, got %d", rec.Code)
	}
}

type fakeConnections []ws.ConnectionInfo

func (f fakeConnections) List() []ws.ConnectionInfo { return f }

func TestChargePointListingMergesConnections(t *testing.T) {
	logger := zap.NewNop()
	store := memstore.New()
	store.PutChargePoint(models.ChargePoint{ID: "CP-1", StationID: "ST-1", Available: true})
	store.PutChargePoint(models.ChargePoint{ID: "CP-2", StationID: "ST-1", Available: true})
	seen := time.Now().Add(-time.Hour)
	conns := fakeConnections{
		{StationID: "CP-1", LastSeen: time.Now(), Alive: true},
		{StationID: "CP-2", LastSeen: seen, Alive: false},
		{StationID: "CP-NEW", LastSeen: time.Now(), Alive: true},
	}
	h := handlers.NewChargePointsHandlers(store.ChargePoints(), conns, service.NewStationState(), nil, nil, time.Second, logger)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/admin/chargepoints", nil), nil)
	var views []struct {
		ID         string `json:"id"`
		Registered bool   `json:"registered"`
		Connected  bool   `json:"connected"`
		Alive      bool   `json:"alive"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 entries, got %+v", views)
	}
	byID := make(map[string]int, len(views))
	for i, v := range views {
		byID[v.ID] = i
	}
	if v := views[byID["CP-1"]]; !v.Registered || !v.Connected || !v.Alive {
		t.Fatalf("CP-1 should be live: %+v", v)
	}
	if v := views[byID["CP-2"]]; !v.Connected || v.Alive {
		t.Fatalf("CP-2 should be stale: %+v", v)
	}
	if v, ok := byID["CP-NEW"]; !ok || views[v].Registered || !views[v].Alive {
		t.Fatalf("unregistered connection missing: %+v", views)
	}
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
