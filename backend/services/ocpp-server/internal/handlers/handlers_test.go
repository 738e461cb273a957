package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"chargehub/backend/services/ocpp-server/internal/billing"
	"chargehub/backend/services/ocpp-server/internal/memstore"
	"chargehub/backend/services/ocpp-server/internal/models"
	"chargehub/backend/services/ocpp-server/internal/ocpp"
	"chargehub/backend/services/ocpp-server/internal/service"
	"chargehub/backend/services/ocpp-server/internal/sessions"
)

type gateway struct {
	store     *memstore.Store
	ledger    *billing.Ledger
	txStore   *service.TransactionStore
	state     *service.StationState
	processor *ocpp.Processor
	seq       int
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	store := memstore.New()
	store.PutChargePoint(models.ChargePoint{
		ID:         "CP-1",
		StationID:  "ST-1",
		RatePerKWh: decimal.NewFromInt(10),
		Available:  true,
	})
	ledger := billing.NewLedger(store, billing.StaticTaxRates{}, nil)
	deps := sessions.Deps{
		Sessions:     store.Sessions(),
		Reservations: store.Reservations(),
		ChargePoints: store.ChargePoints(),
		Cards:        store,
		Ledger:       ledger,
		Revenue:      store,
	}

	g := &gateway{
		store:   store,
		ledger:  ledger,
		txStore: service.NewTransactionStore(),
		state:   service.NewStationState(),
	}
	router := ocpp.NewRouter()
	Register(router, Deps{
		ChargePoints:      store.ChargePoints(),
		Cards:             store,
		Resolver:          sessions.NewResolver(sessions.DefaultConfig(), deps),
		Settler:           sessions.NewFinalizer(sessions.DefaultConfig(), deps),
		Transactions:      g.txStore,
		State:             g.state,
		HeartbeatInterval: 30 * time.Second,
	})
	g.processor = ocpp.NewProcessor(ocpp.NewParser(), router, nil, store, nil)
	return g
}

// call sends a Call frame from CP-1 and returns the decoded reply frame.
func (g *gateway) call(t *testing.T, action string, payload string) []json.RawMessage {
	t.Helper()
	return g.callAs(t, "CP-1", action, payload)
}

func (g *gateway) callAs(t *testing.T, stationID, action, payload string) []json.RawMessage {
	t.Helper()
	g.seq++
	frame := fmt.Sprintf(`[2,"m-%d","%s",%s]`, g.seq, action, payload)
	reply, err := g.processor.Process(context.Background(), stationID, []byte(frame))
	if err != nil {
		t.Fatalf("process %s: %v", action, err)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(reply, &parts); err != nil {
		t.Fatalf("decode reply %s: %v", reply, err)
	}
	return parts
}

func (g *gateway) result(t *testing.T, action, payload string, out interface{}) {
	t.Helper()
	parts := g.call(t, action, payload)
	if string(parts[0]) != "3" {
		t.Fatalf("%s: expected CallResult, got %s", action, parts)
	}
	if out != nil {
		if err := json.Unmarshal(parts[2], out); err != nil {
			t.Fatalf("%s: decode payload: %v", action, err)
		}
	}
}

func (g *gateway) fund(t *testing.T, account int64, amount int64) {
	t.Helper()
	if _, err := g.ledger.Credit(context.Background(), account, decimal.NewFromInt(amount), models.MethodAdjustment, nil); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func TestBootNotificationRecordsChargePoint(t *testing.T) {
	g := newGateway(t)

	var resp struct {
		Status   string `json:"status"`
		Interval int    `json:"interval"`
	}
	g.result(t, "BootNotification", `{"chargePointVendor":"Acme","chargePointModel":"X1","firmwareVersion":"1.2"}`, &resp)
	if resp.Status != "Accepted" || resp.Interval != 30 {
		t.Fatalf("unexpected boot response %+v", resp)
	}

	cp, err := g.store.ChargePoints().Get(context.Background(), "CP-1")
	if err != nil {
		t.Fatalf("get charge point: %v", err)
	}
	if cp.Vendor != "Acme" || cp.Model != "X1" || cp.FirmwareVersion != "1.2" {
		t.Fatalf("boot info not stored: %+v", cp)
	}
	if st, ok := g.state.Get("CP-1"); !ok || st.Vendor != "Acme" {
		t.Fatalf("runtime state not updated: %+v", st)
	}
}

func TestHeartbeatRepliesWithTime(t *testing.T) {
	g := newGateway(t)

	var resp struct {
		CurrentTime time.Time `json:"currentTime"`
	}
	g.result(t, "Heartbeat", `{}`, &resp)
	if resp.CurrentTime.IsZero() {
		t.Fatalf("expected currentTime")
	}
}

func TestAuthorizeChecksCardStatus(t *testing.T) {
	g := newGateway(t)
	g.store.PutCard(models.Card{Number: "GOOD", AccountID: 1, Active: true})
	g.store.PutCard(models.Card{Number: "OFF", AccountID: 2, Active: false})

	cases := map[string]string{"GOOD": "Accepted", "OFF": "Invalid", "MISSING": "Invalid"}
	for tag, want := range cases {
		var resp struct {
			IdTagInfo struct {
				Status string `json:"status"`
			} `json:"idTagInfo"`
		}
		g.result(t, "Authorize", fmt.Sprintf(`{"idTag":%q}`, tag), &resp)
		if resp.IdTagInfo.Status != want {
			t.Fatalf("tag %s: expected %s, got %s", tag, want, resp.IdTagInfo.Status)
		}
	}
}

func TestStatusNotificationUpdatesFlags(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	g.result(t, "StatusNotification", `{"connectorId":1,"status":"Charging","errorCode":"NoError"}`, nil)
	cp, _ := g.store.ChargePoints().Get(ctx, "CP-1")
	if !cp.Occupied || cp.Available {
		t.Fatalf("expected occupied, got %+v", cp)
	}

	g.result(t, "StatusNotification", `{"connectorId":1,"status":"Available","errorCode":"NoError"}`, nil)
	cp, _ = g.store.ChargePoints().Get(ctx, "CP-1")
	if cp.Occupied || !cp.Available {
		t.Fatalf("expected available, got %+v", cp)
	}

	st, _ := g.state.Get("CP-1")
	if st.Connectors[1].Status != "Available" {
		t.Fatalf("connector state not tracked: %+v", st.Connectors)
	}
}

func TestCardTransactionLifecycle(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	g.store.PutCard(models.Card{Number: "RFID-1", AccountID: 7, Active: true})
	g.fund(t, 7, 100)

	var start struct {
		TransactionID int `json:"transactionId"`
		IdTagInfo     struct {
			Status string `json:"status"`
		} `json:"idTagInfo"`
	}
	g.result(t, "StartTransaction", `{"connectorId":0,"idTag":"RFID-1","meterStart":1000}`, &start)
	if start.IdTagInfo.Status != "Accepted" || start.TransactionID == 0 {
		t.Fatalf("unexpected start response %+v", start)
	}
	txCtx, ok := g.txStore.Get(start.TransactionID)
	if !ok || txCtx.ConnectorID != 1 {
		t.Fatalf("transaction not mapped: %+v", txCtx)
	}

	meter := fmt.Sprintf(`{"connectorId":1,"transactionId":%d,"meterValue":[{"sampledValue":[`+
		`{"value":"230","measurand":"Voltage"},`+
		`{"value":"3000","measurand":"Energy.Active.Import.Register","unit":"Wh"}]}]}`, start.TransactionID)
	g.result(t, "MeterValues", meter, nil)

	balance, _ := g.ledger.Balance(ctx, 7)
	if !balance.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected balance 80 after 2 kWh, got %s", balance)
	}

	g.result(t, "StopTransaction", fmt.Sprintf(`{"transactionId":%d,"meterStop":4000,"reason":"Local"}`, start.TransactionID), nil)

	balance, _ = g.ledger.Balance(ctx, 7)
	if !balance.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("expected balance 70 after stop, got %s", balance)
	}
	session, err := g.store.Sessions().Get(ctx, txCtx.SessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != models.SessionCompleted || !session.Cost.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected final session %+v", session)
	}
	revs := g.store.Revenues()
	if len(revs) != 1 || revs[0].Status != models.RevenueSuccess || !revs[0].Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected revenue %+v", revs)
	}
	if _, ok := g.txStore.Get(start.TransactionID); ok {
		t.Fatalf("expected mapping removed after stop")
	}
	cp, _ := g.store.ChargePoints().Get(ctx, "CP-1")
	if cp.Occupied || !cp.Available {
		t.Fatalf("charge point not released: %+v", cp)
	}
}

func TestForeignChargePointCannotTouchSession(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	g.store.PutChargePoint(models.ChargePoint{ID: "CP-2", StationID: "ST-1", RatePerKWh: decimal.NewFromInt(10), Available: true})
	g.store.PutCard(models.Card{Number: "RFID-1", AccountID: 1, Active: true})
	g.fund(t, 1, 100)

	var start struct {
		TransactionID int `json:"transactionId"`
	}
	g.result(t, "StartTransaction", `{"connectorId":1,"idTag":"RFID-1","meterStart":0}`, &start)
	txCtx, _ := g.txStore.Get(start.TransactionID)

	meter := fmt.Sprintf(`{"connectorId":1,"transactionId":%d,"meterValue":[{"sampledValue":[`+
		`{"value":"5000","measurand":"Energy.Active.Import.Register","unit":"Wh"}]}]}`, start.TransactionID)
	if parts := g.callAs(t, "CP-2", "MeterValues", meter); string(parts[0]) != "3" {
		t.Fatalf("expected ack, got %s", parts)
	}
	stop := fmt.Sprintf(`{"transactionId":%d,"meterStop":5000}`, start.TransactionID)
	if parts := g.callAs(t, "CP-2", "StopTransaction", stop); string(parts[0]) != "3" {
		t.Fatalf("expected ack, got %s", parts)
	}
	// unmapped numbers fall back to session ids, still scoped to the sender
	if parts := g.callAs(t, "CP-2", "StopTransaction", fmt.Sprintf(`{"transactionId":%d,"meterStop":5000}`, txCtx.SessionID)); string(parts[0]) != "3" {
		t.Fatalf("expected ack, got %s", parts)
	}

	if balance, _ := g.ledger.Balance(ctx, 1); !balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("foreign frames must not bill, balance %s", balance)
	}
	session, _ := g.store.Sessions().Get(ctx, txCtx.SessionID)
	if session.Status != models.SessionActive {
		t.Fatalf("foreign stop must not finalize, status %s", session.Status)
	}
	if _, ok := g.txStore.Get(start.TransactionID); !ok {
		t.Fatalf("mapping of CP-1 must survive")
	}
}

func TestMeterValuesForUnmappedTransactionAreIgnored(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	g.store.PutCard(models.Card{Number: "RFID-1", AccountID: 1, Active: true})
	g.fund(t, 1, 100)

	var start struct {
		TransactionID int `json:"transactionId"`
	}
	g.result(t, "StartTransaction", `{"connectorId":1,"idTag":"RFID-1","meterStart":0}`, &start)
	txCtx, _ := g.txStore.Get(start.TransactionID)

	meter := fmt.Sprintf(`{"connectorId":1,"transactionId":%d,"meterValue":[{"sampledValue":[`+
		`{"value":"2000","measurand":"Energy.Active.Import.Register","unit":"Wh"}]}]}`, txCtx.SessionID)
	g.result(t, "MeterValues", meter, nil)

	if balance, _ := g.ledger.Balance(ctx, 1); !balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("meter values must not resolve by session id, balance %s", balance)
	}
}

func TestStartTransactionWithoutFundingIsRejected(t *testing.T) {
	g := newGateway(t)

	parts := g.call(t, "StartTransaction", `{"connectorId":1,"idTag":"UNKNOWN","meterStart":0}`)
	if string(parts[0]) != "4" {
		t.Fatalf("expected CallError, got %s", parts)
	}
	var code, desc string
	_ = json.Unmarshal(parts[2], &code)
	_ = json.Unmarshal(parts[3], &desc)
	if code != ocpp.ErrorInternal || !strings.Contains(desc, "no valid payment method") {
		t.Fatalf("unexpected error %s %q", code, desc)
	}
	if g.txStore.Len() != 0 {
		t.Fatalf("rejected start must not map a transaction")
	}
}

func TestStopTransactionForUnknownSessionIsAcknowledged(t *testing.T) {
	g := newGateway(t)

	var resp struct {
		IdTagInfo *struct {
			Status string `json:"status"`
		} `json:"idTagInfo"`
	}
	g.result(t, "StopTransaction", `{"transactionId":424242,"meterStop":100}`, &resp)
	if resp.IdTagInfo == nil || resp.IdTagInfo.Status != "Accepted" {
		t.Fatalf("expected accepted ack, got %+v", resp)
	}
}

func TestMeterValuesWithoutTransactionAreAcknowledged(t *testing.T) {
	g := newGateway(t)

	g.result(t, "MeterValues", `{"connectorId":1,"meterValue":[{"sampledValue":[{"value":"10"}]}]}`, nil)
	g.result(t, "MeterValues", `{"connectorId":1,"transactionId":99,"meterValue":[]}`, nil)
}

func TestMalformedPayloadIsProtocolError(t *testing.T) {
	g := newGateway(t)

	parts := g.call(t, "StartTransaction", `{"connectorId":"one"}`)
	var code string
	_ = json.Unmarshal(parts[2], &code)
	if string(parts[0]) != "4" || code != ocpp.ErrorProtocol {
		t.Fatalf("expected ProtocolError, got %s", parts)
	}
}
