package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type recordedResponse struct {
	stationID string
	uniqueID  string
	code      string
	payload   string
}

type fakeResponses struct {
	mu      sync.Mutex
	results []recordedResponse
	errors  []recordedResponse
}

func (f *fakeResponses) HandleCallResult(stationID, uniqueID string, payload json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, recordedResponse{stationID: stationID, uniqueID: uniqueID, payload: string(payload)})
}

func (f *fakeResponses) HandleCallError(stationID, uniqueID, code, _ string, _ json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, recordedResponse{stationID: stationID, uniqueID: uniqueID, code: code})
}

type fakeLog struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeLog) Save(_ context.Context, _ string, direction, messageType string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, direction+":"+messageType)
	return nil
}

func newTestProcessor() (*Processor, *fakeResponses, *fakeLog) {
	router := NewRouter()
	router.Register("Heartbeat", func(context.Context, string, json.RawMessage) (interface{}, error) {
		return map[string]string{"currentTime": "2024-01-01T00:00:00Z"}, nil
	})
	router.Register("Authorize", func(_ context.Context, _ string, payload json.RawMessage) (interface{}, error) {
		req, err := Decode[struct {
			IdTag string `json:"idTag"`
		}](payload)
		if err != nil {
			return nil, err
		}
		if req.IdTag == "" {
			return nil, NewError(ErrorProtocol, "idTag required")
		}
		return map[string]string{"status": "Accepted"}, nil
	})
	router.Register("MeterValues", func(context.Context, string, json.RawMessage) (interface{}, error) {
		return nil, nil
	})
	router.Register("Panics", func(context.Context, string, json.RawMessage) (interface{}, error) {
		panic("boom")
	})
	router.Register("Fails", func(context.Context, string, json.RawMessage) (interface{}, error) {
		return nil, errors.New("database down")
	})

	responses := &fakeResponses{}
	log := &fakeLog{}
	return NewProcessor(NewParser(), router, responses, log, nil), responses, log
}

func decodeFrame(t *testing.T, frame []byte) []json.RawMessage {
	t.Helper()
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		t.Fatalf("reply is not a frame: %s", frame)
	}
	return parts
}

func TestProcessCallReturnsCallResult(t *testing.T) {
	p, _, log := newTestProcessor()

	resp, err := p.Process(context.Background(), "CP-1", []byte(`[2,"m1","Heartbeat",{}]`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	parts := decodeFrame(t, resp)
	if string(parts[0]) != "3" || string(parts[1]) != `"m1"` {
		t.Fatalf("unexpected reply %s", resp)
	}
	if len(log.entries) != 2 || log.entries[0] != "incoming:Heartbeat" || log.entries[1] != "outgoing:Heartbeat" {
		t.Fatalf("unexpected message log %v", log.entries)
	}
}

func TestProcessUnknownActionIsNotSupported(t *testing.T) {
	p, _, _ := newTestProcessor()

	resp, err := p.Process(context.Background(), "CP-1", []byte(`[2,"m2","DataTransfer",{}]`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	parts := decodeFrame(t, resp)
	if string(parts[0]) != "4" || string(parts[2]) != `"NotSupported"` {
		t.Fatalf("expected NotSupported CallError, got %s", resp)
	}
}

func TestProcessHandlerErrors(t *testing.T) {
	p, _, _ := newTestProcessor()
	cases := []struct {
		frame string
		code  string
	}{
		{`[2,"a","Authorize",{}]`, `"ProtocolError"`},
		{`[2,"b","Authorize",{"idTag":5}]`, `"ProtocolError"`},
		{`[2,"c","Panics",{}]`, `"InternalError"`},
		{`[2,"d","Fails",{}]`, `"InternalError"`},
		{`[2,"e","Authorize"]`, `"ProtocolError"`},
	}
	for _, tc := range cases {
		resp, err := p.Process(context.Background(), "CP-1", []byte(tc.frame))
		if err != nil {
			t.Fatalf("%s: process: %v", tc.frame, err)
		}
		parts := decodeFrame(t, resp)
		if string(parts[0]) != "4" || string(parts[2]) != tc.code {
			t.Fatalf("%s: expected %s, got %s", tc.frame, tc.code, resp)
		}
	}
}

func TestProcessNilResponseStillAcknowledges(t *testing.T) {
	p, _, _ := newTestProcessor()

	resp, err := p.Process(context.Background(), "CP-1", []byte(`[2,"m3","MeterValues",{"connectorId":1}]`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if string(resp) != `[3,"m3",{}]` {
		t.Fatalf("expected empty CallResult, got %s", resp)
	}
}

func TestProcessDropsMalformedFrames(t *testing.T) {
	p, _, _ := newTestProcessor()
	for _, frame := range []string{`not json`, `{"a":1}`, `[2,"x"]`, `[9,"x","y",{}]`, `["2",1,"Heartbeat",{}]`} {
		resp, err := p.Process(context.Background(), "CP-1", []byte(frame))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%s: expected ErrMalformedFrame, got %v", frame, err)
		}
		if resp != nil {
			t.Fatalf("%s: malformed frames must not be answered", frame)
		}
	}
}

func TestProcessRoutesReplies(t *testing.T) {
	p, responses, _ := newTestProcessor()

	if resp, err := p.Process(context.Background(), "CP-9", []byte(`[3,"cmd-1",{"status":"Accepted"}]`)); err != nil || resp != nil {
		t.Fatalf("call result must be consumed silently: %s %v", resp, err)
	}
	if resp, err := p.Process(context.Background(), "CP-9", []byte(`[4,"cmd-2","NotImplemented","nope",{}]`)); err != nil || resp != nil {
		t.Fatalf("call error must be consumed silently: %s %v", resp, err)
	}

	if len(responses.results) != 1 || responses.results[0].uniqueID != "cmd-1" || responses.results[0].stationID != "CP-9" {
		t.Fatalf("unexpected results %+v", responses.results)
	}
	if len(responses.errors) != 1 || responses.errors[0].code != "NotImplemented" {
		t.Fatalf("unexpected errors %+v", responses.errors)
	}
}

func TestBuildCall(t *testing.T) {
	frame, err := BuildCall("id-1", "RemoteStopTransaction", map[string]int{"transactionId": 7})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if string(frame) != `[2,"id-1","RemoteStopTransaction",{"transactionId":7}]` {
		t.Fatalf("unexpected frame %s", frame)
	}
}
