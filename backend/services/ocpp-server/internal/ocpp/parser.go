package ocpp

import (
	"encoding/json"
	"fmt"

	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Message represents a parsed OCPP-J frame of any type.
type Message struct {
	MessageType      int
	UniqueID         string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// Parser decodes raw JSON OCPP frames.
type Parser struct{}

// NewParser returns parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a frame. Frames without a readable type or id yield ErrMalformedFrame;
// frames with an id but a bad shape yield *FrameError.
func (p *Parser) Parse(data []byte) (*Message, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if len(array) < 3 {
		return nil, fmt.Errorf("%w: %d elements", ErrMalformedFrame, len(array))
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, fmt.Errorf("%w: message type: %v", ErrMalformedFrame, err)
	}

	msg := &Message{MessageType: msgType}
	if err := json.Unmarshal(array[1], &msg.UniqueID); err != nil || msg.UniqueID == "" {
		return nil, fmt.Errorf("%w: unique id", ErrMalformedFrame)
	}

	switch msgType {
	case protocol.MessageTypeCall:
		if err := json.Unmarshal(array[2], &msg.Action); err != nil || msg.Action == "" {
			return nil, &FrameError{UniqueID: msg.UniqueID, Err: NewError(ErrorProtocol, "action must be a string")}
		}
		if len(array) != 4 {
			return nil, &FrameError{UniqueID: msg.UniqueID, Err: NewError(ErrorProtocol, "call frame must have 4 elements")}
		}
		msg.Payload = array[3]
	case protocol.MessageTypeCallResult:
		msg.Payload = array[2]
	case protocol.MessageTypeCallError:
		if len(array) < 4 {
			return nil, fmt.Errorf("%w: incomplete call error", ErrMalformedFrame)
		}
		_ = json.Unmarshal(array[2], &msg.ErrorCode)
		_ = json.Unmarshal(array[3], &msg.ErrorDescription)
		if len(array) > 4 {
			msg.ErrorDetails = array[4]
		}
	default:
		return nil, fmt.Errorf("%w: unsupported message type %d", ErrMalformedFrame, msgType)
	}

	return msg, nil
}

// BuildCall builds a CALL frame for a server-initiated request.
func BuildCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCall, uniqueID, action, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallResult builds standard CALLRESULT payload.
func BuildCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCallResult, uniqueID, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallError builds CALLERROR payload.
func BuildCallError(uniqueID, code, description string) ([]byte, error) {
	frame := []interface{}{protocol.MessageTypeCallError, uniqueID, code, description, map[string]string{}}
	return json.Marshal(frame)
}
