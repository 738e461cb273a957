package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// HandlerFunc processes message payload and returns response body.
type HandlerFunc func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error)

// Router dispatches OCPP actions to handlers.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter returns router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register attaches handler to action.
func (r *Router) Register(action string, handler HandlerFunc) {
	r.handlers[action] = handler
}

// Route executes handler for message. Unknown actions yield a NotSupported error and
// handler panics are converted into InternalError.
func (r *Router) Route(ctx context.Context, stationID string, msg *Message) (resp interface{}, err error) {
	handler, ok := r.handlers[msg.Action]
	if !ok {
		return nil, NewError(ErrorNotSupported, fmt.Sprintf("action %s is not supported", msg.Action))
	}
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = NewError(ErrorInternal, fmt.Sprintf("handler panic: %v", rec))
		}
	}()
	return handler(ctx, stationID, msg.Payload)
}

// ResponseHandler receives replies to server-initiated calls.
type ResponseHandler interface {
	HandleCallResult(stationID, uniqueID string, payload json.RawMessage)
	HandleCallError(stationID, uniqueID, code, description string, details json.RawMessage)
}

// OCPPLogRepository minimal interface.
type OCPPLogRepository interface {
	Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error
}

// Processor ties together parsing, routing, and response encoding.
type Processor struct {
	parser    *Parser
	router    *Router
	responses ResponseHandler
	logger    *zap.Logger
	logRepo   OCPPLogRepository
}

// NewProcessor builds Processor. responses and logRepo may be nil.
func NewProcessor(parser *Parser, router *Router, responses ResponseHandler, logRepo OCPPLogRepository, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		parser:    parser,
		router:    router,
		responses: responses,
		logRepo:   logRepo,
		logger:    logger,
	}
}

// Process handles a raw frame and returns the reply frame, or nil when none is due.
// An error means the frame was dropped unanswered.
func (p *Processor) Process(ctx context.Context, stationID string, raw []byte) ([]byte, error) {
	msg, err := p.parser.Parse(raw)
	if err != nil {
		p.save(ctx, stationID, "incoming", "Malformed", raw)
		var frameErr *FrameError
		if errors.As(err, &frameErr) {
			return p.reply(ctx, stationID, "CallError", func() ([]byte, error) {
				return BuildCallError(frameErr.UniqueID, frameErr.Err.Code, frameErr.Err.Description)
			})
		}
		return nil, err
	}

	switch msg.MessageType {
	case protocol.MessageTypeCallResult:
		p.save(ctx, stationID, "incoming", "CallResult", raw)
		if p.responses != nil {
			p.responses.HandleCallResult(stationID, msg.UniqueID, msg.Payload)
		}
		return nil, nil
	case protocol.MessageTypeCallError:
		p.save(ctx, stationID, "incoming", "CallError", raw)
		if p.responses != nil {
			p.responses.HandleCallError(stationID, msg.UniqueID, msg.ErrorCode, msg.ErrorDescription, msg.ErrorDetails)
		}
		return nil, nil
	}

	p.save(ctx, stationID, "incoming", msg.Action, raw)

	responsePayload, err := p.router.Route(ctx, stationID, msg)
	if err != nil {
		code, description := ErrorInternal, err.Error()
		var ocppErr *Error
		if errors.As(err, &ocppErr) {
			code, description = ocppErr.Code, ocppErr.Description
		}
		p.logger.Warn("ocpp handler failed",
			zap.String("station_id", stationID),
			zap.String("action", msg.Action),
			zap.String("code", code),
			zap.Error(err),
		)
		return p.reply(ctx, stationID, msg.Action, func() ([]byte, error) {
			return BuildCallError(msg.UniqueID, code, description)
		})
	}

	if responsePayload == nil {
		responsePayload = struct{}{}
	}
	return p.reply(ctx, stationID, msg.Action, func() ([]byte, error) {
		return BuildCallResult(msg.UniqueID, responsePayload)
	})
}

func (p *Processor) reply(ctx context.Context, stationID, messageType string, build func() ([]byte, error)) ([]byte, error) {
	respBytes, err := build()
	if err != nil {
		p.logger.Error("encode ocpp response failed", zap.String("station_id", stationID), zap.Error(err))
		return nil, err
	}
	p.save(ctx, stationID, "outgoing", messageType, respBytes)
	return respBytes, nil
}

func (p *Processor) save(ctx context.Context, stationID, direction, messageType string, payload []byte) {
	if p.logRepo == nil {
		return
	}
	if err := p.logRepo.Save(ctx, stationID, direction, messageType, payload); err != nil {
		p.logger.Debug("ocpp message log failed", zap.String("station_id", stationID), zap.Error(err))
	}
}

// Decode convenience helper for handlers. Decoding failures become ProtocolError.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if len(payload) == 0 || string(payload) == "null" {
		return target, nil
	}
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, NewError(ErrorProtocol, fmt.Sprintf("invalid payload: %v", err))
	}
	return target, nil
}
