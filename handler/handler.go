package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"chat-relay/internal/domain"
	"chat-relay/internal/relay"
)

// Response is the envelope shape the API gateway expects back.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// RelayService is the single operation the handler depends on.
type RelayService interface {
	Relay(ctx context.Context, in relay.ChatInput) (relay.ChatOutput, error)
}

type Handler struct {
	relay RelayService
}

func NewHandler(r RelayService) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: relay service must not be nil")
	}
	return &Handler{relay: r}, nil
}

// inboundEvent is the subset of the gateway event the handler reads. Body
// arrives either as a JSON-encoded string (the usual proxy shape) or as an
// already-parsed object.
type inboundEvent struct {
	Body           json.RawMessage   `json:"body"`
	Headers        map[string]string `json:"headers"`
	RequestContext struct {
		Authorizer struct {
			Claims map[string]any `json:"claims"`
		} `json:"authorizer"`
	} `json:"requestContext"`
}

type chatRequest struct {
	Message             string               `json:"message"`
	ConversationHistory []domain.ChatMessage `json:"conversationHistory"`
}

type chatResponse struct {
	Success             bool                 `json:"success"`
	Response            string               `json:"response"`
	ConversationHistory []domain.ChatMessage `json:"conversationHistory"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
}

// Handle processes one gateway event and always returns a well-formed
// envelope; no failure escapes as a Go error to the runtime.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (Response, error) {
	var event inboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		corrID := uuid.NewString()
		slog.Error("unparseable gateway event", "correlationId", corrID, "err", err)
		return errorEnvelope(corrID, relay.NewMalformedRequestError(err)), nil
	}

	corrID := correlationID(event.Headers)
	slog.Info("received chat event", "correlationId", corrID, "bodyBytes", len(event.Body))
	if len(event.RequestContext.Authorizer.Claims) > 0 {
		slog.Debug("authorizer claims present", "correlationId", corrID, "claims", event.RequestContext.Authorizer.Claims)
	}

	req, parseErr := parseChatRequest(event.Body)
	if parseErr != nil {
		slog.Warn("malformed request body", "correlationId", corrID, "err", parseErr)
		return errorEnvelope(corrID, parseErr), nil
	}

	out, err := h.relay.Relay(ctx, relay.ChatInput{
		Message:       req.Message,
		History:       req.ConversationHistory,
		CorrelationID: corrID,
	})
	if err != nil {
		var relayErr *relay.Error
		if !errors.As(err, &relayErr) {
			relayErr = &relay.Error{Code: relay.ErrorInternal, Reason: "unexpected_error", Err: err}
		}
		slog.Error("relay failed",
			"correlationId", corrID,
			"errorType", string(relayErr.Code),
			"status", relayErr.HTTPStatus(),
			"err", relayErr,
		)
		return errorEnvelope(corrID, relayErr), nil
	}

	history := out.History
	if history == nil {
		history = []domain.ChatMessage{}
	}
	slog.Info("relay succeeded", "correlationId", corrID, "historyLen", len(history))
	return envelope(corrID, http.StatusOK, chatResponse{
		Success:             true,
		Response:            out.Reply,
		ConversationHistory: history,
	}), nil
}

// parseChatRequest decodes the event body. A missing body is treated as an
// empty request (the missing message surfaces as a validation failure, not
// a parse failure, per the relay contract).
func parseChatRequest(body json.RawMessage) (chatRequest, *relay.Error) {
	var req chatRequest

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return req, nil
	}

	inner := trimmed
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return chatRequest{}, relay.NewMalformedRequestError(err)
		}
		inner = bytes.TrimSpace([]byte(s))
		if len(inner) == 0 {
			return req, nil
		}
	}

	if err := json.Unmarshal(inner, &req); err != nil {
		return chatRequest{}, relay.NewMalformedRequestError(err)
	}
	return req, nil
}

// correlationID returns the caller-supplied X-Correlation-Id header
// (matched case-insensitively) or a fresh UUID.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func baseHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Content-Type,X-Correlation-Id",
		"Access-Control-Allow-Methods": "OPTIONS,POST",
		"X-Correlation-Id":             corrID,
	}
}

func envelope(corrID string, status int, body any) Response {
	encoded, err := json.Marshal(body)
	if err != nil {
		return Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    baseHeaders(corrID),
			Body:       `{"success":false,"error":"An internal server error occurred.","errorType":"INTERNAL_ERROR"}`,
		}
	}
	return Response{
		StatusCode: status,
		Headers:    baseHeaders(corrID),
		Body:       string(encoded),
	}
}

func errorEnvelope(corrID string, relayErr *relay.Error) Response {
	return envelope(corrID, relayErr.HTTPStatus(), errorResponse{
		Success:   false,
		Error:     errorMessage(relayErr.Code),
		Detail:    relayErr.Detail,
		ErrorType: string(relayErr.Code),
	})
}

func errorMessage(code relay.ErrorCode) string {
	switch code {
	case relay.ErrorMalformedRequest:
		return "Request body is not valid JSON."
	case relay.ErrorMissingField:
		return "Message field is missing in the request body."
	case relay.ErrorConfiguration:
		return "Configuration error: backend endpoint URL not set."
	case relay.ErrorTimeout:
		return "The backend service timed out."
	case relay.ErrorUnreachable:
		return "Error communicating with the backend service."
	case relay.ErrorBackend:
		return "Backend service returned an error."
	case relay.ErrorInvalidBackendResponse:
		return "Backend service returned an unexpected response."
	default:
		return "An internal server error occurred."
	}
}
