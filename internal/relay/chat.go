package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"chat-relay/internal/domain"
	"chat-relay/internal/integrations/fastapi"
)

// BackendClient sends one message plus history to the chat backend and
// returns the assistant reply.
type BackendClient interface {
	Send(ctx context.Context, message string, history []domain.ChatMessage) (string, error)
}

// TurnAuditor records one completed or failed turn. An empty errorCode
// means the turn succeeded.
type TurnAuditor interface {
	SaveTurn(ctx context.Context, correlationID, message, reply, errorCode string) error
}

// ChatService forwards a single chat message to the backend and classifies
// the outcome. It holds no per-invocation state.
type ChatService struct {
	backend BackendClient
	audit   TurnAuditor
}

type ChatInput struct {
	Message       string
	History       []domain.ChatMessage
	CorrelationID string
}

type ChatOutput struct {
	Reply   string
	History []domain.ChatMessage
}

// NewChatService creates a ChatService. audit may be nil to disable the
// turn audit trail.
func NewChatService(backend BackendClient, audit TurnAuditor) (*ChatService, error) {
	if backend == nil {
		return nil, errors.New("relay: backend client must not be nil")
	}
	return &ChatService{backend: backend, audit: audit}, nil
}

// Relay validates the input, issues exactly one backend call, and on
// success returns the reply together with the caller's history plus the
// user and assistant turns appended. The input history is never mutated.
func (s *ChatService) Relay(ctx context.Context, in ChatInput) (ChatOutput, error) {
	if strings.TrimSpace(in.Message) == "" {
		return ChatOutput{}, newError(ErrorMissingField, "empty_message", nil)
	}

	reply, err := s.backend.Send(ctx, in.Message, in.History)
	if err != nil {
		relayErr := classify(err)
		s.recordTurn(ctx, in, "", string(relayErr.Code))
		return ChatOutput{}, relayErr
	}

	updated := make([]domain.ChatMessage, 0, len(in.History)+2)
	updated = append(updated, in.History...)
	updated = append(updated,
		domain.ChatMessage{Role: "user", Content: in.Message},
		domain.ChatMessage{Role: "assistant", Content: reply},
	)

	s.recordTurn(ctx, in, reply, "")
	return ChatOutput{Reply: reply, History: updated}, nil
}

// recordTurn writes the audit record best-effort. Failures are logged and
// never change the reply.
func (s *ChatService) recordTurn(ctx context.Context, in ChatInput, reply, errorCode string) {
	if s.audit == nil {
		return
	}
	// The invocation context may already be expired when the turn failed
	// on a deadline.
	auditCtx := context.WithoutCancel(ctx)
	if err := s.audit.SaveTurn(auditCtx, in.CorrelationID, in.Message, reply, errorCode); err != nil {
		slog.Warn("turn audit write failed", "correlationId", in.CorrelationID, "err", err)
	}
}

// classify maps a backend client failure to the relay error taxonomy.
func classify(err error) *Error {
	var statusErr *fastapi.HTTPStatusError
	var invalidErr *fastapi.InvalidResponseError
	var urlErr *url.Error

	switch {
	case errors.Is(err, fastapi.ErrEndpointNotConfigured):
		return newError(ErrorConfiguration, "endpoint_not_configured", err)
	case errors.As(err, &statusErr):
		e := newError(ErrorBackend, "backend_status", err)
		e.Status = statusErr.StatusCode
		e.Detail = backendDetail(statusErr.Body)
		return e
	case errors.As(err, &invalidErr):
		return newError(ErrorInvalidBackendResponse, "backend_contract_violation", err)
	case isTimeout(err):
		return newError(ErrorTimeout, "backend_timeout", err)
	case errors.As(err, &urlErr):
		return newError(ErrorUnreachable, "backend_unreachable", err)
	default:
		return newError(ErrorInternal, "unexpected_error", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// backendDetail extracts the most useful diagnostic from a backend error
// body: the detail field when the body is a JSON object carrying one, the
// raw text otherwise.
func backendDetail(body string) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(payload.Detail); err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(body)
}
