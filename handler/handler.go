package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"llm-chat-api/internal/domain"
	"llm-chat-api/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatService is the orchestration surface the handler routes requests to.
type ChatService interface {
	CreateThread(ctx context.Context, in usecase.CreateThreadInput) (domain.ChatThread, error)
	AddMessage(ctx context.Context, in usecase.AddMessageInput) (domain.ChatThread, error)
	GetThread(ctx context.Context, id string) (domain.ChatThread, error)
	ListThreads(ctx context.Context, in usecase.ListThreadsInput) ([]domain.ChatThread, error)
	DeleteThread(ctx context.Context, id string) error
	ListModels(ctx context.Context) ([]domain.ModelInfo, error)
}

type Handler struct {
	svc    ChatService
	logger *slog.Logger
}

func NewHandler(svc ChatService, logger *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	if logger == nil {
		return nil, errors.New("handler: logger must not be nil")
	}
	return &Handler{svc: svc, logger: logger}, nil
}

type createThreadRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
	UserID  string `json:"user_id"`
}

type addMessageRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

type listThreadsResponse struct {
	Threads []domain.ChatThread `json:"threads"`
}

type listModelsResponse struct {
	Models []domain.ModelInfo `json:"models"`
}

type deleteThreadResponse struct {
	Deleted bool `json:"deleted"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes one API Gateway proxy event. Every response carries the
// caller's correlation id, or a generated one when the request had none.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	logger := h.logger.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)

	resp := h.route(ctx, event, logger)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["Content-Type"] = "application/json"
	resp.Headers[correlationHeader] = corrID
	return resp, nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest, logger *slog.Logger) events.APIGatewayProxyResponse {
	segments := pathSegments(event.Path)

	switch {
	case len(segments) == 1 && segments[0] == "models" && event.HTTPMethod == http.MethodGet:
		return h.listModels(ctx, logger)
	case len(segments) == 1 && segments[0] == "threads":
		switch event.HTTPMethod {
		case http.MethodPost:
			return h.createThread(ctx, event.Body, logger)
		case http.MethodGet:
			return h.listThreads(ctx, event.QueryStringParameters, logger)
		}
	case len(segments) == 2 && segments[0] == "threads":
		switch event.HTTPMethod {
		case http.MethodGet:
			return h.getThread(ctx, segments[1], logger)
		case http.MethodDelete:
			return h.deleteThread(ctx, segments[1], logger)
		}
	case len(segments) == 3 && segments[0] == "threads" && segments[2] == "messages" && event.HTTPMethod == http.MethodPost:
		return h.addMessage(ctx, segments[1], event.Body, logger)
	}

	return jsonResponse(http.StatusNotFound, errorResponse{
		Error:  string(usecase.ErrorNotFound),
		Reason: "route_not_found",
	})
}

func (h *Handler) createThread(ctx context.Context, body string, logger *slog.Logger) events.APIGatewayProxyResponse {
	var req createThreadRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "malformed_body",
		})
	}
	thread, err := h.svc.CreateThread(ctx, usecase.CreateThreadInput{
		Message: req.Message,
		Model:   req.Model,
		UserID:  req.UserID,
	})
	if err != nil {
		return errorToResponse(err, logger)
	}
	return jsonResponse(http.StatusOK, thread)
}

func (h *Handler) addMessage(ctx context.Context, threadID, body string, logger *slog.Logger) events.APIGatewayProxyResponse {
	var req addMessageRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "malformed_body",
		})
	}
	thread, err := h.svc.AddMessage(ctx, usecase.AddMessageInput{
		ThreadID: threadID,
		Message:  req.Message,
		Model:    req.Model,
	})
	if err != nil {
		return errorToResponse(err, logger)
	}
	return jsonResponse(http.StatusOK, thread)
}

func (h *Handler) getThread(ctx context.Context, threadID string, logger *slog.Logger) events.APIGatewayProxyResponse {
	thread, err := h.svc.GetThread(ctx, threadID)
	if err != nil {
		return errorToResponse(err, logger)
	}
	return jsonResponse(http.StatusOK, thread)
}

func (h *Handler) listThreads(ctx context.Context, query map[string]string, logger *slog.Logger) events.APIGatewayProxyResponse {
	limit := 0
	if raw, ok := query["limit"]; ok && raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return jsonResponse(http.StatusBadRequest, errorResponse{
				Error:  string(usecase.ErrorInvalidInput),
				Reason: "invalid_limit",
			})
		}
		limit = parsed
	}
	threads, err := h.svc.ListThreads(ctx, usecase.ListThreadsInput{
		UserID: query["user_id"],
		Limit:  limit,
	})
	if err != nil {
		return errorToResponse(err, logger)
	}
	if threads == nil {
		threads = []domain.ChatThread{}
	}
	return jsonResponse(http.StatusOK, listThreadsResponse{Threads: threads})
}

func (h *Handler) deleteThread(ctx context.Context, threadID string, logger *slog.Logger) events.APIGatewayProxyResponse {
	if err := h.svc.DeleteThread(ctx, threadID); err != nil {
		return errorToResponse(err, logger)
	}
	return jsonResponse(http.StatusOK, deleteThreadResponse{Deleted: true})
}

func (h *Handler) listModels(ctx context.Context, logger *slog.Logger) events.APIGatewayProxyResponse {
	models, err := h.svc.ListModels(ctx)
	if err != nil {
		return errorToResponse(err, logger)
	}
	if models == nil {
		models = []domain.ModelInfo{}
	}
	return jsonResponse(http.StatusOK, listModelsResponse{Models: models})
}

// errorToResponse maps usecase error codes to HTTP statuses. Wrapped internal
// detail (provider bodies, store driver messages) is logged here and never
// echoed to the caller.
func errorToResponse(err error, logger *slog.Logger) events.APIGatewayProxyResponse {
	code := usecase.ErrorInternal
	reason := ""
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = ucErr.Code
		reason = ucErr.Reason
	}

	status := http.StatusInternalServerError
	switch code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorInference:
		status = http.StatusBadGateway
	case usecase.ErrorInferenceUnavailable:
		status = http.StatusServiceUnavailable
	case usecase.ErrorStorage, usecase.ErrorNotPersisted, usecase.ErrorInternal:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
		logger.Error("request failed", "code", string(code), "reason", reason, "err", err)
	} else {
		logger.Info("request rejected", "code", string(code), "reason", reason)
	}

	return jsonResponse(status, errorResponse{Error: string(code), Reason: reason})
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error":"INTERNAL_ERROR","reason":"encode_response"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(raw),
	}
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// correlationID returns the caller-supplied correlation id, matched
// case-insensitively, or a fresh one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
