package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm-chat-api/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type InferenceClient interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	ListModels(ctx context.Context) ([]domain.ModelInfo, error)
}

type ThreadStore interface {
	Create(ctx context.Context, thread domain.ChatThread) error
	Get(ctx context.Context, id string) (domain.ChatThread, error)
	List(ctx context.Context, userID string, limit int) ([]domain.ChatThread, error)
	Update(ctx context.Context, thread domain.ChatThread) error
	Delete(ctx context.Context, id string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService orchestrates thread lifecycle: it is the only component that
// mutates threads. The store holds the authoritative copy; everything this
// service returns is a snapshot.
type ChatService struct {
	params      ParamGetter
	llm         InferenceClient
	store       ThreadStore
	logger      *slog.Logger
	paramPrefix string

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	defaultModel string
}

type CreateThreadInput struct {
	Message string
	Model   string
	UserID  string
}

type AddMessageInput struct {
	ThreadID string
	Message  string
	Model    string
}

type ListThreadsInput struct {
	UserID string
	Limit  int
}

func NewChatService(p ParamGetter, llm InferenceClient, store ThreadStore, logger *slog.Logger, paramPrefix string) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: inference client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: thread store must not be nil")
	}
	if logger == nil {
		return nil, errors.New("usecase: logger must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &ChatService{
		params:      p,
		llm:         llm,
		store:       store,
		logger:      logger,
		paramPrefix: paramPrefix,
	}, nil
}

// CreateThread starts a new conversation: it sends the opening message to the
// inference provider, assembles a thread holding the user/assistant pair, and
// persists it. Nothing is persisted if inference fails, and a creation that
// cannot be re-read after the write is reported as NOT_PERSISTED rather than
// success.
func (s *ChatService) CreateThread(ctx context.Context, in CreateThreadInput) (domain.ChatThread, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return domain.ChatThread{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	model, err := s.resolveModel(ctx, in.Model)
	if err != nil {
		return domain.ChatThread{}, err
	}

	userMsg := domain.Message{Role: domain.RoleUser, Content: message, Timestamp: timeNow()}

	answer, err := s.llm.Generate(ctx, model, message)
	if err != nil {
		return domain.ChatThread{}, mapInferenceError("generate_error", err)
	}

	now := timeNow()
	thread := domain.ChatThread{
		ID:        newUUID(),
		Title:     threadTitle(message),
		Model:     model,
		UserID:    strings.TrimSpace(in.UserID),
		Messages: []domain.Message{
			userMsg,
			{Role: domain.RoleAssistant, Content: answer, Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, thread); err != nil {
		return domain.ChatThread{}, newError(ErrorStorage, "thread_create_error", err)
	}

	// The store's write acknowledgment is not trusted as proof of
	// visibility; verify with a read before reporting success.
	persisted, err := s.store.Get(ctx, thread.ID)
	if err != nil {
		if errors.Is(err, domain.ErrThreadNotFound) {
			return domain.ChatThread{}, newError(ErrorNotPersisted, "create_not_visible", err)
		}
		return domain.ChatThread{}, newError(ErrorNotPersisted, "create_verify_error", err)
	}

	s.logger.Info("created chat thread",
		"thread_id", persisted.ID,
		"model", model,
		"messages", len(persisted.Messages),
	)
	return persisted, nil
}

// AddMessage appends one user/assistant exchange to an existing thread.
// Append-and-infer is all-or-nothing: on inference failure the store is left
// untouched and the user message is not persisted.
func (s *ChatService) AddMessage(ctx context.Context, in AddMessageInput) (domain.ChatThread, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return domain.ChatThread{}, newError(ErrorInvalidInput, "empty_thread_id", nil)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return domain.ChatThread{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	model, err := s.resolveModel(ctx, in.Model)
	if err != nil {
		return domain.ChatThread{}, err
	}

	thread, err := s.store.Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, domain.ErrThreadNotFound) {
			return domain.ChatThread{}, newError(ErrorNotFound, "thread_not_found", err)
		}
		return domain.ChatThread{}, newError(ErrorStorage, "thread_get_error", err)
	}

	messages := append(append([]domain.Message{}, thread.Messages...), domain.Message{
		Role:      domain.RoleUser,
		Content:   message,
		Timestamp: timeNow(),
	})

	answer, err := s.llm.Generate(ctx, model, BuildContext(messages))
	if err != nil {
		return domain.ChatThread{}, mapInferenceError("generate_error", err)
	}

	thread.Messages = append(messages, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   answer,
		Timestamp: timeNow(),
	})
	thread.UpdatedAt = timeNow()

	if err := s.store.Update(ctx, thread); err != nil {
		if errors.Is(err, domain.ErrThreadNotFound) {
			// Lost-update race: the thread was deleted between the read
			// and the write. Surfaced, never recreated.
			return domain.ChatThread{}, newError(ErrorNotFound, "thread_deleted_concurrently", err)
		}
		return domain.ChatThread{}, newError(ErrorStorage, "thread_update_error", err)
	}

	s.logger.Info("appended to chat thread",
		"thread_id", thread.ID,
		"model", model,
		"messages", len(thread.Messages),
	)
	return thread, nil
}

func (s *ChatService) GetThread(ctx context.Context, id string) (domain.ChatThread, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ChatThread{}, newError(ErrorInvalidInput, "empty_thread_id", nil)
	}
	thread, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrThreadNotFound) {
			return domain.ChatThread{}, newError(ErrorNotFound, "thread_not_found", err)
		}
		return domain.ChatThread{}, newError(ErrorStorage, "thread_get_error", err)
	}
	return thread, nil
}

// ListThreads returns thread snapshots sorted by updated_at descending. The
// limit defaults to 20 and is capped at 100 to bound response size.
func (s *ChatService) ListThreads(ctx context.Context, in ListThreadsInput) ([]domain.ChatThread, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	threads, err := s.store.List(ctx, strings.TrimSpace(in.UserID), limit)
	if err != nil {
		return nil, newError(ErrorStorage, "thread_list_error", err)
	}
	return threads, nil
}

func (s *ChatService) DeleteThread(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return newError(ErrorInvalidInput, "empty_thread_id", nil)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrThreadNotFound) {
			return newError(ErrorNotFound, "thread_not_found", err)
		}
		return newError(ErrorStorage, "thread_delete_error", err)
	}
	s.logger.Info("deleted chat thread", "thread_id", id)
	return nil
}

func (s *ChatService) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	models, err := s.llm.ListModels(ctx)
	if err != nil {
		return nil, mapInferenceError("list_models_error", err)
	}
	return models, nil
}

// resolveModel returns the request's model when present, otherwise the
// default configured in the parameter store.
func (s *ChatService) resolveModel(ctx context.Context, model string) (string, error) {
	model = strings.TrimSpace(model)
	if model != "" {
		return model, nil
	}
	if err := s.ensureConfig(ctx); err != nil {
		return "", newError(ErrorInternal, "ssm_load_error", err)
	}
	return s.defaultModel, nil
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/default_model")
	if err != nil {
		return fmt.Errorf("usecase: load default model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("usecase: default model parameter is empty")
	}

	s.defaultModel = model
	s.cacheLoaded = true
	return nil
}

// mapInferenceError distinguishes a provider that answered with a failure
// status (retryability depends on the status) from one that could not be
// reached at all.
func mapInferenceError(reason string, err error) *Error {
	if _, ok := upstreamStatusCode(err); ok {
		return newError(ErrorInference, reason, err)
	}
	return newError(ErrorInferenceUnavailable, reason, err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}

var timeNow = func() time.Time {
	return time.Now().UTC()
}
