package domain

import "time"

// Role values allowed on a Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged utterance within a thread. Messages are
// immutable once created; their order within a thread is creation order.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatThread is a persisted conversation between a user and an inference
// model. ID is assigned at creation and is the sole lookup key. Threads
// returned from the store or the orchestrator are snapshots, not live
// references.
type ChatThread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	UserID    string    `json:"user_id,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
