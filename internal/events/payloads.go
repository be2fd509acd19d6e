package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK EVENTS
// =============================================================================

type TaskCreatedPayload struct {
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

type TaskStartedPayload struct {
	TaskID string        `json:"task_id"`
	Waited time.Duration `json:"waited"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

type TaskCompletedPayload struct {
	TaskID   string        `json:"task_id"`
	Duration time.Duration `json:"duration"`
	Length   int           `json:"length"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	TaskID   string        `json:"task_id"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

// =============================================================================
// CONVERSATION EVENTS
// =============================================================================

type ConversationUpdatedPayload struct {
	Role         string `json:"role"`
	MessageCount int    `json:"message_count"`
}

func (ConversationUpdatedPayload) EventType() EventType { return EventConversationUpdated }

type ConversationClearedPayload struct {
	Subjects int `json:"subjects"`
}

func (ConversationClearedPayload) EventType() EventType { return EventConversationCleared }

// =============================================================================
// DATA / SETTINGS EVENTS
// =============================================================================

type MarketDataRefreshedPayload struct {
	Bytes int    `json:"bytes,omitempty"`
	Error string `json:"error,omitempty"`
}

func (MarketDataRefreshedPayload) EventType() EventType { return EventMarketDataRefreshed }

type SettingsChangedPayload struct {
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	BeginnerMode bool   `json:"beginner_mode"`
	WebSearch    bool   `json:"web_search"`
}

func (SettingsChangedPayload) EventType() EventType { return EventSettingsChanged }

// =============================================================================
// AGENT EVENTS
// =============================================================================

type LLMCallPayload struct {
	Phase        string `json:"phase"` // request | response | error
	Model        string `json:"model"`
	MessageCount int    `json:"message_count,omitempty"`
	TokensInput  int    `json:"tokens_input,omitempty"`
	TokensOutput int    `json:"tokens_output,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

type ToolCallPayload struct {
	Status    ToolStatus `json:"status"`
	Name      string     `json:"name"`
	Arguments string     `json:"arguments,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (ToolCallPayload) EventType() EventType { return EventToolCall }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewEvent(payload.EventType(), source, toMap(payload))
}

func NewSubjectEvent(source EventSource, subject string, payload EventPayload) Event {
	e := NewTypedEvent(source, payload)
	e.Subject = subject
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
