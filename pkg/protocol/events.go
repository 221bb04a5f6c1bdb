package protocol

import "encoding/json"

// Frame is the envelope every WebSocket message shares, request or push.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewFrame(typ string, payload interface{}) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: typ, Payload: raw}, nil
}

func ErrorFrame(id, code, message string) *Frame {
	return &Frame{ID: id, Type: TypeSystemError, Error: &FrameError{Code: code, Message: message}}
}

// ChatStreamPayload is the payload carried by chat.stream push frames.
type ChatStreamPayload struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	Delta          string `json:"delta"`
	Thinking       string `json:"thinking,omitempty"`
}

// ChatToolUsePayload accompanies chat.tool_use frames, emitted when the
// Agent Runtime dispatches a tool call.
type ChatToolUsePayload struct {
	ConversationID string                 `json:"conversation_id"`
	RunID          string                 `json:"run_id"`
	ToolCallID     string                 `json:"tool_call_id"`
	Name           string                 `json:"name"`
	Arguments      map[string]interface{} `json:"arguments,omitempty"`
}

// ChatToolResultPayload accompanies chat.tool_result frames.
type ChatToolResultPayload struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	ToolCallID     string `json:"tool_call_id"`
	Name           string `json:"name"`
	IsError        bool   `json:"is_error"`
}

// ChatPlanPayload carries the step-by-step plan emitted before a multi-step
// tool sequence, when the provider surfaces one.
type ChatPlanPayload struct {
	ConversationID string   `json:"conversation_id"`
	RunID          string   `json:"run_id"`
	Steps          []string `json:"steps"`
}

// ChatDonePayload closes out a chat.send turn.
type ChatDonePayload struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	Content        string `json:"content"`
}

// ChatRoutedPayload reports the provider/model the Model Router resolved
// for this turn, so clients can surface it.
type ChatRoutedPayload struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

// ChatAgentSpawnPayload reports a sub-agent dispatched by spawn_agent.
type ChatAgentSpawnPayload struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	ChildAgentID   string `json:"child_agent_id"`
	Task           string `json:"task"`
}

// ChatAgentResultPayload reports a spawned sub-agent's completion.
type ChatAgentResultPayload struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	ChildAgentID   string `json:"child_agent_id"`
	Content        string `json:"content"`
	IsError        bool   `json:"is_error"`
}
