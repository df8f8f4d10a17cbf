package provider

import (
	"context"
	"encoding/json"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message 是一次对话中的单条消息，字段与 chat/completions 协议保持一致。
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolDefinition struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// ChatRequest 中可选字段为空时不会序列化，用于能力降级后重发同一轮。
type ChatRequest struct {
	Model          string           `json:"model"`
	Messages       []Message        `json:"messages"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	ToolChoice     string           `json:"tool_choice,omitempty"`
	Temperature    *float64         `json:"temperature,omitempty"`
	Reasoning      map[string]any   `json:"reasoning,omitempty"`
	Provider       map[string]any   `json:"provider,omitempty"`

	// Purpose 仅用于审计日志与指标标签。
	Purpose string `json:"-"`
}

type ChatResponse struct {
	Message      ResponseMessage
	FinishReason string
	StatusCode   int
	Raw          string
}

// ResponseMessage 是模型的回复；Parsed 仅在服务端提供结构化结果时非空。
type ResponseMessage struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
	Parsed    json.RawMessage
}

// AsMessage 把回复转成可追加到对话中的 assistant 消息。
func (m ResponseMessage) AsMessage() Message {
	role := m.Role
	if role == "" {
		role = RoleAssistant
	}
	return Message{Role: role, Content: m.Content, ToolCalls: m.ToolCalls}
}

// ChatClient 是决策引擎依赖的最小模型接口。
type ChatClient interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

func Float(v float64) *float64 { return &v }
