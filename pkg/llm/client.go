// Package llm provides a client for interacting with Large Language Models.
//
// Requests go through langchaingo's OpenAI-compatible chat model, so any provider
// that speaks the OpenAI chat completions protocol (DeepSeek, vLLM, Ollama) works.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docqa-go/internal/config"
	"docqa-go/pkg/errs"

	"github.com/gorilla/websocket"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultTimeout = 120 * time.Second

// Roles accepted in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// StreamChatMessages 以 role-based 消息与可选生成参数调用聊天接口。
	// writer 非空时把流式分块写入 writer；返回完整回答。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) (string, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type langchainClient struct {
	model    llms.Model
	defaults config.LLMGenerationConfig
	timeout  time.Duration
}

// NewClient creates a chat client for an OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig) (Client, error) {
	model, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	return New(model, cfg.Generation, cfg.Timeout), nil
}

// New wraps an existing langchaingo model.
func New(model llms.Model, defaults config.LLMGenerationConfig, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &langchainClient{model: model, defaults: defaults, timeout: timeout}
}

func (c *langchainClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role, err := chatRole(m.Role)
		if err != nil {
			return "", err
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	opts := c.callOptions(gen)
	if writer != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if err := writer.WriteMessage(websocket.TextMessage, chunk); err != nil {
				return fmt.Errorf("failed to write message to websocket: %w", err)
			}
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrSynthesis, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", errs.ErrSynthesis)
	}
	return resp.Choices[0].Content, nil
}

// callOptions 传参优先，否则使用配置中的非零值。
func (c *langchainClient) callOptions(gen *GenerationParams) []llms.CallOption {
	var opts []llms.CallOption
	if gen != nil {
		if gen.Temperature != nil {
			opts = append(opts, llms.WithTemperature(*gen.Temperature))
		}
		if gen.TopP != nil {
			opts = append(opts, llms.WithTopP(*gen.TopP))
		}
		if gen.MaxTokens != nil {
			opts = append(opts, llms.WithMaxTokens(*gen.MaxTokens))
		}
		return opts
	}
	if c.defaults.Temperature != 0 {
		opts = append(opts, llms.WithTemperature(c.defaults.Temperature))
	}
	if c.defaults.TopP != 0 {
		opts = append(opts, llms.WithTopP(c.defaults.TopP))
	}
	if c.defaults.MaxTokens != 0 {
		opts = append(opts, llms.WithMaxTokens(c.defaults.MaxTokens))
	}
	return opts
}

var errUnknownRole = errors.New("unknown message role")

func chatRole(role string) (llms.ChatMessageType, error) {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem, nil
	case RoleUser, "":
		return llms.ChatMessageTypeHuman, nil
	case RoleAssistant:
		return llms.ChatMessageTypeAI, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownRole, role)
	}
}
