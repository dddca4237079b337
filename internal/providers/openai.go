package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/retry"
	"github.com/droverhq/drover/pkg/models"
)

const openaiDefaultModel = "gpt-4o"

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Retry        retry.Config
	OnRetry      func(attempt int, cause error)
}

// OpenAI adapts the go-openai client to the agent.Provider capability.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
	retryCfg     retry.Config
	onRetry      func(int, error)
}

// NewOpenAI builds the adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = openaiDefaultModel
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
		retryCfg:     retryCfg,
		onRetry:      cfg.OnRetry,
	}, nil
}

func (p *OpenAI) Name() string { return "openai" }

// Complete implements agent.Provider.
func (p *OpenAI) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		model := p.model(req)
		chatReq := openai.ChatCompletionRequest{
			Model:    model,
			Messages: convertOpenAIMessages(req.Messages, req.System),
			Stream:   true,
			// Usage arrives in a final stream chunk only when asked for.
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}
		if req.MaxTokens > 0 {
			chatReq.MaxTokens = req.MaxTokens
		}
		if len(req.Tools) > 0 {
			chatReq.Tools = convertOpenAITools(req.Tools)
		}

		cfg := p.retryCfg
		cfg.OnRetry = p.onRetry
		stream, res := retry.DoWithValue(ctx, cfg, func() (*openai.ChatCompletionStream, error) {
			s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
			if err != nil {
				wrapped := Wrap(p.Name(), model, err)
				if !IsRetryable(wrapped) {
					return nil, retry.Permanent(wrapped)
				}
				return nil, wrapped
			}
			return s, nil
		})
		if res.Err != nil {
			chunks <- &agent.CompletionChunk{Error: res.Err}
			return
		}
		defer stream.Close()

		p.processStream(ctx, stream, chunks, model)
	}()

	return chunks, nil
}

func (p *OpenAI) model(req *agent.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

// processStream converts streamed deltas into CompletionChunks. Tool-call
// arguments are streamed as JSON fragments keyed by index and emitted whole
// when the stream finishes.
func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	toolCalls := make(map[int]*models.ToolCall)
	var order []int
	var usage models.Usage

	emitToolCalls := func() {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Input) == 0 {
				tc.Input = json.RawMessage(`{}`)
			}
			chunks <- &agent.CompletionChunk{ToolCall: tc}
		}
		toolCalls = make(map[int]*models.ToolCall)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				emitToolCalls()
				chunks <- &agent.CompletionChunk{
					Done:         true,
					InputTokens:  usage.InputTokens,
					OutputTokens: usage.OutputTokens,
				}
				return
			}
			chunks <- &agent.CompletionChunk{Error: Wrap(p.Name(), model, err)}
			return
		}

		if response.Usage != nil {
			usage.InputTokens = response.Usage.PromptTokens
			usage.OutputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &models.ToolCall{}
				order = append(order, idx)
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Input = append(toolCalls[idx].Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			emitToolCalls()
		}
	}
}

func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			continue

		case models.RoleTool:
			// Each result is its own tool-role message linked by call id.
			for _, res := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    res.Content,
					ToolCallID: res.ToolCallID,
				})
			}

		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			result = append(result, out)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertOpenAITools(tools []agent.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}
	}
	return result
}
