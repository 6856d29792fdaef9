package drivers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agentgate/core/executor"
	"github.com/agentgate/core/run"
)

// ChatClient is the subset of the OpenAI SDK used by OpenAIDriver, satisfied
// by the Chat.Completions service so tests can supply a fake.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIDriver adapts the OpenAI Chat Completions API to
// executor.AgentDriver, following the same one-turn-per-phase shape as
// AnthropicDriver.
type OpenAIDriver struct {
	chat      ChatClient
	model     string
	system    string
	sessions  *sessions
	maxTokens int
}

// OpenAIOptions configures an OpenAIDriver.
type OpenAIOptions struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// NewOpenAIDriver builds a driver from an already-constructed chat client.
func NewOpenAIDriver(chat ChatClient, opts OpenAIOptions) (*OpenAIDriver, error) {
	if chat == nil {
		return nil, errors.New("drivers: openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("drivers: openai model identifier is required")
	}
	return &OpenAIDriver{
		chat:      chat,
		model:     opts.Model,
		system:    opts.SystemPrompt,
		maxTokens: opts.MaxTokens,
		sessions:  newSessions(),
	}, nil
}

// NewOpenAIDriverFromAPIKey constructs a driver using the default OpenAI
// HTTP client and the given API key.
func NewOpenAIDriverFromAPIKey(apiKey string, opts OpenAIOptions) (*OpenAIDriver, error) {
	if apiKey == "" {
		return nil, errors.New("drivers: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIDriver(&c.Chat.Completions, opts)
}

func (d *OpenAIDriver) Execute(ctx context.Context, req executor.AgentRequest) (*run.AgentResult, error) {
	prompt, err := promptFor(req.TaskPrompt, req.Feedback)
	if err != nil {
		return nil, err
	}
	sessionID, history := d.sessions.append(req.SessionID, prompt)

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if d.system != "" {
		messages = append(messages, openai.SystemMessage(d.system))
	}
	for _, t := range history {
		if t.role == "assistant" {
			messages = append(messages, openai.AssistantMessage(t.text))
		} else {
			messages = append(messages, openai.UserMessage(t.text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    d.model,
		Messages: messages,
	}
	if d.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(d.maxTokens))
	}

	resp, err := d.chat.New(ctx, params)
	if err != nil {
		return &run.AgentResult{
			Success:    false,
			Stderr:     err.Error(),
			SessionID:  sessionID,
			DurationMs: time.Since(start).Milliseconds(),
		}, fmt.Errorf("drivers: openai chat completion: %w", err)
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	d.sessions.recordAssistant(sessionID, text)

	return &run.AgentResult{
		Success:    true,
		ExitCode:   0,
		Stdout:     text,
		SessionID:  sessionID,
		TokensUsed: int(resp.Usage.TotalTokens),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (d *OpenAIDriver) IsAvailable(_ context.Context) bool { return true }

func (d *OpenAIDriver) Capabilities() executor.AgentCapabilities {
	return executor.AgentCapabilities{
		SupportsSessionResume: true,
		SupportsTimeout:       true,
	}
}
