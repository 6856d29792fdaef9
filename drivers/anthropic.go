package drivers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentgate/core/executor"
	"github.com/agentgate/core/run"
)

// MessagesClient is the subset of the Anthropic SDK used by AnthropicDriver,
// satisfied by *sdk.MessageService so tests can supply a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicDriver adapts the Anthropic Claude Messages API to
// executor.AgentDriver: one work order iteration becomes one Messages.New
// call, with the system prompt fixed and the run's session history (the
// earlier turns plus this iteration's task prompt or feedback) sent as
// the conversation.
type AnthropicDriver struct {
	msg          MessagesClient
	model        string
	maxTokens    int
	systemPrompt string
	sessions     *sessions
}

// AnthropicOptions configures an AnthropicDriver.
type AnthropicOptions struct {
	Model        string
	MaxTokens    int
	SystemPrompt string
}

// NewAnthropicDriver builds a driver from an already-constructed Anthropic
// client, or a mock satisfying MessagesClient for tests.
func NewAnthropicDriver(msg MessagesClient, opts AnthropicOptions) (*AnthropicDriver, error) {
	if msg == nil {
		return nil, errors.New("drivers: anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("drivers: anthropic model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &AnthropicDriver{
		msg:          msg,
		model:        opts.Model,
		maxTokens:    maxTokens,
		systemPrompt: opts.SystemPrompt,
		sessions:     newSessions(),
	}, nil
}

// NewAnthropicDriverFromAPIKey constructs a driver using the default
// Anthropic HTTP client and the given API key.
func NewAnthropicDriverFromAPIKey(apiKey string, opts AnthropicOptions) (*AnthropicDriver, error) {
	if apiKey == "" {
		return nil, errors.New("drivers: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicDriver(&c.Messages, opts)
}

func (d *AnthropicDriver) Execute(ctx context.Context, req executor.AgentRequest) (*run.AgentResult, error) {
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
	params := sdk.MessageNewParams{
		Model:     sdk.Model(d.model),
		MaxTokens: int64(d.maxTokens),
		Messages:  encodeTurns(history),
	}
	if d.systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: d.systemPrompt}}
	}

	msg, err := d.msg.New(ctx, params)
	if err != nil {
		return &run.AgentResult{
			Success:    false,
			Stderr:     err.Error(),
			SessionID:  sessionID,
			DurationMs: time.Since(start).Milliseconds(),
		}, fmt.Errorf("drivers: anthropic messages.new: %w", err)
	}

	text := extractText(msg)
	d.sessions.recordAssistant(sessionID, text)

	return &run.AgentResult{
		Success:    true,
		ExitCode:   0,
		Stdout:     text,
		SessionID:  sessionID,
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (d *AnthropicDriver) IsAvailable(_ context.Context) bool { return true }

func (d *AnthropicDriver) Capabilities() executor.AgentCapabilities {
	return executor.AgentCapabilities{
		SupportsSessionResume: true,
		SupportsTimeout:       true,
	}
}

func encodeTurns(history []turn) []sdk.MessageParam {
	msgs := make([]sdk.MessageParam, 0, len(history))
	for _, t := range history {
		block := sdk.NewTextBlock(t.text)
		if t.role == "assistant" {
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}
	return msgs
}

func extractText(msg *sdk.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
