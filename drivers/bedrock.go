package drivers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/agentgate/core/executor"
	"github.com/agentgate/core/run"
)

// RuntimeClient is the subset of the AWS Bedrock runtime client used by
// BedrockDriver, satisfied by *bedrockruntime.Client so tests can supply a
// fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockDriver adapts the AWS Bedrock Converse API to
// executor.AgentDriver.
type BedrockDriver struct {
	runtime   RuntimeClient
	modelID   string
	system    string
	maxTokens int32
	sessions  *sessions
}

// BedrockOptions configures a BedrockDriver.
type BedrockOptions struct {
	ModelID      string
	SystemPrompt string
	MaxTokens    int32
}

// NewBedrockDriver builds a driver from an already-constructed Bedrock
// runtime client.
func NewBedrockDriver(runtime RuntimeClient, opts BedrockOptions) (*BedrockDriver, error) {
	if runtime == nil {
		return nil, errors.New("drivers: bedrock runtime client is required")
	}
	if opts.ModelID == "" {
		return nil, errors.New("drivers: bedrock model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &BedrockDriver{
		runtime:   runtime,
		modelID:   opts.ModelID,
		system:    opts.SystemPrompt,
		maxTokens: maxTokens,
		sessions:  newSessions(),
	}, nil
}

func (d *BedrockDriver) Execute(ctx context.Context, req executor.AgentRequest) (*run.AgentResult, error) {
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
	messages := make([]brtypes.Message, 0, len(history))
	for _, t := range history {
		role := brtypes.ConversationRoleUser
		if t.role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: t.text}},
		})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  &d.modelID,
		Messages: messages,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: &d.maxTokens,
		},
	}
	if d.system != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: d.system}}
	}

	out, err := d.runtime.Converse(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		detail := err.Error()
		if errors.As(err, &apiErr) {
			detail = fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return &run.AgentResult{
			Success:    false,
			Stderr:     detail,
			SessionID:  sessionID,
			DurationMs: time.Since(start).Milliseconds(),
		}, fmt.Errorf("drivers: bedrock converse: %w", err)
	}

	text := extractBedrockText(out)
	d.sessions.recordAssistant(sessionID, text)

	tokens := 0
	if out.Usage != nil {
		tokens = int(ptrInt32(out.Usage.InputTokens) + ptrInt32(out.Usage.OutputTokens))
	}

	return &run.AgentResult{
		Success:    true,
		ExitCode:   0,
		Stdout:     text,
		SessionID:  sessionID,
		TokensUsed: tokens,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (d *BedrockDriver) IsAvailable(_ context.Context) bool { return true }

func (d *BedrockDriver) Capabilities() executor.AgentCapabilities {
	return executor.AgentCapabilities{
		SupportsSessionResume: true,
		SupportsTimeout:       true,
	}
}

func extractBedrockText(out *bedrockruntime.ConverseOutput) string {
	if out == nil || out.Output == nil {
		return ""
	}
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	for _, block := range msgOutput.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			return text.Value
		}
	}
	return ""
}

func ptrInt32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
