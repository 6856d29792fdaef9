package stream

import (
	"encoding/json"
	"fmt"

	"github.com/go-faster/jx"

	"github.com/agentgate/core/event"
)

// discriminator shapes mirror the line-framed protocol spoken by
// Claude-Code-style and Codex-style agent CLIs: every line is a JSON
// object with a "type" field (and, for tool messages, a nested
// "message"/"content" envelope) that determines how the rest of the
// line should be interpreted.
const (
	wireSystem      = "system"
	wireAssistant   = "assistant"
	wireUser        = "user"
	wireResult      = "result"
)

// Parser turns individual stdout lines from a child agent process into
// event.Event values. It uses go-faster/jx to cheaply read the "type"
// discriminator before committing to a full encoding/json decode of the
// recognized shape, avoiding a full unmarshal of lines it will discard.
type Parser struct{}

// NewParser constructs a Parser. Parser holds no per-run state; one
// instance may be reused across runs.
func NewParser() *Parser { return &Parser{} }

// Feed parses a single line. A nil, nil return means the line was
// recognized but carries no event worth publishing (e.g. a system
// handshake message); a non-nil error means the line could not be
// interpreted as any known shape.
func (p *Parser) Feed(runID, workOrderID string, line []byte) (event.Event, error) {
	d := jx.DecodeBytes(line)
	wireType, err := peekType(d)
	if err != nil {
		return nil, fmt.Errorf("stream: peek type discriminator: %w", err)
	}

	switch wireType {
	case wireSystem:
		return nil, nil

	case wireAssistant:
		var msg assistantMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("stream: decode assistant message: %w", err)
		}
		return assistantToEvent(runID, workOrderID, msg), nil

	case wireUser:
		var msg userMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("stream: decode user message: %w", err)
		}
		return userToEvent(runID, workOrderID, msg), nil

	case wireResult:
		// Terminal accounting line; the executor derives AgentResult from
		// the process exit status and captured stderr instead, so there is
		// nothing further to publish here.
		return nil, nil

	default:
		return event.NewOutput(runID, workOrderID, string(line)), nil
	}
}

func peekType(d *jx.Decoder) (string, error) {
	var wireType string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "type" {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		wireType = s
		return nil
	})
	return wireType, err
}

type assistantMessage struct {
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type userMessage struct {
	Message struct {
		Content []toolResultBlock `json:"content"`
	} `json:"message"`
}

type toolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

func assistantToEvent(runID, workOrderID string, msg assistantMessage) event.Event {
	for _, block := range msg.Message.Content {
		switch block.Type {
		case "text":
			return event.NewOutput(runID, workOrderID, block.Text)
		case "tool_use":
			var input map[string]any
			_ = json.Unmarshal(block.Input, &input)
			return event.NewToolCall(runID, workOrderID, block.Name, input)
		}
	}
	return event.NewOutput(runID, workOrderID, "")
}

func userToEvent(runID, workOrderID string, msg userMessage) event.Event {
	for _, block := range msg.Message.Content {
		if block.Type == "tool_result" {
			return event.NewToolResult(runID, workOrderID, block.ToolUseID, block.Content, block.IsError)
		}
	}
	return event.NewOutput(runID, workOrderID, "")
}
