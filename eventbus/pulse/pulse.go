// Package pulse backs the Event Bus with goa.design/pulse streams so
// multiple AgentGate processes sharing one Redis deployment can fan out
// events to subscribers connected to any instance, not just the one
// that owns the run.
//
// Publisher is grounded on features/stream/pulse/sink.go's Envelope/Sink
// shape; Listener is grounded on features/stream/pulse/subscriber.go's
// Subscribe/consume loop. Both are adapted from session-keyed streams to
// work-order-keyed streams, and from the teacher's stream.Event to this
// module's event.Event.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	"github.com/agentgate/core/event"
)

// Client is the subset of goa.design/pulse's client the publisher and
// listener need: resolving a named stream to append to or consume from.
type Client interface {
	Stream(name string) (Stream, error)
	Close(ctx context.Context) error
}

// Stream is a single Pulse stream handle.
type Stream interface {
	Add(ctx context.Context, eventType string, payload []byte) (entryID string, err error)
	NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
}

// Sink is a Pulse consumer group cursor over a Stream.
type Sink interface {
	Subscribe() <-chan SinkEvent
	Ack(ctx context.Context, evt SinkEvent) error
	Close(ctx context.Context) error
}

// SinkEvent is one raw entry read off a Pulse stream.
type SinkEvent struct {
	Payload []byte
}

// envelope is the wire format published for every event.Event.
type envelope struct {
	Type        string          `json:"type"`
	RunID       string          `json:"run_id"`
	WorkOrderID string          `json:"work_order_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// Publisher publishes event.Event values onto a Pulse stream keyed by
// work order ID, so every subscribed AgentGate instance sees the same
// feed.
type Publisher struct {
	client Client
}

// NewPublisher constructs a Publisher over an already-configured Pulse client.
func NewPublisher(client Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pulse: client is required")
	}
	return &Publisher{client: client}, nil
}

func streamName(workOrderID string) string {
	return fmt.Sprintf("agentgate/work-order/%s", workOrderID)
}

// Publish serializes evt into an envelope and appends it to the work
// order's stream.
func (p *Publisher) Publish(ctx context.Context, evt event.Event) error {
	str, err := p.client.Stream(streamName(evt.WorkOrderID()))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("pulse: marshal payload: %w", err)
	}
	env := envelope{
		Type:        string(evt.Type()),
		RunID:       evt.RunID(),
		WorkOrderID: evt.WorkOrderID(),
		Timestamp:   evt.Timestamp(),
		Payload:     payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulse: marshal envelope: %w", err)
	}
	_, err = str.Add(ctx, env.Type, body)
	return err
}

// Close releases the underlying Pulse client.
func (p *Publisher) Close(ctx context.Context) error { return p.client.Close(ctx) }

// RawEvent is the envelope-decoded event delivered to a Listener
// subscriber; it keeps the raw payload so the caller can unmarshal into
// the concrete event.* type matching Type.
type RawEvent struct {
	Type        event.Type
	RunID       string
	WorkOrderID string
	Timestamp   time.Time
	Payload     json.RawMessage
}

// Listener consumes a work order's Pulse stream and decodes envelopes
// back into RawEvent values.
type Listener struct {
	client Client
	group  string
	buffer int
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	// Group names the Pulse consumer group. Defaults to "agentgate".
	Group string
	// Buffer sizes the output channel. Defaults to 64.
	Buffer int
}

// NewListener constructs a Listener over client.
func NewListener(client Client, opts ListenerOptions) (*Listener, error) {
	if client == nil {
		return nil, errors.New("pulse: client is required")
	}
	if opts.Group == "" {
		opts.Group = "agentgate"
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	return &Listener{client: client, group: opts.Group, buffer: opts.Buffer}, nil
}

// Subscribe opens a Pulse sink on the work order's stream and returns a
// channel of decoded events, an error channel, and a cancel function
// that stops consumption and closes the sink.
func (l *Listener) Subscribe(ctx context.Context, workOrderID string) (<-chan RawEvent, <-chan error, context.CancelFunc, error) {
	str, err := l.client.Stream(streamName(workOrderID))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, l.group)
	if err != nil {
		return nil, nil, nil, err
	}
	out := make(chan RawEvent, l.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go l.consume(runCtx, sink, out, errs)
	cancelFunc := func() {
		cancel()
		_ = sink.Close(context.Background())
	}
	return out, errs, cancelFunc, nil
}

func (l *Listener) consume(ctx context.Context, sink Sink, out chan<- RawEvent, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal(raw.Payload, &env); err != nil {
				errs <- fmt.Errorf("pulse: decode envelope: %w", err)
				return
			}
			decoded := RawEvent{
				Type:        event.Type(env.Type),
				RunID:       env.RunID,
				WorkOrderID: env.WorkOrderID,
				Timestamp:   env.Timestamp,
				Payload:     env.Payload,
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, raw); err != nil {
				errs <- fmt.Errorf("pulse: ack: %w", err)
				return
			}
		}
	}
}
