// Package eventbus implements the Event Bus: per-run fan-out of
// event.Event facts to however many subscribers (streaming clients,
// loggers, the Run Store's history writer) want them, with a bounded
// buffer per subscriber so one slow reader can never block a run.
//
// The registration/fan-out shape is grounded on the teacher's
// runtime/agent/hooks.Bus, adapted from synchronous call-and-stop-at-
// first-error delivery to a buffered-channel-per-subscriber model
// (grounded on features/stream/pulse/subscriber.go's consume loop),
// since the spec requires overflow to drop events rather than block or
// disconnect.
package eventbus

import (
	"sync"

	"github.com/agentgate/core/event"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 256

// Bus fans out events published for a run to every subscriber currently
// registered for that run's work order.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{} // workOrderID -> subscriptions

	bufferSize int
}

// New constructs an in-memory Bus. bufferSize <= 0 falls back to
// DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{subs: make(map[string]map[*subscription]struct{}), bufferSize: bufferSize}
}

// Subscription is an active registration. Events() yields the live
// stream; Close unregisters and is idempotent.
type Subscription interface {
	Events() <-chan event.Event
	Close()
}

type subscription struct {
	bus         *Bus
	workOrderID string
	ch          chan event.Event
	once        sync.Once

	mu      sync.Mutex
	dropped int
}

func (s *subscription) Events() <-chan event.Event { return s.ch }

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.workOrderID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.workOrderID)
			}
		}
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe registers a new Subscription for workOrderID. Every event
// later published for that work order is delivered to it until Close.
func (b *Bus) Subscribe(workOrderID string) Subscription {
	s := &subscription{bus: b, workOrderID: workOrderID, ch: make(chan event.Event, b.bufferSize)}
	b.mu.Lock()
	if b.subs[workOrderID] == nil {
		b.subs[workOrderID] = make(map[*subscription]struct{})
	}
	b.subs[workOrderID][s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers evt to every subscriber registered for its work
// order. Delivery never blocks: a full subscriber buffer has its oldest
// events dropped to make room for evt and a synthetic BufferOverflow
// event, so subscribers can tell they missed something instead of
// silently losing data. A buffer of size 1 keeps only the marker.
func (b *Bus) Publish(evt event.Event) {
	b.mu.RLock()
	set := b.subs[evt.WorkOrderID()]
	subs := make([]*subscription, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(evt)
	}
}

func (s *subscription) deliver(evt event.Event) {
	select {
	case s.ch <- evt:
		return
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop the oldest buffered events until there is room for a
	// synthetic marker and evt, so the subscriber knows it missed
	// something. A single-slot buffer only has room for the marker, so
	// evt itself counts as dropped there.
	room := 2
	if cap(s.ch) < room {
		room = cap(s.ch)
		s.dropped++
	}
	for cap(s.ch)-len(s.ch) < room {
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
	overflow := event.NewBufferOverflow(evt.RunID(), evt.WorkOrderID(), s.dropped)
	select {
	case s.ch <- overflow:
	default:
	}
	select {
	case s.ch <- evt:
	default:
	}
}
