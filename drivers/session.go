// Package drivers provides reference AgentDriver implementations that talk
// directly to a model provider's API instead of shelling out to a CLI agent
// binary (contrast with executor.SubprocessDriver). They are peripheral,
// example collaborators, not part of the core: a deployment is free to swap
// in its own AgentDriver without ever importing this package.
//
// Each driver treats a work order's TaskPrompt (or, on a retry, Feedback) as
// a single user turn appended to the run's conversation and returns the
// model's full text response as AgentResult.Stdout, mirroring how the
// subprocess driver surfaces a coding agent's combined stdout. Multi-turn
// continuity across BUILDING phases is tracked locally by SessionID, since
// the API drivers (unlike a resumable CLI agent) have no server-side
// session of their own.
package drivers

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// turn is one message in a tracked conversation, agnostic of provider wire
// format; each driver encodes it to its own SDK's message type.
type turn struct {
	role string // "user" or "assistant"
	text string
}

// sessions is a minimal in-memory conversation tracker shared by the
// API-based drivers. It exists only so a run's FEEDBACK -> BUILDING retries
// read as one continued conversation rather than independent one-shot
// prompts; it is not durable and does not survive a process restart, which
// is acceptable for a peripheral reference driver (a production driver
// would persist history through runstore.Store or its own database).
type sessions struct {
	mu   sync.Mutex
	logs map[string][]turn
}

func newSessions() *sessions {
	return &sessions{logs: make(map[string][]turn)}
}

// append adds a user turn to sessionID's history (creating it if empty or
// unknown) and returns the full history to send to the provider.
func (s *sessions) append(sessionID, userText string) (string, []turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log := append(s.logs[sessionID], turn{role: "user", text: userText})
	history := make([]turn, len(log))
	copy(history, log)
	s.logs[sessionID] = log
	return sessionID, history
}

// recordAssistant appends the model's reply so the next retry's history
// includes it.
func (s *sessions) recordAssistant(sessionID, text string) {
	if sessionID == "" || text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[sessionID] = append(s.logs[sessionID], turn{role: "assistant", text: text})
}

func promptFor(taskPrompt, feedback string) (string, error) {
	if feedback != "" {
		return feedback, nil
	}
	if taskPrompt != "" {
		return taskPrompt, nil
	}
	return "", fmt.Errorf("drivers: request has neither TaskPrompt nor Feedback")
}
