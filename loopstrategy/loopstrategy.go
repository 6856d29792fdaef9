// Package loopstrategy implements the Loop Strategy decision oracle:
// given the history of a run's iterations, decide whether to continue,
// stop, or flag a partial acceptance. Concrete strategies are registered
// by mode rather than modeled as a class hierarchy, per the "registry
// keyed by mode enum holding constructor closures" guidance — the same
// shape the teacher uses for its policy/engine registration.
package loopstrategy

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/agentgate/core/fsm"
)

// Mode selects a concrete Strategy implementation.
type Mode string

const (
	ModeFixed  Mode = "fixed"
	ModeHybrid Mode = "hybrid"
	ModeRalph  Mode = "ralph"
)

// Config parameterizes a Strategy. Fields not relevant to a given Mode
// are ignored by that Strategy's constructor.
type Config struct {
	MaxIterations         int
	CompletionTokens      []string
	LoopWindowSize        int
	LoopRepeatThreshold   int
	JaccardWindowSize     int
	JaccardThreshold      float64
}

// IterationSummary is the slice of an Iteration a Strategy needs to make
// its decision, without depending on the full run package.
type IterationSummary struct {
	Index       int
	AgentOutput string
	Passed      bool
}

// LoopContext is passed to every Strategy call.
type LoopContext struct {
	RunID      string
	Iterations []IterationSummary
}

// Decision is the outcome of a ShouldContinue call.
type Decision struct {
	Continue          bool
	Reason            string
	Metadata          map[string]any
	TerminalEventHint fsm.Event
	PartialAccept     bool
}

// Strategy decides, after each iteration, whether a run should continue
// looping. Implementations must be safe to Reset and reuse across runs.
type Strategy interface {
	OnLoopStart(ctx LoopContext)
	ShouldContinue(ctx LoopContext) Decision
	OnIterationEnd(ctx LoopContext, d Decision)
	OnLoopEnd(ctx LoopContext, final Decision)
	Reset()
}

// Constructor builds a Strategy from a Config.
type Constructor func(cfg Config) Strategy

var registry = map[Mode]Constructor{
	ModeFixed:  func(cfg Config) Strategy { return &fixedStrategy{cfg: cfg} },
	ModeHybrid: func(cfg Config) Strategy { return newHybridStrategy(cfg) },
	ModeRalph:  func(cfg Config) Strategy { return newRalphStrategy(cfg) },
}

// New constructs the Strategy registered for mode. It panics on an
// unregistered mode since the set of modes is closed and validated at
// config-parse time, not at run time.
func New(mode Mode, cfg Config) Strategy {
	ctor, ok := registry[mode]
	if !ok {
		panic("loopstrategy: unknown mode " + string(mode))
	}
	return ctor(cfg)
}

func containsCompletionSignal(output string, tokens []string) bool {
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if indexOf(output, t) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// fixedStrategy continues until MaxIterations is reached, with no
// content-based early exit. Used as the conservative default and as a
// baseline in tests of the smarter strategies.
type fixedStrategy struct {
	cfg Config
}

func (s *fixedStrategy) OnLoopStart(LoopContext) {}

func (s *fixedStrategy) ShouldContinue(ctx LoopContext) Decision {
	if len(ctx.Iterations) >= s.cfg.MaxIterations {
		return Decision{Continue: false, Reason: "max_iterations_reached"}
	}
	return Decision{Continue: true}
}

func (s *fixedStrategy) OnIterationEnd(LoopContext, Decision) {}
func (s *fixedStrategy) OnLoopEnd(LoopContext, Decision)      {}
func (s *fixedStrategy) Reset()                               {}
