package loopstrategy

// hybridStrategy applies four checks to the latest iteration, in this
// priority order: a verification pass, the fixed max-iterations cutoff,
// an explicit completion-signal scan, then a content-hash loop detector
// that counts how often the latest output's hash occurs in a sliding
// window of recent outputs. Whichever check fires first decides the loop.
type hybridStrategy struct {
	cfg         Config
	windowSize  int
	repeatAt    int
	hashHistory []string
}

func newHybridStrategy(cfg Config) *hybridStrategy {
	window := cfg.LoopWindowSize
	if window <= 0 {
		window = 5
	}
	repeat := cfg.LoopRepeatThreshold
	if repeat <= 0 {
		repeat = 3
	}
	return &hybridStrategy{cfg: cfg, windowSize: window, repeatAt: repeat}
}

func (s *hybridStrategy) OnLoopStart(LoopContext) { s.hashHistory = nil }

func (s *hybridStrategy) ShouldContinue(ctx LoopContext) Decision {
	if len(ctx.Iterations) == 0 {
		return Decision{Continue: true}
	}
	last := ctx.Iterations[len(ctx.Iterations)-1]

	if last.Passed {
		return Decision{Continue: false, Reason: "verification_passed"}
	}

	if len(ctx.Iterations) >= s.cfg.MaxIterations {
		return Decision{Continue: false, Reason: "max_iterations_reached"}
	}

	if containsCompletionSignal(last.AgentOutput, s.cfg.CompletionTokens) {
		return Decision{Continue: false, Reason: "completion_signal_detected"}
	}

	h := contentHash(last.AgentOutput)
	s.hashHistory = append(s.hashHistory, h)
	if len(s.hashHistory) > s.windowSize {
		s.hashHistory = s.hashHistory[len(s.hashHistory)-s.windowSize:]
	}
	if s.repeatCount(h) >= s.repeatAt {
		return Decision{
			Continue: false,
			Reason:   "content_loop_detected",
			Metadata: map[string]any{"contentHash": h, "repeatCount": s.repeatCount(h)},
		}
	}

	return Decision{Continue: true}
}

func (s *hybridStrategy) repeatCount(h string) int {
	n := 0
	for _, prev := range s.hashHistory {
		if prev == h {
			n++
		}
	}
	return n
}

func (s *hybridStrategy) OnIterationEnd(LoopContext, Decision) {}
func (s *hybridStrategy) OnLoopEnd(LoopContext, Decision)      {}
func (s *hybridStrategy) Reset()                               { s.hashHistory = nil }
