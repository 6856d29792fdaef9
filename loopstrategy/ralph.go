package loopstrategy

import "strings"

// ralphStrategy stops on an explicit completion signal or when the
// agent's recent outputs have converged: the mean Jaccard similarity of
// consecutive token sets in the recent window reaches JaccardThreshold,
// meaning further iterations are unlikely to change the outcome.
type ralphStrategy struct {
	cfg    Config
	window int
	thresh float64
	recent []map[string]struct{}
}

func newRalphStrategy(cfg Config) *ralphStrategy {
	window := cfg.JaccardWindowSize
	if window <= 0 {
		window = 3
	}
	thresh := cfg.JaccardThreshold
	if thresh <= 0 {
		thresh = 0.95
	}
	return &ralphStrategy{cfg: cfg, window: window, thresh: thresh}
}

func (s *ralphStrategy) OnLoopStart(LoopContext) { s.recent = nil }

func (s *ralphStrategy) ShouldContinue(ctx LoopContext) Decision {
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

	set := tokenSet(last.AgentOutput)
	s.recent = append(s.recent, set)
	if len(s.recent) > s.window {
		s.recent = s.recent[len(s.recent)-s.window:]
	}
	if len(s.recent) >= 2 {
		if sim := averageJaccard(s.recent); sim >= s.thresh {
			return Decision{
				Continue: false,
				Reason:   "output_converged",
				Metadata: map[string]any{"jaccardSimilarity": sim},
			}
		}
	}

	return Decision{Continue: true}
}

func (s *ralphStrategy) OnIterationEnd(LoopContext, Decision) {}
func (s *ralphStrategy) OnLoopEnd(LoopContext, Decision)      {}
func (s *ralphStrategy) Reset()                               { s.recent = nil }

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func averageJaccard(sets []map[string]struct{}) float64 {
	if len(sets) < 2 {
		return 0
	}
	total := 0.0
	count := 0
	for i := 1; i < len(sets); i++ {
		total += jaccard(sets[i-1], sets[i])
		count++
	}
	return total / float64(count)
}
