package loopstrategy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_PanicsOnUnknownMode(t *testing.T) {
	t.Parallel()
	require.Panics(t, func() { New(Mode("bogus"), Config{}) })
}

func TestNew_DispatchesRegisteredModes(t *testing.T) {
	t.Parallel()
	require.IsType(t, &fixedStrategy{}, New(ModeFixed, Config{}))
	require.IsType(t, &hybridStrategy{}, New(ModeHybrid, Config{}))
	require.IsType(t, &ralphStrategy{}, New(ModeRalph, Config{}))
}

func TestFixedStrategy_ContinuesUntilMaxIterations(t *testing.T) {
	t.Parallel()
	s := New(ModeFixed, Config{MaxIterations: 2})

	d := s.ShouldContinue(LoopContext{Iterations: []IterationSummary{{Index: 0}}})
	require.True(t, d.Continue)

	d = s.ShouldContinue(LoopContext{Iterations: []IterationSummary{{Index: 0}, {Index: 1}}})
	require.False(t, d.Continue)
	require.Equal(t, "max_iterations_reached", d.Reason)
}

func TestFixedStrategy_IgnoresPassedAndContent(t *testing.T) {
	t.Parallel()
	s := New(ModeFixed, Config{MaxIterations: 5})
	d := s.ShouldContinue(LoopContext{Iterations: []IterationSummary{{Index: 0, Passed: true}}})
	require.True(t, d.Continue, "fixedStrategy has no early-exit on Passed")
}

func TestHybridStrategy_StopsOnVerificationPassed(t *testing.T) {
	t.Parallel()
	s := newHybridStrategy(Config{MaxIterations: 10})
	d := s.ShouldContinue(LoopContext{Iterations: []IterationSummary{{AgentOutput: "done", Passed: true}}})
	require.False(t, d.Continue)
	require.Equal(t, "verification_passed", d.Reason)
}

func TestHybridStrategy_StopsOnCompletionSignal(t *testing.T) {
	t.Parallel()
	s := newHybridStrategy(Config{MaxIterations: 10, CompletionTokens: []string{"TASK_COMPLETE"}})
	d := s.ShouldContinue(LoopContext{Iterations: []IterationSummary{{AgentOutput: "all done: TASK_COMPLETE"}}})
	require.False(t, d.Continue)
	require.Equal(t, "completion_signal_detected", d.Reason)
}

// Mirrors spec.md's S5 scenario: same afterSha across iterations 1, 2, 3
// trips the content-loop detector on the third repeat.
func TestHybridStrategy_DetectsContentLoop(t *testing.T) {
	t.Parallel()
	s := newHybridStrategy(Config{MaxIterations: 10, LoopRepeatThreshold: 3, LoopWindowSize: 5})

	iterations := []IterationSummary{
		{Index: 0, AgentOutput: "first attempt output"},
	}
	d := s.ShouldContinue(LoopContext{Iterations: iterations})
	require.True(t, d.Continue)

	iterations = append(iterations, IterationSummary{Index: 1, AgentOutput: "same output"})
	d = s.ShouldContinue(LoopContext{Iterations: iterations})
	require.True(t, d.Continue)

	iterations = append(iterations, IterationSummary{Index: 2, AgentOutput: "same output"})
	d = s.ShouldContinue(LoopContext{Iterations: iterations})
	require.True(t, d.Continue)

	iterations = append(iterations, IterationSummary{Index: 3, AgentOutput: "same output"})
	d = s.ShouldContinue(LoopContext{Iterations: iterations})
	require.False(t, d.Continue)
	require.Equal(t, "content_loop_detected", d.Reason)
}

func TestHybridStrategy_DistinctOutputsDoNotTriggerLoop(t *testing.T) {
	t.Parallel()
	s := newHybridStrategy(Config{MaxIterations: 10, LoopRepeatThreshold: 3, LoopWindowSize: 5})

	outputs := []string{"alpha", "beta", "gamma", "delta"}
	var iterations []IterationSummary
	for i, out := range outputs {
		iterations = append(iterations, IterationSummary{Index: i, AgentOutput: out})
		d := s.ShouldContinue(LoopContext{Iterations: iterations})
		require.True(t, d.Continue)
	}
}

func TestHybridStrategy_OnLoopStartResetsHashHistory(t *testing.T) {
	t.Parallel()
	s := newHybridStrategy(Config{MaxIterations: 10, LoopRepeatThreshold: 2, LoopWindowSize: 5})
	iterations := []IterationSummary{
		{Index: 0, AgentOutput: "same"},
		{Index: 1, AgentOutput: "same"},
	}
	s.ShouldContinue(LoopContext{Iterations: iterations[:1]})
	d := s.ShouldContinue(LoopContext{Iterations: iterations})
	require.False(t, d.Continue, "threshold of 2 trips on the second repeat")

	s.OnLoopStart(LoopContext{})
	require.Empty(t, s.hashHistory)
}

func TestHybridStrategy_MaxIterationsStillApplies(t *testing.T) {
	t.Parallel()
	s := newHybridStrategy(Config{MaxIterations: 1})
	d := s.ShouldContinue(LoopContext{Iterations: []IterationSummary{{AgentOutput: "whatever"}}})
	require.False(t, d.Continue)
	require.Equal(t, "max_iterations_reached", d.Reason)
}

func TestRalphStrategy_StopsOnVerificationPassed(t *testing.T) {
	t.Parallel()
	s := newRalphStrategy(Config{MaxIterations: 10})
	d := s.ShouldContinue(LoopContext{Iterations: []IterationSummary{{AgentOutput: "done", Passed: true}}})
	require.False(t, d.Continue)
	require.Equal(t, "verification_passed", d.Reason)
}

func TestRalphStrategy_StopsOnCompletionSignal(t *testing.T) {
	t.Parallel()
	s := newRalphStrategy(Config{MaxIterations: 10, CompletionTokens: []string{"DONE"}})
	d := s.ShouldContinue(LoopContext{Iterations: []IterationSummary{{AgentOutput: "DONE"}}})
	require.False(t, d.Continue)
	require.Equal(t, "completion_signal_detected", d.Reason)
}

func TestRalphStrategy_DetectsConvergedOutput(t *testing.T) {
	t.Parallel()
	s := newRalphStrategy(Config{MaxIterations: 10, JaccardWindowSize: 3, JaccardThreshold: 0.9})

	iterations := []IterationSummary{{Index: 0, AgentOutput: "alpha beta gamma delta"}}
	d := s.ShouldContinue(LoopContext{Iterations: iterations})
	require.True(t, d.Continue)

	iterations = append(iterations, IterationSummary{Index: 1, AgentOutput: "alpha beta gamma delta"})
	d = s.ShouldContinue(LoopContext{Iterations: iterations})
	require.False(t, d.Continue)
	require.Equal(t, "output_converged", d.Reason)
}

func TestRalphStrategy_DivergentOutputsDoNotConverge(t *testing.T) {
	t.Parallel()
	s := newRalphStrategy(Config{MaxIterations: 10, JaccardWindowSize: 3, JaccardThreshold: 0.9})

	iterations := []IterationSummary{{Index: 0, AgentOutput: "totally unrelated words here"}}
	d := s.ShouldContinue(LoopContext{Iterations: iterations})
	require.True(t, d.Continue)

	iterations = append(iterations, IterationSummary{Index: 1, AgentOutput: "nothing shared at all"})
	d = s.ShouldContinue(LoopContext{Iterations: iterations})
	require.True(t, d.Continue)
}

func TestJaccard_IdenticalSetsIsOne(t *testing.T) {
	t.Parallel()
	a := tokenSet("alpha beta")
	b := tokenSet("alpha beta")
	require.Equal(t, 1.0, jaccard(a, b))
}

func TestJaccard_DisjointSetsIsZero(t *testing.T) {
	t.Parallel()
	a := tokenSet("alpha beta")
	b := tokenSet("gamma delta")
	require.Equal(t, 0.0, jaccard(a, b))
}

func TestJaccard_EmptySetsIsOne(t *testing.T) {
	t.Parallel()
	require.Equal(t, 1.0, jaccard(map[string]struct{}{}, map[string]struct{}{}))
}
