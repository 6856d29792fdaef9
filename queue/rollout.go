package queue

import (
	"crypto/sha256"
	"encoding/binary"
	"sync/atomic"
)

// RolloutFacade routes a run deterministically to a "legacy" or "new"
// implementation of some swappable concern (e.g. two Queue
// implementations being compared in production), optionally running
// both and recording where they disagree ("shadow mode") without the
// new path's result ever affecting behavior.
type RolloutFacade struct {
	percent int // 0-100, share of traffic routed to New
	shadow  bool

	legacy Router
	newImpl Router

	totalRouted      atomic.Int64
	routedToLegacy   atomic.Int64
	routedToNew      atomic.Int64
	shadowMismatches atomic.Int64
}

// Router is the swappable concern RolloutFacade compares two
// implementations of.
type Router interface {
	Route(runID string) (string, error)
}

// NewRolloutFacade constructs a facade routing percent% of run IDs to
// newImpl. When shadow is true, every call also invokes newImpl for
// comparison but always returns legacy's result — per the Open Question
// resolution in SPEC_FULL.md, legacy always wins ties during shadow mode.
func NewRolloutFacade(percent int, shadow bool, legacy, newImpl Router) *RolloutFacade {
	return &RolloutFacade{percent: percent, shadow: shadow, legacy: legacy, newImpl: newImpl}
}

// Route routes runID according to the configured rollout percentage.
func (f *RolloutFacade) Route(runID string) (string, error) {
	f.totalRouted.Add(1)

	useNew := bucketOf(runID) < f.percent

	if f.shadow {
		legacyResult, err := f.legacy.Route(runID)
		f.routedToLegacy.Add(1)
		if newResult, nerr := f.newImpl.Route(runID); nerr == nil && newResult != legacyResult {
			f.shadowMismatches.Add(1)
		}
		return legacyResult, err
	}

	if useNew {
		f.routedToNew.Add(1)
		return f.newImpl.Route(runID)
	}
	f.routedToLegacy.Add(1)
	return f.legacy.Route(runID)
}

// Counters is a snapshot of RolloutFacade's routing decisions.
type Counters struct {
	TotalRouted      int64
	RoutedToLegacy   int64
	RoutedToNew      int64
	ShadowMismatches int64
}

// Counters snapshots the facade's routing decisions so far.
func (f *RolloutFacade) Counters() Counters {
	return Counters{
		TotalRouted:      f.totalRouted.Load(),
		RoutedToLegacy:   f.routedToLegacy.Load(),
		RoutedToNew:      f.routedToNew.Load(),
		ShadowMismatches: f.shadowMismatches.Load(),
	}
}

// bucketOf hashes runID into a stable [0,100) bucket so the same run ID
// always routes the same way for the life of a rollout percentage.
func bucketOf(runID string) int {
	sum := sha256.Sum256([]byte(runID))
	v := binary.BigEndian.Uint32(sum[:4])
	return int(v % 100)
}
