//go:build property
// +build property

package cri

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// eventFromCode maps a generated code onto one of the event shapes.
func eventFromCode(code int, score float64) Event {
	switch code % 5 {
	case 0:
		return Event{NodeID: "n", SkillID: "s", Kind: KindTransaction, Success: true}
	case 1:
		return Event{NodeID: "n", SkillID: "s", Kind: KindTransaction}
	case 2:
		return Event{NodeID: "n", SkillID: "s", Kind: KindTimeout}
	case 3:
		return Event{NodeID: "n", SkillID: "s", Kind: KindCalibration, TestScore: &score}
	default:
		return Event{NodeID: "n", SkillID: "s", Kind: KindCalibration}
	}
}

// Property: 0 <= score <= 5 after any event from any starting score in range.
func TestScoreStaysInRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("score is clamped to [0,5]", prop.ForAll(
		func(old float64, code int, calibration float64) bool {
			next, change := Score(old, eventFromCode(code, calibration))
			return next >= MinScore && next <= MaxScore && Round4(Round4(old)+change) == next
		},
		gen.Float64Range(MinScore, MaxScore),
		gen.IntRange(0, 100),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

// Property: successful + failed == total and success_rate matches after any
// sequence of events.
func TestCountersInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("counters stay consistent", prop.ForAll(
		func(codes []int, calibration float64) bool {
			s := NewStore()
			for _, c := range codes {
				if _, err := s.Apply(context.Background(), eventFromCode(c, calibration)); err != nil {
					return false
				}
			}
			snap := s.Get("n")
			if snap.SuccessfulTransactions+snap.FailedTransactions != snap.TotalTransactions {
				return false
			}
			if snap.TotalTransactions == 0 {
				return snap.SuccessRate == 0
			}
			want := Round4(float64(snap.SuccessfulTransactions) / float64(snap.TotalTransactions))
			return snap.SuccessRate == want && snap.CRIScore >= MinScore && snap.CRIScore <= MaxScore
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
