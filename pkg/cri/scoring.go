package cri

import (
	"fmt"
	"math"
)

const (
	GenesisScore = 1.0
	MinScore     = 0.0
	MaxScore     = 5.0

	successDelta = 0.05
	failureDelta = -0.20
	timeoutDelta = -0.30

	calibrationBase   = 0.05
	calibrationWeight = 0.10
	calibrationCap    = 0.15
)

// Delta is the raw score adjustment for an event.
func Delta(e Event) float64 {
	switch e.Kind {
	case KindTransaction:
		if e.Success {
			return successDelta
		}
		return failureDelta
	case KindTimeout:
		return timeoutDelta
	case KindCalibration:
		if e.TestScore == nil {
			return 0
		}
		return math.Min(calibrationBase+*e.TestScore*calibrationWeight, calibrationCap)
	}
	return 0
}

// Score applies e to old. The new score is clamped to [0,5] and rounded to
// four decimals; change is the rounded difference of the rounded scores.
func Score(old float64, e Event) (newScore, change float64) {
	old = Round4(old)
	newScore = Round4(clamp(old + Delta(e)))
	return newScore, Round4(newScore - old)
}

// Round4 rounds to four decimal places.
func Round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

func clamp(x float64) float64 {
	return math.Max(MinScore, math.Min(x, MaxScore))
}

// Reason is the human-readable history line for e.
func Reason(e Event) string {
	switch e.Kind {
	case KindCalibration:
		if e.TestScore == nil {
			return fmt.Sprintf("Calibration test for %s", e.SkillID)
		}
		return fmt.Sprintf("Calibration test for %s (score=%.2f)", e.SkillID, *e.TestScore)
	case KindTimeout:
		return fmt.Sprintf("Timeout during %s transaction", e.SkillID)
	}
	if e.Success {
		return fmt.Sprintf("Successful %s transaction", e.SkillID)
	}
	return fmt.Sprintf("Failed %s transaction (validation failed)", e.SkillID)
}

// countsAsTransaction reports whether e moves the transaction counters.
// Only a calibration that carries a score is kept out of them.
func countsAsTransaction(e Event) bool {
	return !(e.Kind == KindCalibration && e.TestScore != nil)
}

// countsAsSuccess reports whether e increments successful_transactions.
func countsAsSuccess(e Event) bool {
	return e.Kind == KindTransaction && e.Success
}

// Band names the score histogram bucket of s.
func Band(s float64) string {
	switch {
	case s >= 4:
		return "excellent"
	case s >= 3:
		return "good"
	case s >= 2:
		return "fair"
	case s >= 1:
		return "poor"
	default:
		return "critical"
	}
}
