package lawv

import (
	"math"
	"sync/atomic"
)

// Stats holds process-wide validation counters. The average latency is
// derived on read from the running total, never stored.
type Stats struct {
	total       atomic.Int64
	successful  atomic.Int64
	failed      atomic.Int64
	totalTimeMs atomic.Int64
}

// StatsView is the aggregate served on /stats.
type StatsView struct {
	TotalValidations        int64   `json:"total_validations"`
	SuccessfulValidations   int64   `json:"successful_validations"`
	FailedValidations       int64   `json:"failed_validations"`
	SuccessRate             float64 `json:"success_rate"`
	AverageValidationTimeMs float64 `json:"average_validation_time_ms"`
	SchemasCount            int     `json:"schemas_count"`
}

// Record adds one validation outcome.
func (s *Stats) Record(valid bool, elapsedMs int64) {
	s.total.Add(1)
	if valid {
		s.successful.Add(1)
	} else {
		s.failed.Add(1)
	}
	s.totalTimeMs.Add(elapsedMs)
}

// Total reports the number of validations performed.
func (s *Stats) Total() int64 {
	return s.total.Load()
}

// View computes the aggregate. Counters are read independently, so a view
// taken during concurrent validations may lag by the in-flight calls.
func (s *Stats) View(schemasCount int) StatsView {
	total := s.total.Load()
	successful := s.successful.Load()
	v := StatsView{
		TotalValidations:      total,
		SuccessfulValidations: successful,
		FailedValidations:     s.failed.Load(),
		SchemasCount:          schemasCount,
	}
	if total > 0 {
		v.SuccessRate = round(float64(successful)/float64(total), 4)
		v.AverageValidationTimeMs = round(float64(s.totalTimeMs.Load())/float64(total), 2)
	}
	return v
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
