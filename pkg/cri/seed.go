package cri

import "time"

// SeedDemo installs the demo nodes used by local deployments. It is a no-op
// when the store already holds any node, and reports whether it seeded.
func (s *Store) SeedDemo() bool {
	if s.Len() > 0 {
		return false
	}
	now := s.now()

	alpha := NodeReputation{
		NodeID:                 "node_alpha_123",
		CurrentScore:           4.2,
		TotalTransactions:      150,
		SuccessfulTransactions: 142,
		FailedTransactions:     8,
		LastActive:             now.Add(-30 * time.Minute),
		Capabilities:           []string{"csv_parser", "pdf_reader", "sentiment_analyzer"},
		CalibrationScores: map[string]float64{
			"csv_parser":         0.95,
			"pdf_reader":         0.88,
			"sentiment_analyzer": 0.92,
		},
		History: []HistoryEntry{{
			Timestamp:     now.Add(-24 * time.Hour),
			OldScore:      4.1,
			NewScore:      4.2,
			Change:        0.1,
			Reason:        "Successful csv_parser transaction",
			TransactionID: "tx_001",
			Kind:          KindTransaction,
		}},
		CreatedAt: now.Add(-30 * 24 * time.Hour),
	}
	alpha.recomputeSuccessRate()

	beta := NodeReputation{
		NodeID:                 "node_beta_456",
		CurrentScore:           2.8,
		TotalTransactions:      45,
		SuccessfulTransactions: 38,
		FailedTransactions:     7,
		LastActive:             now.Add(-2 * time.Hour),
		Capabilities:           []string{"google_search", "code_reviewer"},
		CalibrationScores:      map[string]float64{"google_search": 0.75, "code_reviewer": 0.82},
		History:                []HistoryEntry{},
		CreatedAt:              now.Add(-15 * 24 * time.Hour),
	}
	beta.recomputeSuccessRate()

	gamma := genesis("node_gamma_789", now)

	seeded := false
	for _, rep := range []NodeReputation{alpha, beta, gamma} {
		if s.insert(rep) {
			seeded = true
		}
	}
	return seeded
}
