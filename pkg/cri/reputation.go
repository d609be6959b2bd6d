package cri

import (
	"time"
)

// HistoryEntry is one immutable line of a node's reputation ledger.
type HistoryEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	OldScore      float64   `json:"old_score"`
	NewScore      float64   `json:"new_score"`
	Change        float64   `json:"change"`
	Reason        string    `json:"reason"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Kind          EventKind `json:"-"`
}

// NodeReputation is the full state of one node. It is owned by the Store and
// only ever handed out as a copy.
type NodeReputation struct {
	NodeID                 string
	CurrentScore           float64
	TotalTransactions      int64
	SuccessfulTransactions int64
	FailedTransactions     int64
	SuccessRate            float64
	LastActive             time.Time
	Capabilities           []string
	CalibrationScores      map[string]float64
	History                []HistoryEntry
	CreatedAt              time.Time
}

func genesis(nodeID string, now time.Time) NodeReputation {
	return NodeReputation{
		NodeID:            nodeID,
		CurrentScore:      GenesisScore,
		LastActive:        now,
		Capabilities:      []string{},
		CalibrationScores: map[string]float64{},
		History:           []HistoryEntry{},
		CreatedAt:         now,
	}
}

func (n *NodeReputation) addCapability(skillID string) {
	for _, c := range n.Capabilities {
		if c == skillID {
			return
		}
	}
	n.Capabilities = append(n.Capabilities, skillID)
}

func (n *NodeReputation) recomputeSuccessRate() {
	if n.TotalTransactions > 0 {
		n.SuccessRate = float64(n.SuccessfulTransactions) / float64(n.TotalTransactions)
		return
	}
	n.SuccessRate = 0
}

// Snapshot is the public view of a node. Timestamps are nil for a node that
// has never been referenced by an event.
type Snapshot struct {
	NodeID                 string             `json:"node_id"`
	CRIScore               float64            `json:"cri_score"`
	TotalTransactions      int64              `json:"total_transactions"`
	SuccessfulTransactions int64              `json:"successful_transactions"`
	FailedTransactions     int64              `json:"failed_transactions"`
	SuccessRate            float64            `json:"success_rate"`
	LastActive             *time.Time         `json:"last_active"`
	Capabilities           []string           `json:"capabilities"`
	CalibrationScores      map[string]float64 `json:"calibration_scores"`
	CreatedAt              *time.Time         `json:"created_at"`
}

func (n *NodeReputation) snapshot() Snapshot {
	lastActive, createdAt := n.LastActive, n.CreatedAt
	scores := make(map[string]float64, len(n.CalibrationScores))
	for k, v := range n.CalibrationScores {
		scores[k] = v
	}
	return Snapshot{
		NodeID:                 n.NodeID,
		CRIScore:               Round4(n.CurrentScore),
		TotalTransactions:      n.TotalTransactions,
		SuccessfulTransactions: n.SuccessfulTransactions,
		FailedTransactions:     n.FailedTransactions,
		SuccessRate:            Round4(n.SuccessRate),
		LastActive:             &lastActive,
		Capabilities:           append([]string{}, n.Capabilities...),
		CalibrationScores:      scores,
		CreatedAt:              &createdAt,
	}
}

func genesisSnapshot(nodeID string) Snapshot {
	return Snapshot{
		NodeID:            nodeID,
		CRIScore:          GenesisScore,
		Capabilities:      []string{},
		CalibrationScores: map[string]float64{},
	}
}

// UpdateResult is returned for every applied event.
type UpdateResult struct {
	NodeID                 string    `json:"node_id"`
	Kind                   EventKind `json:"event_type"`
	OldScore               float64   `json:"old_score"`
	NewScore               float64   `json:"new_score"`
	Change                 float64   `json:"change"`
	TotalTransactions      int64     `json:"total_transactions"`
	SuccessfulTransactions int64     `json:"successful_transactions"`
	FailedTransactions     int64     `json:"failed_transactions"`
	SuccessRate            float64   `json:"success_rate"`
}

// HistoryPage is a most-recent-first window of a node's history.
type HistoryPage struct {
	NodeID       string         `json:"node_id"`
	History      []HistoryEntry `json:"history"`
	TotalEntries int            `json:"total_entries"`
}

// CalibrationTest is a calibration history entry annotated with its node.
type CalibrationTest struct {
	HistoryEntry
	NodeID string `json:"node_id"`
}

// CalibrationPage lists calibration tests across nodes.
type CalibrationPage struct {
	Tests []CalibrationTest `json:"tests"`
	Total int               `json:"total"`
}

// ScoreBands is the node histogram by score band.
type ScoreBands struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Fair      int `json:"fair"`
	Poor      int `json:"poor"`
	Critical  int `json:"critical"`
}

func (b *ScoreBands) add(score float64) {
	switch Band(score) {
	case "excellent":
		b.Excellent++
	case "good":
		b.Good++
	case "fair":
		b.Fair++
	case "poor":
		b.Poor++
	default:
		b.Critical++
	}
}

// StatsView is the aggregate served on /stats.
type StatsView struct {
	TotalNodes        int        `json:"total_nodes"`
	AverageCRI        float64    `json:"average_cri"`
	TotalTransactions int64      `json:"total_transactions"`
	ActiveToday       int        `json:"active_today"`
	NodesByScore      ScoreBands `json:"nodes_by_score"`
}

// LeaderboardEntry is one ranked node.
type LeaderboardEntry struct {
	Rank              int     `json:"rank"`
	NodeID            string  `json:"node_id"`
	CRIScore          float64 `json:"cri_score"`
	Band              string  `json:"band"`
	TotalTransactions int64   `json:"total_transactions"`
	SuccessRate       float64 `json:"success_rate"`
}
