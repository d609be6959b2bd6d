package cri

import (
	"math"

	"github.com/Renator13/botnode-public/pkg/api"
)

// EventKind tags a reputation event.
type EventKind string

const (
	KindTransaction EventKind = "transaction"
	KindTimeout     EventKind = "timeout"
	KindCalibration EventKind = "calibration"
)

// UpdateRequest is the wire form of POST /v1/cri/update. Pointer fields
// distinguish "absent" from the zero value.
type UpdateRequest struct {
	NodeID           string   `json:"node_id"`
	TransactionID    string   `json:"transaction_id"`
	Success          *bool    `json:"success"`
	SkillID          string   `json:"skill_id"`
	ValidationPassed *bool    `json:"validation_passed,omitempty"`
	CalibrationTest  bool     `json:"calibration_test,omitempty"`
	TestScore        *float64 `json:"test_score,omitempty"`
}

// Event is a validated reputation event ready for scoring.
type Event struct {
	NodeID        string    `json:"node_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	SkillID       string    `json:"skill_id"`
	Kind          EventKind `json:"kind"`
	Success       bool      `json:"success"`
	// TestScore is only meaningful for calibration events.
	TestScore *float64 `json:"test_score,omitempty"`
}

// Classify picks the event kind. A calibration flag wins; a successful
// transaction comes next, so success=true with validation_passed=false still
// counts as a success. A failure is a transaction failure only when
// validation_passed=false is stated explicitly, otherwise it is a timeout.
func Classify(calibration, success bool, validationPassed *bool) EventKind {
	switch {
	case calibration:
		return KindCalibration
	case success:
		return KindTransaction
	case validationPassed != nil && !*validationPassed:
		return KindTransaction
	default:
		return KindTimeout
	}
}

// Event validates the request and converts it into an Event. Nothing is
// mutated when validation fails.
func (r UpdateRequest) Event() (Event, error) {
	switch {
	case r.NodeID == "":
		return Event{}, api.BadRequest("node_id is required")
	case r.TransactionID == "":
		return Event{}, api.BadRequest("transaction_id is required")
	case r.SkillID == "":
		return Event{}, api.BadRequest("skill_id is required")
	case r.Success == nil:
		return Event{}, api.BadRequest("success is required")
	}
	if r.TestScore != nil {
		s := *r.TestScore
		if math.IsNaN(s) || s < 0 || s > 1 {
			return Event{}, api.BadRequest("test_score must be between 0 and 1")
		}
	}

	e := Event{
		NodeID:        r.NodeID,
		TransactionID: r.TransactionID,
		SkillID:       r.SkillID,
		Kind:          Classify(r.CalibrationTest, *r.Success, r.ValidationPassed),
		Success:       *r.Success,
	}
	if e.Kind == KindCalibration && r.TestScore != nil {
		score := *r.TestScore
		e.TestScore = &score
	}
	return e, nil
}

// Validate checks an Event built in-process.
func (e Event) Validate() error {
	if e.NodeID == "" {
		return api.BadRequest("node_id is required")
	}
	if e.SkillID == "" {
		return api.BadRequest("skill_id is required")
	}
	switch e.Kind {
	case KindTransaction, KindTimeout, KindCalibration:
	default:
		return api.BadRequest("unknown event kind %q", e.Kind)
	}
	if e.TestScore != nil && (math.IsNaN(*e.TestScore) || *e.TestScore < 0 || *e.TestScore > 1) {
		return api.BadRequest("test_score must be between 0 and 1")
	}
	return nil
}
