package domain

import "time"

// DecisionStage identifies where in the tick pipeline a decision was made.
type DecisionStage string

const (
	StageScore DecisionStage = "score"
	StageRisk  DecisionStage = "risk"
	StageExec  DecisionStage = "execution"
)

// DecisionOutcome is the coarse result of a stage.
type DecisionOutcome string

const (
	OutcomeAccepted DecisionOutcome = "accepted"
	OutcomeRejected DecisionOutcome = "rejected"
	OutcomeDegraded DecisionOutcome = "degraded"
)

// Decision is one audit row: what the pipeline did with a signal and
// why. Rejections never reach the trade log (no order exists yet), so
// the decision log is the only place strategy-performance tracking can
// see them.
type Decision struct {
	Session    string          `json:"session"`
	Timestamp  time.Time       `json:"timestamp"`
	Instrument string          `json:"instrument"`
	Strategy   string          `json:"strategy"`
	SignalID   string          `json:"signal_id"`
	Stage      DecisionStage   `json:"stage"`
	Outcome    DecisionOutcome `json:"outcome"`
	Reason     string          `json:"reason,omitempty"`
	Confidence float64         `json:"confidence"`
	Detail     string          `json:"detail,omitempty"`
}
