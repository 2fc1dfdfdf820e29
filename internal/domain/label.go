package domain

import "time"

// LabelClass is the supervised outcome assigned to a historical signal
// by the first-touch rule.
type LabelClass string

const (
	LabelWin  LabelClass = "WIN"  // take profit touched first
	LabelLoss LabelClass = "LOSS" // stop loss touched first
	LabelFlat LabelClass = "FLAT" // neither touched within the horizon
)

// Example is one supervised training row: the feature vector and
// signal observed at decision time plus the realized outcome. The
// outcome is the only field derived from future bars.
type Example struct {
	Instrument  string
	Timestamp   time.Time
	Features    []float64 // FeatureNames order
	Direction   Direction
	RawStrength float64
	Strategy    string
	Class       LabelClass
	BarsHeld    int
	ExitPrice   float64
}

// Win reports whether the example resolved profitably.
func (e Example) Win() bool { return e.Class == LabelWin }
