package domain

// ExitPolicy resolves the ambiguity of a single bar whose range touches
// both the stop and the target: OHLC data does not say which traded
// first. The same policy must drive simulated exits and labeling, or
// training data would describe a different market than the one traded.
type ExitPolicy string

const (
	// ExitStopFirst assumes the stop traded first on an ambiguous bar.
	// This is the conservative default: it never credits a win that
	// might not have happened.
	ExitStopFirst ExitPolicy = "stop_first"

	// ExitTargetFirst assumes the target traded first.
	ExitTargetFirst ExitPolicy = "target_first"
)

// Valid reports whether the policy is one of the known values.
func (p ExitPolicy) Valid() bool {
	return p == ExitStopFirst || p == ExitTargetFirst
}

// FirstTouch reports which protective level a bar touched for a trade
// in the given direction. When the bar touches both levels the policy
// decides the ordering. The returned price is the trigger price the
// exit would execute at (before slippage). ok is false when the bar
// touched neither level.
func FirstTouch(long bool, stop, target float64, b Bar, policy ExitPolicy) (reason CloseReason, price float64, ok bool) {
	stopHit := false
	if stop > 0 {
		if long {
			stopHit = b.Low <= stop
		} else {
			stopHit = b.High >= stop
		}
	}
	targetHit := false
	if target > 0 {
		if long {
			targetHit = b.High >= target
		} else {
			targetHit = b.Low <= target
		}
	}

	switch {
	case stopHit && targetHit:
		if policy == ExitTargetFirst {
			return CloseReasonTarget, target, true
		}
		return CloseReasonStop, stop, true
	case stopHit:
		return CloseReasonStop, stop, true
	case targetHit:
		return CloseReasonTarget, target, true
	default:
		return "", 0, false
	}
}
