package shooter

import "time"

// Detector infers that a game piece has been pulled into the mechanism from
// a current spike on the kicker roller. There is no presence sensor.
type Detector struct {
	// GracePeriod masks the kicker's own start-up current after each mode
	// transition.
	GracePeriod      time.Duration
	CurrentThreshold float64
	HoldAngle        float64
}

type DetectorInput struct {
	Mode           Mode
	Elapsed        time.Duration
	KickerCurrent  float64
	PivotTarget    float64
	FlywheelTarget float64
}

// Acquired evaluates every condition from scratch; it keeps no state
// between calls.
func (d Detector) Acquired(in DetectorInput) bool {
	if in.Elapsed <= d.GracePeriod {
		return false
	}
	if in.KickerCurrent <= d.CurrentThreshold {
		return false
	}
	if in.Mode != Intaking {
		return false
	}
	// Exact comparison: the hold pose is only ever assigned from the same
	// constant, so equality identifies a parked pivot. An angle computed to
	// land near the hold pose counts as active.
	// TODO: switch to a tolerance band if hold targets ever come from the
	// interpolation tables rather than the constant.
	if in.PivotTarget == d.HoldAngle {
		return false
	}
	return in.FlywheelTarget != 0
}
