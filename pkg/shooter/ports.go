package shooter

import "github.com/tigerbot-team/tigerbot/go-shooter/pkg/targeting"

// ActuatorPort is a motor controller output with current feedback.
type ActuatorPort interface {
	ApplyVoltage(volts float64)
	MeasuredCurrent() float64
}

// PositionSensor reports the pivot angle in degrees.
type PositionSensor interface {
	MeasuredAngle() float64
}

// VelocitySensor reports the flywheel speed in radians per second.
type VelocitySensor interface {
	MeasuredVelocity() float64
}

type VisionPort interface {
	Sample() targeting.Sample
}

// Publisher receives named telemetry values. It is fire-and-forget; the
// shooter never depends on it succeeding.
type Publisher interface {
	Publish(name string, value interface{})
}

type Ports struct {
	Pivot    ActuatorPort
	Flywheel ActuatorPort
	Kicker   ActuatorPort

	PivotAngle       PositionSensor
	FlywheelVelocity VelocitySensor
	Vision           VisionPort
}

func (p Ports) missing() []string {
	var out []string
	if p.Pivot == nil {
		out = append(out, "pivot actuator")
	}
	if p.Flywheel == nil {
		out = append(out, "flywheel actuator")
	}
	if p.Kicker == nil {
		out = append(out, "kicker actuator")
	}
	if p.PivotAngle == nil {
		out = append(out, "pivot angle sensor")
	}
	if p.FlywheelVelocity == nil {
		out = append(out, "flywheel velocity sensor")
	}
	if p.Vision == nil {
		out = append(out, "vision")
	}
	return out
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) {}
