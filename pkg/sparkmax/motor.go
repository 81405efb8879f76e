package sparkmax

import (
	"math"
	"time"
)

// Motor is one controller on a Bus. It satisfies the shooter's actuator,
// position and velocity ports.
type Motor struct {
	bus *Bus
	id  uint8

	inverted      bool
	gearRatio     float64
	offsetDegrees float64
	followers     []*Motor
}

type MotorOption func(*Motor)

func Inverted() MotorOption {
	return func(m *Motor) { m.inverted = true }
}

// WithGearRatio sets motor rotations per mechanism rotation.
func WithGearRatio(ratio float64) MotorOption {
	return func(m *Motor) { m.gearRatio = ratio }
}

// WithOffsetDegrees is subtracted from the mechanism angle.
func WithOffsetDegrees(offset float64) MotorOption {
	return func(m *Motor) { m.offsetDegrees = offset }
}

// WithFollowers makes every voltage command go to the followers too.
func WithFollowers(followers ...*Motor) MotorOption {
	return func(m *Motor) { m.followers = append(m.followers, followers...) }
}

func (m *Motor) ID() uint8 {
	return m.id
}

func (m *Motor) sign() float64 {
	if m.inverted {
		return -1
	}
	return 1
}

func (m *Motor) ApplyVoltage(volts float64) {
	m.bus.send(VoltageFrame(m.id, m.sign()*volts))
	for _, f := range m.followers {
		f.ApplyVoltage(volts)
	}
}

// MeasuredCurrent is the output current from the latest status frame.
func (m *Motor) MeasuredCurrent() float64 {
	return m.bus.status(m.id).status1.CurrentAmps
}

// MeasuredVelocity is the mechanism speed in rad/s.
func (m *Motor) MeasuredVelocity() float64 {
	rpm := m.sign() * m.bus.status(m.id).status1.VelocityRPM / m.gearRatio
	return rpm * 2 * math.Pi / 60
}

// MeasuredAngle is the mechanism angle in degrees.
func (m *Motor) MeasuredAngle() float64 {
	rotations := m.sign() * m.bus.status(m.id).status2.PositionRotations / m.gearRatio
	return rotations*360 - m.offsetDegrees
}

func (m *Motor) BusVolts() float64 {
	return m.bus.status(m.id).status1.BusVolts
}

// LastUpdate is when a status frame last arrived; zero if never.
func (m *Motor) LastUpdate() time.Time {
	return m.bus.status(m.id).updated
}
