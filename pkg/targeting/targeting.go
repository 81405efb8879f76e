// Package targeting turns a vision range estimate into pivot angle and
// flywheel speed targets using interpolation tables.
package targeting

import (
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/interp"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/tunable"
)

const feetPerMeter = 1 / 0.3048

// Sample is one snapshot from the vision collaborator.
type Sample struct {
	Visible        bool    `json:"visible"`
	DistanceMeters float64 `json:"distance_meters"`
}

type Solution struct {
	Visible bool
	// DistanceKey is the converted, trimmed distance used for the lookups.
	DistanceKey  float64
	AngleDegrees float64
	VelocityRPM  float64
}

// MetersToFeet is the conversion applied before lookup; both tables are
// populated in feet.
func MetersToFeet(m float64) float64 {
	return m * feetPerMeter
}

type Targeter struct {
	angles     *interp.Table
	velocities *interp.Table
	holdAngle  float64
	convert    func(float64) float64
	trim       *tunable.Tunable
}

type Option func(*Targeter)

// WithDistanceConversion replaces the meters-to-feet conversion. The
// function must produce keys in the same unit the tables were built in.
func WithDistanceConversion(f func(meters float64) float64) Option {
	return func(t *Targeter) {
		t.convert = f
	}
}

// WithDistanceTrim adds the tunable's value to the converted distance
// before lookup.
func WithDistanceTrim(trim *tunable.Tunable) Option {
	return func(t *Targeter) {
		t.trim = trim
	}
}

func New(angles, velocities *interp.Table, holdAngle float64, opts ...Option) (*Targeter, error) {
	if angles == nil || angles.Len() == 0 {
		return nil, errors.Wrap(interp.ErrEmptyTable, "angle table")
	}
	if velocities == nil || velocities.Len() == 0 {
		return nil, errors.Wrap(interp.ErrEmptyTable, "velocity table")
	}
	t := &Targeter{
		angles:     angles,
		velocities: velocities,
		holdAngle:  holdAngle,
		convert:    MetersToFeet,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Compute returns the targets for a sample. With no visible target the
// pivot parks at the hold angle and the flywheel stops, whatever distance
// the sample carries.
func (t *Targeter) Compute(s Sample) Solution {
	if !s.Visible {
		return Solution{AngleDegrees: t.holdAngle}
	}
	key := t.convert(s.DistanceMeters)
	if t.trim != nil {
		key += t.trim.Get()
	}
	return Solution{
		Visible:      true,
		DistanceKey:  key,
		AngleDegrees: t.angles.Lookup(key),
		VelocityRPM:  t.velocities.Lookup(key),
	}
}

func (t *Targeter) HoldAngle() float64 {
	return t.holdAngle
}
