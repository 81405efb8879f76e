package shooter

import (
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/targeting"
)

type fakeActuator struct {
	volts   float64
	current float64
	writes  int
}

func (a *fakeActuator) ApplyVoltage(v float64) {
	a.volts = v
	a.writes++
}

func (a *fakeActuator) MeasuredCurrent() float64 { return a.current }

type fakeSensors struct {
	angle    float64
	velocity float64
	sample   targeting.Sample
	reads    int
}

func (f *fakeSensors) MeasuredAngle() float64 {
	f.reads++
	return f.angle
}

func (f *fakeSensors) MeasuredVelocity() float64 { return f.velocity }

func (f *fakeSensors) Sample() targeting.Sample { return f.sample }

type recordingPublisher struct {
	values map[string]interface{}
}

func (p *recordingPublisher) Publish(name string, value interface{}) {
	if p.values == nil {
		p.values = map[string]interface{}{}
	}
	p.values[name] = value
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(string, interface{}) { panic("sink gone") }

type rig struct {
	pivot, flywheel, kicker *fakeActuator
	sensors                 *fakeSensors
}

func newRig() *rig {
	return &rig{
		pivot:    &fakeActuator{},
		flywheel: &fakeActuator{},
		kicker:   &fakeActuator{},
		sensors:  &fakeSensors{},
	}
}

func (r *rig) ports() Ports {
	return Ports{
		Pivot:            r.pivot,
		Flywheel:         r.flywheel,
		Kicker:           r.kicker,
		PivotAngle:       r.sensors,
		FlywheelVelocity: r.sensors,
		Vision:           r.sensors,
	}
}
