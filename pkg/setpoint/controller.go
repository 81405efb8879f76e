// Package setpoint implements the per-axis feedback controller used by the
// shooter: a PID loop evaluated once per control period that drives a
// measured value toward a stored target, with an inclusive tolerance band
// for "at setpoint" checks.
package setpoint

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

type Gains struct {
	P float64 `yaml:"p" json:"p"`
	I float64 `yaml:"i" json:"i"`
	D float64 `yaml:"d" json:"d"`
}

// Gate reports whether the mechanism may drive its actuators. When it
// returns false every computed output is forced to zero.
type Gate interface {
	Enabled() bool
}

type GateFunc func() bool

func (f GateFunc) Enabled() bool { return f() }

type Config struct {
	Name      string
	Gains     Gains
	Tolerance float64
	// Period is the fixed interval between ComputeOutput calls.
	Period time.Duration
	// MaxOutput bounds the command magnitude (volts).
	MaxOutput float64
	// SafeStartP, when non-zero, makes the controller start with P=0 and
	// raise P to this value the first time a target is set. Used on the
	// pivot so that enabling the robot never makes the arm jump toward a
	// stale setpoint.
	SafeStartP float64
}

type Controller struct {
	cfg  Config
	gate Gate

	gains  Gains
	target float64

	// latched is set once the safe-start P has been applied; it never
	// clears, so the gain bump happens at most once per controller.
	latched bool

	integral   float64
	lastError  float64
	haveLast   bool
	lastOutput float64
}

func New(cfg Config, gate Gate) (*Controller, error) {
	if cfg.Period <= 0 {
		return nil, errors.Errorf("controller %s: period must be positive, got %v", cfg.Name, cfg.Period)
	}
	if cfg.Tolerance < 0 {
		return nil, errors.Errorf("controller %s: tolerance must not be negative, got %v", cfg.Name, cfg.Tolerance)
	}
	if cfg.MaxOutput <= 0 {
		return nil, errors.Errorf("controller %s: max output must be positive, got %v", cfg.Name, cfg.MaxOutput)
	}
	if cfg.SafeStartP < 0 {
		return nil, errors.Errorf("controller %s: safe-start P must not be negative, got %v", cfg.Name, cfg.SafeStartP)
	}
	if gate == nil {
		return nil, errors.Errorf("controller %s: nil gate", cfg.Name)
	}
	c := &Controller{
		cfg:   cfg,
		gate:  gate,
		gains: cfg.Gains,
	}
	if cfg.SafeStartP > 0 {
		c.gains.P = 0
	}
	return c, nil
}

func (c *Controller) Name() string {
	return c.cfg.Name
}

// SetTarget stores a new setpoint. On a safe-start controller the first
// call also applies the configured P gain.
func (c *Controller) SetTarget(target float64) {
	if c.cfg.SafeStartP > 0 && !c.latched {
		// Only the first target can arm P, even if P was set by hand first.
		c.latched = true
		if c.gains.P == 0 {
			c.gains.P = c.cfg.SafeStartP
		}
	}
	c.target = target
}

func (c *Controller) Target() float64 {
	return c.target
}

func (c *Controller) Tolerance() float64 {
	return c.cfg.Tolerance
}

func (c *Controller) Gains() Gains {
	return c.gains
}

// SetGains replaces the gains. Once the safe-start latch has fired, a P of
// zero set here stays zero.
func (c *Controller) SetGains(g Gains) {
	c.gains = g
}

// Latched reports whether the first target has consumed the safe-start latch.
func (c *Controller) Latched() bool {
	return c.latched
}

// AtSetpoint is true when the measured value is within the tolerance of
// the target, boundary included.
func (c *Controller) AtSetpoint(measured float64) bool {
	return math.Abs(measured-c.target) <= c.cfg.Tolerance
}

// ComputeOutput runs one PID step against the measured value. While the
// gate is closed it returns zero and discards accumulated state.
func (c *Controller) ComputeOutput(measured float64) float64 {
	if !c.gate.Enabled() {
		c.Reset()
		c.lastOutput = 0
		return 0
	}

	dt := c.cfg.Period.Seconds()
	err := c.target - measured

	var deriv float64
	if c.haveLast {
		deriv = (err - c.lastError) / dt
	}
	c.lastError = err
	c.haveLast = true

	if c.gains.I != 0 {
		c.integral += err * dt
		maxIntegral := c.cfg.MaxOutput / math.Abs(c.gains.I)
		c.integral = clamp(c.integral, maxIntegral)
	}

	out := c.gains.P*err + c.gains.I*c.integral + c.gains.D*deriv
	out = clamp(out, c.cfg.MaxOutput)
	c.lastOutput = out
	return out
}

// LastOutput is the value returned by the most recent ComputeOutput.
func (c *Controller) LastOutput() float64 {
	return c.lastOutput
}

func (c *Controller) Reset() {
	c.integral = 0
	c.lastError = 0
	c.haveLast = false
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	} else if v < -limit {
		return -limit
	}
	return v
}
