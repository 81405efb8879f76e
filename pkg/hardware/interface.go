package hardware

import (
	"context"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
)

type Interface interface {
	// Start the background loops that keep cached readings fresh.
	Start(ctx context.Context)

	// Ports wires the mechanism's motors and sensors, plus the given vision
	// source, into the shape the shooter expects.
	Ports(vision shooter.VisionPort) shooter.Ports

	// BusVoltage is the latest battery reading, or 0 if unknown.
	BusVoltage() float64

	PlaySound(path string)

	// Shutdown zeroes every output and stops the loops started by Start.
	Shutdown()
}
