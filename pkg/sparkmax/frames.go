// Package sparkmax talks to REV SPARK MAX motor controllers over SocketCAN.
package sparkmax

import (
	"encoding/binary"
	"math"

	"go.einride.tech/can"
)

// Arbitration id layout (29-bit extended):
//
//	[28:24] device type  [23:16] manufacturer  [15:6] API  [5:0] device id
const (
	deviceTypeMotorController = 2
	manufacturerREV           = 5

	apiVoltageSetpoint = 0x042
	apiStatus1         = 0x061
	apiStatus2         = 0x062
	apiHeartbeat       = 0x0B2

	MaxDeviceID = 0x3F
)

func arbitrationID(api uint16, device uint8) uint32 {
	return deviceTypeMotorController<<24 |
		manufacturerREV<<16 |
		uint32(api&0x3FF)<<6 |
		uint32(device&MaxDeviceID)
}

// splitID is the inverse of arbitrationID. ok is false for frames from
// other manufacturers or device types.
func splitID(id uint32) (api uint16, device uint8, ok bool) {
	if id>>24&0x1F != deviceTypeMotorController || id>>16&0xFF != manufacturerREV {
		return 0, 0, false
	}
	return uint16(id >> 6 & 0x3FF), uint8(id & MaxDeviceID), true
}

// VoltageFrame commands a duty cycle that produces volts at the motor,
// compensated by the controller for bus sag.
func VoltageFrame(device uint8, volts float64) can.Frame {
	f := can.Frame{
		ID:         arbitrationID(apiVoltageSetpoint, device),
		Length:     8,
		IsExtended: true,
	}
	binary.LittleEndian.PutUint32(f.Data[0:4], math.Float32bits(float32(volts)))
	return f
}

// HeartbeatFrame keeps every device whose bit is set in enabled out of its
// watchdog-disabled state.
func HeartbeatFrame(enabled uint64) can.Frame {
	f := can.Frame{
		ID:         arbitrationID(apiHeartbeat, 0),
		Length:     8,
		IsExtended: true,
	}
	binary.LittleEndian.PutUint64(f.Data[:], enabled)
	return f
}

// Status1 is the periodic velocity/electrical status.
type Status1 struct {
	VelocityRPM  float64
	TemperatureC float64
	BusVolts     float64
	CurrentAmps  float64
}

func decodeStatus1(d can.Data) Status1 {
	busRaw := uint16(d[5]) | uint16(d[6]&0x0F)<<8
	currentRaw := uint16(d[6]>>4) | uint16(d[7])<<4
	return Status1{
		VelocityRPM:  float64(math.Float32frombits(binary.LittleEndian.Uint32(d[0:4]))),
		TemperatureC: float64(d[4]),
		BusVolts:     float64(busRaw) / 128,
		CurrentAmps:  float64(currentRaw) / 32,
	}
}

// Frame encodes the status the way the controller sends it. Used by the
// simulator and tests.
func (s Status1) Frame(device uint8) can.Frame {
	f := can.Frame{
		ID:         arbitrationID(apiStatus1, device),
		Length:     8,
		IsExtended: true,
	}
	binary.LittleEndian.PutUint32(f.Data[0:4], math.Float32bits(float32(s.VelocityRPM)))
	f.Data[4] = uint8(clampRaw(s.TemperatureC, 0xFF))
	bus := clampRaw(s.BusVolts*128, 0xFFF)
	current := clampRaw(s.CurrentAmps*32, 0xFFF)
	f.Data[5] = uint8(bus)
	f.Data[6] = uint8(bus>>8&0x0F) | uint8(current&0x0F)<<4
	f.Data[7] = uint8(current >> 4)
	return f
}

// Status2 carries the integrated encoder position.
type Status2 struct {
	PositionRotations float64
}

func decodeStatus2(d can.Data) Status2 {
	return Status2{
		PositionRotations: float64(math.Float32frombits(binary.LittleEndian.Uint32(d[0:4]))),
	}
}

func (s Status2) Frame(device uint8) can.Frame {
	f := can.Frame{
		ID:         arbitrationID(apiStatus2, device),
		Length:     8,
		IsExtended: true,
	}
	binary.LittleEndian.PutUint32(f.Data[0:4], math.Float32bits(float32(s.PositionRotations)))
	return f
}

func clampRaw(v float64, max uint16) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= float64(max) {
		return max
	}
	return uint16(math.Round(v))
}
