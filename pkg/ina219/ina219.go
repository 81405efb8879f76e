// Package ina219 drives the INA219 shunt current monitor used to measure
// the kicker motor's supply current.
package ina219

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

const (
	Addr1 = 0x41
	Addr2 = 0x44

	RegConfig      = 0
	RegShuntV      = 1
	RegBusV        = 2
	RegPower       = 3
	RegCurrent     = 4
	RegCalibration = 5

	BusVoltageLSB = 0.004
)

type Interface interface {
	Configure(shuntOhms float64, maxCurrent float64) error
	ReadBusVoltage() (float64, error)
	ReadCurrent() (float64, error)
	ReadPower() (float64, error)
	Close() error
}

type port interface {
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) error
}

type INA219 struct {
	currentLSB float64
	dev        port
	close      func() error
	logger     *zap.SugaredLogger
}

type i2cPort struct {
	dev *i2c.Dev
}

func (p i2cPort) ReadReg(reg byte, buf []byte) error {
	return p.dev.Tx([]byte{reg}, buf)
}

func (p i2cPort) WriteReg(reg byte, buf []byte) error {
	_, err := p.dev.Write(append([]byte{reg}, buf...))
	return err
}

// NewI2C opens the device at addr on the named bus, e.g. "1" or "I2C1".
func NewI2C(busName string, addr uint16, logger *zap.SugaredLogger) (*INA219, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialise periph host")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open I2C bus %q", busName)
	}
	return &INA219{
		dev:    i2cPort{dev: &i2c.Dev{Bus: bus, Addr: addr}},
		close:  bus.Close,
		logger: logger,
	}, nil
}

func newWithPort(dev port, logger *zap.SugaredLogger) *INA219 {
	return &INA219{
		dev:    dev,
		close:  func() error { return nil },
		logger: logger,
	}
}

func (m *INA219) Configure(shuntOhms float64, maxCurrent float64) error {
	if shuntOhms <= 0 || maxCurrent <= 0 {
		return errors.Errorf("invalid calibration: shunt %v ohm, max current %v A", shuntOhms, maxCurrent)
	}
	m.currentLSB = maxCurrent / (1 << 15)
	cval := CalculateCalibrationValue(m.currentLSB, shuntOhms)
	m.logger.Debugf("INA219 calibration value: 0x%x", cval)
	return errors.Wrap(m.dev.WriteReg(RegCalibration, []byte{byte(cval >> 8), byte(cval)}), "failed to write calibration")
}

func (m *INA219) ReadBusVoltage() (float64, error) {
	raw, err := m.Read16(RegBusV)
	shifted := raw >> 3
	return float64(shifted) * BusVoltageLSB, err
}

// ReadCurrent is signed; negative when current flows back through the
// shunt.
func (m *INA219) ReadCurrent() (float64, error) {
	raw, err := m.Read16(RegCurrent)
	return float64(int16(raw)) * m.currentLSB, err
}

func (m *INA219) ReadPower() (float64, error) {
	raw, err := m.Read16(RegPower)
	return float64(raw) * m.currentLSB * 20, err
}

func (m *INA219) Read16(reg byte) (uint16, error) {
	var buf [2]byte
	err := m.dev.ReadReg(reg, buf[:])
	return uint16(buf[0])<<8 | uint16(buf[1]), err
}

func (m *INA219) Close() error {
	return m.close()
}

func CalculateCalibrationValue(currentLSB float64, shuntOhms float64) int16 {
	return int16(0.04096 / (currentLSB * shuntOhms))
}

var _ Interface = (*INA219)(nil)
