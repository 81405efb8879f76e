// Package mux drives the TCA9548A I2C multiplexer that fans the robot's
// I2C bus out to devices sharing an address.
package mux

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

const (
	MuxAddr = 0x70

	NumPorts = 8
	// NoPort means the device is wired straight to the bus.
	NoPort = -1
)

type Interface interface {
	DisableAllPorts() error
	SelectSinglePort(num int) error
	SelectMultiplePorts(mask byte) error
	Close() error
}

type writer interface {
	Write(b []byte) (int, error)
}

type Mux struct {
	dev   writer
	close func() error
}

func New(busName string) (*Mux, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialise periph host")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open I2C bus %q", busName)
	}
	return &Mux{
		dev:   &i2c.Dev{Bus: bus, Addr: MuxAddr},
		close: bus.Close,
	}, nil
}

func (p *Mux) write(b byte) error {
	_, err := p.dev.Write([]byte{b})
	return errors.Wrap(err, "mux write")
}

func (p *Mux) SelectSinglePort(num int) error {
	if num < 0 || num >= NumPorts {
		return errors.Errorf("mux port %d out of range", num)
	}
	return p.write(1 << uint(num))
}

func (p *Mux) SelectMultiplePorts(mask byte) error {
	return p.write(mask)
}

func (p *Mux) DisableAllPorts() error {
	return p.write(0)
}

func (p *Mux) Close() error {
	return p.close()
}

// Select routes the bus to a single port and releases the mux; the
// selection persists in the chip. NoPort is a no-op.
func Select(busName string, port int, logger *zap.SugaredLogger) error {
	if port == NoPort {
		return nil
	}
	m, err := New(busName)
	if err != nil {
		return err
	}
	return selectAndClose(m, port, logger)
}

func selectAndClose(m Interface, port int, logger *zap.SugaredLogger) error {
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warnw("Mux: close failed", "error", err)
		}
	}()
	if err := m.SelectSinglePort(port); err != nil {
		return err
	}
	logger.Infow("Mux: port selected", "port", port)
	return nil
}
