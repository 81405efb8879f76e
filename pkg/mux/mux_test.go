package mux

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
)

type recorder struct {
	written []byte
	fail    error
	closed  bool
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.fail != nil {
		return 0, r.fail
	}
	r.written = append(r.written, b...)
	return len(b), nil
}

func newRecorded() (*Mux, *recorder) {
	r := &recorder{}
	return &Mux{dev: r, close: func() error { r.closed = true; return nil }}, r
}

func TestPortSelection(t *testing.T) {
	m, r := newRecorded()
	test.That(t, m.SelectSinglePort(6), test.ShouldBeNil)
	test.That(t, m.SelectMultiplePorts(0x81), test.ShouldBeNil)
	test.That(t, m.DisableAllPorts(), test.ShouldBeNil)
	test.That(t, r.written, test.ShouldResemble, []byte{0x40, 0x81, 0x00})

	test.That(t, m.SelectSinglePort(8), test.ShouldNotBeNil)
	test.That(t, m.SelectSinglePort(-1), test.ShouldNotBeNil)
	test.That(t, r.written, test.ShouldHaveLength, 3)
}

func TestSelectAndClose(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	m, r := newRecorded()
	test.That(t, selectAndClose(m, 3, logger), test.ShouldBeNil)
	test.That(t, r.written, test.ShouldResemble, []byte{0x08})
	test.That(t, r.closed, test.ShouldBeTrue)

	m, r = newRecorded()
	r.fail = errors.New("nack")
	err := selectAndClose(m, 3, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, r.closed, test.ShouldBeTrue)
}

func TestSelectNoPort(t *testing.T) {
	// Never touches the bus.
	test.That(t, Select("no-such-bus", NoPort, zaptest.NewLogger(t).Sugar()), test.ShouldBeNil)
}
