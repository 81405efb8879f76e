package sparkmax

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// HeartbeatPeriod must stay well inside the controllers' 100ms watchdog.
const HeartbeatPeriod = 25 * time.Millisecond

type Transmitter interface {
	TransmitFrame(ctx context.Context, f can.Frame) error
}

type Receiver interface {
	Receive() bool
	Frame() can.Frame
	Err() error
}

type deviceStatus struct {
	status1 Status1
	status2 Status2
	updated time.Time
}

// Bus owns one CAN interface. Writes go straight out; status frames are
// collected by Loop and cached so reads never block.
type Bus struct {
	tx     Transmitter
	rx     Receiver
	closer func() error
	clock  clock.Clock
	logger *zap.SugaredLogger

	lock     sync.Mutex
	devices  map[uint8]*deviceStatus
	enabled  uint64
	txFailed bool
}

// Dial opens tx and rx sockets on a SocketCAN interface such as "can0".
func Dial(ctx context.Context, iface string, logger *zap.SugaredLogger) (*Bus, error) {
	txConn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s for transmit", iface)
	}
	rxConn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		_ = txConn.Close()
		return nil, errors.Wrapf(err, "failed to open %s for receive", iface)
	}
	b := NewBus(socketcan.NewTransmitter(txConn), socketcan.NewReceiver(rxConn), logger)
	b.closer = func() error {
		return multierr.Combine(txConn.Close(), rxConn.Close())
	}
	return b, nil
}

func NewBus(tx Transmitter, rx Receiver, logger *zap.SugaredLogger) *Bus {
	return &Bus{
		tx:      tx,
		rx:      rx,
		closer:  func() error { return nil },
		clock:   clock.New(),
		logger:  logger,
		devices: map[uint8]*deviceStatus{},
	}
}

func (b *Bus) Close() error {
	return b.closer()
}

// Motor registers a controller on the bus and enables it in the heartbeat.
func (b *Bus) Motor(id uint8, opts ...MotorOption) *Motor {
	b.lock.Lock()
	if _, ok := b.devices[id]; !ok {
		b.devices[id] = &deviceStatus{}
	}
	b.enabled |= 1 << (id & MaxDeviceID)
	b.lock.Unlock()

	m := &Motor{bus: b, id: id, gearRatio: 1}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (b *Bus) send(f can.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := b.tx.TransmitFrame(ctx, f)

	b.lock.Lock()
	defer b.lock.Unlock()
	if err != nil && !b.txFailed {
		b.logger.Warnw("CAN: transmit failed", "id", f.ID, "error", err)
	} else if err == nil && b.txFailed {
		b.logger.Info("CAN: transmit recovered")
	}
	b.txFailed = err != nil
}

func (b *Bus) status(id uint8) deviceStatus {
	b.lock.Lock()
	defer b.lock.Unlock()
	if s, ok := b.devices[id]; ok {
		return *s
	}
	return deviceStatus{}
}

// Handle records a received frame. Frames for unregistered devices are
// ignored.
func (b *Bus) Handle(f can.Frame) {
	if !f.IsExtended || f.IsRemote {
		return
	}
	api, id, ok := splitID(f.ID)
	if !ok {
		return
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	s, ok := b.devices[id]
	if !ok {
		return
	}
	switch api {
	case apiStatus1:
		s.status1 = decodeStatus1(f.Data)
	case apiStatus2:
		s.status2 = decodeStatus2(f.Data)
	default:
		return
	}
	s.updated = b.clock.Now()
}

// Loop receives status frames until ctx is done, then closes the bus to
// unblock the pending read.
func (b *Bus) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer b.logger.Info("CAN: receive loop exited")

	go func() {
		<-ctx.Done()
		if err := b.Close(); err != nil {
			b.logger.Warnw("CAN: close failed", "error", err)
		}
	}()

	for b.rx.Receive() {
		b.Handle(b.rx.Frame())
	}
	if err := b.rx.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		b.logger.Errorw("CAN: receive failed", "error", err)
	}
}

// HeartbeatLoop broadcasts the enable mask every HeartbeatPeriod. When it
// stops the controllers time out and coast.
func (b *Bus) HeartbeatLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := b.clock.Ticker(HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.lock.Lock()
			mask := b.enabled
			b.lock.Unlock()
			b.send(HeartbeatFrame(mask))
		}
	}
}
