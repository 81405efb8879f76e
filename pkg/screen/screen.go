// Package screen draws the shooter's status on the robot's 128x128
// framebuffer display.
package screen

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
)

const (
	S             = 128
	RefreshPeriod = 500 * time.Millisecond

	minCellVoltage = 3
	maxCellVoltage = 4.2
)

type Status struct {
	Mode           string
	Enabled        bool
	AutoAim        bool
	Acquired       bool
	PivotAngle     float64
	PivotTarget    float64
	FlywheelRPM    float64
	FlywheelTarget float64
	BusVolts       float64
}

func StatusFrom(snap shooter.Snapshot, busVolts float64) Status {
	return Status{
		Mode:           snap.Mode,
		Enabled:        snap.MechanismEnabled,
		AutoAim:        snap.AutoAimEnabled,
		Acquired:       snap.Acquired,
		PivotAngle:     snap.PivotAngle,
		PivotTarget:    snap.PivotTarget,
		FlywheelRPM:    snap.FlywheelRPM,
		FlywheelTarget: snap.FlywheelTargetRPM,
		BusVolts:       busVolts,
	}
}

func Render(st Status) image.Image {
	dc := gg.NewContext(S, S)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	if st.Enabled {
		dc.SetRGBA(1, 0.9, 0, 1)
	} else {
		dc.SetRGBA(0.5, 0.5, 0.5, 1)
	}
	dc.DrawString(fmt.Sprintf("MODE %s", st.Mode), 4, 14)
	dc.DrawString(fmt.Sprintf("PIV %5.1f/%5.1f", st.PivotAngle, st.PivotTarget), 4, 30)
	dc.DrawString(fmt.Sprintf("FLY %5.0f/%5.0f", st.FlywheelRPM, st.FlywheelTarget), 4, 46)
	if st.AutoAim {
		dc.DrawString("AUTO AIM", 4, 62)
	}

	if st.Acquired {
		dc.Push()
		dc.Translate(20, 95)
		DrawAcquired(dc)
		dc.Pop()
	}

	dc.Push()
	dc.Translate(94, 20)
	drawPowerBar(dc, st.BusVolts)
	dc.Pop()
	return dc.Image()
}

func drawPowerBar(dc *gg.Context, voltage float64) {
	var cellVoltage float64
	if voltage > 9 {
		// assume the 3-cell pack
		cellVoltage = voltage / 3
	} else {
		// assume the 2-cell pack
		cellVoltage = voltage / 2
	}
	charge := (cellVoltage - minCellVoltage) / (maxCellVoltage - minCellVoltage)

	dc.SetRGBA(1, 0.9, 0, 1)
	if charge < 0.1 {
		dc.SetRGBA(1, 0.2, 0, 1)
	}
	dc.DrawRectangle(0, 70, 30, 10)
	for n := 2; n < 13; n++ {
		if charge >= (float64(n) / 13) {
			dc.DrawRectangle(2, 75-float64(n)*5, 26, 3)
		}
	}
	dc.Fill()
	dc.DrawString(fmt.Sprintf("%.1fv", voltage), -2, 93)
}

func DrawAcquired(dc *gg.Context) {
	dc.SetRGB(0, 0.8, 0.2)
	dc.DrawRegularPolygon(4, 0, 0, 14, 0)
	dc.Fill()
	dc.SetRGBA(0, 0, 0, 0.9)
	dc.DrawString("!", -3, 3)
}

// EncodeRGB565 packs img for the panel, which is mounted rotated by 90
// degrees.
func EncodeRGB565(img image.Image) []byte {
	buf := make([]byte, S*S*2)
	for y := 0; y < S; y++ {
		for x := 0; x < S; x++ {
			r, g, b, _ := img.At(x, y).RGBA() // 16-bit pre-multiplied

			rb := byte(r >> (16 - 5))
			gb := byte(g >> (16 - 6)) // Green has 6 bits
			bb := byte(b >> (16 - 5))

			buf[(S-1-y)*2+x*S*2+1] = (rb << 3) | (gb >> 3)
			buf[(S-1-y)*2+x*S*2] = bb | (gb << 5)
		}
	}
	return buf
}

type Screen struct {
	device string
	clock  clock.Clock
	logger *zap.SugaredLogger
	status func() Status
}

func New(device string, clk clock.Clock, logger *zap.SugaredLogger, status func() Status) *Screen {
	return &Screen{device: device, clock: clk, logger: logger, status: status}
}

// Loop redraws the screen every RefreshPeriod and blanks it on exit. A
// missing display is logged and ignored.
func (s *Screen) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	f, err := os.OpenFile(s.device, os.O_RDWR, 0666)
	if err != nil {
		s.logger.Infow("Screen: failed to open screen, ignoring", "device", s.device, "error", err)
		return
	}
	defer f.Close()

	ticker := s.clock.Ticker(RefreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = write(f, make([]byte, S*S*2))
			return
		case <-ticker.C:
			if err := write(f, EncodeRGB565(Render(s.status()))); err != nil {
				s.logger.Warnw("Screen: failure", "error", err)
				return
			}
		}
	}
}

func write(f *os.File, buf []byte) error {
	if _, err := f.Seek(0, 0); err != nil {
		return errors.Wrap(err, "seek")
	}
	for i := 0; i < S; i++ {
		if _, err := f.Write(buf[i*S*2 : (i+1)*S*2]); err != nil {
			return errors.Wrap(err, "write")
		}
	}
	return nil
}
