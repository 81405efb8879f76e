package screen

import (
	"context"
	"image"
	"image/color"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
)

func solid(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, S, S))
	for y := 0; y < S; y++ {
		for x := 0; x < S; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestEncodeRGB565(t *testing.T) {
	buf := EncodeRGB565(solid(color.White))
	test.That(t, buf, test.ShouldHaveLength, S*S*2)
	test.That(t, buf[0], test.ShouldEqual, byte(0xFF))
	test.That(t, buf[1], test.ShouldEqual, byte(0xFF))

	buf = EncodeRGB565(solid(color.RGBA{R: 255, A: 255}))
	test.That(t, buf[1], test.ShouldEqual, byte(0xF8))
	test.That(t, buf[0], test.ShouldEqual, byte(0x00))
}

func TestRender(t *testing.T) {
	st := StatusFrom(shooter.Snapshot{
		Mode:             "intaking",
		MechanismEnabled: true,
		Acquired:         true,
		PivotAngle:       -29.5,
		PivotTarget:      -30,
	}, 12.4)
	test.That(t, st.Mode, test.ShouldEqual, "intaking")
	test.That(t, st.BusVolts, test.ShouldEqual, 12.4)

	img := Render(st)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, S, S))

	// Something other than background was drawn.
	lit := false
	for y := 0; y < S && !lit; y++ {
		for x := 0; x < S && !lit; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			lit = r+g+b > 0
		}
	}
	test.That(t, lit, test.ShouldBeTrue)
}

func TestLoopWritesFrames(t *testing.T) {
	dir, err := ioutil.TempDir("", "screen")
	test.That(t, err, test.ShouldBeNil)
	defer os.RemoveAll(dir)
	dev := filepath.Join(dir, "fb")
	test.That(t, ioutil.WriteFile(dev, nil, 0666), test.ShouldBeNil)

	clk := clock.NewMock()
	drawn := make(chan struct{}, 10)
	s := New(dev, clk, zaptest.NewLogger(t).Sugar(), func() Status {
		drawn <- struct{}{}
		return Status{Mode: "stopped", BusVolts: 12}
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go s.Loop(ctx, &wg)

	// The ticker is created asynchronously; keep nudging until a frame
	// is drawn.
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		clk.Add(RefreshPeriod)
		select {
		case <-drawn:
			done = true
		case <-deadline:
			t.Fatal("no frame drawn")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	wg.Wait()

	data, err := ioutil.ReadFile(dev)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldHaveLength, S*S*2)
	// Blanked on exit.
	test.That(t, data, test.ShouldResemble, make([]byte, S*S*2))
}

func TestLoopWithoutDevice(t *testing.T) {
	s := New("/nonexistent/fb9", clock.NewMock(), zaptest.NewLogger(t).Sugar(), func() Status { return Status{} })
	var wg sync.WaitGroup
	wg.Add(1)
	s.Loop(context.Background(), &wg)
	wg.Wait()
}
