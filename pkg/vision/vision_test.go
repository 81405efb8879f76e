package vision

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/targeting"
)

func TestNothingPostedIsNotVisible(t *testing.T) {
	s := New(clock.NewMock(), 0)
	test.That(t, s.Sample(), test.ShouldResemble, targeting.Sample{})
	test.That(t, s.Updates(), test.ShouldEqual, uint64(0))
}

func TestSampleGoesStale(t *testing.T) {
	clk := clock.NewMock()
	s := New(clk, 100*time.Millisecond)
	in := targeting.Sample{Visible: true, DistanceMeters: 2.5}
	test.That(t, s.Update(in), test.ShouldBeNil)
	test.That(t, s.Sample(), test.ShouldResemble, in)

	clk.Add(100 * time.Millisecond)
	test.That(t, s.Sample(), test.ShouldResemble, in)

	clk.Add(time.Millisecond)
	test.That(t, s.Sample().Visible, test.ShouldBeFalse)

	test.That(t, s.Update(in), test.ShouldBeNil)
	test.That(t, s.Sample().Visible, test.ShouldBeTrue)
	test.That(t, s.Updates(), test.ShouldEqual, uint64(2))
}

func TestRejectsNegativeDistance(t *testing.T) {
	s := New(clock.NewMock(), 0)
	err := s.Update(targeting.Sample{Visible: true, DistanceMeters: -1})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, s.Updates(), test.ShouldEqual, uint64(0))

	// Distance is ignored when not visible.
	test.That(t, s.Update(targeting.Sample{DistanceMeters: -1}), test.ShouldBeNil)
}
