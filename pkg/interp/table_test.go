package interp

import (
	"testing"

	"go.viam.com/test"
)

func mustTable(t *testing.T, points ...Point) *Table {
	t.Helper()
	table, err := New(points...)
	test.That(t, err, test.ShouldBeNil)
	return table
}

func TestNewEmpty(t *testing.T) {
	table, err := New()
	test.That(t, err, test.ShouldEqual, ErrEmptyTable)
	test.That(t, table, test.ShouldBeNil)
}

func TestLookupInterpolates(t *testing.T) {
	table := mustTable(t, Point{0, 0}, Point{5, 1000})

	test.That(t, table.Lookup(2.5), test.ShouldAlmostEqual, 500.0)
	test.That(t, table.Lookup(1), test.ShouldAlmostEqual, 200.0)
	test.That(t, table.Lookup(0), test.ShouldEqual, 0.0)
	test.That(t, table.Lookup(5), test.ShouldEqual, 1000.0)
}

func TestLookupClampsAtBoundaries(t *testing.T) {
	table := mustTable(t, Point{0, 0}, Point{10, 120})

	test.That(t, table.Lookup(-10), test.ShouldEqual, table.Lookup(0))
	test.That(t, table.Lookup(-1e9), test.ShouldEqual, 0.0)
	test.That(t, table.Lookup(10.5), test.ShouldEqual, 120.0)
	test.That(t, table.Lookup(1e9), test.ShouldEqual, table.Lookup(10))
}

func TestLookupStrictlyBetweenNeighbours(t *testing.T) {
	table := mustTable(t, Point{0, 0}, Point{2, 10}, Point{5, 40}, Point{9, 45})
	for _, key := range []float64{0.1, 1, 1.99, 2.01, 3.3, 4.9, 5.5, 8.999} {
		v := table.Lookup(key)
		points := table.Points()
		for i := 1; i < len(points); i++ {
			if key > points[i-1].Key && key < points[i].Key {
				test.That(t, v, test.ShouldBeGreaterThan, points[i-1].Value)
				test.That(t, v, test.ShouldBeLessThan, points[i].Value)
			}
		}
	}
}

func TestSingleEntry(t *testing.T) {
	table := mustTable(t, Point{3, 7})
	test.That(t, table.Lookup(-1), test.ShouldEqual, 7.0)
	test.That(t, table.Lookup(3), test.ShouldEqual, 7.0)
	test.That(t, table.Lookup(100), test.ShouldEqual, 7.0)
}

func TestInsertKeepsOrderAndOverwrites(t *testing.T) {
	table := mustTable(t, Point{5, 50}, Point{1, 10}, Point{3, 30})
	table.Insert(4, 40)
	table.Insert(3, 33)
	table.Insert(0, 0)

	test.That(t, table.Points(), test.ShouldResemble, []Point{
		{0, 0}, {1, 10}, {3, 33}, {4, 40}, {5, 50},
	})
	test.That(t, table.Len(), test.ShouldEqual, 5)
	test.That(t, table.Lookup(3.5), test.ShouldAlmostEqual, 36.5)
}

func TestPointsIsACopy(t *testing.T) {
	table := mustTable(t, Point{0, 0}, Point{1, 1})
	points := table.Points()
	points[0].Value = 99
	test.That(t, table.Lookup(0), test.ShouldEqual, 0.0)
}

func TestLookupEmptyPanics(t *testing.T) {
	var table Table
	test.That(t, func() { table.Lookup(1) }, test.ShouldPanic)
}
