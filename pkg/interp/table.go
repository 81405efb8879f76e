// Package interp provides a piecewise-linear lookup table keyed by a real
// number, used to map a measured distance onto a shooter angle or speed.
package interp

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// ErrEmptyTable is returned when a table is built with no entries.
var ErrEmptyTable = errors.New("interpolation table has no entries")

type Point struct {
	Key   float64 `yaml:"key" json:"key"`
	Value float64 `yaml:"value" json:"value"`
}

// Table holds points sorted ascending by key. Keys are unique; inserting an
// existing key overwrites its value.
type Table struct {
	points []Point
}

// New builds a table from the given points, which may be in any order.
func New(points ...Point) (*Table, error) {
	if len(points) == 0 {
		return nil, ErrEmptyTable
	}
	t := &Table{points: make([]Point, 0, len(points))}
	for _, p := range points {
		t.Insert(p.Key, p.Value)
	}
	return t, nil
}

func (t *Table) search(key float64) (int, bool) {
	return slices.BinarySearchFunc(t.points, key, func(p Point, k float64) int {
		switch {
		case p.Key < k:
			return -1
		case p.Key > k:
			return 1
		}
		return 0
	})
}

func (t *Table) Insert(key, value float64) {
	i, found := t.search(key)
	if found {
		t.points[i].Value = value
		return
	}
	t.points = slices.Insert(t.points, i, Point{Key: key, Value: value})
}

// Lookup returns the value at key, linearly interpolating between the two
// bracketing entries. Keys outside the table clamp to the nearest end.
// Looking up an empty table is a programming error and panics.
func (t *Table) Lookup(key float64) float64 {
	n := len(t.points)
	if n == 0 {
		panic(ErrEmptyTable)
	}
	if key <= t.points[0].Key {
		return t.points[0].Value
	}
	if key >= t.points[n-1].Key {
		return t.points[n-1].Value
	}

	i, found := t.search(key)
	if found {
		return t.points[i].Value
	}
	lo, hi := t.points[i-1], t.points[i]
	return lo.Value + (hi.Value-lo.Value)*(key-lo.Key)/(hi.Key-lo.Key)
}

func (t *Table) Len() int {
	return len(t.points)
}

// Points returns a copy of the entries in key order.
func (t *Table) Points() []Point {
	return slices.Clone(t.points)
}

func (t *Table) String() string {
	return fmt.Sprintf("interp.Table%v", t.points)
}
