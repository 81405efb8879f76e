package tunable

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Tunable is a named float adjusted at runtime by the operator (joystick or
// dashboard) and read by the control tick. Reads and writes are atomic.
type Tunable struct {
	Name  string
	Step  float64
	value atomic.Float64
}

func (t *Tunable) Add(delta float64) float64 {
	return t.value.Add(delta)
}

// Nudge adds n steps.
func (t *Tunable) Nudge(n int) float64 {
	return t.Add(float64(n) * t.Step)
}

func (t *Tunable) Set(v float64) {
	t.value.Store(v)
}

func (t *Tunable) Get() float64 {
	return t.value.Load()
}

type Tunables struct {
	lock     sync.Mutex
	logger   *zap.SugaredLogger
	all      []*Tunable
	byName   map[string]*Tunable
	selected int
}

func New(logger *zap.SugaredLogger) *Tunables {
	return &Tunables{
		logger: logger,
		byName: map[string]*Tunable{},
	}
}

func (t *Tunables) Create(name string, value, step float64) *Tunable {
	t.lock.Lock()
	defer t.lock.Unlock()
	if existing, ok := t.byName[name]; ok {
		return existing
	}
	newTunable := &Tunable{Name: name, Step: step}
	newTunable.Set(value)
	t.all = append(t.all, newTunable)
	t.byName[name] = newTunable
	return newTunable
}

// Adjust nudges the named tunable by delta and returns its new value.
func (t *Tunables) Adjust(name string, delta float64) (float64, error) {
	t.lock.Lock()
	tun, ok := t.byName[name]
	t.lock.Unlock()
	if !ok {
		return 0, errors.Errorf("no tunable named %q", name)
	}
	newV := tun.Add(delta)
	t.logger.Infow("Tunable adjusted", "name", name, "value", newV)
	return newV, nil
}

// Values returns a name → value snapshot.
func (t *Tunables) Values() map[string]float64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	out := make(map[string]float64, len(t.all))
	for _, tun := range t.all {
		out[tun.Name] = tun.Get()
	}
	return out
}

func (t *Tunables) Names() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	names := make([]string, 0, len(t.all))
	for _, tun := range t.all {
		names = append(names, tun.Name)
	}
	sort.Strings(names)
	return names
}

func (t *Tunables) SelectNext() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.all) == 0 {
		return
	}
	t.selected++
	if t.selected >= len(t.all) {
		t.selected = 0
	}
	t.logger.Infow("Tunable selected", "name", t.all[t.selected].Name, "value", t.all[t.selected].Get())
}

func (t *Tunables) SelectPrev() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.all) == 0 {
		return
	}
	t.selected--
	if t.selected < 0 {
		t.selected = len(t.all) - 1
	}
	t.logger.Infow("Tunable selected", "name", t.all[t.selected].Name, "value", t.all[t.selected].Get())
}

// Current returns the selected tunable, or nil when none exist.
func (t *Tunables) Current() *Tunable {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.all) == 0 {
		return nil
	}
	return t.all[t.selected]
}
