// Package telemetry fans named values out to any number of sinks.
package telemetry

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Sink receives every published value. Sinks are called on the control
// goroutine and must not block.
type Sink interface {
	Publish(name string, value interface{})
}

type SinkFunc func(name string, value interface{})

func (f SinkFunc) Publish(name string, value interface{}) { f(name, value) }

type Publisher struct {
	logger *zap.SugaredLogger

	lock  sync.RWMutex
	sinks []Sink
}

func New(logger *zap.SugaredLogger, sinks ...Sink) *Publisher {
	return &Publisher{logger: logger, sinks: sinks}
}

func (p *Publisher) AddSink(s Sink) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.sinks = append(p.sinks, s)
}

// Publish hands the value to each sink. A panicking sink is logged and
// skipped; the others still receive the value.
func (p *Publisher) Publish(name string, value interface{}) {
	p.lock.RLock()
	sinks := p.sinks
	p.lock.RUnlock()
	for _, s := range sinks {
		p.publishOne(s, name, value)
	}
}

func (p *Publisher) publishOne(s Sink, name string, value interface{}) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warnw("Telemetry: sink failed", "name", name, "error", r)
		}
	}()
	s.Publish(name, value)
}

// Latest keeps the most recent value of every name.
type Latest struct {
	lock   sync.Mutex
	values map[string]interface{}
}

func NewLatest() *Latest {
	return &Latest{values: map[string]interface{}{}}
}

func (l *Latest) Publish(name string, value interface{}) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.values[name] = value
}

func (l *Latest) Get(name string) (interface{}, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	v, ok := l.values[name]
	return v, ok
}

func (l *Latest) Values() map[string]interface{} {
	l.lock.Lock()
	defer l.lock.Unlock()
	out := make(map[string]interface{}, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

func (l *Latest) Names() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	names := make([]string, 0, len(l.values))
	for k := range l.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// LogSink writes a debug line whenever a value changes.
type LogSink struct {
	logger *zap.SugaredLogger
	last   map[string]interface{}
}

func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: logger, last: map[string]interface{}{}}
}

func (s *LogSink) Publish(name string, value interface{}) {
	if prev, ok := s.last[name]; ok && prev == value {
		return
	}
	s.last[name] = value
	s.logger.Debugw("Telemetry", "name", name, "value", value)
}
