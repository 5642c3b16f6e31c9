package dash

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// Session accumulates the measurements and exceptions of the current reporting interval.
// Data and ExceptionData drain what they return.
type Session interface {
	// Info returns the flat description of the process sent once as the info payload.
	Info() map[string]any
	// Data drains and returns the interval's measurements.
	Data() []Measurement
	// ExceptionData drains and returns the interval's captured exceptions.
	ExceptionData() []ExceptionRecord
	// Reset discards everything collected so far.
	Reset()
}

// Measurement aggregates the timings recorded for one metric in one context.
type Measurement struct {
	Metric  string  `json:"metric"`
	Context any     `json:"context,omitempty"`
	Count   int64   `json:"invocations"`
	Total   float64 `json:"value"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// ExceptionRecord aggregates captured exceptions sharing a type and message.
type ExceptionRecord struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Backtrace string `json:"backtrace,omitempty"`
	Sample    Sample `json:"sample,omitempty"`
	Count     int64  `json:"total"`
}

type measurementKey struct {
	metric  string
	context string
}

type exceptionKey struct {
	name    string
	message string
}

// MemorySession is an in-memory Session safe for many concurrent writers and a single
// draining reader. A write racing a drain lands in exactly one interval.
type MemorySession struct {
	mu         sync.Mutex
	info       map[string]any
	samples    map[measurementKey]*Measurement
	exceptions map[exceptionKey]*ExceptionRecord
	order      []exceptionKey
}

// NewMemorySession creates a session describing the process with info.
func NewMemorySession(info map[string]any) *MemorySession {
	s := &MemorySession{info: maps.Clone(info)}
	s.resetLocked()
	return s
}

func (s *MemorySession) resetLocked() {
	s.samples = make(map[measurementKey]*Measurement)
	s.exceptions = make(map[exceptionKey]*ExceptionRecord)
	s.order = nil
}

// SetInfo replaces the process description.
func (s *MemorySession) SetInfo(info map[string]any) {
	s.mu.Lock()
	s.info = maps.Clone(info)
	s.mu.Unlock()
}

// Info returns a copy of the process description.
func (s *MemorySession) Info() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return map[string]any{}
	}
	return maps.Clone(s.info)
}

// Record adds one timing for metric in the given context.
func (s *MemorySession) Record(metric string, scope any, elapsed time.Duration) {
	key := measurementKey{metric: metric}
	if scope != nil {
		key.context = fmt.Sprintf("%T:%v", scope, scope)
	}
	secs := elapsed.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.samples[key]
	if !ok {
		s.samples[key] = &Measurement{
			Metric:  metric,
			Context: scope,
			Count:   1,
			Total:   secs,
			Min:     secs,
			Max:     secs,
		}
		return
	}
	m.Count++
	m.Total += secs
	m.Min = min(m.Min, secs)
	m.Max = max(m.Max, secs)
}

// AddException records a captured error together with its sample.
func (s *MemorySession) AddException(err error, sample Sample) {
	if err == nil {
		return
	}
	key := exceptionKey{name: errorName(err), message: err.Error()}
	var backtrace string
	var perr *PanicError
	if errors.As(err, &perr) {
		backtrace = string(perr.Stack)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.exceptions[key]
	if !ok {
		s.exceptions[key] = &ExceptionRecord{
			Name:      key.name,
			Message:   key.message,
			Backtrace: backtrace,
			Sample:    sample,
			Count:     1,
		}
		s.order = append(s.order, key)
		return
	}
	rec.Count++
	rec.Sample = sample
}

// Data drains the measurements collected since the previous drain.
func (s *MemorySession) Data() []Measurement {
	s.mu.Lock()
	samples := s.samples
	s.samples = make(map[measurementKey]*Measurement)
	s.mu.Unlock()

	out := make([]Measurement, 0, len(samples))
	for _, m := range samples {
		out = append(out, *m)
	}
	return out
}

// ExceptionData drains the exceptions captured since the previous drain, in first-seen
// order.
func (s *MemorySession) ExceptionData() []ExceptionRecord {
	s.mu.Lock()
	exceptions, order := s.exceptions, s.order
	s.exceptions = make(map[exceptionKey]*ExceptionRecord)
	s.order = nil
	s.mu.Unlock()

	out := make([]ExceptionRecord, 0, len(order))
	for _, key := range order {
		out = append(out, *exceptions[key])
	}
	return out
}

// Reset discards all measurements and exceptions.
func (s *MemorySession) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

// TimingHandler returns a handler that records measurements under metric.
func (s *MemorySession) TimingHandler(metric string) TimingHandler {
	return func(scope any, _ any, elapsed time.Duration, _ ...any) error {
		s.Record(metric, scope, elapsed)
		return nil
	}
}

// DefaultExceptionHandler samples the receiver type and argument count of a failed call.
func DefaultExceptionHandler(_ error, receiver any, args ...any) (Sample, error) {
	return Sample{
		"receiver": fmt.Sprintf("%T", receiver),
		"args":     len(args),
	}, nil
}

// errorName names an error by its dynamic type, looking through a PanicError.
func errorName(err error) string {
	var perr *PanicError
	if errors.As(err, &perr) {
		if inner, ok := perr.Value.(error); ok {
			return fmt.Sprintf("%T", inner)
		}
		return "panic"
	}
	return fmt.Sprintf("%T", err)
}
