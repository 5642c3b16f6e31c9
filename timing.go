package dash

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync/atomic"
	"time"
)

// requestTimestamps stores the timestamps of a delivery request's phases.
type requestTimestamps struct {
	start     time.Time
	connStart time.Time
	connDone  time.Time
	tlsStart  time.Time
	tlsDone   time.Time
	wroteDone time.Time
	firstByte time.Time
	dataDone  time.Time
}

// RequestTimes represents the timing information of one delivery attempt.
type RequestTimes struct {
	// Time when the request was sent
	SentAt time.Time
	// Time when the first byte of the response was received
	ReceivedAt time.Time

	// Latency is the time from acquiring a connection to the first response byte.
	Latency time.Duration

	// Optional durations, nil when not applicable
	RequestTimeTotal *time.Duration // Total time taken, including reading the response
	TCPConnect       *time.Duration // TCP connection duration
	TLSHandshake     *time.Duration // TLS handshake duration
	ServerProcessing *time.Duration // From request written to first response byte
}

// ptr returns a pointer to the given value.
func ptr[T any](v T) *T { return &v }

// TimeDataFromTimestamps returns the RequestTimes from the given requestTimestamps.
func TimeDataFromTimestamps(t requestTimestamps) RequestTimes {
	req := RequestTimes{}

	req.SentAt = t.start
	req.ReceivedAt = t.firstByte

	if !t.start.IsZero() && !t.firstByte.IsZero() {
		req.Latency = t.firstByte.Sub(t.start)
	}
	if !t.connStart.IsZero() && !t.connDone.IsZero() {
		req.TCPConnect = ptr(t.connDone.Sub(t.connStart))
	}
	if !t.tlsStart.IsZero() && !t.tlsDone.IsZero() {
		req.TLSHandshake = ptr(t.tlsDone.Sub(t.tlsStart))
	}
	if !t.wroteDone.IsZero() && !t.firstByte.IsZero() {
		req.ServerProcessing = ptr(t.firstByte.Sub(t.wroteDone))
	}
	if !t.dataDone.IsZero() && !t.start.IsZero() {
		req.RequestTimeTotal = ptr(t.dataDone.Sub(t.start))
	}

	return req
}

// traceTimes collects timestamps from httptrace callbacks, which may fire on other
// goroutines.
type traceTimes struct {
	start     atomic.Pointer[time.Time]
	connStart atomic.Pointer[time.Time]
	connDone  atomic.Pointer[time.Time]
	tlsStart  atomic.Pointer[time.Time]
	tlsDone   atomic.Pointer[time.Time]
	wroteDone atomic.Pointer[time.Time]
	firstByte atomic.Pointer[time.Time]
}

func stamp(p *atomic.Pointer[time.Time]) {
	now := time.Now()
	p.Store(&now)
}

func load(p *atomic.Pointer[time.Time]) time.Time {
	if t := p.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// snapshot copies the collected timestamps.
func (t *traceTimes) snapshot() requestTimestamps {
	return requestTimestamps{
		start:     load(&t.start),
		connStart: load(&t.connStart),
		connDone:  load(&t.connDone),
		tlsStart:  load(&t.tlsStart),
		tlsDone:   load(&t.tlsDone),
		wroteDone: load(&t.wroteDone),
		firstByte: load(&t.firstByte),
	}
}

// traceRequest returns a client trace storing phase timestamps in times.
func traceRequest(times *traceTimes) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		// The earliest guaranteed callback is usually GetConn, so we set the start time there
		GetConn:           func(string) { stamp(&times.start) },
		ConnectStart:      func(_, _ string) { stamp(&times.connStart) },
		ConnectDone:       func(_, _ string, _ error) { stamp(&times.connDone) },
		TLSHandshakeStart: func() { stamp(&times.tlsStart) },
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			stamp(&times.tlsDone)
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { stamp(&times.wroteDone) },
		GotFirstResponseByte: func() { stamp(&times.firstByte) },
	}
}
