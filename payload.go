package dash

import (
	"fmt"
	"maps"
	"os"
	"runtime"
	"time"
)

// Version is the agent version reported in info payloads.
const Version = "0.1.0"

// Kind tags the type of a payload.
type Kind uint8

const (
	KindInfo Kind = iota
	KindData
	KindExceptions
	KindPing
	KindTrace
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindData:
		return "data"
	case KindExceptions:
		return "exceptions"
	case KindPing:
		return "ping"
	case KindTrace:
		return "trace"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// PathSuffix returns the collector path element the kind is posted to.
func (k Kind) PathSuffix() string {
	switch k {
	case KindInfo:
		return "processes.json"
	case KindData:
		return "metrics.json"
	case KindExceptions:
		return "exceptions.json"
	case KindPing:
		return "ping"
	case KindTrace:
		return "traces.json"
	default:
		return ""
	}
}

// Params is the flat metadata mapping sent alongside a payload's body.
type Params map[string]any

// HostInfo describes the machine the agent runs on.
type HostInfo interface {
	Hostname() string
	MACAddress() string
	IPAddress() string
	OSName() string
	OSVersion() string
	Architecture() string
}

// SCM describes the source revision the process was built from.
type SCM interface {
	Revision() string
	Time() time.Time
	Type() string
	URL() string
}

// Payload is an immutable typed snapshot destined for a collector.
type Payload struct {
	kind   Kind
	data   any
	params Params
}

// Kind returns the payload's type.
func (p Payload) Kind() Kind { return p.kind }

// Data returns the payload's serializable body.
func (p Payload) Data() any { return p.data }

// Params returns a copy of the payload's metadata.
func (p Payload) Params() Params { return maps.Clone(p.params) }

// With returns a copy of the payload with one parameter replaced.
func (p Payload) With(key string, value any) Payload {
	params := maps.Clone(p.params)
	if params == nil {
		params = Params{}
	}
	params[key] = value
	p.params = params
	return p
}

// NewInfoPayload describes the process and its host.
func NewInfoPayload(info map[string]any, host HostInfo, scm SCM, startedAt time.Time) Payload {
	pwd, _ := os.Getwd()
	params := Params{
		"type":         "info",
		"pid":          os.Getpid(),
		"pwd":          pwd,
		"dash_version": Version,
		"go_version":   runtime.Version(),
		"started_at":   startedAt.UTC(),
	}
	if host != nil {
		params["ip"] = host.IPAddress()
		params["mac"] = host.MACAddress()
		params["hostname"] = host.Hostname()
		params["os_name"] = host.OSName()
		params["os_version"] = host.OSVersion()
		params["arch"] = host.Architecture()
	}
	if scm != nil {
		params["scm_revision"] = scm.Revision()
		params["scm_time"] = scm.Time().UTC()
		params["scm_type"] = scm.Type()
		params["scm_url"] = scm.URL()
	}
	return Payload{kind: KindInfo, data: maps.Clone(info), params: params}
}

// NewDataPayload wraps one interval's measurements.
func NewDataPayload(data []Measurement, processID string) Payload {
	return Payload{
		kind: KindData,
		data: data,
		params: Params{
			"type":         "data",
			"collected_at": time.Now().UTC(),
			"process_id":   processID,
		},
	}
}

// NewExceptionsPayload wraps one interval's captured exceptions.
func NewExceptionsPayload(data []ExceptionRecord, processID string) Payload {
	return Payload{
		kind: KindExceptions,
		data: data,
		params: Params{
			"type":         "exceptions",
			"collected_at": time.Now().UTC(),
			"process_id":   processID,
		},
	}
}

// NewPingPayload carries the process description as a liveness check.
func NewPingPayload(info map[string]any, startedAt time.Time) Payload {
	return Payload{
		kind: KindPing,
		data: maps.Clone(info),
		params: Params{
			"type":       "ping",
			"started_at": startedAt.UTC(),
		},
	}
}

// NewTracePayload wraps a recorded call tree.
func NewTracePayload(trace *Trace, processID string) Payload {
	return Payload{
		kind: KindTrace,
		data: trace.Data(),
		params: Params{
			"type":       "trace",
			"trace_id":   trace.ID(),
			"process_id": processID,
		},
	}
}
