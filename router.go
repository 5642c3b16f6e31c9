package dash

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport delivers a payload to the first of a list of endpoints that accepts it.
type Transport interface {
	Store(ctx context.Context, p Payload, endpoints []Endpoint) (Endpoint, bool)
}

// Deliverer stores a payload somewhere among a list of endpoints.
type Deliverer interface {
	Store(ctx context.Context, p Payload, endpoints []Endpoint) bool
}

// RouterOption is a functional option for the Router struct.
type RouterOption func(*Router)

// WithFileFirst makes the router try filesystem endpoints before network ones.
func WithFileFirst() RouterOption {
	return func(r *Router) { r.fileFirst = true }
}

// WithRouterLogger sets the router's logger.
func WithRouterLogger(l zerolog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// Router splits endpoints by scheme and falls back through them until one transport
// accepts the payload.
type Router struct {
	http      Transport
	file      Transport
	fileFirst bool
	logger    zerolog.Logger
}

// NewRouter creates a Router over a network and a filesystem transport.
func NewRouter(httpTransport, fileTransport Transport, opts ...RouterOption) *Router {
	r := &Router{
		http:   httpTransport,
		file:   fileTransport,
		logger: log.Logger.With().Str("component", "router").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store reports whether any endpoint accepted the payload. Endpoint order is kept within
// each scheme group.
func (r *Router) Store(ctx context.Context, p Payload, endpoints []Endpoint) bool {
	var httpGroup, fileGroup []Endpoint
	for _, ep := range endpoints {
		if ep.URL == nil {
			continue
		}
		if ep.IsHTTP() {
			httpGroup = append(httpGroup, ep)
		} else {
			fileGroup = append(fileGroup, ep)
		}
	}

	type group struct {
		name      string
		transport Transport
		endpoints []Endpoint
	}
	groups := []group{{"http", r.http, httpGroup}, {"file", r.file, fileGroup}}
	if r.fileFirst {
		groups[0], groups[1] = groups[1], groups[0]
	}

	for _, g := range groups {
		if len(g.endpoints) == 0 {
			continue
		}
		if g.transport == nil {
			r.logger.Warn().Str("group", g.name).Msg("No transport for endpoint group")
			continue
		}
		if ep, ok := g.transport.Store(ctx, p, g.endpoints); ok {
			r.logger.Debug().Stringer("kind", p.Kind()).Str("endpoint", ep.String()).Msg("Payload stored")
			return true
		}
	}
	return false
}
