package dash

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxResponseBody bounds how much of a collector response is read for logging.
const maxResponseBody = 4096

// HTTPStoreOption is a functional option for the HTTPStore struct.
type HTTPStoreOption func(*HTTPStore)

// WithTimeouts sets the open and read timeouts of each attempt.
func WithTimeouts(t HTTPTimeouts) HTTPStoreOption {
	return func(s *HTTPStore) { s.timeouts = t }
}

// WithSkipTLSVerify disables validation of collector certificates.
// Use with caution, intended mainly for tests or trusted internal collectors.
func WithSkipTLSVerify() HTTPStoreOption {
	return func(s *HTTPStore) { s.skipTLSVerify = true }
}

// WithHostResolver replaces the resolver behind the collector address cache.
func WithHostResolver(r HostResolver) HTTPStoreOption {
	return func(s *HTTPStore) { s.resolver = r }
}

// WithHTTPSink sets the observer of delivery attempts.
func WithHTTPSink(sink DeliverySink) HTTPStoreOption {
	return func(s *HTTPStore) { s.sink = sink }
}

// WithHTTPLogger sets the store's logger.
func WithHTTPLogger(l zerolog.Logger) HTTPStoreOption {
	return func(s *HTTPStore) { s.logger = l }
}

// HTTPStore posts payloads to collectors as multipart forms under /apps/<app>/.
// Every failure is contained: Store reports a boolean and never returns an error.
type HTTPStore struct {
	app           string
	timeouts      HTTPTimeouts
	skipTLSVerify bool
	resolver      HostResolver
	sink          DeliverySink
	logger        zerolog.Logger
	codec         Codec

	hosts  *hostCache
	client *http.Client
}

// NewHTTPStore creates a store posting on behalf of the app token.
func NewHTTPStore(app string, opts ...HTTPStoreOption) *HTTPStore {
	s := &HTTPStore{
		app:    app,
		sink:   nopSink{},
		logger: log.Logger.With().Str("component", "store_http").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timeouts = s.timeouts.withDefaults()
	s.hosts = newHostCache(s.resolver)

	tr := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: s.timeouts.Open}
	tr.DialContext = s.dialContext(dialer)
	tr.TLSHandshakeTimeout = s.timeouts.Open
	tr.ResponseHeaderTimeout = s.timeouts.Read
	if s.skipTLSVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}
	s.client = &http.Client{
		Transport: tr,
		// Redirects are classified like any other non-201 response.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return s
}

// dialContext dials the cached address of the requested host, keeping the hostname for
// the Host header and TLS server name.
func (s *HTTPStore) dialContext(dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ip, err := s.hosts.Resolve(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", host, err)
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}
}

// Store tries each endpoint in order and returns the first that accepted the payload.
func (s *HTTPStore) Store(ctx context.Context, p Payload, endpoints []Endpoint) (Endpoint, bool) {
	blob, err := s.codec.Encode(p)
	if err != nil {
		s.logger.Error().Err(err).Stringer("kind", p.Kind()).Msg("Could not encode payload")
		return Endpoint{}, false
	}

	s.logger.Info().Stringer("kind", p.Kind()).Msg("Attempting to send payload")
	for _, ep := range endpoints {
		if s.transmit(ctx, p, blob, ep) {
			s.logger.Info().Stringer("kind", p.Kind()).Str("endpoint", ep.String()).Msg("Sent payload")
			return ep, true
		}
	}
	s.logger.Warn().Stringer("kind", p.Kind()).Msg("Could not send payload")
	return Endpoint{}, false
}

// transmit makes one bounded attempt against one collector.
func (s *HTTPStore) transmit(ctx context.Context, p Payload, blob []byte, ep Endpoint) bool {
	target := s.collectorURL(ep.URL, p.Kind())
	metrics := DeliveryMetrics{
		Kind:    p.Kind(),
		Scheme:  ep.URL.Scheme,
		Target:  target.String(),
		Outcome: OutcomeFailed,
	}
	defer func() { s.sink.ObserveDelivery(metrics) }()

	params := p.Params()
	if p.Kind() == KindExceptions {
		params["app_id"] = s.app
	}
	mp := NewMultipart(blob, params)
	body := mp.Bytes()
	metrics.SizeBytes = int64(len(body))

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.attempt())
	defer cancel()

	times := &traceTimes{}
	ctx = httptrace.WithClientTrace(ctx, traceRequest(times))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		metrics.Err = err.Error()
		s.logger.Error().Err(err).Msg("Could not build collector request")
		return false
	}
	request.Header.Set("Content-Type", mp.ContentType())

	response, err := s.client.Do(request)
	if err != nil {
		metrics.Err = err.Error()
		s.logger.Error().Err(err).Str("endpoint", target.Host).Msg("Could not access collector")
		return false
	}
	defer response.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(response.Body, maxResponseBody))
	_, _ = io.Copy(io.Discard, response.Body)
	ts := times.snapshot()
	ts.dataDone = time.Now()
	metrics.Times = TimeDataFromTimestamps(ts)
	metrics.StatusCode = response.StatusCode

	switch {
	case response.StatusCode == http.StatusCreated:
		metrics.Outcome = OutcomeDelivered
		return true
	case response.StatusCode >= 400 && response.StatusCode < 500:
		metrics.Outcome = OutcomeRejected
		s.logger.Warn().Int("status", response.StatusCode).Str("body", string(respBody)).
			Str("endpoint", target.Host).Msg("Collector rejected payload")
		return false
	default:
		s.logger.Debug().Int("status", response.StatusCode).Str("endpoint", target.Host).
			Msg("Received unknown response from collector")
		return false
	}
}

// collectorURL replaces the endpoint path with the payload kind's collector path.
func (s *HTTPStore) collectorURL(base *url.URL, kind Kind) *url.URL {
	u := *base
	u.Path = path.Join("/apps", s.app, kind.PathSuffix())
	u.RawPath = ""
	u.RawQuery = ""
	return &u
}
