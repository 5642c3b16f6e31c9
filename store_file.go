package dash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileStore writes encoded payloads into local directories named by endpoint URIs. It
// is the fallback when no collector can be reached.
type FileStore struct {
	codec  Codec
	sink   DeliverySink
	logger zerolog.Logger
	now    func() time.Time
}

// FileStoreOption is a functional option for the FileStore struct.
type FileStoreOption func(*FileStore)

// WithFileSink sets the observer of file writes.
func WithFileSink(sink DeliverySink) FileStoreOption {
	return func(s *FileStore) { s.sink = sink }
}

// NewFileStore creates a FileStore.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		sink:   nopSink{},
		logger: log.Logger.With().Str("component", "store_file").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store writes the payload to the first endpoint directory that accepts it.
func (s *FileStore) Store(_ context.Context, p Payload, endpoints []Endpoint) (Endpoint, bool) {
	blob, err := s.codec.Encode(p)
	if err != nil {
		s.logger.Error().Err(err).Stringer("kind", p.Kind()).Msg("Could not encode payload")
		return Endpoint{}, false
	}
	for _, ep := range endpoints {
		dir := fileStoreDir(ep)
		file, err := s.write(dir, p.Kind(), blob)
		metrics := DeliveryMetrics{
			Kind:      p.Kind(),
			Scheme:    ep.URL.Scheme,
			Target:    file,
			SizeBytes: int64(len(blob)),
			Outcome:   OutcomeDelivered,
		}
		if err != nil {
			metrics.Outcome = OutcomeFailed
			metrics.Err = err.Error()
			s.sink.ObserveDelivery(metrics)
			s.logger.Error().Err(err).Str("dir", dir).Msg("Could not write payload")
			continue
		}
		s.sink.ObserveDelivery(metrics)
		s.logger.Info().Stringer("kind", p.Kind()).Str("file", file).Msg("Stored payload")
		return ep, true
	}
	return Endpoint{}, false
}

// write stores blob in dir through a temporary file so readers never see partial data.
func (s *FileStore) write(dir string, kind Kind, blob []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%d_%s_%s",
		s.now().Format("20060102150405"), os.Getpid(), xid.New().String(), kind.PathSuffix())
	file := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".dash-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return "", err
	}
	return file, nil
}

// fileStoreDir derives the output directory from an endpoint URI: the host (for
// relative "file://dir/sub" forms) joined with the path.
func fileStoreDir(ep Endpoint) string {
	if ep.URL.Host != "" {
		return filepath.Join(ep.URL.Host, filepath.FromSlash(ep.URL.Path))
	}
	if ep.URL.Path == "" {
		return filepath.FromSlash(ep.URL.Opaque)
	}
	return filepath.FromSlash(ep.URL.Path)
}
