package dash

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport succeeds for the endpoints listed in accept and records every
// endpoint it was asked to try, in order.
type scriptedTransport struct {
	accept map[string]bool

	mu    sync.Mutex
	tried []string
}

func (s *scriptedTransport) Store(_ context.Context, _ Payload, endpoints []Endpoint) (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range endpoints {
		s.tried = append(s.tried, ep.String())
		if s.accept[ep.String()] {
			return ep, true
		}
	}
	return Endpoint{}, false
}

func (s *scriptedTransport) Tried() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tried...)
}

func mustEndpoints(t *testing.T, raw ...string) []Endpoint {
	t.Helper()
	out := make([]Endpoint, 0, len(raw))
	for _, r := range raw {
		ep, err := ParseEndpoint(r)
		require.NoError(t, err)
		out = append(out, ep)
	}
	return out
}

func TestRouter_StopsAtFirstSuccess(t *testing.T) {
	a := newStubCollector(t, http.StatusInternalServerError)
	b := newStubCollector(t, http.StatusCreated)
	c := newStubCollector(t, http.StatusCreated)

	router := NewRouter(NewHTTPStore("app"), NewFileStore())
	ok := router.Store(context.Background(), NewPingPayload(nil, time.Now()),
		[]Endpoint{a.Endpoint(t), b.Endpoint(t), c.Endpoint(t)})
	require.True(t, ok)

	assert.Len(t, a.Requests(), 1)
	assert.Len(t, b.Requests(), 1)
	assert.Empty(t, c.Requests())
}

func TestRouter_Partitions(t *testing.T) {
	endpoints := mustEndpoints(t,
		"file:///tmp/one",
		"https://a.example",
		"file:///tmp/two",
		"http://b.example",
	)

	tests := []struct {
		name       string
		opts       []RouterOption
		httpAccept map[string]bool
		fileAccept map[string]bool
		wantOK     bool
		wantHTTP   []string
		wantFile   []string
	}{
		{
			name:       "http group first, order kept",
			httpAccept: map[string]bool{"http://b.example": true},
			wantOK:     true,
			wantHTTP:   []string{"https://a.example", "http://b.example"},
		},
		{
			name:       "falls back to files",
			fileAccept: map[string]bool{"file:///tmp/two": true},
			wantOK:     true,
			wantHTTP:   []string{"https://a.example", "http://b.example"},
			wantFile:   []string{"file:///tmp/one", "file:///tmp/two"},
		},
		{
			name:       "file group first",
			opts:       []RouterOption{WithFileFirst()},
			httpAccept: map[string]bool{"https://a.example": true},
			fileAccept: map[string]bool{"file:///tmp/one": true},
			wantOK:     true,
			wantFile:   []string{"file:///tmp/one"},
		},
		{
			name:     "everything fails",
			wantHTTP: []string{"https://a.example", "http://b.example"},
			wantFile: []string{"file:///tmp/one", "file:///tmp/two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpT := &scriptedTransport{accept: tt.httpAccept}
			fileT := &scriptedTransport{accept: tt.fileAccept}
			router := NewRouter(httpT, fileT, tt.opts...)

			ok := router.Store(context.Background(), NewPingPayload(nil, time.Now()), endpoints)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantHTTP, httpT.Tried())
			assert.Equal(t, tt.wantFile, fileT.Tried())
		})
	}
}

func TestRouter_MissingTransport(t *testing.T) {
	fileT := &scriptedTransport{accept: map[string]bool{"file:///tmp/x": true}}
	router := NewRouter(nil, fileT)
	ok := router.Store(context.Background(), NewPingPayload(nil, time.Now()),
		mustEndpoints(t, "https://a.example", "file:///tmp/x"))
	assert.True(t, ok)

	assert.False(t, NewRouter(nil, nil).Store(context.Background(), NewPingPayload(nil, time.Now()),
		mustEndpoints(t, "https://a.example")))
	assert.False(t, NewRouter(fileT, fileT).Store(context.Background(), NewPingPayload(nil, time.Now()), nil))
}

func TestRouter_HTTPFailureFallsBackToDisk(t *testing.T) {
	down := newStubCollector(t, http.StatusBadGateway)
	dir := t.TempDir()

	router := NewRouter(NewHTTPStore("app"), NewFileStore())
	ok := router.Store(context.Background(), NewDataPayload(nil, "p1"),
		[]Endpoint{fileEndpoint(t, dir), down.Endpoint(t)})
	require.True(t, ok)

	assert.Len(t, down.Requests(), 1)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))
}
