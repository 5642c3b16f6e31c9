package dash

import (
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeDataFromTimestamps(t *testing.T) {
	start := time.Now()
	ts := requestTimestamps{
		start:     start,
		connStart: start.Add(1 * time.Millisecond),
		connDone:  start.Add(4 * time.Millisecond),
		tlsStart:  start.Add(4 * time.Millisecond),
		tlsDone:   start.Add(7 * time.Millisecond),
		wroteDone: start.Add(12 * time.Millisecond),
		firstByte: start.Add(18 * time.Millisecond),
		dataDone:  start.Add(28 * time.Millisecond),
	}

	req := TimeDataFromTimestamps(ts)

	require.Equal(t, start, req.SentAt)
	require.Equal(t, ts.firstByte, req.ReceivedAt)
	require.Equal(t, 18*time.Millisecond, req.Latency)

	require.NotNil(t, req.TCPConnect)
	require.Equal(t, 3*time.Millisecond, *req.TCPConnect)
	require.NotNil(t, req.TLSHandshake)
	require.Equal(t, 3*time.Millisecond, *req.TLSHandshake)
	require.NotNil(t, req.ServerProcessing)
	require.Equal(t, 6*time.Millisecond, *req.ServerProcessing)
	require.NotNil(t, req.RequestTimeTotal)
	require.Equal(t, 28*time.Millisecond, *req.RequestTimeTotal)
}

func TestTimeDataFromTimestamps_Partial(t *testing.T) {
	start := time.Now()
	req := TimeDataFromTimestamps(requestTimestamps{start: start})

	require.Equal(t, start, req.SentAt)
	require.Zero(t, req.Latency)
	require.Nil(t, req.TCPConnect)
	require.Nil(t, req.TLSHandshake)
	require.Nil(t, req.ServerProcessing)
	require.Nil(t, req.RequestTimeTotal)
}

func TestTraceRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	times := &traceTimes{}
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), traceRequest(times)))

	client := &http.Client{Transport: &http.Transport{}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	snap := times.snapshot()
	require.False(t, snap.start.IsZero())
	require.False(t, snap.connStart.IsZero())
	require.False(t, snap.wroteDone.IsZero())
	require.False(t, snap.firstByte.IsZero())
	require.True(t, snap.tlsStart.IsZero())
	require.False(t, snap.firstByte.Before(snap.start))
}
