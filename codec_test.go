package dash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	data := []Measurement{
		{Metric: "db.query", Context: []any{"table", "users"}, Count: 3, Total: 0.5, Min: 0.1, Max: 0.3},
		{Metric: "http.request", Count: 1, Total: 0.02, Min: 0.02, Max: 0.02},
	}
	for _, level := range []int{0, 1, 9} {
		c := Codec{Level: level}
		raw, err := c.Marshal(data)
		require.NoError(t, err)

		compressed, err := c.Encode(NewDataPayload(data, "p1"))
		require.NoError(t, err)

		restored, err := c.Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, raw, restored, "level %d", level)
	}
}

func TestCodec_MarshalSortsKeys(t *testing.T) {
	c := Codec{}
	a, err := c.Marshal(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2,"b":1,"c":3}`, string(a))
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(a))
}

func TestCodec_MeasurementFields(t *testing.T) {
	raw, err := Codec{}.Marshal(Measurement{Metric: "m", Count: 2, Total: 1.5, Min: 0.5, Max: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"m","invocations":2,"value":1.5,"min":0.5,"max":1}`, string(raw))
}

func TestCodec_DecompressGarbage(t *testing.T) {
	_, err := Codec{}.Decompress([]byte("not zlib"))
	assert.Error(t, err)
}

func TestCodec_InvalidLevel(t *testing.T) {
	_, err := Codec{Level: 42}.Compress([]byte("x"))
	assert.Error(t, err)
}
