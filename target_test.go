package dash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw     string
		want    Target
		wantErr bool
	}{
		{raw: "Conn#Query", want: Target{Receiver: "Conn", Method: "Query"}},
		{raw: "store.Conn#Query", want: Target{Receiver: "store.Conn", Method: "Query"}},
		{raw: "store.Conn.Open", want: Target{Receiver: "store.Conn", Method: "Open", Static: true}},
		{raw: "Store::Conn::open", want: Target{Receiver: "Store::Conn", Method: "open", Static: true}},
		{raw: " Conn#Query ", want: Target{Receiver: "Conn", Method: "Query"}},
		{raw: "Conn", wantErr: true},
		{raw: "#Query", wantErr: true},
		{raw: "Conn#", wantErr: true},
		{raw: "Conn.", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTarget(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "store.Conn#Query", Target{Receiver: "store.Conn", Method: "Query"}.String())
	assert.Equal(t, "store.Conn.Open", Target{Receiver: "store.Conn", Method: "Open", Static: true}.String())
}
