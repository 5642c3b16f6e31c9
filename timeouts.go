package dash

import (
	"errors"
	"time"
)

const (
	// defaultOpenTimeout bounds connecting to a collector, TLS included.
	defaultOpenTimeout = 10 * time.Second
	// defaultReadTimeout bounds waiting for a collector's response.
	defaultReadTimeout = 10 * time.Second
)

// HTTPTimeouts configures the bounds of one delivery attempt.
type HTTPTimeouts struct {
	// Open is the maximum duration for dialing and the TLS handshake.
	// Zero uses the default (10 seconds).
	Open time.Duration

	// Read is the maximum duration waiting for response headers after the request has
	// been written. Zero uses the default (10 seconds).
	Read time.Duration
}

// Validate checks that the HTTPTimeouts configuration is valid.
func (t HTTPTimeouts) Validate() error {
	if t.Open < 0 {
		return errors.New("HTTPTimeouts.Open cannot be negative")
	}
	if t.Read < 0 {
		return errors.New("HTTPTimeouts.Read cannot be negative")
	}
	return nil
}

// withDefaults fills in zero values.
func (t HTTPTimeouts) withDefaults() HTTPTimeouts {
	if t.Open == 0 {
		t.Open = defaultOpenTimeout
	}
	if t.Read == 0 {
		t.Read = defaultReadTimeout
	}
	return t
}

// attempt is the hard bound of a whole attempt.
func (t HTTPTimeouts) attempt() time.Duration {
	return t.Open + t.Read
}
