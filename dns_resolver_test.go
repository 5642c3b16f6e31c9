package dash

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testResolver implements HostResolver for testing purposes.
type testResolver struct {
	mu    sync.Mutex
	addrs []netip.Addr
	err   error
	calls int
}

func newTestResolver(addrs ...string) *testResolver {
	r := &testResolver{}
	r.Set(nil, addrs...)
	return r
}

func (r *testResolver) Lookup(_ context.Context, _ string) ([]netip.Addr, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return append([]netip.Addr(nil), r.addrs...), time.Minute, r.err
}

func (r *testResolver) Set(err error, addrs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs = r.addrs[:0]
	for _, a := range addrs {
		r.addrs = append(r.addrs, netip.MustParseAddr(a))
	}
	r.err = err
}

func (r *testResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestHostCache(r HostResolver, now *time.Time, jitter time.Duration) *hostCache {
	c := newHostCache(r)
	c.now = func() time.Time { return *now }
	c.jitter = func() time.Duration { return jitter }
	return c
}

func TestHostCache_Localhost(t *testing.T) {
	resolver := newTestResolver("10.0.0.1")
	c := newHostCache(resolver)

	ip, err := c.Resolve(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)

	ip, err = c.Resolve(context.Background(), "192.0.2.7")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.7", ip)
	assert.Zero(t, resolver.Calls())
}

func TestHostCache_Expiry(t *testing.T) {
	resolver := newTestResolver("10.0.0.1")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestHostCache(resolver, &now, 30*time.Minute)
	ctx := context.Background()

	ip, err := c.Resolve(ctx, "collector.example")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip)

	resolver.Set(nil, "10.0.0.2")
	now = now.Add(23 * time.Hour)
	ip, err = c.Resolve(ctx, "collector.example")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip, "entry still within jitter window")
	assert.Equal(t, 1, resolver.Calls())

	now = now.Add(31 * time.Minute)
	ip, err = c.Resolve(ctx, "collector.example")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ip)
	assert.Equal(t, 2, resolver.Calls())
}

func TestHostCache_Errors(t *testing.T) {
	resolver := newTestResolver()
	resolver.Set(errors.New("servfail"))
	c := newHostCache(resolver)

	_, err := c.Resolve(context.Background(), "collector.example")
	assert.Error(t, err)

	resolver.Set(nil)
	_, err = c.Resolve(context.Background(), "collector.example")
	assert.Error(t, err, "empty answer")

	resolver.Set(nil, "10.0.0.9")
	ip, err := c.Resolve(context.Background(), "collector.example")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", ip)
}

func TestHostCache_DefaultJitterRange(t *testing.T) {
	c := newHostCache(newTestResolver("10.0.0.1"))
	for range 100 {
		j := c.jitter()
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, time.Hour)
	}
}

func TestAnswers(t *testing.T) {
	msg := new(dns.Msg)
	for _, s := range []string{
		"collector.example. 300 IN A 192.0.2.1",
		"collector.example. 60 IN A 192.0.2.2",
		"collector.example. 120 IN CNAME other.example.",
		"collector.example. 600 IN AAAA 2001:db8::1",
	} {
		rr, err := dns.NewRR(s)
		require.NoError(t, err)
		msg.Answer = append(msg.Answer, rr)
	}

	addrs, ttl := answers(msg)
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("192.0.2.1"),
		netip.MustParseAddr("192.0.2.2"),
		netip.MustParseAddr("2001:db8::1"),
	}, addrs)
	assert.Equal(t, time.Minute, ttl)

	addrs, ttl = answers(new(dns.Msg))
	assert.Empty(t, addrs)
	assert.Zero(t, ttl)
}

func TestDefaultHostResolver_LiteralIP(t *testing.T) {
	addrs, ttl, err := newDefaultHostResolver().Lookup(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("203.0.113.9")}, addrs)
	assert.Zero(t, ttl)
}
