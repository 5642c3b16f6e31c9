package dash

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

const (
	// hostCacheBase is the minimum lifetime of a resolved collector address.
	hostCacheBase = 23 * time.Hour
	// hostCacheJitterMinutes spreads expiry over the following hour so many agents do
	// not re-resolve at once.
	hostCacheJitterMinutes = 60
)

// HostResolver looks up the addresses of a host. The TTL is informational.
type HostResolver interface {
	Lookup(ctx context.Context, host string) ([]netip.Addr, time.Duration, error)
}

// defaultHostResolver asks the nameservers of /etc/resolv.conf directly, so answers carry
// their TTL, and falls back to the system resolver.
type defaultHostResolver struct {
	once    sync.Once
	conf    *dns.ClientConfig
	confErr error

	client   *dns.Client
	fallback *net.Resolver
}

func newDefaultHostResolver() *defaultHostResolver {
	return &defaultHostResolver{
		client:   &dns.Client{Timeout: 5 * time.Second},
		fallback: net.DefaultResolver,
	}
}

// Lookup returns IPv4 answers when there are any, IPv6 answers otherwise, with the
// smallest TTL seen.
func (r *defaultHostResolver) Lookup(ctx context.Context, host string) ([]netip.Addr, time.Duration, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, 0, nil
	}
	host = strings.TrimSuffix(host, ".")

	var queryErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, ttl, err := r.query(ctx, host, qtype)
		if err != nil {
			queryErr = errors.Join(queryErr, err)
			continue
		}
		if len(addrs) > 0 {
			return addrs, ttl, nil
		}
	}

	addrs, err := r.fallback.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, 0, errors.Join(queryErr, err)
	}
	return addrs, 0, nil
}

// query sends one question to each configured nameserver until one answers.
func (r *defaultHostResolver) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, time.Duration, error) {
	r.once.Do(func() {
		r.conf, r.confErr = dns.ClientConfigFromFile("/etc/resolv.conf")
	})
	if r.confErr != nil {
		return nil, 0, r.confErr
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	var lastErr error
	for _, server := range r.conf.Servers {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		resp, _, err := r.client.ExchangeContext(ctx, msg, net.JoinHostPort(server, r.conf.Port))
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s: %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}
		addrs, ttl := answers(resp)
		return addrs, ttl, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no nameservers configured")
	}
	return nil, 0, lastErr
}

// answers extracts the addresses of A and AAAA records and their smallest TTL.
func answers(resp *dns.Msg) ([]netip.Addr, time.Duration) {
	var (
		addrs []netip.Addr
		ttl   time.Duration
	)
	for _, rr := range resp.Answer {
		var raw net.IP
		switch rec := rr.(type) {
		case *dns.A:
			raw = rec.A
		case *dns.AAAA:
			raw = rec.AAAA
		default:
			continue
		}
		ip, ok := netip.AddrFromSlice(raw)
		if !ok {
			continue
		}
		addrs = append(addrs, ip.Unmap())
		if d := time.Duration(rr.Header().Ttl) * time.Second; ttl == 0 || d < ttl {
			ttl = d
		}
	}
	return addrs, ttl
}

// hostEntry is a cached resolution.
type hostEntry struct {
	ip         string
	nextUpdate time.Time
}

// hostCache resolves collector hostnames to IPs, keeping each answer for about a day.
type hostCache struct {
	resolver HostResolver

	mu      sync.Mutex
	entries map[string]hostEntry
	group   singleflight.Group

	now    func() time.Time
	jitter func() time.Duration
}

func newHostCache(resolver HostResolver) *hostCache {
	if resolver == nil {
		resolver = newDefaultHostResolver()
	}
	return &hostCache{
		resolver: resolver,
		entries:  make(map[string]hostEntry),
		now:      time.Now,
		jitter: func() time.Duration {
			return time.Duration(rand.IntN(hostCacheJitterMinutes)) * time.Minute
		},
	}
}

// Resolve returns the IP to dial for host.
func (c *hostCache) Resolve(ctx context.Context, host string) (string, error) {
	if host == "localhost" {
		return "127.0.0.1", nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.String(), nil
	}

	c.mu.Lock()
	entry, ok := c.entries[host]
	c.mu.Unlock()
	if ok && c.now().Before(entry.nextUpdate) {
		return entry.ip, nil
	}

	v, err, _ := c.group.Do(host, func() (any, error) {
		addrs, _, err := c.resolver.Lookup(ctx, host)
		if err != nil {
			return "", err
		}
		if len(addrs) == 0 {
			return "", errors.New("no addresses for " + host)
		}
		ip := addrs[0].String()
		c.mu.Lock()
		c.entries[host] = hostEntry{ip: ip, nextUpdate: c.now().Add(hostCacheBase + c.jitter())}
		c.mu.Unlock()
		return ip, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
