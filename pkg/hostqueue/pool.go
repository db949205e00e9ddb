package hostqueue

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// Pool hands out one Queue per host.
type Pool struct {
	name    string
	opts    []Option
	limiter *rate.Limiter

	mu     sync.Mutex
	queues map[string]*Queue
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueueOptions applies opts to every queue the pool creates.
func WithQueueOptions(opts ...Option) PoolOption {
	return func(p *Pool) {
		p.opts = append(p.opts, opts...)
	}
}

// RateLimit caps dispatches across all hosts of the pool. The zero limit
// disables the cap.
func RateLimit(limit rate.Limit, burst int) PoolOption {
	return func(p *Pool) {
		if limit <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewPool creates a named pool. The name is used in logs and metrics.
func NewPool(name string, opts ...PoolOption) *Pool {
	p := &Pool{
		name:   name,
		queues: make(map[string]*Queue),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Queue returns the queue for host, creating it on first use.
func (p *Pool) Queue(host string) *Queue {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.queues[host]
	if !ok {
		opts := p.opts
		if p.limiter != nil {
			opts = append(slices.Clone(opts), withLimiter(p.limiter))
		}
		q = NewQueue(host, opts...)
		p.queues[host] = q
	}
	return q
}

// Push runs task on the queue for host.
func (p *Pool) Push(ctx context.Context, host string, task Task) (any, error) {
	return p.Queue(host).Push(ctx, task)
}

// PushURL runs task on the queue for the host of rawURL.
func (p *Pool) PushURL(ctx context.Context, rawURL string, task Task) (any, error) {
	host, err := HostOf(rawURL)
	if err != nil {
		return nil, err
	}
	return p.Push(ctx, host, task)
}

// Hosts returns every host a queue was created for, sorted.
func (p *Pool) Hosts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	hosts := make([]string, 0, len(p.queues))
	for h := range p.queues {
		hosts = append(hosts, h)
	}
	slices.Sort(hosts)
	return hosts
}

// Pending returns the number of waiting tasks across all hosts.
func (p *Pool) Pending() int {
	p.mu.Lock()
	queues := make([]*Queue, 0, len(p.queues))
	for _, q := range p.queues {
		queues = append(queues, q)
	}
	p.mu.Unlock()

	n := 0
	for _, q := range queues {
		n += q.Len()
	}
	return n
}

// HostOf returns the lower-cased host name of rawURL without port.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "hostqueue: parse %q", rawURL)
	}
	host := u.Hostname()
	if host == "" {
		return "", errors.Newf("hostqueue: no host in %q", rawURL)
	}
	return strings.ToLower(host), nil
}
