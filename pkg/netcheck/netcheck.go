// Package netcheck probes basic network reachability.
package netcheck

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/serial-jobs/pkg/core"
)

// DefaultTargets are well-known anycast resolvers reachable from most networks.
var DefaultTargets = []string{"1.1.1.1:53", "8.8.8.8:53"}

// DefaultTimeout bounds each dial.
const DefaultTimeout = 3 * time.Second

// Prober reports whether the network is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// DialProber considers the network reachable when a TCP connection to any
// target succeeds.
type DialProber struct {
	Targets []string
	Timeout time.Duration
	dialer  func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewDialProber creates a DialProber. Empty targets fall back to DefaultTargets
// and a non-positive timeout to DefaultTimeout.
func NewDialProber(targets []string, timeout time.Duration) *DialProber {
	if len(targets) == 0 {
		targets = DefaultTargets
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &net.Dialer{Timeout: timeout}
	return &DialProber{Targets: targets, Timeout: timeout, dialer: d.DialContext}
}

// Probe dials targets in order and returns nil on the first success.
func (p *DialProber) Probe(ctx context.Context) error {
	var errs error
	for _, addr := range p.Targets {
		dialCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		conn, err := p.dialer(dialCtx, "tcp", addr)
		cancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}
		errs = errors.CombineErrors(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if errs == nil {
		errs = errors.New("no targets configured")
	}
	return errors.Mark(errors.Wrap(errs, "netcheck: no target reachable"), core.ErrNetworkUnavailable)
}
