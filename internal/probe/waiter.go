// Package probe provides blocking poll-until-condition reachability
// primitives. Every wait carries an explicit timeout and interval; the
// caller either proceeds on success or treats the expired deadline as
// its own kind of outcome.
package probe

import (
	"context"
	"net"
	"runtime"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// Waiter polls a condition until it holds or a deadline passes.
type Waiter struct {
	Timeout  time.Duration
	Interval time.Duration

	// ProbeTimeout bounds a single reachability attempt.
	ProbeTimeout time.Duration

	logger *zap.Logger

	// overridable for tests
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	ping func(ctx context.Context, host string) bool
}

// NewWaiter creates a waiter with the given deadline semantics.
func NewWaiter(timeout, interval time.Duration, logger *zap.Logger) *Waiter {
	d := &net.Dialer{}
	w := &Waiter{
		Timeout:      timeout,
		Interval:     interval,
		ProbeTimeout: 3 * time.Second,
		logger:       logger,
		dial:         d.DialContext,
	}
	w.ping = w.pingOnce
	return w
}

// WaitFor polls cond until it returns true or the deadline expires.
// The first poll happens immediately, so a condition that is already
// true returns without sleeping; total blocking never exceeds
// Timeout + Interval.
func (w *Waiter) WaitFor(ctx context.Context, cond func(ctx context.Context) bool) bool {
	deadline := time.Now().Add(w.Timeout)
	for {
		if cond(ctx) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.Interval):
		}
	}
}

// WaitTCPUp blocks until a TCP connection to host:port succeeds.
func (w *Waiter) WaitTCPUp(ctx context.Context, host string, port int) bool {
	return w.WaitFor(ctx, func(ctx context.Context) bool {
		return w.tcpOpen(ctx, host, port)
	})
}

// WaitTCPDown blocks until a TCP connection to host:port fails.
func (w *Waiter) WaitTCPDown(ctx context.Context, host string, port int) bool {
	return w.WaitFor(ctx, func(ctx context.Context) bool {
		return !w.tcpOpen(ctx, host, port)
	})
}

// WaitICMP blocks until the host answers a ping.
func (w *Waiter) WaitICMP(ctx context.Context, host string) bool {
	return w.WaitFor(ctx, func(ctx context.Context) bool {
		return w.ping(ctx, host)
	})
}

func (w *Waiter) tcpOpen(ctx context.Context, host string, port int) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, w.ProbeTimeout)
	defer cancel()

	conn, err := w.dial(attemptCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// pingOnce sends a single ICMP echo and waits for its reply.
func (w *Waiter) pingOnce(ctx context.Context, host string) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		w.logger.Debug("failed to create pinger", zap.String("host", host), zap.Error(err))
		return false
	}
	pinger.Count = 1
	pinger.Timeout = w.ProbeTimeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			w.logger.Debug("ping failed", zap.String("host", host), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
