package membership

import (
	"context"
	"errors"
	"time"

	"tasker-backend/pkg/identity"
)

// ErrSettleTimeout is returned when a polling settle gives up.
var ErrSettleTimeout = errors.New("session did not settle in time")

// Settler waits for the identity client's session change to take effect.
// wantUID == "" means waiting for the client to be signed out.
type Settler interface {
	Settle(ctx context.Context, client identity.Client, wantUID string) error
}

// DelaySettler sleeps a fixed interval regardless of the session state.
type DelaySettler struct {
	Delay time.Duration
}

func (d DelaySettler) Settle(ctx context.Context, _ identity.Client, _ string) error {
	if d.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(d.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PollSettler polls CurrentSession until it reflects wantUID or Timeout passes.
type PollSettler struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (p PollSettler) Settle(ctx context.Context, client identity.Client, wantUID string) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		sess, err := client.CurrentSession(ctx)
		if err == nil && settled(sess, wantUID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrSettleTimeout
		case <-tick.C:
		}
	}
}

func settled(sess *identity.Session, wantUID string) bool {
	if wantUID == "" {
		return sess == nil
	}
	return sess != nil && sess.UID == wantUID
}

// NewSettler picks the settle strategy by mode name. Anything but "poll"
// keeps the fixed delay.
func NewSettler(mode string, delay, timeout time.Duration) Settler {
	if mode == "poll" {
		return PollSettler{Timeout: timeout}
	}
	return DelaySettler{Delay: delay}
}
