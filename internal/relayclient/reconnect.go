package relayclient

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff"
	petname "github.com/dustinkirkland/golang-petname"
)

// ReconnectPolicy bounds explicit, caller-driven dial retries. A Client never
// re-dials on its own; callers that want a new connection after Done fires
// call DialWithPolicy again.
type ReconnectPolicy struct {
	// MaxAttempts counts the first dial. Zero or one means a single attempt.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:     1,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// DialWithPolicy dials until a Client is welcomed or the policy is exhausted.
func DialWithPolicy(ctx context.Context, cfg Config, policy ReconnectPolicy) (*Client, error) {
	var c *Client
	attempt := 0
	op := func() error {
		attempt++
		client, err := Dial(ctx, cfg)
		if err != nil {
			return err
		}
		c = client
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if cfg.Logger != nil {
			cfg.Logger.Warn("relay dial failed; retrying", "attempt", attempt, "wait", wait, "err", err)
		}
	}
	if err := backoff.RetryNotify(op, policy.backOff(ctx), notify); err != nil {
		return nil, fmt.Errorf("relayclient: giving up after %d attempt(s): %w", attempt, err)
	}
	return c, nil
}

// NewPeerKey returns a readable random key such as "brave-otter-4821".
func NewPeerKey() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return petname.Generate(3, "-")
	}
	return fmt.Sprintf("%s-%04d", petname.Generate(2, "-"), n.Int64())
}
