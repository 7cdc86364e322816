package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/vk/computergrid/internal/computer"
)

// BreakerOptions configures a Breaker.
type BreakerOptions struct {
	// Failures is how many consecutive failures open the circuit.
	Failures uint32
	// Cooldown is how long the circuit stays open before a trial request.
	Cooldown time.Duration
}

// Breaker stops calling a remote broadcaster while it keeps failing, so a
// dead dashboard cannot slow down every host tick.
type Breaker struct {
	next Broadcaster
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next in a circuit breaker named name. State changes are
// logged with logger.
func NewBreaker(name string, next Broadcaster, opts BreakerOptions, logger *slog.Logger) *Breaker {
	if opts.Failures == 0 {
		opts.Failures = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     opts.Cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= opts.Failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if to == gobreaker.StateOpen {
					logger.Warn("Broadcast circuit opened.", "sink", name, "from", from.String())
					return
				}
				logger.Info("Broadcast circuit changed state.", "sink", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool { return b.cb.State() == gobreaker.StateOpen }

func (b *Breaker) do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (b *Breaker) State(ctx context.Context, instance uuid.UUID, snap computer.Snapshot) error {
	return b.do(func() error { return b.next.State(ctx, instance, snap) })
}

func (b *Breaker) Deleted(ctx context.Context, instance uuid.UUID, computerID int) error {
	return b.do(func() error { return b.next.Deleted(ctx, instance, computerID) })
}

// Close always reaches the wrapped broadcaster, open circuit or not.
func (b *Breaker) Close() error { return b.next.Close() }
