package task

import (
	"context"
	"sync"
)

// Pending is the single-resolution future returned by Submit.
type Pending struct {
	seq   uint64
	owner string

	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newPending(seq uint64, owner string) *Pending {
	return &Pending{seq: seq, owner: owner, done: make(chan struct{})}
}

// Seq returns the request's sequence number.
func (p *Pending) Seq() uint64 { return p.seq }

// Owner returns the id of the computer that submitted the request.
func (p *Pending) Owner() string { return p.owner }

// Done is closed once the request has resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// resolve stores the outcome if nothing has been stored yet. It reports
// whether this call was the one that resolved the future.
func (p *Pending) resolve(value any, err error) bool {
	resolved := false
	p.once.Do(func() {
		p.value, p.err = value, err
		close(p.done)
		resolved = true
	})
	return resolved
}

// Result returns the outcome and true once the request has resolved.
func (p *Pending) Result() (any, error, bool) {
	select {
	case <-p.done:
		return p.value, p.err, true
	default:
		return nil, nil, false
	}
}

// Wait blocks until the request resolves or ctx is done. Giving up through
// ctx resolves the request with ErrCancelled, so a later result is dropped.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.resolve(nil, ErrCancelled)
	}
	return p.value, p.err
}
