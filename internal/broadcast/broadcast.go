// Package broadcast publishes computer state changes to outside observers:
// the log, socket.io dashboards and NATS subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vk/computergrid/internal/computer"
	"github.com/vk/computergrid/internal/ctxlog"
	"github.com/vk/computergrid/internal/metrics"
)

// Broadcaster receives every observable change of a loaded computer.
type Broadcaster interface {
	State(ctx context.Context, instance uuid.UUID, snap computer.Snapshot) error
	Deleted(ctx context.Context, instance uuid.UUID, computerID int) error
	Close() error
}

// StateMessage is the payload of a state broadcast.
type StateMessage struct {
	Instance string `json:"instance"`
	computer.Snapshot
}

// DeletedMessage is the payload of a deletion broadcast.
type DeletedMessage struct {
	Instance   string `json:"instance"`
	ComputerID int    `json:"id"`
}

// Log writes broadcasts to the context logger.
type Log struct{}

func (Log) State(ctx context.Context, instance uuid.UUID, snap computer.Snapshot) error {
	ctxlog.FromContext(ctx).Debug("Computer state changed.",
		"instance", instance, "computer_id", snap.ID, "state", snap.State, "label", snap.Label)
	return nil
}

func (Log) Deleted(ctx context.Context, instance uuid.UUID, computerID int) error {
	ctxlog.FromContext(ctx).Info("Computer unloaded.", "instance", instance, "computer_id", computerID)
	return nil
}

func (Log) Close() error { return nil }

// Sink is a named broadcaster inside a Multi.
type Sink struct {
	Name string
	Broadcaster
}

// Multi fans every broadcast out to all sinks. A failing sink does not stop
// the others; failures are counted per sink and joined.
type Multi struct {
	sinks   []Sink
	metrics *metrics.Metrics
}

// NewMulti creates a fan-out over sinks.
func NewMulti(m *metrics.Metrics, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, metrics: m}
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) each(fn func(b Broadcaster) error) error {
	var errs []error
	for _, s := range m.sinks {
		if err := fn(s.Broadcaster); err != nil {
			m.metrics.BroadcastFailure(s.Name)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) State(ctx context.Context, instance uuid.UUID, snap computer.Snapshot) error {
	return m.each(func(b Broadcaster) error { return b.State(ctx, instance, snap) })
}

func (m *Multi) Deleted(ctx context.Context, instance uuid.UUID, computerID int) error {
	return m.each(func(b Broadcaster) error { return b.Deleted(ctx, instance, computerID) })
}

func (m *Multi) Close() error {
	return m.each(func(b Broadcaster) error { return b.Close() })
}
