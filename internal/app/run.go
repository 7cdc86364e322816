package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/computergrid/internal/ctxlog"
	"github.com/vk/computergrid/internal/wired"
)

// closeTimeout bounds how long Close waits for workers to exit.
const closeTimeout = 5 * time.Second

// Start boots every autostart computer and the health check server.
func (a *App) Start(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.healthCheckServer()

	var errs []error
	for _, p := range a.computers {
		if !p.conf.Autostart {
			continue
		}
		if err := p.exec.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("computer %q: %w", p.name, err))
		}
	}
	a.logger.Info("🚀 Simulation started.",
		"computers", len(a.computers),
		"nodes", len(a.model.Nodes),
		"tick_rate", a.model.Simulation.TickRate,
	)
	return errors.Join(errs...)
}

// Tick runs one host tick: keep-alives, scheduled events, every computer's
// tick, the main-thread task queue and, periodically, the network
// self-check. Nothing that happens inside a computer aborts the tick.
func (a *App) Tick(ctx context.Context) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	start := time.Now()

	a.keepAlive()
	a.dispatchEvents()
	a.registry.TickAll(ctx)

	stats := a.bridge.Drain(ctx)
	a.metrics.Tasks(stats.Executed, stats.TimedOut, stats.Discarded, stats.Remaining)

	a.ticks++
	if interval := a.model.Simulation.ConsistencyInterval; interval > 0 && a.ticks%uint64(interval) == 0 {
		if err := a.network.CheckConsistency(ctx); errors.Is(err, wired.ErrInconsistent) {
			a.metrics.Inconsistency()
		}
	}
	a.metrics.ObserveTick(time.Since(start))
}

// keepAlive refreshes every computer whose node still exists. A computer
// whose node was removed stops being refreshed and is evicted by the
// registry once its keep-alive runs out.
func (a *App) keepAlive() {
	for _, p := range a.computers {
		if p.node == "" || a.network.HasNode(p.node) {
			p.exec.KeepAlive()
		}
	}
}

// dispatchEvents queues the configured events that are due on this tick.
func (a *App) dispatchEvents() {
	for a.nextEvent < len(a.events) && a.events[a.nextEvent].Tick <= a.ticks {
		ev := a.events[a.nextEvent]
		a.nextEvent++
		exec, ok := a.Computer(ev.Computer)
		if !ok {
			continue
		}
		a.logger.Debug("Queueing scheduled event.", "computer", ev.Computer, "event", ev.Name, "tick", a.ticks)
		exec.QueueEvent(ev.Name, ev.Args...)
	}
}

// Run executes the host loop at the configured tick rate until ctx is done
// or MaxTicks ticks have run, then closes the application.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if err := a.Start(ctx); err != nil {
		a.logger.Warn("Some computers failed to start.", "error", err)
	}

	ticker := time.NewTicker(time.Second / time.Duration(a.model.Simulation.TickRate))
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Simulation interrupted.", "ticks", a.ticks)
			break loop
		case <-ticker.C:
			a.Tick(ctx)
			if a.config.MaxTicks > 0 && a.ticks >= a.config.MaxTicks {
				a.logger.Info("🏁 Simulation reached its tick limit.", "ticks", a.ticks)
				break loop
			}
		}
	}

	return a.Close(ctx)
}

// Close unloads every computer, closes the broadcasters, the health check
// server and the store. It keeps working after ctx is cancelled. Only the
// first call does anything.
func (a *App) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	a.closed = true
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctxlog.WithLogger(ctx, a.logger)), closeTimeout)
	defer cancel()

	a.logger.Debug("Closing application...")
	err := errors.Join(
		a.registry.Close(ctx),
		a.closeHealthCheckServer(ctx),
		a.store.Close(),
	)
	a.logger.Info("🛑 Simulation stopped.", "ticks", a.ticks)
	return err
}
