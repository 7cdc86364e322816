package app

import (
	"context"

	"github.com/vk/computergrid/internal/broadcast"
	"github.com/vk/computergrid/internal/ctxlog"
)

// buildBroadcaster always logs state changes and adds a breaker-guarded
// sink for every remote server that could be reached. An unreachable server
// is logged and skipped; the simulation runs without it.
func (a *App) buildBroadcaster(ctx context.Context) broadcast.Broadcaster {
	logger := ctxlog.FromContext(ctx)
	cfg := a.model.Broadcast

	sinks := []broadcast.Sink{{Name: "log", Broadcaster: broadcast.Log{}}}
	breaker := broadcast.BreakerOptions{
		Failures: uint32(max(cfg.BreakerFailures, 0)),
		Cooldown: cfg.BreakerCooldown,
	}

	if cfg.SocketIO != nil && cfg.SocketIO.URL != "" {
		s, err := broadcast.DialSocketIO(ctx, broadcast.SocketIOOptions{
			URL:                cfg.SocketIO.URL,
			Namespace:          cfg.SocketIO.Namespace,
			InsecureSkipVerify: cfg.SocketIO.InsecureSkipVerify,
		}, logger)
		if err != nil {
			logger.Warn("Socket.io broadcaster unavailable, continuing without it.", "url", cfg.SocketIO.URL, "error", err)
		} else {
			sinks = append(sinks, broadcast.Sink{Name: "socketio", Broadcaster: broadcast.NewBreaker("socketio", s, breaker, logger)})
		}
	}

	if cfg.NATS != nil && cfg.NATS.URL != "" {
		n, err := broadcast.DialNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("NATS broadcaster unavailable, continuing without it.", "url", cfg.NATS.URL, "error", err)
		} else {
			sinks = append(sinks, broadcast.Sink{Name: "nats", Broadcaster: broadcast.NewBreaker("nats", n, breaker, logger)})
		}
	}

	logger.Debug("Broadcasters configured.", "sinks", len(sinks))
	return broadcast.NewMulti(a.metrics, sinks...)
}
