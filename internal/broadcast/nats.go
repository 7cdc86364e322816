package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/vk/computergrid/internal/computer"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes JSON messages on "<prefix>.state" and "<prefix>.deleted".
type NATS struct {
	pub    publisher
	nc     *nats.Conn
	prefix string
}

// DialNATS connects to url and reconnects forever in the background.
func DialNATS(url, prefix string, logger *slog.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("computergrid"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected.", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected.", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATS{pub: nc, nc: nc, prefix: prefix}, nil
}

func (n *NATS) publish(subject string, v any) error {
	if n.nc != nil && n.nc.IsClosed() {
		return errors.New("nats not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.pub.Publish(n.prefix+"."+subject, data)
}

func (n *NATS) State(_ context.Context, instance uuid.UUID, snap computer.Snapshot) error {
	return n.publish("state", StateMessage{Instance: instance.String(), Snapshot: snap})
}

func (n *NATS) Deleted(_ context.Context, instance uuid.UUID, computerID int) error {
	return n.publish("deleted", DeletedMessage{Instance: instance.String(), ComputerID: computerID})
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	if n.nc == nil {
		return nil
	}
	err := n.nc.Drain()
	n.nc.Close()
	return err
}
