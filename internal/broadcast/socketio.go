package broadcast

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/vk/computergrid/internal/computer"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Socket.io event names.
const (
	EventComputerState   = "computer_state"
	EventComputerDeleted = "computer_deleted"
)

type emitter interface {
	Emit(ev string, args ...any) error
}

// SocketIO emits computer_state and computer_deleted events to a socket.io
// server.
type SocketIO struct {
	client emitter
	io     *socket.Socket
}

// SocketIOOptions configures DialSocketIO.
type SocketIOOptions struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// DialSocketIO connects to a socket.io server and waits for the handshake.
func DialSocketIO(ctx context.Context, opts SocketIOOptions, logger *slog.Logger) (*SocketIO, error) {
	logger = logger.With("url", opts.URL)

	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}

	sopts := socket.DefaultOptions()
	sopts.SetPath(parsedURL.Path)
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	io := socket.NewManager(baseURL, sopts).Socket(opts.Namespace, sopts)

	connected := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		connected <- connectError(errs)
	})
	io.On(types.EventName("disconnect"), func(reason ...any) {
		logger.Warn("Socket.io broadcaster disconnected.", "reason", reason)
	})
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(opts.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", opts.ConnectTimeout)
	}

	logger.Info("Socket.io broadcaster connected.", "sid", io.Id())
	return &SocketIO{client: io, io: io}, nil
}

func (s *SocketIO) State(_ context.Context, instance uuid.UUID, snap computer.Snapshot) error {
	return s.client.Emit(EventComputerState, StateMessage{Instance: instance.String(), Snapshot: snap})
}

func (s *SocketIO) Deleted(_ context.Context, instance uuid.UUID, computerID int) error {
	return s.client.Emit(EventComputerDeleted, DeletedMessage{Instance: instance.String(), ComputerID: computerID})
}

func (s *SocketIO) Close() error {
	if s.io != nil {
		s.io.Disconnect()
	}
	return nil
}

// connectError turns the arguments of a connect_error event into an error.
func connectError(args []any) error {
	if len(args) > 0 {
		if err, ok := args[0].(error); ok && err != nil {
			return err
		}
	}
	return errors.New("connect_error")
}
