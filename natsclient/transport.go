package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/transport"
)

var _ transport.Transport = (*FrameTransport)(nil)

// Frame headers.
const (
	HeaderMessageID = "Qmi-Msg-Id"
	HeaderKind      = "Qmi-Kind"
	HeaderTxn       = "Qmi-Txn"
	HeaderClient    = "Qmi-Client"
)

// ErrBadFrame is returned for NATS messages that do not carry a frame.
var ErrBadFrame = stderrors.New("message is not a location frame")

// Role selects which direction a transport sends on.
type Role int

// Roles.
const (
	// RoleClient sends requests upstream and receives responses and
	// indications.
	RoleClient Role = iota
	// RoleService is the other end, used by the simulator.
	RoleService
)

// Subjects returns the upstream and downstream subjects of a channel.
func Subjects(prefix, channel string) (up, down string) {
	base := prefix + "." + channel
	return base + ".up", base + ".down"
}

// EncodeFrame turns a frame into a NATS message for subject.
func EncodeFrame(subject string, f message.Frame, clientID string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderMessageID, strconv.FormatUint(uint64(f.ID), 10))
	msg.Header.Set(HeaderKind, f.Kind.String())
	msg.Header.Set(HeaderTxn, strconv.FormatUint(uint64(f.Txn), 10))
	if clientID != "" {
		msg.Header.Set(HeaderClient, clientID)
	}
	msg.Data = f.Body
	return msg
}

// DecodeFrame reads a frame from a NATS message.
func DecodeFrame(msg *nats.Msg) (message.Frame, error) {
	if msg.Header == nil {
		return message.Frame{}, fmt.Errorf("%w: no headers", ErrBadFrame)
	}
	id, err := strconv.ParseUint(msg.Header.Get(HeaderMessageID), 10, 16)
	if err != nil {
		return message.Frame{}, fmt.Errorf("%w: %s: %v", ErrBadFrame, HeaderMessageID, err)
	}
	kind, err := message.ParseKind(msg.Header.Get(HeaderKind))
	if err != nil {
		return message.Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	var txn uint64
	if s := msg.Header.Get(HeaderTxn); s != "" {
		if txn, err = strconv.ParseUint(s, 10, 16); err != nil {
			return message.Frame{}, fmt.Errorf("%w: %s: %v", ErrBadFrame, HeaderTxn, err)
		}
	}
	return message.Frame{
		ID:   message.ID(id),
		Kind: kind,
		Txn:  uint16(txn),
		Body: append([]byte(nil), msg.Data...),
	}, nil
}

// TransportConfig configures a FrameTransport.
type TransportConfig struct {
	Prefix  string
	Channel string
	Role    Role
	// ClientID tags outbound frames for tracing on the service side.
	ClientID string
	// Buffer is the number of inbound frames held for Recv.
	Buffer int
	Logger *slog.Logger
}

// FrameTransport carries frames over a connected Client.
type FrameTransport struct {
	client   *Client
	send     string
	clientID string
	logger   *slog.Logger

	in        chan message.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewFrameTransport subscribes to the inbound subject of cfg.Role. The
// client must be connected.
func NewFrameTransport(client *Client, cfg TransportConfig) (*FrameTransport, error) {
	if cfg.Prefix == "" || cfg.Channel == "" || strings.ContainsAny(cfg.Channel, ".*> ") {
		return nil, errors.WrapInvalid(fmt.Errorf("bad subject prefix %q or channel %q", cfg.Prefix, cfg.Channel),
			"FrameTransport", "New", "validate config")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	up, down := Subjects(cfg.Prefix, cfg.Channel)
	send, recv := up, down
	if cfg.Role == RoleService {
		send, recv = down, up
	}

	t := &FrameTransport{
		client:   client,
		send:     send,
		clientID: cfg.ClientID,
		logger:   cfg.Logger.With("component", "nats_transport", "subject", recv),
		in:       make(chan message.Frame, cfg.Buffer),
		done:     make(chan struct{}),
	}
	if err := client.SubscribeMsg(recv, t.handle); err != nil {
		return nil, err
	}
	client.onConnClosed(t.connClosed)
	return t, nil
}

// connClosed ends the transport when NATS gives up on the connection, so
// Recv reports errors.ErrClosed instead of blocking forever.
func (t *FrameTransport) connClosed() {
	select {
	case <-t.done:
		return
	default:
	}
	t.logger.Warn("NATS connection closed, closing transport")
	t.Close()
}

func (t *FrameTransport) handle(msg *nats.Msg) {
	f, err := DecodeFrame(msg)
	if err != nil {
		t.logger.Warn("Dropped malformed NATS frame", "error", err)
		return
	}
	if id := msg.Header.Get(HeaderClient); id != "" {
		t.logger.Debug("Received frame", "frame", f.String(), "client_id", id)
	}
	select {
	case t.in <- f:
	case <-t.done:
	}
}

// Send publishes f on the outbound subject.
func (t *FrameTransport) Send(ctx context.Context, f message.Frame) error {
	select {
	case <-t.done:
		return errors.WrapTransient(errors.ErrClosed, "FrameTransport", "Send", "publish frame")
	default:
	}
	if err := t.client.PublishMsg(ctx, EncodeFrame(t.send, f, t.clientID)); err != nil {
		return errors.WrapTransient(err, "FrameTransport", "Send", "publish frame")
	}
	return nil
}

// Recv returns the next inbound frame.
func (t *FrameTransport) Recv(ctx context.Context) (message.Frame, error) {
	select {
	case f := <-t.in:
		return f, nil
	case <-t.done:
		return message.Frame{}, errors.WrapTransient(errors.ErrClosed, "FrameTransport", "Recv", "receive frame")
	case <-ctx.Done():
		return message.Frame{}, ctx.Err()
	}
}

// Close stops delivery. The NATS connection stays open; close the Client
// separately. The transport also closes itself when the connection is
// closed for good.
func (t *FrameTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
