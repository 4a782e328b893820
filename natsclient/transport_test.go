package natsclient

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/message"
)

func testFrame() message.Frame {
	return message.Frame{ID: 0x0022, Kind: message.Request, Txn: 513, Body: []byte{0x01, 0x01, 0x00, 0x05}}
}

func TestSubjects(t *testing.T) {
	up, down := Subjects("qmiloc", "modem0")
	assert.Equal(t, "qmiloc.modem0.up", up)
	assert.Equal(t, "qmiloc.modem0.down", down)
}

func TestFrameRoundTrip(t *testing.T) {
	want := testFrame()
	msg := EncodeFrame("qmiloc.modem0.up", want, "c-1")

	assert.Equal(t, "qmiloc.modem0.up", msg.Subject)
	assert.Equal(t, "34", msg.Header.Get(HeaderMessageID))
	assert.Equal(t, "request", msg.Header.Get(HeaderKind))
	assert.Equal(t, "c-1", msg.Header.Get(HeaderClient))

	got, err := DecodeFrame(msg)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	msg.Data[0] = 0xFF
	assert.Equal(t, byte(0x01), got.Body[0], "decoded body does not alias the message")
}

func TestDecodeFrame_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header nats.Header
	}{
		{"no headers", nil},
		{"missing id", nats.Header{HeaderKind: {"request"}}},
		{"id out of range", nats.Header{HeaderMessageID: {"70000"}, HeaderKind: {"request"}}},
		{"bad kind", nats.Header{HeaderMessageID: {"34"}, HeaderKind: {"push"}}},
		{"bad txn", nats.Header{HeaderMessageID: {"34"}, HeaderKind: {"indication"}, HeaderTxn: {"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(&nats.Msg{Header: tt.header})
			assert.ErrorIs(t, err, ErrBadFrame)
		})
	}
}

func TestDecodeFrame_IndicationWithoutTxn(t *testing.T) {
	msg := &nats.Msg{Header: nats.Header{HeaderMessageID: {"36"}, HeaderKind: {"ind"}}}
	f, err := DecodeFrame(msg)
	require.NoError(t, err)
	assert.Equal(t, message.Indication, f.Kind)
	assert.Zero(t, f.Txn)
}

func TestNewFrameTransport_ValidatesSubject(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for _, ch := range []string{"", "a.b", "*", ">"} {
		_, err := NewFrameTransport(c, TransportConfig{Prefix: "qmiloc", Channel: ch})
		assert.Error(t, err, "channel %q", ch)
	}
}

func TestFrameTransport_ClosesWithConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	// Built by hand since subscribing needs a server.
	tr := &FrameTransport{
		client: c,
		send:   "qmiloc.modem0.up",
		logger: slog.Default(),
		in:     make(chan message.Frame, 1),
		done:   make(chan struct{}),
	}
	c.onConnClosed(tr.connClosed)

	recvErr := make(chan error, 1)
	go func() {
		_, err := tr.Recv(context.Background())
		recvErr <- err
	}()

	c.handleClosed(nil)
	select {
	case err := <-recvErr:
		assert.ErrorIs(t, err, errors.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Recv still blocked after the connection closed")
	}
	assert.ErrorIs(t, tr.Send(context.Background(), testFrame()), errors.ErrClosed)
	assert.NoError(t, tr.Close(), "closing again is a no-op")
}
