package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/qmiloc/loc"
)

type fakeRegistrar struct {
	mask  loc.EventMask
	calls []loc.EventMask
	err   error
}

func (f *fakeRegistrar) Events() loc.EventMask { return f.mask }

func (f *fakeRegistrar) RegisterEvents(_ context.Context, mask loc.EventMask) error {
	f.calls = append(f.calls, mask)
	return f.err
}

func TestConnHooks_ReconnectRestoresEvents(t *testing.T) {
	h := &connHooks{logger: slog.Default()}
	h.reconnected() // nothing attached yet

	r := &fakeRegistrar{}
	h.attach(r)
	h.reconnected()
	assert.Empty(t, r.calls, "nothing registered, nothing to restore")

	r.mask = loc.EventPositionReport | loc.EventGeofenceBreach
	h.reconnected()
	assert.Equal(t, []loc.EventMask{r.mask}, r.calls)

	r.err = errors.New("service unavailable")
	h.reconnected()
	assert.Len(t, r.calls, 2)

	h.disconnected(errors.New("read tcp: connection reset"))
}
