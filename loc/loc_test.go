package loc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Err(t *testing.T) {
	assert.NoError(t, StatusSuccess.Err("StartFix"))

	err := StatusEngineBusy.Err("StartFix")
	require.Error(t, err)
	assert.Equal(t, "StartFix: ENGINE_BUSY", err.Error())
	assert.True(t, errors.Is(err, StatusEngineBusy))
	assert.False(t, errors.Is(err, StatusTimeout))

	wrapped := fmt.Errorf("client: %w", err)
	var se *StatusError
	require.True(t, errors.As(wrapped, &se))
	assert.Equal(t, StatusEngineBusy, se.Status)
}

func TestStatus_Retryable(t *testing.T) {
	retryable := map[Status]bool{
		StatusGeneralFailure: true,
		StatusTimeout:        true,
		StatusEngineBusy:     true,
	}
	for s := StatusSuccess; s <= StatusXtraVersionCheckFailure; s++ {
		assert.Equal(t, retryable[s], s.Retryable(), s.String())
		assert.True(t, s.Valid())
	}
	assert.False(t, Status(11).Valid())
	assert.Equal(t, "STATUS(42)", Status(42).String())
}

func TestSessionStatus_Final(t *testing.T) {
	assert.False(t, SessionInProgress.Final())
	for _, s := range []SessionStatus{SessionSuccess, SessionGeneralFailure, SessionTimeout,
		SessionUserEnd, SessionBadParameter, SessionPhoneOffline, SessionEngineLocked} {
		assert.True(t, s.Final(), s.String())
	}
	assert.False(t, SessionStatus(99).Final())
}

func TestResponseStatus(t *testing.T) {
	tests := []struct {
		result, err uint16
		want        Status
	}{
		{ResultSuccess, QMIErrNone, StatusSuccess},
		{ResultFailure, QMIErrMalformedMsg, StatusInvalidParameter},
		{ResultFailure, QMIErrInvalidArg, StatusInvalidParameter},
		{ResultFailure, QMIErrDeviceInUse, StatusEngineBusy},
		{ResultFailure, QMIErrNotSupported, StatusUnsupported},
		{ResultFailure, QMIErrNoMemory, StatusInsufficientMemory},
		{ResultFailure, QMIErrInternal, StatusGeneralFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResponseStatus(tt.result, tt.err))
	}
}

func TestEventMask(t *testing.T) {
	m := EventPositionReport | EventGeofenceBreach
	assert.True(t, m.Has(EventPositionReport))
	assert.False(t, m.Has(EventBatchFull))
	assert.False(t, m.Has(0))
	assert.Equal(t, "position_report|geofence_breach", m.String())
	assert.Equal(t, "none", EventMask(0).String())

	require.NoError(t, EventsKnown.Validate())
	assert.Error(t, (EventsKnown | 1<<40).Validate())

	parsed, err := ParseEvents([]string{"position_report", " geofence_breach"})
	require.NoError(t, err)
	assert.Equal(t, m, parsed)

	_, err = ParseEvents([]string{"teleport"})
	assert.Error(t, err)
	assert.Len(t, EventNames(), 29)
}

func TestBitmaskValidation(t *testing.T) {
	assert.NoError(t, (BreachMaskEntering | BreachMaskLeaving).Validate())
	assert.Error(t, BreachMask(0x04).Validate())
	assert.True(t, BreachMaskEntering.Reports(BreachEntering))
	assert.False(t, BreachMaskEntering.Reports(BreachLeaving))

	assert.NoError(t, (AssistGPSEph | AssistRTI).Validate())
	assert.Error(t, AssistDataMask(0x1000).Validate())
}

func TestNotifyType_RequiresResponse(t *testing.T) {
	assert.False(t, NotifyNoNotifyNoVerify.RequiresResponse())
	assert.False(t, NotifyOnly.RequiresResponse())
	assert.True(t, NotifyVerifyAllowNoResp.RequiresResponse())
	assert.True(t, NotifyVerifyNotAllowNoResp.RequiresResponse())
	assert.True(t, NotifyPrivacyVerify.RequiresResponse())
	assert.True(t, NotifyPrivacyOverride.RequiresResponse())
}
