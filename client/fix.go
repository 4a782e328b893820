package client

import (
	"context"

	"github.com/c360/qmiloc/catalog"
	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/session"
	"github.com/c360/qmiloc/tlv"
)

// intermediateReportState values.
const (
	intermediateOn  int32 = 1
	intermediateOff int32 = 2
)

// Application identifies the application a fix session is made for.
type Application struct {
	Provider string
	Name     string
	// Version is sent only when not empty.
	Version string
}

func (a Application) values() tlv.Values {
	return tlv.Values{
		"applicationProvider":     a.Provider,
		"applicationName":         a.Name,
		"applicationVersionValid": a.Version != "",
		"applicationVersion":      a.Version,
	}
}

func applicationFrom(v tlv.Values) *Application {
	a := &Application{}
	a.Provider, _ = v["applicationProvider"].(string)
	a.Name, _ = v["applicationName"].(string)
	if ok, _ := v["applicationVersionValid"].(bool); ok {
		a.Version, _ = v["applicationVersion"].(string)
	}
	return a
}

// FixRequest are the parameters of StartFix. Zero values are not sent and
// leave the engine's defaults in place.
type FixRequest struct {
	SessionID  uint8
	Recurrence loc.Recurrence
	Accuracy   loc.Accuracy
	// IntermediateReports selects in-progress reports when not nil.
	IntermediateReports *bool
	// MinInterval is the period between periodic fixes in milliseconds.
	MinInterval uint32
	Application *Application
}

func (r FixRequest) values() tlv.Values {
	v := tlv.Values{"sessionId": r.SessionID}
	if r.Recurrence != 0 {
		v["fixRecurrence"] = int32(r.Recurrence)
	}
	if r.Accuracy != 0 {
		v["horizontalAccuracyLevel"] = int32(r.Accuracy)
	}
	if r.IntermediateReports != nil {
		v["intermediateReportState"] = intermediateOff
		if *r.IntermediateReports {
			v["intermediateReportState"] = intermediateOn
		}
	}
	if r.MinInterval != 0 {
		v["minInterval"] = r.MinInterval
	}
	if r.Application != nil {
		v["applicationId"] = r.Application.values()
	}
	return v
}

// StartFix starts a fix session. The session is active, and its reports
// accepted, from before the request is sent. The engine defaults to
// periodic fixes when no recurrence is given.
func (c *Client) StartFix(ctx context.Context, r FixRequest) (session.Session, error) {
	rec := r.Recurrence
	if rec == 0 {
		rec = loc.RecurrencePeriodic
	}
	if r.Accuracy != 0 && !r.Accuracy.Valid() {
		return session.Session{}, qerrors.WrapInvalid(qerrors.ErrInvalidData, "Client", "StartFix", "validate accuracy")
	}
	s, err := c.sessions.Start(r.SessionID, rec)
	if err != nil {
		return session.Session{}, qerrors.WrapInvalid(err, "Client", "StartFix", "start session")
	}
	if _, err := c.expect(ctx, call{id: catalog.IDStart, values: r.values()}); err != nil {
		if _, serr := c.sessions.Stop(r.SessionID); serr != nil {
			c.logger.Debug("Session already ended", "session_id", r.SessionID, "error", serr)
		}
		return session.Session{}, err
	}
	return s, nil
}

// StopFix stops a fix session. Reports still in flight for it are dropped,
// even if the Stop request itself fails.
func (c *Client) StopFix(ctx context.Context, sessionID uint8) error {
	if _, err := c.sessions.Stop(sessionID); err != nil {
		return qerrors.WrapInvalid(err, "Client", "StopFix", "stop session")
	}
	_, err := c.expect(ctx, call{id: catalog.IDStop, values: tlv.Values{"sessionId": sessionID}})
	return err
}

// Sessions lists the active fix sessions.
func (c *Client) Sessions() []session.Session {
	return c.sessions.Active()
}
