package client

import (
	"context"
	"errors"

	"github.com/c360/qmiloc/catalog"
	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/ni"
)

// RespondNI answers a network initiated verification request. When the
// answer cannot be delivered the request stays open until its deadline.
func (c *Client) RespondNI(ctx context.Context, id uint64, resp loc.UserResponse) error {
	req, err := c.ni.Respond(id, resp)
	if err != nil {
		return qerrors.WrapInvalid(err, "Client", "RespondNI", "resolve request")
	}
	if err := c.sendNIResponse(ctx, req, resp); err != nil {
		c.ni.Revert(id)
		return err
	}
	c.logger.Info("NI request answered", "request_id", id, "response", resp.String())
	return nil
}

func (c *Client) sendNIResponse(ctx context.Context, req ni.Request, resp loc.UserResponse) error {
	values := req.Payload.ResponseValues(req.NotifyType, resp)
	if err := ni.SingleVariant(values); err != nil {
		return qerrors.WrapInvalid(err, "Client", "RespondNI", "encode response")
	}
	_, err := c.expect(ctx, call{id: catalog.IDNiUserResponse, values: values})
	return err
}

// niExpired tells the engine the user never answered.
func (c *Client) niExpired(req ni.Request) {
	c.mu.Lock()
	base := c.ctx
	live := c.started && !c.closed
	c.mu.Unlock()
	if !live {
		return
	}

	ctx, cancel := context.WithTimeout(base, c.timeout)
	defer cancel()
	if err := c.sendNIResponse(ctx, req, loc.UserNoResp); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Warn("Failed to send implicit NI response", "request_id", req.ID, "error", err)
	}
}

// PendingNI lists the NI requests still waiting for a user response.
func (c *Client) PendingNI() []ni.Request {
	return c.ni.Pending()
}

// NIRequest returns a snapshot of an NI request.
func (c *Client) NIRequest(id uint64) (ni.Request, bool) {
	return c.ni.Get(id)
}
