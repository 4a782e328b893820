package client

import (
	"context"

	"github.com/c360/qmiloc/catalog"
	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/tlv"
)

// ServiceRevision is the answer to GetServiceRevision.
type ServiceRevision struct {
	Revision uint32
	// Version strings are empty when the engine did not send them.
	MEFirmware   string
	HostSoftware string
	Software     string
}

// InformClientRevision tells the service which catalog revision this client
// speaks.
func (c *Client) InformClientRevision(ctx context.Context) error {
	_, err := c.expect(ctx, call{
		id:     catalog.IDInformClientRevision,
		values: tlv.Values{"revision": c.revision},
	})
	return err
}

// GetServiceRevision queries the service's interface revision.
func (c *Client) GetServiceRevision(ctx context.Context) (ServiceRevision, error) {
	ind, err := c.expect(ctx, call{id: catalog.IDGetServiceRevision})
	if err != nil {
		return ServiceRevision{}, err
	}
	var r ServiceRevision
	r.Revision, _ = message.Get[uint32](ind, "revision")
	r.MEFirmware, _ = message.Get[string](ind, "gnssMeFWVerString")
	r.HostSoftware, _ = message.Get[string](ind, "gnssHostSWVerString")
	r.Software, _ = message.Get[string](ind, "gnssSWVerString")
	return r, nil
}

// RegisterEvents replaces the set of event indications the service sends.
// Newly selected events are accepted locally before the request goes out so
// none is lost in between; on failure the previous mask is restored.
func (c *Client) RegisterEvents(ctx context.Context, mask loc.EventMask) error {
	if err := mask.Validate(); err != nil {
		return qerrors.WrapInvalid(err, "Client", "RegisterEvents", "validate mask")
	}
	c.regMu.Lock()
	defer c.regMu.Unlock()

	old := c.events.Load()
	c.events.Add(mask)
	_, err := c.expect(ctx, call{
		id:     catalog.IDRegEvents,
		values: tlv.Values{"eventRegMask": uint64(mask)},
	})
	if err != nil {
		c.events.Set(old)
		return err
	}
	c.events.Set(mask)
	c.logger.Info("Registered events", "events", mask.String())
	return nil
}

// GetRegisteredEvents asks the service which events it has registered for
// this client.
func (c *Client) GetRegisteredEvents(ctx context.Context) (loc.EventMask, error) {
	ind, err := c.expect(ctx, call{id: catalog.IDGetRegisteredEvents})
	if err != nil {
		return 0, err
	}
	mask, _ := message.Get[uint64](ind, "eventRegMask")
	return loc.EventMask(mask), nil
}

// GetSupportedMessages fetches the bitmap of message IDs the service
// implements and caches it for SupportsMessage.
func (c *Client) GetSupportedMessages(ctx context.Context) ([]message.ID, error) {
	resp, _, err := c.do(ctx, call{id: catalog.IDGetSupportedMsgs})
	if err != nil {
		return nil, err
	}
	bitmap, _ := message.Get[[]uint8](resp, "supportedMsgs")

	c.mu.Lock()
	c.supported = append([]uint8(nil), bitmap...)
	c.mu.Unlock()

	var ids []message.ID
	for i, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				ids = append(ids, message.ID(i*8+bit))
			}
		}
	}
	return ids, nil
}

// SupportsMessage reports whether id was in the last GetSupportedMessages
// answer. Before the first call nothing is reported as supported.
func (c *Client) SupportsMessage(id message.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := int(id >> 3)
	if i >= len(c.supported) {
		return false
	}
	return c.supported[i]&(1<<(id&7)) != 0
}

// FixCriteria is the answer to GetFixCriteria.
type FixCriteria struct {
	Accuracy            loc.Accuracy
	IntermediateReports bool
	MinInterval         uint32
	Application         *Application
}

// GetFixCriteria reads the criteria of the most recent fix session.
func (c *Client) GetFixCriteria(ctx context.Context) (FixCriteria, error) {
	ind, err := c.expect(ctx, call{id: catalog.IDGetFixCriteria})
	if err != nil {
		return FixCriteria{}, err
	}
	var fc FixCriteria
	fc.Accuracy, _ = message.Enum[loc.Accuracy](ind, "horizontalAccuracyLevel")
	if st, ok := message.Get[int32](ind, "intermediateReportState"); ok {
		fc.IntermediateReports = st == intermediateOn
	}
	fc.MinInterval, _ = message.Get[uint32](ind, "minInterval")
	if app, ok := message.Get[tlv.Values](ind, "applicationId"); ok {
		fc.Application = applicationFrom(app)
	}
	return fc, nil
}
