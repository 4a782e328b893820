package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/c360/qmiloc/catalog"
	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/tlv"
)

// InjectUTCTime gives the engine the current time with its uncertainty.
func (c *Client) InjectUTCTime(ctx context.Context, t time.Time, unc time.Duration) error {
	if t.IsZero() || t.Before(time.Unix(0, 0)) {
		return qerrors.WrapInvalid(fmt.Errorf("%w: time %v", qerrors.ErrInvalidData, t), "Client", "InjectUTCTime", "validate time")
	}
	_, err := c.expect(ctx, call{
		id: catalog.IDInjectUTCTime,
		values: tlv.Values{
			"timeUtc": uint64(t.UnixMilli()),
			"timeUnc": uint32(unc.Milliseconds()),
		},
	})
	return err
}

// InjectPosition seeds the engine with a coarse position.
func (c *Client) InjectPosition(ctx context.Context, p loc.Position) error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 ||
		math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return qerrors.WrapInvalid(fmt.Errorf("%w: position %v,%v", qerrors.ErrInvalidData, p.Latitude, p.Longitude),
			"Client", "InjectPosition", "validate position")
	}
	values := tlv.Values{
		"latitude":  p.Latitude,
		"longitude": p.Longitude,
	}
	if p.HorUnc != 0 {
		values["horUncCircular"] = p.HorUnc
	}
	if p.HasAltitude {
		values["altitudeWrtEllipsoid"] = p.Altitude
	}
	if !p.Timestamp.IsZero() {
		values["timestampUtc"] = uint64(p.Timestamp.UnixMilli())
	}
	_, err := c.expect(ctx, call{id: catalog.IDInjectPosition, values: values})
	return err
}

// InjectPredictedOrbits uploads predicted orbit data in parts numbered from
// one. A failed part aborts the upload; the engine discards what it has.
func (c *Client) InjectPredictedOrbits(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return qerrors.WrapInvalid(fmt.Errorf("%w: empty orbit data", qerrors.ErrInvalidData), "Client", "InjectPredictedOrbits", "validate data")
	}
	parts := (len(data) + loc.MaxPredictedOrbits - 1) / loc.MaxPredictedOrbits
	if parts > math.MaxUint16 || uint64(len(data)) > math.MaxUint32 {
		return qerrors.WrapInvalid(fmt.Errorf("%w: %d bytes", qerrors.ErrInvalidData, len(data)), "Client", "InjectPredictedOrbits", "validate data")
	}

	for i := 0; i < parts; i++ {
		lo := i * loc.MaxPredictedOrbits
		hi := min(lo+loc.MaxPredictedOrbits, len(data))
		part := uint16(i + 1)
		_, err := c.expect(ctx, call{
			id: catalog.IDInjectPredictedOrbitsData,
			values: tlv.Values{
				"totalSize":  uint32(len(data)),
				"totalParts": uint16(parts),
				"partNum":    part,
				"partData":   data[lo:hi],
			},
			match: matchField("partNum", part),
		})
		if err != nil {
			return fmt.Errorf("part %d of %d: %w", part, parts, err)
		}
		c.logger.Debug("Predicted orbits part injected", "part", part, "total_parts", parts)
	}
	c.logger.Info("Predicted orbits injected", "bytes", len(data), "parts", parts)
	return nil
}

// DeleteAssistData clears assistance data from the engine: everything when
// all is set, otherwise the data selected by mask.
func (c *Client) DeleteAssistData(ctx context.Context, all bool, mask loc.AssistDataMask) error {
	if !all && mask == 0 {
		return qerrors.WrapInvalid(fmt.Errorf("%w: nothing selected", qerrors.ErrInvalidData), "Client", "DeleteAssistData", "validate mask")
	}
	if err := mask.Validate(); err != nil {
		return qerrors.WrapInvalid(err, "Client", "DeleteAssistData", "validate mask")
	}
	values := tlv.Values{"deleteAllFlag": all}
	if mask != 0 {
		values["deleteGnssDataMask"] = uint32(mask)
	}
	_, err := c.expect(ctx, call{id: catalog.IDDeleteAssistData, values: values})
	return err
}
