package client

import (
	"context"

	"github.com/c360/qmiloc/batching"
	"github.com/c360/qmiloc/catalog"
	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/tlv"
)

// GetBatchSize asks the engine for room for n fixes and returns what it
// granted, which may be less.
func (c *Client) GetBatchSize(ctx context.Context, n uint32) (uint32, error) {
	txn := c.nextTransaction()
	ind, err := c.expect(ctx, call{
		id:     catalog.IDGetBatchSize,
		values: tlv.Values{"transactionId": txn, "batchSize": n},
		match:  matchField("transactionId", txn),
	})
	if err != nil {
		return 0, err
	}
	granted, _ := message.Get[uint32](ind, "batchSize")
	c.batching.SetBatchSize(granted)
	c.logger.Debug("Batch size granted", "requested", n, "granted", granted)
	return granted, nil
}

// StartBatching starts a batching session.
func (c *Client) StartBatching(ctx context.Context, p batching.Params) error {
	if p.Accuracy != 0 && !p.Accuracy.Valid() {
		return qerrors.WrapInvalid(qerrors.ErrInvalidData, "Client", "StartBatching", "validate accuracy")
	}
	if err := c.batching.BeginStart(p); err != nil {
		return qerrors.WrapInvalid(err, "Client", "StartBatching", "begin session")
	}

	values := tlv.Values{}
	if p.MinInterval != 0 {
		values["minInterval"] = p.MinInterval
	}
	if p.Accuracy != 0 {
		values["horizontalAccuracyLevel"] = int32(p.Accuracy)
	}
	if p.Timeout != 0 {
		values["fixSessionTimeout"] = p.Timeout
	}

	_, ind, err := c.do(ctx, call{id: catalog.IDStartBatching, values: values})
	if err != nil {
		_ = c.batching.Started(loc.StatusGeneralFailure)
		return err
	}
	st, _ := ind.Status()
	return c.batching.Started(st)
}

// ReadFromBatch reads up to n batched fixes, at most five per request.
func (c *Client) ReadFromBatch(ctx context.Context, n int) ([]loc.Position, error) {
	if err := c.batching.CanRead(); err != nil {
		return nil, qerrors.WrapInvalid(err, "Client", "ReadFromBatch", "check session")
	}
	if n <= 0 || n > loc.ReadFromBatchMax {
		n = loc.ReadFromBatchMax
	}
	txn := c.nextTransaction()
	ind, err := c.expect(ctx, call{
		id:     catalog.IDReadFromBatch,
		values: tlv.Values{"numberOfEntries": uint32(n), "transactionId": txn},
		match:  matchField("transactionId", txn),
	})
	if err != nil {
		return nil, err
	}

	list, _ := message.Get[[]tlv.Values](ind, "batchedReportList")
	out := make([]loc.Position, len(list))
	for i, v := range list {
		out[i] = loc.PositionFromBatched(v)
	}
	c.batching.RecordRead(n, len(out))
	return out, nil
}

// ReadAll drains the batch, five fixes at a time, until a read returns
// fewer than requested.
func (c *Client) ReadAll(ctx context.Context) ([]loc.Position, error) {
	var out []loc.Position
	for {
		fixes, err := c.ReadFromBatch(ctx, loc.ReadFromBatchMax)
		if err != nil {
			return out, err
		}
		out = append(out, fixes...)
		if len(fixes) < loc.ReadFromBatchMax {
			return out, nil
		}
	}
}

// StopBatching stops collecting fixes. The batch stays readable until
// ReleaseBatch.
func (c *Client) StopBatching(ctx context.Context) error {
	if err := c.batching.CanStop(); err != nil {
		return qerrors.WrapInvalid(err, "Client", "StopBatching", "check session")
	}
	txn := c.nextTransaction()
	if _, err := c.expect(ctx, call{
		id:     catalog.IDStopBatching,
		values: tlv.Values{"transactionId": txn},
		match:  matchField("transactionId", txn),
	}); err != nil {
		return err
	}
	return c.batching.Stop()
}

// ReleaseBatch frees the engine's batch memory after StopBatching.
func (c *Client) ReleaseBatch(ctx context.Context) error {
	if err := c.batching.CanRelease(); err != nil {
		return qerrors.WrapInvalid(err, "Client", "ReleaseBatch", "check session")
	}
	txn := c.nextTransaction()
	if _, err := c.expect(ctx, call{
		id:     catalog.IDReleaseBatch,
		values: tlv.Values{"transactionId": txn},
		match:  matchField("transactionId", txn),
	}); err != nil {
		return err
	}
	return c.batching.Release()
}

// Batching returns a snapshot of the batching session.
func (c *Client) Batching() batching.Session {
	return c.batching.Session()
}
