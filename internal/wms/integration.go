package wms

import (
	"context"
	"log/slog"
	"time"

	"github.com/shuttlegw/gateway/internal/retry"
	"github.com/shuttlegw/gateway/internal/shuttle"
)

const (
	maxRetries    = 3
	maxRetryDelay = 10 * time.Second
)

// Dispatcher is the subset of *shuttle.Dispatcher the WMS integration
// needs, kept as an interface so the poll loop can be tested with a fake.
type Dispatcher interface {
	FindFreeShuttle(stockName, cellID string, cmdType shuttle.CommandType, externalID string) (string, bool)
	Submit(ctx context.Context, cmd shuttle.Command) (string, error)
	GetAllStates() map[string]shuttle.Snapshot
	ClearWMSContext(shuttleID string)
}

// Integration runs the periodic WMS poll/report loop, the Go analogue of
// WmsIntegration's _poll_loop: fetch new shipment/transfer commands, submit
// one shuttle command per document line, and report completed shuttles'
// terminal status back.
type Integration struct {
	client     *Client
	dispatcher Dispatcher
	interval   time.Duration
	logger     *slog.Logger

	processed map[string]bool
}

func NewIntegration(client *Client, dispatcher Dispatcher, interval time.Duration, logger *slog.Logger) *Integration {
	return &Integration{client: client, dispatcher: dispatcher, interval: interval, logger: logger, processed: make(map[string]bool)}
}

// Run polls on a ticker until ctx is cancelled. A failed round logs and
// waits a short fixed delay before the next attempt, mirroring the
// original's `except Exception: await asyncio.sleep(10)` fallback.
func (in *Integration) Run(ctx context.Context) error {
	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()

	for {
		err := in.round(ctx)
		if err != nil && in.logger != nil {
			in.logger.Error("wms poll round failed", slog.Any("error", err))
		}

		// A nil channel never fires, so only a failed round arms the
		// short retry pause; a successful round waits for the ticker.
		var retryPause <-chan time.Time
		if err != nil {
			retryPause = time.After(10 * time.Second)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-retryPause:
		}
	}
}

func (in *Integration) round(ctx context.Context) error {
	now := time.Now()

	var shipmentIDs, transferIDs []string
	err := retry.Do(ctx, maxRetries, maxRetryDelay, func(ctx context.Context) error {
		ids, err := in.client.GetShipmentCommands(ctx, now)
		shipmentIDs = ids
		return err
	})
	if err != nil {
		return err
	}

	err = retry.Do(ctx, maxRetries, maxRetryDelay, func(ctx context.Context) error {
		ids, err := in.client.GetTransferCommands(ctx, now)
		transferIDs = ids
		return err
	})
	if err != nil {
		return err
	}

	in.processDocuments(ctx, shipmentIDs, "shipment")
	in.processDocuments(ctx, transferIDs, "transfer")
	in.updateCommandStatuses(ctx)

	in.client.AdvancePollWindow(now)
	return nil
}

func (in *Integration) processDocuments(ctx context.Context, externalIDs []string, documentType string) {
	for _, externalID := range externalIDs {
		if in.processed[externalID] {
			continue
		}

		var doc Document
		err := retry.Do(ctx, maxRetries, maxRetryDelay, func(ctx context.Context) error {
			d, ok, err := in.client.GetCommandDetails(ctx, externalID, documentType)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			doc = d
			return nil
		})
		if err != nil {
			if in.logger != nil {
				in.logger.Error("failed to fetch wms command details", slog.String("external_id", externalID), slog.Any("error", err))
			}
			continue
		}

		lines := doc.ShipmentLine
		if documentType == "transfer" {
			lines = doc.TransferLine
		}
		for _, line := range lines {
			in.submitLine(ctx, doc, line, documentType)
		}
		in.processed[externalID] = true
	}
}

func (in *Integration) submitLine(ctx context.Context, doc Document, line DocumentLine, documentType string) {
	cmdType, ok := CommandMapping[line.ShuttleCommand]
	if !ok {
		return
	}

	shuttleID, ok := in.dispatcher.FindFreeShuttle(doc.Warehouse, line.Cell, cmdType, line.ExternalID)
	if !ok {
		if in.logger != nil {
			in.logger.Warn("no free shuttle for wms command",
				slog.String("command", string(cmdType)), slog.String("stock", doc.Warehouse), slog.String("cell", line.Cell))
		}
		return
	}

	cmd := shuttle.NewCommand(shuttleID, cmdType,
		shuttle.WithParams(line.Params),
		shuttle.WithExternalID(line.ExternalID),
		shuttle.WithDocumentType(documentType),
		shuttle.WithCellID(line.Cell),
		shuttle.WithStockName(doc.Warehouse))

	if _, err := in.dispatcher.Submit(ctx, cmd); err != nil {
		if in.logger != nil {
			in.logger.Error("failed to submit wms command",
				slog.String("shuttle_id", shuttleID), slog.String("external_id", line.ExternalID), slog.Any("error", err))
		}
		return
	}
	if in.logger != nil {
		in.logger.Info("queued wms command",
			slog.String("shuttle_id", shuttleID), slog.String("command", string(cmdType)), slog.String("external_id", line.ExternalID))
	}
}

// updateCommandStatuses reports FREE/ERROR shuttles carrying a WMS
// external_id back to the WMS, mirroring _update_command_statuses.
func (in *Integration) updateCommandStatuses(ctx context.Context) {
	for shuttleID, snap := range in.dispatcher.GetAllStates() {
		if snap.ExternalID == "" || snap.DocumentType == "" {
			continue
		}
		if snap.Status != shuttle.StatusFree && snap.Status != shuttle.StatusError {
			continue
		}

		wmsStatus := "done"
		if snap.Status == shuttle.StatusError {
			wmsStatus = "error"
		}

		externalID, documentType := snap.ExternalID, snap.DocumentType
		err := retry.Do(ctx, maxRetries, maxRetryDelay, func(ctx context.Context) error {
			return in.client.UpdateStatus(ctx, externalID, documentType, wmsStatus)
		})
		if err != nil {
			if in.logger != nil {
				in.logger.Error("failed to update wms status", slog.String("shuttle_id", shuttleID), slog.Any("error", err))
			}
			continue
		}
		in.dispatcher.ClearWMSContext(shuttleID)
		if in.logger != nil {
			in.logger.Info("updated wms status", slog.String("shuttle_id", shuttleID), slog.String("external_id", externalID))
		}
	}
}
