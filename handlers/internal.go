package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dicomshield/proxy/dicom"
	"github.com/dicomshield/proxy/interfaces"
	"github.com/dicomshield/proxy/types"
)

// InternalStoreHandler serves the internal C-STORE listener the upstream
// PACS dials back during a C-MOVE: every sub-operation instance it
// receives is routed, via the called AE title token, to the queue the
// owning handleMove call opened.
type InternalStoreHandler struct {
	handler *Handler
	logger  *slog.Logger
}

// NewInternalStoreHandler builds an InternalStoreHandler sharing handler's
// queues and shield.
func NewInternalStoreHandler(handler *Handler) *InternalStoreHandler {
	logger := handler.cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &InternalStoreHandler{handler: handler, logger: logger}
}

// HandleDIMSE accepts only C-STORE: any other command is a protocol
// violation on this listener, since it only ever exists to receive
// C-MOVE sub-operations.
func (i *InternalStoreHandler) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	if msg.CommandField != types.CStoreRQ {
		i.logger.WarnContext(ctx, "internal listener received non-C-STORE command", "command_field", fmt.Sprintf("0x%04X", msg.CommandField))
		return failureResponse(msg, types.ResponseCommandFor(msg.CommandField), types.StatusFailure), nil, nil
	}

	ds := i.handler.requestDataset(data, meta)

	if err := i.handler.EnqueueRetrieved(ctx, meta.CalledAETitle, ds); err != nil {
		i.logger.ErrorContext(ctx, "failed to enqueue C-MOVE sub-operation instance", "called_ae", meta.CalledAETitle, "error", err)
		return failureResponse(msg, types.CStoreRSP, types.StatusFailure), nil, nil
	}

	return &types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
	}, nil, nil
}

var _ interfaces.ServiceHandler = (*InternalStoreHandler)(nil)
