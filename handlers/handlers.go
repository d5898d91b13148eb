// Package handlers implements the proxy's four DIMSE state machines
// (C-FIND, C-GET, C-MOVE, C-STORE; C-ECHO is served separately by
// services.EchoService), wiring the shield,
// upstream associator and dataset queue into the interfaces.ServiceHandler
// / interfaces.StreamingServiceHandler contract the DIMSE layer dispatches
// against.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dicomshield/proxy/associator"
	"github.com/dicomshield/proxy/client"
	"github.com/dicomshield/proxy/dicom"
	"github.com/dicomshield/proxy/interfaces"
	"github.com/dicomshield/proxy/queue"
	"github.com/dicomshield/proxy/services"
	"github.com/dicomshield/proxy/shield"
	"github.com/dicomshield/proxy/types"
)

var queryRetrieveLevelTag = dicom.Tag{Group: 0x0008, Element: 0x0052}
var sopClassUIDTag = dicom.Tag{Group: 0x0008, Element: 0x0016}
var sopInstanceUIDTag = dicom.Tag{Group: 0x0008, Element: 0x0018}

// storageAbstractSyntaxes mirrors associator's list - offered when the
// proxy opens an outbound SCU association directly to a MOVE
// destination rather than to the upstream PACS.
var storageAbstractSyntaxes = []string{
	types.CTImageStorage,
	types.EnhancedCTImageStorage,
	types.MRImageStorage,
	types.EnhancedMRImageStorage,
	types.XRayAngiographicImageStorage,
	types.EnhancedXAImageStorage,
	types.SecondaryCaptureImageStorage,
	types.UltrasoundImageStorage,
	types.NuclearMedicineImageStorage,
	types.PETImageStorage,
}

// Config wires a Handler's dependencies.
type Config struct {
	Shield   *shield.Shield
	Upstream *associator.Associator
	Queues   *queue.Manager

	// AllowedAET resolves a client-declared move destination AE title to
	// an "ip:port" address, per ALLOWED_AET in configuration.
	AllowedAET map[string]string

	// InternalAET is the AE title of the internal C-STORE listener. The
	// MOVE destination sent upstream is a per-operation token derived from
	// it (see moveDestinationToken), so sub-operation C-STOREs land on the
	// proxy instead of the real destination.
	InternalAET string

	// CallingAETitle is this proxy's own fixed identity (associator.CallingAETitle),
	// used when opening an SCU association directly to a client's declared
	// move destination. It is not the site-configurable ingress AE title.
	CallingAETitle string

	Logger *slog.Logger
}

// Handler implements the proxy's DIMSE service handler contract.
type Handler struct {
	cfg Config
}

// New builds a Handler from cfg.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{cfg: cfg}
}

// HandleDIMSE serves the single-response verbs this Handler itself owns.
// C-ECHO is served by services.EchoService, registered separately; C-FIND/
// C-MOVE/C-GET always go through HandleDIMSEStreaming.
func (h *Handler) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	switch msg.CommandField {
	case types.CStoreRQ:
		return h.handleStore(ctx, msg, data, meta)
	default:
		h.cfg.Logger.WarnContext(ctx, "unsupported DIMSE command", "command_field", fmt.Sprintf("0x%04X", msg.CommandField))
		return failureResponse(msg, types.ResponseCommandFor(msg.CommandField), types.StatusFailure), nil, nil
	}
}

// HandleDIMSEStreaming serves the multi-response verbs.
func (h *Handler) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	switch msg.CommandField {
	case types.CFindRQ:
		return h.handleFind(ctx, msg, data, meta, responder)
	case types.CMoveRQ:
		return h.handleMove(ctx, msg, data, meta, responder)
	case types.CGetRQ:
		return h.handleGet(ctx, msg, data, meta, responder)
	default:
		response, dataset, err := h.HandleDIMSE(ctx, msg, data, meta)
		if err != nil {
			return err
		}
		return responder.SendResponse(response, dataset, meta.TransferSyntaxUID)
	}
}

func (h *Handler) requestDataset(data []byte, meta interfaces.MessageContext) *dicom.Dataset {
	if meta.Dataset != nil {
		return meta.Dataset
	}
	if len(data) == 0 {
		return dicom.NewDataset()
	}
	ds, err := dicom.ParseDatasetWithTransferSyntax(data, meta.TransferSyntaxUID)
	if err != nil {
		return dicom.NewDataset()
	}
	return ds
}

func queryRetrieveLevel(ds *dicom.Dataset) (types.QueryLevel, error) {
	raw := ds.GetString(queryRetrieveLevelTag)
	if raw == "" {
		return "", fmt.Errorf("missing QueryRetrieveLevel")
	}
	return types.QueryLevel(raw), nil
}

func failureResponse(msg *types.Message, commandField uint16, status uint16) *types.Message {
	return &types.Message{
		CommandField:              commandField,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		CommandDataSetType:        0x0101,
		Status:                    status,
	}
}

// handleStore implements the client-initiated C-STORE state machine:
// shieldStore (identity, see DESIGN.md) then a synchronous forward to
// the upstream PACS.
func (h *Handler) handleStore(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	builder := services.NewResponseBuilder(msg)
	ds := h.requestDataset(data, meta)

	shielded, err := h.cfg.Shield.ShieldStore(ctx, ds)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "shieldStore failed", "error", err)
		return builder.CStoreResponse(types.StatusFailure, ""), nil, nil
	}

	assoc, err := h.cfg.Upstream.AssociateForStorage(ctx, msg.AffectedSOPClassUID)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "upstream association failed for C-STORE", "error", err)
		return builder.CStoreResponse(types.StatusFailure, ""), nil, nil
	}
	defer assoc.Close()

	encoded, err := dicom.EncodeDatasetWithTransferSyntax(shielded, meta.TransferSyntaxUID)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "failed to encode dataset for upstream C-STORE", "error", err)
		return builder.CStoreResponse(types.StatusFailure, ""), nil, nil
	}

	resp, err := assoc.SendCStore(&client.CStoreRequest{
		SOPClassUID:    msg.AffectedSOPClassUID,
		SOPInstanceUID: msg.AffectedSOPInstanceUID,
		Data:           encoded,
		MessageID:      msg.MessageID,
	})
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "upstream C-STORE failed", "error", err)
		return builder.CStoreResponse(types.StatusFailure, ""), nil, nil
	}

	return builder.CStoreResponse(resp.Status, ""), nil, nil
}

// handleFind implements the C-FIND state machine per spec.
func (h *Handler) handleFind(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	builder := services.NewResponseBuilder(msg)
	ds := h.requestDataset(data, meta)

	level, err := queryRetrieveLevel(ds)
	if err != nil {
		return responder.SendResponse(builder.CFindResponse(types.StatusProtocolError, false), nil, meta.TransferSyntaxUID)
	}

	shielded, err := h.cfg.Shield.ShieldQuery(ctx, ds)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "shieldQuery failed for C-FIND", "error", err)
		return responder.SendResponse(builder.CFindResponse(types.StatusFailure, false), nil, meta.TransferSyntaxUID)
	}

	assoc, sopClass, err := h.cfg.Upstream.Associate(ctx, level, associator.ActionFind)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "upstream association failed for C-FIND", "error", err)
		return responder.SendResponse(builder.CFindResponse(types.StatusFailure, false), nil, meta.TransferSyntaxUID)
	}
	defer assoc.Close()

	responses, err := assoc.SendCFind(&client.CFindRequest{
		SOPClassUID: sopClass,
		Dataset:     shielded,
		MessageID:   msg.MessageID,
	})
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "upstream C-FIND failed", "error", err)
		return responder.SendResponse(builder.CFindResponse(types.StatusFailure, false), nil, meta.TransferSyntaxUID)
	}

	for _, resp := range responses {
		var outDs *dicom.Dataset
		hasDataset := resp.Dataset != nil
		if hasDataset {
			outDs, err = h.cfg.Shield.ShieldRetrieve(ctx, resp.Dataset)
			if err != nil {
				h.cfg.Logger.ErrorContext(ctx, "shieldRetrieve failed for C-FIND response", "error", err)
				return responder.SendResponse(builder.CFindResponse(types.StatusFailure, false), nil, meta.TransferSyntaxUID)
			}
		}

		respMsg := builder.CFindResponse(resp.Status, hasDataset)
		if err := responder.SendResponse(respMsg, outDs, meta.TransferSyntaxUID); err != nil {
			return err
		}
	}
	return nil
}

// handleGet implements the C-GET state machine: the upstream's
// sub-operation C-STOREs arrive on the upstream C-GET association and
// reach this handler through client.SendCGet's callback, which shields
// each instance and forwards it to the client at once as a Pending
// C-GET-RSP carrying the dataset. No queue is involved.
func (h *Handler) handleGet(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	ds := h.requestDataset(data, meta)

	level, err := queryRetrieveLevel(ds)
	if err != nil {
		return responder.SendResponse(failureResponse(msg, types.CGetRSP, types.StatusProtocolError), nil, meta.TransferSyntaxUID)
	}

	shielded, err := h.cfg.Shield.ShieldQuery(ctx, ds)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "shieldQuery failed for C-GET", "error", err)
		return responder.SendResponse(failureResponse(msg, types.CGetRSP, types.StatusFailure), nil, meta.TransferSyntaxUID)
	}

	assoc, sopClass, err := h.cfg.Upstream.Associate(ctx, level, associator.ActionGet)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "upstream association failed for C-GET", "error", err)
		return responder.SendResponse(failureResponse(msg, types.CGetRSP, types.StatusFailure), nil, meta.TransferSyntaxUID)
	}
	defer assoc.Close()

	// Each sub-operation C-STORE-RQ arrives interleaved on this same
	// association; the callback shields it and forwards it to the
	// client immediately as a Pending C-GET-RSP, in lock-step with the
	// upstream's delivery order.
	var forwardErr error
	onInstance := func(sopClassUID, sopInstanceUID string, instanceData []byte) error {
		instanceDs, err := dicom.ParseDataset(instanceData)
		if err != nil {
			h.cfg.Logger.ErrorContext(ctx, "failed to parse C-GET sub-operation dataset", "error", err)
			return err
		}
		shieldedInstance, err := h.cfg.Shield.ShieldRetrieve(ctx, instanceDs)
		if err != nil {
			h.cfg.Logger.ErrorContext(ctx, "shieldRetrieve failed for C-GET sub-operation", "error", err)
			return err
		}
		respMsg := &types.Message{
			CommandField:              types.CGetRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			CommandDataSetType:        0x0000,
			Status:                    types.StatusPending,
		}
		if err := responder.SendResponse(respMsg, shieldedInstance, meta.TransferSyntaxUID); err != nil {
			forwardErr = err
			return err
		}
		return nil
	}

	responses, err := assoc.SendCGet(&client.CGetRequest{SOPClassUID: sopClass, Dataset: shielded, MessageID: msg.MessageID}, onInstance)
	if forwardErr != nil {
		return forwardErr
	}
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "upstream C-GET failed", "error", err)
		return responder.SendResponse(failureResponse(msg, types.CGetRSP, types.StatusFailure), nil, meta.TransferSyntaxUID)
	}
	if len(responses) == 0 {
		return responder.SendResponse(failureResponse(msg, types.CGetRSP, types.StatusFailure), nil, meta.TransferSyntaxUID)
	}

	final := responses[len(responses)-1]
	finalMsg := &types.Message{
		CommandField:                   types.CGetRSP,
		MessageIDBeingRespondedTo:      msg.MessageID,
		CommandDataSetType:             0x0101,
		Status:                         final.Status,
		NumberOfCompletedSuboperations: final.NumberOfCompletedSuboperations,
		NumberOfFailedSuboperations:    final.NumberOfFailedSuboperations,
		NumberOfWarningSuboperations:   final.NumberOfWarningSuboperations,
	}
	return responder.SendResponse(finalMsg, nil, meta.TransferSyntaxUID)
}

// maxAETitleLength is the DICOM AE title field width (PS3.8).
const maxAETitleLength = 16

// moveDestinationToken derives the synthetic AE title the proxy presents
// upstream as a C-MOVE destination, embedding messageID so the internal
// listener can recover the owning operation's queue key from the called
// AE title on the sub-operation association it receives.
func moveDestinationToken(base string, messageID uint16) string {
	suffix := fmt.Sprintf("%04X", messageID)
	if len(base)+len(suffix) > maxAETitleLength {
		base = base[:maxAETitleLength-len(suffix)]
	}
	return base + suffix
}

// EnqueueRetrieved is called by the internal C-STORE listener's handler
// for each sub-operation instance arriving from the upstream PACS, keyed
// by the called AE title presented on that association (see
// moveDestinationToken). It shields the dataset and hands it to the
// queue the owning C-MOVE handler opened under the same key.
func (h *Handler) EnqueueRetrieved(ctx context.Context, key string, ds *dicom.Dataset) error {
	shielded, err := h.cfg.Shield.ShieldRetrieve(ctx, ds)
	if err != nil {
		return fmt.Errorf("handlers: shieldRetrieve failed for sub-operation: %w", err)
	}

	q, ok := h.cfg.Queues.Lookup(key)
	if !ok {
		return fmt.Errorf("handlers: no in-flight operation registered for key %q", key)
	}
	return q.Put(ctx, shielded)
}

// handleMove implements the C-MOVE state machine: the hard case. The
// client's declared destination never talks to the upstream directly;
// the proxy redirects the upstream's sub-operation C-STOREs to its own
// internal listener, then re-emits each dataset to the real destination
// once the upstream MOVE conversation has finished.
func (h *Handler) handleMove(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	builder := services.NewResponseBuilder(msg)

	destAddr, ok := h.cfg.AllowedAET[msg.MoveDestination]
	if !ok {
		h.cfg.Logger.WarnContext(ctx, "C-MOVE destination not allowed", "destination", msg.MoveDestination)
		return responder.SendResponse(builder.CMoveResponse(types.StatusFailure, nil, nil, nil, nil), nil, meta.TransferSyntaxUID)
	}

	ds := h.requestDataset(data, meta)

	level, err := queryRetrieveLevel(ds)
	if err != nil {
		return responder.SendResponse(builder.CMoveResponse(types.StatusProtocolError, nil, nil, nil, nil), nil, meta.TransferSyntaxUID)
	}

	shielded, err := h.cfg.Shield.ShieldQuery(ctx, ds)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "shieldQuery failed for C-MOVE", "error", err)
		return responder.SendResponse(builder.CMoveResponse(types.StatusFailure, nil, nil, nil, nil), nil, meta.TransferSyntaxUID)
	}

	assoc, sopClass, err := h.cfg.Upstream.Associate(ctx, level, associator.ActionMove)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "upstream association failed for C-MOVE", "error", err)
		return responder.SendResponse(builder.CMoveResponse(types.StatusFailure, nil, nil, nil, nil), nil, meta.TransferSyntaxUID)
	}
	defer assoc.Close()

	// The destination AE title presented upstream is a synthetic token
	// derived from the internal listener's base AE title plus this
	// operation's message ID, not the fixed internal AE title itself.
	// The upstream's sub-operation association calls back declaring this
	// exact AE as its destination, so the internal listener can recover
	// the originating operation's queue key from the called AE title
	// alone - see spec's "scoped channels" redesign note.
	destinationToken := moveDestinationToken(h.cfg.InternalAET, msg.MessageID)
	q, err := h.cfg.Queues.Open(destinationToken, queue.DefaultCapacity)
	if err != nil {
		return responder.SendResponse(builder.CMoveResponse(types.StatusFailure, nil, nil, nil, nil), nil, meta.TransferSyntaxUID)
	}
	defer h.cfg.Queues.Close(destinationToken)

	responses, err := assoc.SendCMove(&client.CMoveRequest{
		SOPClassUID:     sopClass,
		Dataset:         shielded,
		MessageID:       msg.MessageID,
		MoveDestination: destinationToken,
	})
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "upstream C-MOVE failed", "error", err)
		return responder.SendResponse(builder.CMoveResponse(types.StatusFailure, nil, nil, nil, nil), nil, meta.TransferSyntaxUID)
	}

	final := responses[len(responses)-1]
	if final.Status != types.StatusSuccess {
		q.Discard()
		return responder.SendResponse(builder.CMoveResponse(final.Status, nil, nil, nil, nil), nil, meta.TransferSyntaxUID)
	}

	destAssoc, err := client.Connect(destAddr, client.Config{
		CallingAETitle:   h.cfg.CallingAETitle,
		CalledAETitle:    msg.MoveDestination,
		AbstractSyntaxes: storageAbstractSyntaxes,
	})
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "failed to associate to move destination", "destination", msg.MoveDestination, "error", err)
		q.Discard()
		return responder.SendResponse(builder.CMoveResponse(types.StatusFailure, nil, nil, nil, nil), nil, meta.TransferSyntaxUID)
	}
	defer destAssoc.Close()

	var completed, failed uint16
	for {
		dataset, ok, err := q.Get(ctx)
		if err != nil {
			q.Discard()
			return err
		}
		if !ok || dataset == nil {
			break
		}

		sopClassUID := dataset.GetString(sopClassUIDTag)
		sopInstanceUID := dataset.GetString(sopInstanceUIDTag)
		encoded := dataset.EncodeDataset()

		if _, err := destAssoc.SendCStore(&client.CStoreRequest{
			SOPClassUID:    sopClassUID,
			SOPInstanceUID: sopInstanceUID,
			Data:           encoded,
			MessageID:      msg.MessageID,
		}); err != nil {
			failed++
			h.cfg.Logger.ErrorContext(ctx, "C-STORE to move destination failed", "error", err)
		} else {
			completed++
		}

		remaining := uint16(q.Size())
		completedCopy, failedCopy := completed, failed
		progress := builder.CMoveResponse(types.StatusPending, &completedCopy, &failedCopy, nil, &remaining)
		if err := responder.SendResponse(progress, nil, meta.TransferSyntaxUID); err != nil {
			return err
		}

		if remaining == 0 {
			break
		}
	}

	finalMsg := builder.CMoveResponse(types.StatusSuccess, &completed, &failed, nil, nil)
	return responder.SendResponse(finalMsg, nil, meta.TransferSyntaxUID)
}
