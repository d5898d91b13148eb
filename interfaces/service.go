// Package interfaces contains all service and handler interfaces
package interfaces

import (
	"context"

	"github.com/dicomshield/proxy/dicom"
	"github.com/dicomshield/proxy/types"
)

// MessageContext carries everything a handler needs about the presentation
// context a message arrived on, beyond the DIMSE command itself.
type MessageContext struct {
	PresentationContextID byte
	TransferSyntaxUID     string
	Dataset               *dicom.Dataset

	// CallingAETitle is the calling AE title presented on the association
	// this message arrived on. No handler in this repository checks it;
	// the internal C-STORE listener routes on CalledAETitle alone.
	CallingAETitle string

	// CalledAETitle is the AE title the peer dialed. On the internal
	// C-STORE listener this carries the synthetic per-operation token
	// the proxy gave the upstream as its C-MOVE destination.
	CalledAETitle string
}

// ServiceHandler interface for handling DIMSE operations with a single response.
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta MessageContext) (*types.Message, *dicom.Dataset, error)
}

// StreamingServiceHandler interface for multi-response DIMSE operations (C-FIND, C-GET, C-MOVE).
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta MessageContext, responder ResponseSender) error
}

// ResponseSender interface for sending intermediate or final responses on
// the association a request arrived on.
type ResponseSender interface {
	SendResponse(msg *types.Message, dataset *dicom.Dataset, transferSyntaxUID string) error
}

// CGetResponder interface for C-GET operations that need to send C-STORE
// sub-operations back on the same association as the originating request.
type CGetResponder interface {
	ResponseSender
	SendCStore(sopClassUID, sopInstanceUID string, data []byte) error
}

// DIMSEHandler interface for the PDU layer to hand reassembled DIMSE
// fragments to the DIMSE layer.
type DIMSEHandler interface {
	HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error
}

// PDULayer interface for the DIMSE layer to send responses through the PDU layer.
type PDULayer interface {
	SendDIMSEResponse(presContextID byte, commandData []byte) error
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, dataset []byte) error
	GetTransferSyntax(presContextID byte) (string, error)
	CallingAETitle() string
	CalledAETitle() string
}
