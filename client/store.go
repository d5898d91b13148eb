package client

import (
	"fmt"

	"github.com/dicomshield/proxy/dimse"
	"github.com/dicomshield/proxy/types"
)

// CStoreRequest represents a C-STORE request
type CStoreRequest struct {
	SOPClassUID    string
	SOPInstanceUID string
	Data           []byte
	MessageID      uint16
}

// CStoreResponse represents a C-STORE response
type CStoreResponse struct {
	Status         uint16
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
}

// SendCStore sends a C-STORE request and waits for response
func (a *Association) SendCStore(req *CStoreRequest) (*CStoreResponse, error) {
	// Find presentation context for this SOP Class
	presContextID, err := a.GetPresentationContextID(req.SOPClassUID)
	if err != nil {
		return nil, fmt.Errorf("no presentation context for SOP class %s: %w", req.SOPClassUID, err)
	}

	resp, err := dimse.SendCStore(a.conn, presContextID, a.maxPDULength, &dimse.CStoreRequest{
		SOPClassUID:    req.SOPClassUID,
		SOPInstanceUID: req.SOPInstanceUID,
		Data:           req.Data,
		MessageID:      req.MessageID,
	})
	if err != nil {
		return nil, err
	}

	return &CStoreResponse{
		Status:         resp.Status,
		MessageID:      resp.MessageID,
		SOPClassUID:    resp.SOPClassUID,
		SOPInstanceUID: resp.SOPInstanceUID,
	}, nil
}

// sendDIMSEMessage sends a DIMSE message with optional dataset on this association.
func (a *Association) sendDIMSEMessage(presContextID byte, commandData []byte, datasetData []byte) error {
	return dimse.SendDIMSEMessage(a.conn, presContextID, a.maxPDULength, commandData, datasetData)
}

// receiveDIMSEMessage reads a complete DIMSE message (command and optional
// dataset) from the association connection.
func (a *Association) receiveDIMSEMessage() (*types.Message, []byte, error) {
	return dimse.ReceiveDIMSEMessage(a.conn)
}
