package client

import (
	"fmt"
	"log/slog"

	"github.com/dicomshield/proxy/dicom"
	"github.com/dicomshield/proxy/dimse"
	"github.com/dicomshield/proxy/types"
)

const studyRootMoveSOPClassUID = "1.2.840.10008.5.1.4.1.2.2.2"

// CMoveRequest encapsulates the information required to perform a C-MOVE.
type CMoveRequest struct {
	SOPClassUID     string
	MessageID       uint16
	Priority        uint16
	MoveDestination string
	Dataset         *dicom.Dataset
}

// CMoveResponse represents a single C-MOVE-RSP, either an intermediate
// Pending status report or the final status of the operation.
type CMoveResponse struct {
	Status                         uint16
	MessageID                      uint16
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
	Dataset                        *dicom.Dataset
}

// SendCMove sends a C-MOVE-RQ and returns every C-MOVE-RSP received,
// including intermediate Pending reports, in order. The proxy itself
// never needs to call this with the client's real move destination -
// per the C-MOVE design, the destination passed upstream is always a
// per-operation token derived from the proxy's own internal C-STORE
// listener AE title.
func (a *Association) SendCMove(req *CMoveRequest) ([]*CMoveResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-move request cannot be nil")
	}
	if req.Dataset == nil {
		return nil, fmt.Errorf("c-move request requires an identifier dataset")
	}
	if req.MoveDestination == "" {
		return nil, fmt.Errorf("c-move request requires a move destination AE title")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = studyRootMoveSOPClassUID
	}

	messageID := req.MessageID
	if messageID == 0 {
		messageID = 1
	}

	priority := req.Priority
	if priority == 0 {
		priority = 0x0000
	}

	presContextID, err := a.GetPresentationContextID(sopClass)
	if err != nil {
		return nil, err
	}

	command := &types.Message{
		CommandField:        dimse.CMoveRQ,
		MessageID:           messageID,
		CommandDataSetType:  0x0000,
		Priority:            priority,
		AffectedSOPClassUID: sopClass,
		MoveDestination:     req.MoveDestination,
	}

	commandData, err := dimse.EncodeCommand(command)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-MOVE command: %w", err)
	}

	datasetData := req.Dataset.EncodeDataset()

	if err := a.sendDIMSEMessage(presContextID, commandData, datasetData); err != nil {
		return nil, fmt.Errorf("failed to send C-MOVE request: %w", err)
	}

	var responses []*CMoveResponse

	for {
		msg, data, err := a.receiveDIMSEMessage()
		if err != nil {
			return nil, err
		}

		if msg.CommandField != dimse.CMoveRSP {
			return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-MOVE-RSP)", msg.CommandField)
		}

		var dataset *dicom.Dataset
		if len(data) > 0 {
			dataset, err = dicom.ParseDataset(data)
			if err != nil {
				slog.Warn("Failed to parse C-MOVE response dataset",
					"error", err,
					"message_id", msg.MessageIDBeingRespondedTo,
					"status", fmt.Sprintf("0x%04X", msg.Status))
			}
		}

		responses = append(responses, &CMoveResponse{
			Status:                         msg.Status,
			MessageID:                      msg.MessageIDBeingRespondedTo,
			NumberOfRemainingSuboperations: msg.NumberOfRemainingSuboperations,
			NumberOfCompletedSuboperations: msg.NumberOfCompletedSuboperations,
			NumberOfFailedSuboperations:    msg.NumberOfFailedSuboperations,
			NumberOfWarningSuboperations:   msg.NumberOfWarningSuboperations,
			Dataset:                        dataset,
		})

		if msg.Status != dimse.StatusPending {
			break
		}
	}

	return responses, nil
}
