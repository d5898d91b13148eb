package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomshield/proxy/dicom"
	"github.com/dicomshield/proxy/interfaces"
	"github.com/dicomshield/proxy/queue"
	"github.com/dicomshield/proxy/shield"
	"github.com/dicomshield/proxy/types"
)

func testHandlerWithQueues() (*Handler, *queue.Manager) {
	mgr := queue.NewManager()
	h := New(Config{
		Shield:      shield.New(fakePseudonymClient{}),
		Queues:      mgr,
		InternalAET: "DICOMSHIELD_MOVE",
	})
	return h, mgr
}

func TestInternalStoreHandler_RoutesToOwningQueue(t *testing.T) {
	h, mgr := testHandlerWithQueues()
	token := moveDestinationToken(h.cfg.InternalAET, 42)
	q, err := mgr.Open(token, queue.DefaultCapacity)
	require.NoError(t, err)
	defer mgr.Close(token)

	internal := NewInternalStoreHandler(h)

	ds := dicom.NewDataset()
	ds.AddElement(dicom.Tag{Group: 0x0008, Element: 0x0018}, dicom.VR_UI, "1.2.3.4.5.6")

	msg := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              1,
		AffectedSOPClassUID:    types.CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3.4.5.6",
	}

	resp, outDs, err := internal.HandleDIMSE(context.Background(), msg, nil, interfaces.MessageContext{
		Dataset:       ds,
		CalledAETitle: token,
	})

	require.NoError(t, err)
	assert.Nil(t, outDs)
	assert.Equal(t, uint16(types.StatusSuccess), resp.Status)

	queued, ok, err := q.Get(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, queued.Anonymized)
}

func TestInternalStoreHandler_UnknownTokenFails(t *testing.T) {
	h, _ := testHandlerWithQueues()
	internal := NewInternalStoreHandler(h)

	ds := dicom.NewDataset()
	msg := &types.Message{CommandField: types.CStoreRQ, MessageID: 1}

	resp, _, err := internal.HandleDIMSE(context.Background(), msg, nil, interfaces.MessageContext{
		Dataset:       ds,
		CalledAETitle: "NEVER_OPENED0001",
	})

	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusFailure), resp.Status)
}

func TestInternalStoreHandler_RejectsNonStoreCommands(t *testing.T) {
	h, _ := testHandlerWithQueues()
	internal := NewInternalStoreHandler(h)

	msg := &types.Message{CommandField: types.CEchoRQ, MessageID: 1}
	resp, _, err := internal.HandleDIMSE(context.Background(), msg, nil, interfaces.MessageContext{})

	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusFailure), resp.Status)
}
