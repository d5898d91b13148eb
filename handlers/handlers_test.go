package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomshield/proxy/dicom"
	"github.com/dicomshield/proxy/interfaces"
	"github.com/dicomshield/proxy/pseudonym"
	"github.com/dicomshield/proxy/shield"
	"github.com/dicomshield/proxy/types"
)

type fakePseudonymClient struct{}

func (fakePseudonymClient) Pseudonymize(ctx context.Context, values []string, allowCreate bool) (map[string]string, error) {
	return map[string]string{}, nil
}

func (fakePseudonymClient) Depseudonymize(ctx context.Context, values []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (fakePseudonymClient) TestConnection(ctx context.Context) error { return nil }

var _ pseudonym.Client = fakePseudonymClient{}

type recordingResponder struct {
	messages []*types.Message
	datasets []*dicom.Dataset
}

func (r *recordingResponder) SendResponse(msg *types.Message, dataset *dicom.Dataset, transferSyntaxUID string) error {
	r.messages = append(r.messages, msg)
	r.datasets = append(r.datasets, dataset)
	return nil
}

func testHandler() *Handler {
	return New(Config{
		Shield:      shield.New(fakePseudonymClient{}),
		AllowedAET:  map[string]string{"KNOWN_DEST": "10.0.0.5:104"},
		InternalAET: "DICOMSHIELD_MOVE",
	})
}

// C-ECHO is served by services.EchoService (registered directly in
// cmd/dicomshield), not by Handler: any command this Handler doesn't
// itself own, including C-ECHO, falls through its default case.
func TestHandleDIMSE_EchoNotOwnedByHandler(t *testing.T) {
	h := testHandler()
	msg := &types.Message{CommandField: types.CEchoRQ, MessageID: 7}

	resp, ds, err := h.HandleDIMSE(context.Background(), msg, nil, interfaces.MessageContext{})

	require.NoError(t, err)
	assert.Nil(t, ds)
	assert.Equal(t, uint16(types.StatusFailure), resp.Status)
}

func TestHandleDIMSEStreaming_Find_MissingQueryRetrieveLevel(t *testing.T) {
	h := testHandler()
	msg := &types.Message{CommandField: types.CFindRQ, MessageID: 3}
	responder := &recordingResponder{}

	err := h.HandleDIMSEStreaming(context.Background(), msg, nil, interfaces.MessageContext{Dataset: dicom.NewDataset()}, responder)

	require.NoError(t, err)
	require.Len(t, responder.messages, 1)
	assert.Equal(t, uint16(types.StatusProtocolError), responder.messages[0].Status)
}

func TestHandleDIMSEStreaming_Get_MissingQueryRetrieveLevel(t *testing.T) {
	h := testHandler()
	msg := &types.Message{CommandField: types.CGetRQ, MessageID: 4}
	responder := &recordingResponder{}

	err := h.HandleDIMSEStreaming(context.Background(), msg, nil, interfaces.MessageContext{Dataset: dicom.NewDataset()}, responder)

	require.NoError(t, err)
	require.Len(t, responder.messages, 1)
	assert.Equal(t, uint16(types.StatusProtocolError), responder.messages[0].Status)
}

func TestHandleDIMSEStreaming_Move_UnknownDestinationRejectedWithoutUpstreamContact(t *testing.T) {
	h := testHandler()
	msg := &types.Message{CommandField: types.CMoveRQ, MessageID: 9, MoveDestination: "SOMEWHERE_ELSE"}
	responder := &recordingResponder{}

	ds := dicom.NewDataset()
	ds.AddElement(dicom.Tag{Group: 0x0008, Element: 0x0052}, dicom.VR_CS, "STUDY")

	err := h.HandleDIMSEStreaming(context.Background(), msg, nil, interfaces.MessageContext{Dataset: ds}, responder)

	require.NoError(t, err)
	require.Len(t, responder.messages, 1)
	assert.Equal(t, uint16(types.StatusFailure), responder.messages[0].Status)
}

func TestHandleDIMSEStreaming_Move_MissingQueryRetrieveLevel(t *testing.T) {
	h := testHandler()
	msg := &types.Message{CommandField: types.CMoveRQ, MessageID: 10, MoveDestination: "KNOWN_DEST"}
	responder := &recordingResponder{}

	err := h.HandleDIMSEStreaming(context.Background(), msg, nil, interfaces.MessageContext{Dataset: dicom.NewDataset()}, responder)

	require.NoError(t, err)
	require.Len(t, responder.messages, 1)
	assert.Equal(t, uint16(types.StatusProtocolError), responder.messages[0].Status)
}

func TestMoveDestinationToken_TruncatesToAETitleWidth(t *testing.T) {
	token := moveDestinationToken("A_VERY_LONG_BASE_AE_TITLE", 0x00FF)
	assert.LessOrEqual(t, len(token), maxAETitleLength)
	assert.Equal(t, "00FF", token[len(token)-4:])
}

func TestHandleDIMSE_UnsupportedCommandFails(t *testing.T) {
	h := testHandler()
	msg := &types.Message{CommandField: types.CCancelRQ, MessageID: 1}

	resp, ds, err := h.HandleDIMSE(context.Background(), msg, nil, interfaces.MessageContext{})

	require.NoError(t, err)
	assert.Nil(t, ds)
	assert.Equal(t, uint16(types.StatusFailure), resp.Status)
}
