package adr

import (
	"testing"

	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/require"
)

type testHandler struct{}

func (h *testHandler) ID() (string, error)   { return "test", nil }
func (h *testHandler) Name() (string, error) { return "Test handler", nil }

func (h *testHandler) Handle(req HandleRequest) (HandleResponse, error) {
	return HandleResponse{
		DR:           req.MaxDR,
		TxPowerIndex: len(req.UplinkHistory),
		NbTrans:      1,
	}, nil
}

func TestHandlerPlugin(t *testing.T) {
	assert := require.New(t)

	client, _ := plugin.TestPluginRPCConn(t, map[string]plugin.Plugin{
		"handler": &HandlerPlugin{Impl: &testHandler{}},
	}, nil)
	defer client.Close()

	raw, err := client.Dispense("handler")
	assert.NoError(err)

	h, ok := raw.(Handler)
	assert.True(ok)

	id, err := h.ID()
	assert.NoError(err)
	assert.Equal("test", id)

	name, err := h.Name()
	assert.NoError(err)
	assert.Equal("Test handler", name)

	resp, err := h.Handle(HandleRequest{
		MaxDR:         5,
		UplinkHistory: []UplinkMetaData{{FCnt: 1, MaxSNR: 3.5, GatewayID: "gw"}, {FCnt: 2}},
	})
	assert.NoError(err)
	assert.Equal(HandleResponse{DR: 5, TxPowerIndex: 2, NbTrans: 1}, resp)
}
