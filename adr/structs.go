package adr

import (
	"net/rpc"

	"github.com/brocaar/lorawan"
	"github.com/hashicorp/go-plugin"
)

// HandshakeConfig for ADR plugins.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "EDGE_ADR_PLUGIN",
	MagicCookieValue: "EDGE_ADR_PLUGIN",
}

// Handler defines the ADR handler interface.
type Handler interface {
	ID() (string, error)
	Name() (string, error)
	Handle(HandleRequest) (HandleResponse, error)
}

// HandleRequest implements the ADR handle request.
type HandleRequest struct {
	// DevEUI of the device.
	DevEUI lorawan.EUI64

	// DR holds the uplink data-rate of the device.
	DR int

	// TxPowerIndex holds the current tx-power index of the device.
	TxPowerIndex int

	// NbTrans holds the current number of transmissions of the device.
	NbTrans int

	// MaxTxPowerIndex defines the tx-power index with the lowest power.
	MaxTxPowerIndex int

	// MaxDR defines the max. allowed data-rate.
	MaxDR int

	// RequiredSNRForDR defines the min. required SNR for the current
	// data-rate.
	RequiredSNRForDR float64

	// InstallationMargin defines the configured installation margin.
	InstallationMargin float64

	// UplinkHistory contains the meta-data of the last uplinks, oldest
	// first.
	UplinkHistory []UplinkMetaData
}

// HandleResponse implements the ADR handle response.
type HandleResponse struct {
	// DR holds the data-rate to which the device must change.
	DR int

	// TxPowerIndex holds the tx-power index to which the device must change.
	TxPowerIndex int

	// NbTrans holds the number of transmissions which the device must use
	// for each uplink.
	NbTrans int
}

// UplinkMetaData contains the meta-data of an uplink transmission. When the
// uplink was received by multiple gateways, it holds the best reception.
type UplinkMetaData struct {
	FCnt      uint32
	MaxSNR    float64
	GatewayID string
}

// HandlerRPCServer implements the RPC server for the Handler interface.
type HandlerRPCServer struct {
	// Impl holds the interface implementation.
	Impl Handler
}

// ID returns the handler ID.
func (s *HandlerRPCServer) ID(req interface{}, resp *string) error {
	var err error
	*resp, err = s.Impl.ID()
	return err
}

// Name returns the handler name.
func (s *HandlerRPCServer) Name(req interface{}, resp *string) error {
	var err error
	*resp, err = s.Impl.Name()
	return err
}

// Handle calls the handler implementation.
func (s *HandlerRPCServer) Handle(req HandleRequest, resp *HandleResponse) error {
	var err error
	*resp, err = s.Impl.Handle(req)
	return err
}

// HandlerRPC implements the RPC client for the Handler interface.
type HandlerRPC struct {
	client *rpc.Client
}

// ID returns the handler ID.
func (r *HandlerRPC) ID() (string, error) {
	var resp string
	err := r.client.Call("Plugin.ID", new(interface{}), &resp)
	return resp, err
}

// Name returns the handler name.
func (r *HandlerRPC) Name() (string, error) {
	var resp string
	err := r.client.Call("Plugin.Name", new(interface{}), &resp)
	return resp, err
}

// Handle calls the remote handler.
func (r *HandlerRPC) Handle(req HandleRequest) (HandleResponse, error) {
	var resp HandleResponse
	err := r.client.Call("Plugin.Handle", req, &resp)
	return resp, err
}

// HandlerPlugin implements plugin.Plugin.
type HandlerPlugin struct {
	// Impl holds the interface implementation.
	Impl Handler
}

// Server returns the RPC server of the plugin.
func (p *HandlerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &HandlerRPCServer{Impl: p.Impl}, nil
}

// Client returns the RPC client of the plugin.
func (p *HandlerPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &HandlerRPC{client: c}, nil
}
