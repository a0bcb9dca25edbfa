// Package adr implements the adaptive data-rate managers. A manager records
// the uplink history of a device and calculates the data-rate, tx-power and
// number of transmissions the device should use.
package adr

import (
	"context"

	"github.com/brocaar/lorawan"

	"github.com/loraedge/edge-network-server/internal/storage"
)

// ErrLockTimeout is returned when the table lock could not be acquired in
// time. No result is returned and the device keeps its current parameters.
var ErrLockTimeout = storage.ErrLockTimeout

// Request holds an ADR request for a single uplink.
type Request struct {
	DevEUI    lorawan.EUI64
	GatewayID string

	// FCntUp holds the full uplink frame-counter.
	FCntUp uint32

	// FCntDown holds the downlink frame-counter as known by the caller.
	FCntDown uint32

	// DataRate holds the data-rate index of the uplink.
	DataRate int

	// SNR of the uplink as received by the gateway.
	SNR float64

	// MaxDataRate and MinTxPowerIndex bound the calculated parameters. They
	// hold the band limits unless the device is further restricted.
	MaxDataRate     int
	MinTxPowerIndex int

	// PerformCalculation must be set to calculate new parameters, else the
	// uplink is only recorded and the last result is returned.
	PerformCalculation bool

	// ClearCache deletes the history of the device (e.g. after a join).
	ClearCache bool
}

// Result holds the ADR result.
type Result struct {
	DataRate     int `json:"dataRate"`
	TxPower      int `json:"txPower"`
	NbRepetition int `json:"nbRepetition"`

	// FCntDown holds the frame-counter to use for the downlink carrying the
	// new parameters.
	FCntDown uint32 `json:"fCntDown"`

	// CanConfirmToDevice is false when a sibling instance is responsible
	// for the downlink.
	CanConfirmToDevice bool `json:"canConfirmToDevice"`
}

// Manager defines the ADR manager interface.
type Manager interface {
	// RecordAndMaybeRecalculate records the uplink and, when requested,
	// calculates new radio parameters. A nil result means that there is
	// nothing to communicate to the device.
	RecordAndMaybeRecalculate(ctx context.Context, req Request) (*Result, error)

	// NextFCntDown returns the next downlink frame-counter, 0 when the
	// downlink must not be sent by this instance.
	NextFCntDown(ctx context.Context, devEUI lorawan.EUI64, gatewayID string, fCntUp, fCntDown uint32) (uint32, error)
}

// RadioState holds the cached radio parameters of a device.
type RadioState interface {
	UpdateRadioParameters(dataRate, txPower, nbRep int)
}

// Device defines the device properties needed to select a manager.
type Device interface {
	RadioState

	// PinnedGatewayID returns the gateway the device is pinned to, empty
	// when the device is served by multiple gateways.
	PinnedGatewayID() string
}
