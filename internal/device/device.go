// Package device holds the in-memory device model and the device cache.
package device

import (
	"sync"

	"github.com/brocaar/lorawan"

	"github.com/loraedge/edge-network-server/internal/facade"
)

// RadioParameters holds the radio parameters of a device.
type RadioParameters struct {
	DataRate int
	TxPower  int
	NbRep    int
}

// Device holds the session and radio state of a device. It is safe for
// concurrent use.
type Device struct {
	DevEUI  lorawan.EUI64
	DevAddr lorawan.DevAddr
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key

	// GatewayID is set when the device is pinned to a single gateway.
	GatewayID string

	// MaxDataRate and MinTxPowerIndex are set when the ADR parameters of the
	// device are restricted below the band limits.
	MaxDataRate     *int
	MinTxPowerIndex *int

	mu       sync.RWMutex
	fCntUp   uint32
	fCntDown uint32
	radio    RadioParameters
	hasRadio bool
}

// NewFromKeys creates a device from the facade session.
func NewFromKeys(k facade.DeviceKeys) *Device {
	return &Device{
		DevEUI:    k.DevEUI,
		DevAddr:   k.DevAddr,
		NwkSKey:   k.NwkSKey,
		AppSKey:   k.AppSKey,
		GatewayID: k.GatewayID,

		MaxDataRate:     k.MaxDataRate,
		MinTxPowerIndex: k.MinTxPowerIndex,

		fCntUp:   k.FCntUp,
		fCntDown: k.FCntDown,
	}
}

// PinnedGatewayID returns the gateway the device is pinned to.
func (d *Device) PinnedGatewayID() string {
	return d.GatewayID
}

// UpdateRadioParameters updates the cached radio parameters.
func (d *Device) UpdateRadioParameters(dataRate, txPower, nbRep int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.radio = RadioParameters{
		DataRate: dataRate,
		TxPower:  txPower,
		NbRep:    nbRep,
	}
	d.hasRadio = true
}

// RadioParameters returns the cached radio parameters. The second return
// value is false when no parameters were set.
func (d *Device) RadioParameters() (RadioParameters, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.radio, d.hasRadio
}

// FCntUp returns the last known uplink frame-counter.
func (d *Device) FCntUp() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fCntUp
}

// SetFCntUp sets the uplink frame-counter. Counters lower than the current
// value are ignored.
func (d *Device) SetFCntUp(fCnt uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fCnt > d.fCntUp {
		d.fCntUp = fCnt
	}
}

// FCntDown returns the last used downlink frame-counter.
func (d *Device) FCntDown() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fCntDown
}

// SetFCntDown sets the downlink frame-counter. Counters lower than the
// current value are ignored.
func (d *Device) SetFCntDown(fCnt uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fCnt > d.fCntDown {
		d.fCntDown = fCnt
	}
}
