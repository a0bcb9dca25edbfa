package frame

import (
	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
)

// DownlinkParams holds the parameters for composing a downlink data frame.
type DownlinkParams struct {
	Confirmed bool
	DevAddr   lorawan.DevAddr
	FCnt      uint32
	ADR       bool
	ACK       bool
	FPending  bool
	FOpts     []byte

	// FPort and Payload are optional. The payload is given as plaintext.
	FPort   *uint8
	Payload []byte
}

// BuildDownlink composes, encrypts and signs a downlink data frame.
func BuildDownlink(p DownlinkParams, nwkSKey, appSKey lorawan.AES128Key) (*Frame, error) {
	f := Frame{
		MType:   UnconfirmedDataDown,
		Major:   LoRaWANR1,
		DevAddr: p.DevAddr,
		FOpts:   p.FOpts,
		FPort:   p.FPort,
	}
	if p.Confirmed {
		f.MType = ConfirmedDataDown
	}
	if p.ADR {
		f.FCtrl |= 0x80
	}
	if p.ACK {
		f.FCtrl |= 0x20
	}
	if p.FPending {
		f.FCtrl |= 0x10
	}
	f.SetFullFCnt(p.FCnt)

	if p.FPort != nil && len(p.Payload) > 0 {
		key := appSKey
		if *p.FPort == 0 {
			key = nwkSKey
		}

		b, err := EncryptPayload(key, false, p.DevAddr, p.FCnt, p.Payload)
		if err != nil {
			return nil, errors.Wrap(err, "encrypt payload error")
		}
		f.FRMPayload = b
	}

	if err := SetMIC(&f, nwkSKey); err != nil {
		return nil, errors.Wrap(err, "set mic error")
	}

	return &f, nil
}
