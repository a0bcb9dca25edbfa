// Package frame implements the LoRaWAN frame codec: parsing and encoding of
// data frames, MIC calculation and FRMPayload encryption. The wire format and
// the cryptography are handled by lorawan.PHYPayload.
package frame

import (
	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
)

// MType defines the LoRaWAN message type.
type MType byte

// Supported message types.
const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RejoinRequest
	Proprietary
)

// LoRaWANR1 is the only supported major version.
const LoRaWANR1 byte = 0

// minFrameLength is MHDR (1) + DevAddr (4) + FCtrl (1) + FCnt (2) + MIC (4).
const minFrameLength = 12

// MIC holds the 4 byte message integrity code.
type MIC [4]byte

// FCtrl holds the frame-control octet.
type FCtrl byte

// ADR returns true when the adaptive data-rate bit is set.
func (c FCtrl) ADR() bool { return c&0x80 != 0 }

// ADRACKReq returns true when the (uplink) ADRACKReq bit is set.
func (c FCtrl) ADRACKReq() bool { return c&0x40 != 0 }

// ACK returns true when the acknowledgement bit is set.
func (c FCtrl) ACK() bool { return c&0x20 != 0 }

// FPending returns true when the (downlink) frame-pending bit is set.
func (c FCtrl) FPending() bool { return c&0x10 != 0 }

// FOptsLen returns the length of the FOpts field.
func (c FCtrl) FOptsLen() int { return int(c & 0x0f) }

// Frame holds a LoRaWAN data frame.
//
// The DevAddr is kept in its canonical (most significant byte first) order.
type Frame struct {
	MType MType
	Major byte

	DevAddr lorawan.DevAddr
	FCtrl   FCtrl

	// FCnt holds the 16 LSB of the frame-counter as transmitted.
	FCnt uint16

	// FCntMSB holds the 16 MSB of the frame-counter. These are never
	// transmitted and must be restored from the device state before
	// calculating the MIC or decrypting the payload.
	FCntMSB uint16

	FOpts      []byte
	FPort      *uint8
	FRMPayload []byte
	MIC        MIC
}

// PeekMType returns the message type of the given raw frame.
func PeekMType(b []byte) (MType, error) {
	if len(b) == 0 {
		return 0, ErrFrameTooShort
	}
	return MType(b[0] >> 5), nil
}

// Parse decodes the given raw data frame. It does not validate the MIC.
// Frames with reserved MHDR bits set are rejected.
func Parse(b []byte) (*Frame, error) {
	if len(b) < minFrameLength {
		return nil, ErrFrameTooShort
	}

	switch MType(b[0] >> 5) {
	case UnconfirmedDataUp, UnconfirmedDataDown, ConfirmedDataUp, ConfirmedDataDown:
	default:
		return nil, ErrUnsupportedMType
	}

	if b[0]&0x1c != 0 {
		return nil, ErrInvalidMHDR
	}

	if 8+FCtrl(b[5]).FOptsLen() > len(b)-len(MIC{}) {
		return nil, ErrInvalidFOptsLength
	}

	var phy lorawan.PHYPayload
	if err := phy.UnmarshalBinary(b); err != nil {
		return nil, errors.Wrap(err, "unmarshal phypayload error")
	}

	return fromPHYPayload(phy)
}

func fromPHYPayload(phy lorawan.PHYPayload) (*Frame, error) {
	macPL, ok := phy.MACPayload.(*lorawan.MACPayload)
	if !ok {
		return nil, ErrUnsupportedMType
	}

	fOpts, err := payloadBytes(macPL.FHDR.FOpts)
	if err != nil {
		return nil, errors.Wrap(err, "fopts error")
	}
	frmPayload, err := payloadBytes(macPL.FRMPayload)
	if err != nil {
		return nil, errors.Wrap(err, "frmpayload error")
	}

	f := Frame{
		MType:      MType(phy.MHDR.MType),
		Major:      byte(phy.MHDR.Major),
		DevAddr:    macPL.FHDR.DevAddr,
		FCtrl:      fCtrlFromLoRaWAN(macPL.FHDR.FCtrl, len(fOpts)),
		FCnt:       uint16(macPL.FHDR.FCnt),
		FCntMSB:    uint16(macPL.FHDR.FCnt >> 16),
		FOpts:      fOpts,
		FPort:      macPL.FPort,
		FRMPayload: frmPayload,
		MIC:        MIC(phy.MIC),
	}

	return &f, nil
}

// Uplink returns true when the frame travels from device to network.
func (f Frame) Uplink() bool {
	return isUplink(f.MType)
}

// Confirmed returns true for confirmed data frames.
func (f Frame) Confirmed() bool {
	return f.MType == ConfirmedDataUp || f.MType == ConfirmedDataDown
}

// FullFCnt returns the 32 bit frame-counter.
func (f Frame) FullFCnt() uint32 {
	return uint32(f.FCntMSB)<<16 | uint32(f.FCnt)
}

// SetFullFCnt sets both the transmitted and the restored part of the
// frame-counter.
func (f *Frame) SetFullFCnt(fCnt uint32) {
	f.FCnt = uint16(fCnt)
	f.FCntMSB = uint16(fCnt >> 16)
}

// MarshalBinary encodes the frame including the MIC.
func (f Frame) MarshalBinary() ([]byte, error) {
	phy, err := f.phyPayload()
	if err != nil {
		return nil, err
	}

	b, err := phy.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "marshal phypayload error")
	}
	return b, nil
}

// phyPayload returns the frame as lorawan.PHYPayload. The FHDR carries the
// full 32 bit frame-counter, only the 16 LSB are marshaled.
func (f Frame) phyPayload() (lorawan.PHYPayload, error) {
	if len(f.FOpts) > 15 {
		return lorawan.PHYPayload{}, ErrFOptsTooLong
	}

	macPL := lorawan.MACPayload{
		FHDR: lorawan.FHDR{
			DevAddr: f.DevAddr,
			FCtrl: lorawan.FCtrl{
				ADR:       f.FCtrl.ADR(),
				ADRACKReq: f.FCtrl.ADRACKReq(),
				ACK:       f.FCtrl.ACK(),
				FPending:  f.FCtrl.FPending(),
			},
			FCnt: f.FullFCnt(),
		},
		FPort: f.FPort,
	}
	if len(f.FOpts) > 0 {
		macPL.FHDR.FOpts = []lorawan.Payload{&lorawan.DataPayload{Bytes: f.FOpts}}
	}
	if f.FPort != nil && len(f.FRMPayload) > 0 {
		macPL.FRMPayload = []lorawan.Payload{&lorawan.DataPayload{Bytes: f.FRMPayload}}
	}

	return lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: lorawan.MType(f.MType),
			Major: lorawan.Major(f.Major & 0x03),
		},
		MACPayload: &macPL,
		MIC:        lorawan.MIC(f.MIC),
	}, nil
}

func fCtrlFromLoRaWAN(c lorawan.FCtrl, fOptsLen int) FCtrl {
	var out FCtrl
	if c.ADR {
		out |= 0x80
	}
	if c.ADRACKReq {
		out |= 0x40
	}
	if c.ACK {
		out |= 0x20
	}
	if c.FPending || c.ClassB {
		out |= 0x10
	}
	return out | FCtrl(fOptsLen&0x0f)
}

// payloadBytes concatenates the binary form of the given payloads.
func payloadBytes(pls []lorawan.Payload) ([]byte, error) {
	var out []byte
	for _, pl := range pls {
		b, err := pl.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func isUplink(m MType) bool {
	switch m {
	case JoinRequest, UnconfirmedDataUp, ConfirmedDataUp, RejoinRequest:
		return true
	default:
		return false
	}
}

// FullFCnt restores the 32 bit frame-counter given the last known counter and
// the 16 LSB as transmitted. It returns false when the gap exceeds maxGap.
// A counter equal to the last known counter is accepted (re-transmission).
func FullFCnt(last uint32, fCnt uint16, maxGap uint32) (uint32, bool) {
	// compare the difference of the 16 LSB
	gap := uint32(fCnt - uint16(last%65536))
	if gap < maxGap {
		return last + gap, true
	}
	return 0, false
}
