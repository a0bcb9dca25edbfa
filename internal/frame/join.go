package frame

import (
	"encoding/binary"

	"github.com/brocaar/lorawan"
)

// joinRequestLength is MHDR (1) + JoinEUI (8) + DevEUI (8) + DevNonce (2) + MIC (4).
const joinRequestLength = 23

// JoinRequestPayload holds a decoded join-request.
type JoinRequestPayload struct {
	JoinEUI  lorawan.EUI64
	DevEUI   lorawan.EUI64
	DevNonce uint16
	MIC      MIC
}

// ParseJoinRequest decodes the given raw join-request. The MIC is validated
// by the join handler as it requires the root key.
func ParseJoinRequest(b []byte) (*JoinRequestPayload, error) {
	if len(b) != joinRequestLength {
		return nil, ErrInvalidJoinRequest
	}
	if MType(b[0]>>5) != JoinRequest {
		return nil, ErrUnsupportedMType
	}

	var jr JoinRequestPayload
	for i := 0; i < 8; i++ {
		jr.JoinEUI[i] = b[8-i]
		jr.DevEUI[i] = b[16-i]
	}
	jr.DevNonce = binary.LittleEndian.Uint16(b[17:19])
	copy(jr.MIC[:], b[19:])

	return &jr, nil
}
