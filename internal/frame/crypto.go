package frame

import (
	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
)

// EncryptPayload encrypts the FRMPayload using the LoRaWAN counter-mode
// keystream. As the keystream is XORed with the data, the same function
// decrypts. The given data is not modified.
func EncryptPayload(key lorawan.AES128Key, uplink bool, devAddr lorawan.DevAddr, fCnt uint32, data []byte) ([]byte, error) {
	// lorawan.EncryptFRMPayload works in place
	b, err := lorawan.EncryptFRMPayload(key, uplink, devAddr, fCnt, append([]byte{}, data...))
	if err != nil {
		return nil, errors.Wrap(err, "encrypt frmpayload error")
	}
	return b, nil
}

// DecryptPayload decrypts the FRMPayload.
func DecryptPayload(key lorawan.AES128Key, uplink bool, devAddr lorawan.DevAddr, fCnt uint32, data []byte) ([]byte, error) {
	return EncryptPayload(key, uplink, devAddr, fCnt, data)
}

// DecryptFRMPayload returns the plaintext FRMPayload of the frame. FPort 0
// payloads are encrypted with the network session key, all others with the
// application session key.
func (f Frame) DecryptFRMPayload(nwkSKey, appSKey lorawan.AES128Key) ([]byte, error) {
	if f.FPort == nil || len(f.FRMPayload) == 0 {
		return nil, nil
	}

	key := appSKey
	if *f.FPort == 0 {
		key = nwkSKey
	}

	phy, err := f.phyPayload()
	if err != nil {
		return nil, err
	}

	// the payload slice is shared with f
	macPL := phy.MACPayload.(*lorawan.MACPayload)
	macPL.FRMPayload = []lorawan.Payload{&lorawan.DataPayload{Bytes: append([]byte{}, f.FRMPayload...)}}

	if err := phy.DecryptFRMPayload(key); err != nil {
		return nil, errors.Wrap(err, "decrypt frmpayload error")
	}

	return payloadBytes(macPL.FRMPayload)
}
