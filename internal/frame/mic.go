package frame

import (
	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
)

// ComputeMIC calculates the LoRaWAN 1.0 MIC of the given data frame using the
// network session key.
func ComputeMIC(f *Frame, key lorawan.AES128Key) (MIC, error) {
	phy, err := f.phyPayload()
	if err != nil {
		return MIC{}, err
	}

	if f.Uplink() {
		err = phy.SetUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, key, key)
	} else {
		err = phy.SetDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, key)
	}
	if err != nil {
		return MIC{}, errors.Wrap(err, "calculate mic error")
	}

	return MIC(phy.MIC), nil
}

// VerifyMIC returns true when the MIC of the frame matches the MIC computed
// with the given key. Calculation errors are reported as a mismatch.
func VerifyMIC(f *Frame, key lorawan.AES128Key) bool {
	phy, err := f.phyPayload()
	if err != nil {
		return false
	}

	var ok bool
	if f.Uplink() {
		ok, err = phy.ValidateUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, key, key)
	} else {
		ok, err = phy.ValidateDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, key)
	}
	return err == nil && ok
}

// SetMIC computes and sets the MIC of the frame.
func SetMIC(f *Frame, key lorawan.AES128Key) error {
	mic, err := ComputeMIC(f, key)
	if err != nil {
		return err
	}
	f.MIC = mic
	return nil
}
