package band

import (
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
	"github.com/loraedge/edge-network-server/internal/config"
)

var band loraband.Band

var maxLoRaDR int

var minTxPowerIndex int

// Setup sets up the band with the given configuration.
func Setup(c config.Config) error {
	dwellTime := lorawan.DwellTimeNoLimit
	if c.NetworkServer.Band.DownlinkDwellTime400ms {
		dwellTime = lorawan.DwellTime400ms
	}
	bandConfig, err := loraband.GetConfig(c.NetworkServer.Band.Name, c.NetworkServer.Band.RepeaterCompatible, dwellTime)
	if err != nil {
		return errors.Wrap(err, "get band config error")
	}
	band = bandConfig

	maxLoRaDR = 0
	enabledDRs := band.GetEnabledUplinkDataRates()
	for _, i := range enabledDRs {
		dr, err := band.GetDataRate(i)
		if err != nil {
			return errors.Wrap(err, "get max lora DR error")
		}

		if dr.Modulation == loraband.LoRaModulation && dr.Bandwidth == 125 {
			maxLoRaDR = i
		}
	}

	// the tx-power offsets are ordered from max to min power
	minTxPowerIndex = 0
	for i := 0; i < 16; i++ {
		if _, err := band.GetTXPowerOffset(i); err != nil {
			break
		}
		minTxPowerIndex = i
	}

	return nil
}

// Band returns the configured band.
func Band() loraband.Band {
	return band
}

// MaxLoRaDR returns the highest LoRa data-rate (125 kHz) of the band.
func MaxLoRaDR() int {
	return maxLoRaDR
}

// MinTxPowerIndex returns the tx-power index with the lowest power.
func MinTxPowerIndex() int {
	return minTxPowerIndex
}

// DataRateIndex returns the data-rate index for the given LoRa spreading
// factor and bandwidth (kHz).
func DataRateIndex(spreadFactor, bandwidth int) (int, error) {
	for i := 0; i < 16; i++ {
		dr, err := band.GetDataRate(i)
		if err != nil {
			continue
		}
		if dr.Modulation == loraband.LoRaModulation && dr.SpreadFactor == spreadFactor && dr.Bandwidth == bandwidth {
			return i, nil
		}
	}
	return 0, errors.Errorf("no data-rate for SF%dBW%d", spreadFactor, bandwidth)
}

// RequiredSNR returns the SNR required to demodulate an uplink at the given
// data-rate.
func RequiredSNR(dr int) (float64, error) {
	dataRate, err := band.GetDataRate(dr)
	if err != nil {
		return 0, errors.Wrap(err, "get data-rate error")
	}

	snr, ok := config.SpreadFactorToRequiredSNRTable[dataRate.SpreadFactor]
	if !ok {
		return 0, errors.Errorf("sf to required snr for does not exsists (sf: %d)", dataRate.SpreadFactor)
	}

	return snr, nil
}
