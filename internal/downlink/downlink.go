// Package downlink composes the downlink transmissions sent to the gateway.
package downlink

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/loraedge/edge-network-server/internal/backend/gateway/semtechudp"
	"github.com/loraedge/edge-network-server/internal/band"
	"github.com/loraedge/edge-network-server/internal/config"
)

var (
	rx1Delay        time.Duration
	rx1DROffset     int
	downlinkTXPower int
)

// Setup sets up the downlink.
func Setup(conf config.Config) error {
	nsConfig := conf.NetworkServer
	rx1Delay = time.Duration(nsConfig.NetworkSettings.RX1Delay) * time.Second
	rx1DROffset = nsConfig.NetworkSettings.RX1DROffset
	downlinkTXPower = nsConfig.NetworkSettings.DownlinkTXPower

	if rx1Delay == 0 {
		rx1Delay = band.Band().GetDefaults().ReceiveDelay1
	}

	return nil
}

// DataRX1Delay returns the delay of the first receive window after a data
// uplink.
func DataRX1Delay() time.Duration {
	return rx1Delay
}

// JoinAcceptDelay returns the delay of the first receive window after a
// join-request.
func JoinAcceptDelay() time.Duration {
	return band.Band().GetDefaults().JoinAcceptDelay1
}

// TXInfo holds the transmission parameters of a downlink.
type TXInfo struct {
	Timestamp uint32
	Frequency uint32
	DataRate  int
	Power     int
}

// RX1TXInfo returns the transmission parameters for the first receive window
// of the given uplink.
func RX1TXInfo(rxpk semtechudp.RXPK, delay time.Duration) (TXInfo, error) {
	var txInfo TXInfo

	uplinkDR, err := UplinkDataRate(rxpk)
	if err != nil {
		return txInfo, err
	}

	// get rx1 dr
	txInfo.DataRate, err = band.Band().GetRX1DataRateIndex(uplinkDR, rx1DROffset)
	if err != nil {
		return txInfo, errors.Wrap(err, "get rx1 data-rate error")
	}

	// get rx1 frequency
	txInfo.Frequency, err = band.Band().GetRX1FrequencyForUplinkFrequency(Frequency(rxpk.Freq))
	if err != nil {
		return txInfo, errors.Wrap(err, "get rx1 frequency error")
	}

	// get timestamp
	txInfo.Timestamp = rxpk.Tmst + uint32(delay/time.Microsecond)

	txInfo.Power = downlinkTXPower
	if txInfo.Power < 0 {
		txInfo.Power = band.Band().GetDownlinkTXPower(txInfo.Frequency)
	}

	return txInfo, nil
}

// UplinkDataRate returns the data-rate index of the received packet.
func UplinkDataRate(rxpk semtechudp.RXPK) (int, error) {
	sf, bw, err := rxpk.DatR.SpreadFactorBandwidth()
	if err != nil {
		return 0, err
	}
	return band.DataRateIndex(sf, bw)
}

// Frequency converts the MHz frequency used by the packet-forwarder to Hz.
func Frequency(mhz float64) uint32 {
	return uint32(math.Round(mhz * 1000000))
}

// NewTXPK returns the TXPK for the given PHYPayload.
func NewTXPK(txInfo TXInfo, phyPayload []byte) (semtechudp.TXPK, error) {
	dr, err := band.Band().GetDataRate(txInfo.DataRate)
	if err != nil {
		return semtechudp.TXPK{}, errors.Wrap(err, "get data-rate error")
	}

	tmst := txInfo.Timestamp
	return semtechudp.TXPK{
		Tmst: &tmst,
		Freq: float64(txInfo.Frequency) / 1000000,
		Powe: uint8(txInfo.Power),
		Modu: "LORA",
		DatR: semtechudp.DatR{LoRa: fmt.Sprintf("SF%dBW%d", dr.SpreadFactor, dr.Bandwidth)},
		CodR: "4/5",
		IPol: true,
		Size: uint16(len(phyPayload)),
		Data: base64.StdEncoding.EncodeToString(phyPayload),
	}, nil
}

// ChannelMask returns the LinkADRReq channel-mask of the enabled uplink
// channels.
func ChannelMask() uint16 {
	var chMask uint16
	for _, i := range band.Band().GetEnabledUplinkChannelIndices() {
		if i < 16 {
			chMask |= 1 << uint(i)
		}
	}
	return chMask
}
