package adr

import (
	"github.com/loraedge/edge-network-server/adr"
)

// snrMarginPerStep is the SNR margin (dB) of a single data-rate or
// tx-power step.
const snrMarginPerStep = 3

// nbTransTable holds the new NbTrans, indexed by packet-loss class and the
// current NbTrans (1 - 3).
var nbTransTable = [4][3]int{
	{1, 1, 2}, // < 5%
	{1, 2, 3}, // < 10%
	{2, 3, 3}, // < 30%
	{3, 3, 3},
}

// DefaultHandler implements the built-in ADR algorithm. It operates on the
// LoRa data-rates only.
type DefaultHandler struct{}

// ID returns the default ID.
func (h *DefaultHandler) ID() (string, error) {
	return "default", nil
}

// Name returns the default name.
func (h *DefaultHandler) Name() (string, error) {
	return "Default ADR algorithm (LoRa only)", nil
}

// Handle handles the ADR request.
func (h *DefaultHandler) Handle(req adr.HandleRequest) (adr.HandleResponse, error) {
	resp := adr.HandleResponse{
		DR:           req.DR,
		TxPowerIndex: req.TxPowerIndex,
		NbTrans:      req.NbTrans,
	}

	if len(req.UplinkHistory) < TableCapacity {
		return resp, nil
	}

	if resp.DR > req.MaxDR {
		resp.DR = req.MaxDR
	}

	resp.NbTrans = nbTransForPacketLoss(req.NbTrans, packetLossPercentage(req.UplinkHistory))

	margin := maxSNR(req.UplinkHistory) - req.RequiredSNRForDR - req.InstallationMargin
	steps := int(margin / snrMarginPerStep)

	resp.TxPowerIndex, resp.DR = applySteps(steps, resp.TxPowerIndex, resp.DR, req.MaxTxPowerIndex, req.MaxDR)

	return resp, nil
}

func maxSNR(history []adr.UplinkMetaData) float64 {
	out := -999.0
	for _, m := range history {
		if m.MaxSNR > out {
			out = m.MaxSNR
		}
	}
	return out
}

// applySteps first raises the data-rate and then lowers the tx-power for
// positive steps. Negative steps raise the tx-power, the data-rate is never
// lowered.
func applySteps(steps, txPowerIndex, dr, maxTxPowerIndex, maxDR int) (int, int) {
	for ; steps > 0; steps-- {
		switch {
		case dr < maxDR:
			dr++
		case txPowerIndex < maxTxPowerIndex:
			txPowerIndex++
		default:
			return txPowerIndex, dr
		}
	}

	for ; steps < 0 && txPowerIndex > 0; steps++ {
		txPowerIndex--
	}

	return txPowerIndex, dr
}

func nbTransForPacketLoss(nbTrans int, lossPercentage float64) int {
	nbTrans = clamp(nbTrans, 1, 3)

	var class int
	switch {
	case lossPercentage < 5:
		class = 0
	case lossPercentage < 10:
		class = 1
	case lossPercentage < 30:
		class = 2
	default:
		class = 3
	}

	return nbTransTable[class][nbTrans-1]
}

// packetLossPercentage derives the lost frames from the gaps between the
// frame-counters of the history.
func packetLossPercentage(history []adr.UplinkMetaData) float64 {
	if len(history) < TableCapacity {
		return 0
	}

	var lost uint32
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1].FCnt, history[i].FCnt
		if cur > prev {
			lost += cur - prev - 1
		}
	}

	return float64(lost) / float64(len(history)) * 100
}
