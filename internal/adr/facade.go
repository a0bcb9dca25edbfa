package adr

import (
	"context"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"

	"github.com/loraedge/edge-network-server/internal/band"
	"github.com/loraedge/edge-network-server/internal/facade"
)

// FacadeManager implements the Manager by delegating to the facade API,
// which keeps the history for all gateways.
type FacadeManager struct {
	client facade.Client
	radio  RadioState
}

// NewFacadeManager creates a new FacadeManager.
func NewFacadeManager(client facade.Client, radio RadioState) *FacadeManager {
	return &FacadeManager{
		client: client,
		radio:  radio,
	}
}

// RecordAndMaybeRecalculate delegates the request to the facade.
func (m *FacadeManager) RecordAndMaybeRecalculate(ctx context.Context, req Request) (*Result, error) {
	fReq := facade.ADRRequest{
		DevEUI:             req.DevEUI,
		GatewayID:          req.GatewayID,
		FCntUp:             req.FCntUp,
		FCntDown:           req.FCntDown,
		DataRate:           req.DataRate,
		SNR:                req.SNR,
		MinTxPowerIndex:    req.MinTxPowerIndex,
		MaxDataRate:        req.MaxDataRate,
		PerformCalculation: req.PerformCalculation,
		ClearCache:         req.ClearCache,
	}
	if !req.ClearCache {
		snr, err := band.RequiredSNR(req.DataRate)
		if err != nil {
			return nil, errors.Wrap(err, "get required snr error")
		}
		fReq.RequiredSNR = snr
	}

	res, err := m.client.CalculateADRAndStoreFrame(ctx, fReq)
	if err != nil {
		adrCounter("facade", "error").Inc()
		return nil, errors.Wrap(err, "facade adr request error")
	}
	if res == nil {
		adrCounter("facade", "unchanged").Inc()
		return nil, nil
	}

	if req.PerformCalculation && m.radio != nil {
		m.radio.UpdateRadioParameters(res.DataRate, res.TxPower, res.NbRepetition)
	}
	adrCounter("facade", "changed").Inc()

	return &Result{
		DataRate:           res.DataRate,
		TxPower:            res.TxPower,
		NbRepetition:       res.NbRepetition,
		FCntDown:           res.FCntDown,
		CanConfirmToDevice: res.CanConfirmToDevice,
	}, nil
}

// NextFCntDown delegates to the facade.
func (m *FacadeManager) NextFCntDown(ctx context.Context, devEUI lorawan.EUI64, gatewayID string, fCntUp, fCntDown uint32) (uint32, error) {
	fCnt, err := m.client.NextFCntDown(ctx, devEUI, fCntDown, fCntUp, gatewayID)
	if err != nil {
		return 0, errors.Wrap(err, "facade next fcnt down error")
	}
	return fCnt, nil
}
