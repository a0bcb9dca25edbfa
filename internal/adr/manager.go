package adr

import (
	"context"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/adr"
	"github.com/loraedge/edge-network-server/internal/band"
	"github.com/loraedge/edge-network-server/internal/fcnt"
	"github.com/loraedge/edge-network-server/internal/logging"
)

// Options holds the options of the table based managers.
type Options struct {
	// Handler implements the ADR algorithm.
	Handler adr.Handler

	// InstallationMargin (dB) is subtracted from the measured SNR margin.
	InstallationMargin float64

	// Coordinator hands out the downlink frame-counters.
	Coordinator *fcnt.Coordinator
}

// tableManager implements the table based read-modify-write cycle shared by
// the local and remote managers.
type tableManager struct {
	store TableStore
	opts  Options
	radio RadioState
	name  string
}

func (m *tableManager) RecordAndMaybeRecalculate(ctx context.Context, req Request) (*Result, error) {
	lease, err := m.store.Lock(ctx, req.DevEUI)
	if err != nil {
		if errors.Cause(err) == ErrLockTimeout {
			adrCounter(m.name, "lock_timeout").Inc()
			return nil, ErrLockTimeout
		}
		return nil, errors.Wrap(err, "lock adr table error")
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			log.WithError(err).WithField("dev_eui", req.DevEUI).Error("adr: release adr table lock error")
		}
	}()

	if req.ClearCache {
		if err := m.store.Delete(ctx, req.DevEUI); err != nil {
			return nil, errors.Wrap(err, "delete adr table error")
		}
		adrCounter(m.name, "cleared").Inc()
		return nil, nil
	}

	table, err := m.store.Get(ctx, req.DevEUI)
	if err != nil {
		return nil, errors.Wrap(err, "get adr table error")
	}
	if table == nil {
		table = NewTable(req.DevEUI)
	}

	table.AddEntry(TableEntry{
		DevEUI:    req.DevEUI,
		FCnt:      req.FCntUp,
		GatewayID: req.GatewayID,
		SNR:       req.SNR,
	})

	if !req.PerformCalculation {
		if err := m.store.Save(ctx, table); err != nil {
			return nil, errors.Wrap(err, "save adr table error")
		}
		adrCounter(m.name, "recorded").Inc()
		return table.LastResult, nil
	}

	result, err := m.calculate(table, req)
	if err != nil {
		return nil, errors.Wrap(err, "calculate adr error")
	}

	if result != nil {
		fCntDown, err := m.NextFCntDown(ctx, req.DevEUI, req.GatewayID, req.FCntUp, req.FCntDown)
		if err != nil {
			return nil, errors.Wrap(err, "get next fcnt down error")
		}
		result.FCntDown = fCntDown
		result.CanConfirmToDevice = fCntDown > 0

		table.CurrentNbRep = &result.NbRepetition
		table.CurrentTxPower = &result.TxPower
		table.LastResult = result
	}

	if err := m.store.Save(ctx, table); err != nil {
		return nil, errors.Wrap(err, "save adr table error")
	}

	if result == nil {
		adrCounter(m.name, "unchanged").Inc()
		return nil, nil
	}

	// only after the table has been persisted
	if m.radio != nil {
		m.radio.UpdateRadioParameters(result.DataRate, result.TxPower, result.NbRepetition)
	}
	adrCounter(m.name, "changed").Inc()

	log.WithFields(log.Fields{
		"dev_eui":     req.DevEUI,
		"dr":          result.DataRate,
		"tx_power":    result.TxPower,
		"nb_rep":      result.NbRepetition,
		"f_cnt_down":  result.FCntDown,
		"can_confirm": result.CanConfirmToDevice,
		"adr_manager": m.name,
		"ctx_id":      ctx.Value(logging.ContextIDKey),
	}).Info("adr: new radio parameters calculated")

	r := *result
	return &r, nil
}

func (m *tableManager) NextFCntDown(ctx context.Context, devEUI lorawan.EUI64, gatewayID string, fCntUp, fCntDown uint32) (uint32, error) {
	if m.opts.Coordinator == nil {
		return fCntDown + 1, nil
	}
	return m.opts.Coordinator.NextFCntDown(ctx, devEUI, gatewayID, fCntUp, fCntDown)
}

// calculate runs the ADR handler over the table. It returns nil when the
// table is incomplete or the parameters did not change.
func (m *tableManager) calculate(table *Table, req Request) (*Result, error) {
	if !table.IsComplete() {
		return nil, nil
	}

	// no parameters communicated yet, start from the defaults
	if table.CurrentNbRep == nil || table.CurrentTxPower == nil {
		nbRep, txPower := 1, 0
		table.CurrentNbRep = &nbRep
		table.CurrentTxPower = &txPower
	}

	requiredSNR, err := band.RequiredSNR(req.DataRate)
	if err != nil {
		return nil, errors.Wrap(err, "get required snr error")
	}

	maxDR := min(req.MaxDataRate, band.MaxLoRaDR())
	maxTxPowerIndex := min(req.MinTxPowerIndex, band.MinTxPowerIndex())

	hReq := adr.HandleRequest{
		DevEUI:             req.DevEUI,
		DR:                 req.DataRate,
		TxPowerIndex:       *table.CurrentTxPower,
		NbTrans:            *table.CurrentNbRep,
		MaxTxPowerIndex:    maxTxPowerIndex,
		MaxDR:              maxDR,
		RequiredSNRForDR:   requiredSNR,
		InstallationMargin: m.opts.InstallationMargin,
	}
	for _, e := range table.Entries {
		hReq.UplinkHistory = append(hReq.UplinkHistory, adr.UplinkMetaData{
			FCnt:      e.FCnt,
			MaxSNR:    e.SNR,
			GatewayID: e.GatewayID,
		})
	}

	handler := m.opts.Handler
	if handler == nil {
		handler = &DefaultHandler{}
	}

	resp, err := handler.Handle(hReq)
	if err != nil {
		return nil, errors.Wrap(err, "handle adr request error")
	}

	resp.DR = clamp(resp.DR, 0, maxDR)
	resp.TxPowerIndex = clamp(resp.TxPowerIndex, 0, maxTxPowerIndex)
	resp.NbTrans = clamp(resp.NbTrans, 1, 3)

	if resp.DR == req.DataRate && resp.TxPowerIndex == *table.CurrentTxPower && resp.NbTrans == *table.CurrentNbRep {
		return nil, nil
	}

	return &Result{
		DataRate:     resp.DR,
		TxPower:      resp.TxPowerIndex,
		NbRepetition: resp.NbTrans,
	}, nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
