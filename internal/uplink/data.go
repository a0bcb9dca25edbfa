package uplink

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/adr"
	"github.com/loraedge/edge-network-server/internal/backend/gateway/semtechudp"
	"github.com/loraedge/edge-network-server/internal/band"
	"github.com/loraedge/edge-network-server/internal/device"
	"github.com/loraedge/edge-network-server/internal/downlink"
	"github.com/loraedge/edge-network-server/internal/frame"
	"github.com/loraedge/edge-network-server/internal/integration"
	"github.com/loraedge/edge-network-server/internal/logging"
)

var dataTasks = []func(*dataContext) error{
	parseFrame,
	getDevicesForDevAddr,
	authenticate,
	setUplinkDataRate,
	checkDuplicate,
	decryptFRMPayload,
	syncUplinkFCnt,
	handleADR,
	handleDownlink,
	sendUplinkToIntegration,
}

type dataContext struct {
	ctx    context.Context
	server *Server

	UplinkFrame semtechudp.UplinkFrame
	PHYPayload  []byte
	GatewayID   string

	Frame      *frame.Frame
	Candidates []*device.Device
	Device     *device.Device
	Manager    adr.Manager
	DataRate   int
	Plaintext  []byte
	ADRResult  *adr.Result

	// Resubmission is set for a confirmed retransmission which is only
	// acknowledged again.
	Resubmission bool
}

func (s *Server) handleData(ctx context.Context, f semtechudp.UplinkFrame, phy []byte) error {
	dctx := dataContext{
		ctx:         ctx,
		server:      s,
		UplinkFrame: f,
		PHYPayload:  phy,
		GatewayID:   s.gatewayID(f),
	}

	for _, t := range dataTasks {
		if err := t(&dctx); err != nil {
			return err
		}
	}

	uplinkOutcomeCounter("processed").Inc()
	return nil
}

func (ctx *dataContext) logFields() log.Fields {
	fields := log.Fields{
		"gateway_id": ctx.GatewayID,
		"ctx_id":     ctx.ctx.Value(logging.ContextIDKey),
	}
	if ctx.Frame != nil {
		fields["dev_addr"] = ctx.Frame.DevAddr
		fields["f_cnt"] = ctx.Frame.FullFCnt()
	}
	if ctx.Device != nil {
		fields["dev_eui"] = ctx.Device.DevEUI
	}
	return fields
}

func parseFrame(ctx *dataContext) error {
	f, err := frame.Parse(ctx.PHYPayload)
	if err != nil {
		uplinkOutcomeCounter("invalid").Inc()
		log.WithError(err).WithFields(ctx.logFields()).Warning("uplink: parse frame error")
		return ErrAbort
	}
	ctx.Frame = f
	return nil
}

// getDevicesForDevAddr returns the devices using the DevAddr of the frame.
// The facade is queried when none are cached.
func getDevicesForDevAddr(ctx *dataContext) error {
	ctx.Candidates = ctx.server.opts.Devices.GetByDevAddr(ctx.Frame.DevAddr)
	if len(ctx.Candidates) != 0 {
		return nil
	}

	if ctx.server.opts.Facade == nil {
		uplinkOutcomeCounter("unknown_device").Inc()
		log.WithFields(ctx.logFields()).Warning("uplink: unknown device")
		return ErrAbort
	}

	keys, err := ctx.server.opts.Facade.GetSessionKeys(ctx.ctx, ctx.Frame.DevAddr)
	if err != nil {
		return errors.Wrap(err, "get session keys error")
	}

	for _, k := range keys {
		d := device.NewFromKeys(k)
		ctx.server.opts.Devices.Set(d)
		ctx.Candidates = append(ctx.Candidates, d)
	}

	if len(ctx.Candidates) == 0 {
		uplinkOutcomeCounter("unknown_device").Inc()
		log.WithFields(ctx.logFields()).Warning("uplink: unknown device")
		return ErrAbort
	}

	return nil
}

// authenticate selects the device for which the MIC is valid.
func authenticate(ctx *dataContext) error {
	for _, d := range ctx.Candidates {
		fullFCnt, ok := frame.FullFCnt(d.FCntUp(), ctx.Frame.FCnt, ctx.server.opts.MaxFCntGap)
		if !ok {
			continue
		}
		ctx.Frame.SetFullFCnt(fullFCnt)

		if frame.VerifyMIC(ctx.Frame, d.NwkSKey) {
			ctx.Device = d
			ctx.Manager = ctx.server.opts.ADR.ForDevice(d)
			return nil
		}
	}

	uplinkOutcomeCounter("authentication_failed").Inc()
	log.WithFields(ctx.logFields()).Warning("uplink: authentication failed")
	return ErrAbort
}

func setUplinkDataRate(ctx *dataContext) error {
	dr, err := downlink.UplinkDataRate(ctx.UplinkFrame.RXPK)
	if err != nil {
		return errors.Wrap(err, "get uplink data-rate error")
	}
	ctx.DataRate = dr
	return nil
}

// checkDuplicate aborts when the frame was already handled, by this or by a
// sibling instance. A copy received through another gateway within the
// window still contributes its SNR to the ADR history. A confirmed
// retransmission within the resubmission budget continues, to be
// acknowledged only.
func checkDuplicate(ctx *dataContext) error {
	coordinator := ctx.server.opts.ADR.Coordinator(ctx.Device)
	if coordinator == nil {
		return nil
	}

	res, err := coordinator.CheckDuplicate(ctx.ctx, ctx.Device.DevEUI, ctx.GatewayID, ctx.Frame.FullFCnt(), ctx.Frame.Confirmed())
	if err != nil {
		return errors.Wrap(err, "check duplicate error")
	}

	if !res.Duplicate {
		return nil
	}

	if res.Resubmission {
		uplinkOutcomeCounter("resubmission").Inc()
		log.WithFields(ctx.logFields()).Info("uplink: confirmed retransmission, acknowledging again")
		ctx.Resubmission = true
		return nil
	}

	uplinkOutcomeCounter("duplicate").Inc()
	log.WithFields(ctx.logFields()).WithField("within_window", res.WithinWindow).Info("uplink: duplicate frame")

	if res.WithinWindow && ctx.Frame.FCtrl.ADR() && !ctx.server.opts.ADRDisabled {
		_, err := ctx.Manager.RecordAndMaybeRecalculate(ctx.ctx, ctx.adrRequest(false))
		if err != nil && err != adr.ErrLockTimeout {
			return errors.Wrap(err, "record duplicate snr error")
		}
	}

	return ErrAbort
}

func decryptFRMPayload(ctx *dataContext) error {
	b, err := ctx.Frame.DecryptFRMPayload(ctx.Device.NwkSKey, ctx.Device.AppSKey)
	if err != nil {
		uplinkOutcomeCounter("decrypt_error").Inc()
		log.WithError(err).WithFields(ctx.logFields()).Error("uplink: decrypt frmpayload error")
		return ErrAbort
	}
	ctx.Plaintext = b
	return nil
}

func syncUplinkFCnt(ctx *dataContext) error {
	ctx.Device.SetFCntUp(ctx.Frame.FullFCnt())
	return nil
}

func handleADR(ctx *dataContext) error {
	if ctx.Resubmission || ctx.server.opts.ADRDisabled || !ctx.Frame.FCtrl.ADR() {
		return nil
	}

	res, err := ctx.Manager.RecordAndMaybeRecalculate(ctx.ctx, ctx.adrRequest(true))
	if err != nil {
		if err == adr.ErrLockTimeout {
			log.WithFields(ctx.logFields()).Warning("uplink: adr lock timeout, keeping current parameters")
			return nil
		}
		return errors.Wrap(err, "adr error")
	}

	ctx.ADRResult = res
	return nil
}

func sendUplinkToIntegration(ctx *dataContext) error {
	if ctx.Resubmission {
		return nil
	}

	pl := integration.UplinkEvent{
		DevEUI:    ctx.Device.DevEUI,
		DevAddr:   ctx.Frame.DevAddr,
		GatewayID: ctx.UplinkFrame.GatewayID,
		FCnt:      ctx.Frame.FullFCnt(),
		FPort:     ctx.Frame.FPort,
		Data:      ctx.Plaintext,
		Confirmed: ctx.Frame.Confirmed(),
		ADR:       ctx.Frame.FCtrl.ADR(),
		DataRate:  ctx.DataRate,
		Frequency: downlink.Frequency(ctx.UplinkFrame.RXPK.Freq),
		RSSI:      ctx.UplinkFrame.RXPK.RSSI,
		SNR:       ctx.UplinkFrame.RXPK.LSNR,
		Time:      time.Now(),
	}

	if err := ctx.server.opts.Integration.SendUplinkEvent(ctx.ctx, pl); err != nil {
		log.WithError(err).WithFields(ctx.logFields()).Error("uplink: send uplink event error")
	}

	return nil
}

// handleDownlink answers confirmed uplinks and communicates new ADR
// parameters.
func handleDownlink(ctx *dataContext) error {
	confirmed := ctx.Frame.Confirmed()
	sendADR := ctx.ADRResult != nil && ctx.ADRResult.CanConfirmToDevice

	if !confirmed && !sendADR {
		return nil
	}

	var fCntDown uint32
	if sendADR && ctx.ADRResult.FCntDown > 0 {
		fCntDown = ctx.ADRResult.FCntDown
	} else {
		var err error
		fCntDown, err = ctx.Manager.NextFCntDown(ctx.ctx, ctx.Device.DevEUI, ctx.GatewayID, ctx.Frame.FullFCnt(), ctx.Device.FCntDown())
		if err != nil {
			return errors.Wrap(err, "get next fcnt down error")
		}
	}

	if fCntDown == 0 {
		log.WithFields(ctx.logFields()).Info("uplink: downlink handled by other instance")
		return nil
	}

	params := frame.DownlinkParams{
		DevAddr: ctx.Device.DevAddr,
		FCnt:    fCntDown,
		ADR:     ctx.Frame.FCtrl.ADR(),
		ACK:     confirmed,
	}
	if sendADR {
		params.FOpts = frame.LinkADRReq(
			ctx.ADRResult.DataRate,
			ctx.ADRResult.TxPower,
			ctx.ADRResult.NbRepetition,
			downlink.ChannelMask(),
		)
	}

	f, err := frame.BuildDownlink(params, ctx.Device.NwkSKey, ctx.Device.AppSKey)
	if err != nil {
		return errors.Wrap(err, "build downlink error")
	}

	phy, err := f.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "marshal downlink error")
	}

	if err := ctx.server.sendDownlink(ctx.ctx, ctx.UplinkFrame.RXPK, downlink.DataRX1Delay(), phy); err != nil {
		return err
	}

	ctx.Device.SetFCntDown(fCntDown)

	log.WithFields(ctx.logFields()).WithFields(log.Fields{
		"f_cnt_down": fCntDown,
		"ack":        confirmed,
		"link_adr":   sendADR,
	}).Info("uplink: downlink scheduled")

	return nil
}

func (ctx *dataContext) adrRequest(performCalculation bool) adr.Request {
	req := adr.Request{
		DevEUI:             ctx.Device.DevEUI,
		GatewayID:          ctx.GatewayID,
		FCntUp:             ctx.Frame.FullFCnt(),
		FCntDown:           ctx.Device.FCntDown(),
		DataRate:           ctx.DataRate,
		SNR:                ctx.UplinkFrame.RXPK.LSNR,
		MaxDataRate:        band.MaxLoRaDR(),
		MinTxPowerIndex:    band.MinTxPowerIndex(),
		PerformCalculation: performCalculation,
	}

	if d := ctx.Device.MaxDataRate; d != nil && *d < req.MaxDataRate {
		req.MaxDataRate = *d
	}
	if i := ctx.Device.MinTxPowerIndex; i != nil && *i < req.MinTxPowerIndex {
		req.MinTxPowerIndex = *i
	}

	return req
}

func (s *Server) sendDownlink(ctx context.Context, rxpk semtechudp.RXPK, delay time.Duration, phy []byte) error {
	if s.gateway == nil {
		return errors.New("no gateway backend configured")
	}

	txInfo, err := downlink.RX1TXInfo(rxpk, delay)
	if err != nil {
		return errors.Wrap(err, "get rx1 tx-info error")
	}

	txpk, err := downlink.NewTXPK(txInfo, phy)
	if err != nil {
		return errors.Wrap(err, "new txpk error")
	}

	if _, err := s.gateway.SendDownlink(txpk); err != nil {
		return errors.Wrap(err, "send downlink error")
	}

	return nil
}

// resetDevice clears the ADR history and frame-counter state of the device.
func (s *Server) resetDevice(ctx context.Context, d *device.Device) error {
	if _, err := s.opts.ADR.ForDevice(d).RecordAndMaybeRecalculate(ctx, adr.Request{
		DevEUI:     d.DevEUI,
		ClearCache: true,
	}); err != nil {
		return errors.Wrap(err, "clear adr cache error")
	}

	if c := s.opts.ADR.Coordinator(d); c != nil {
		if err := c.Reset(ctx, d.DevEUI); err != nil {
			return errors.Wrap(err, "reset frame-counters error")
		}
	}

	return nil
}
