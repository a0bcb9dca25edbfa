package uplink

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/backend/gateway/semtechudp"
	"github.com/loraedge/edge-network-server/internal/device"
	"github.com/loraedge/edge-network-server/internal/downlink"
	"github.com/loraedge/edge-network-server/internal/facade"
	"github.com/loraedge/edge-network-server/internal/frame"
	"github.com/loraedge/edge-network-server/internal/integration"
	"github.com/loraedge/edge-network-server/internal/logging"
)

var joinTasks = []func(*joinContext) error{
	parseJoinRequest,
	performOTAA,
	setDeviceSession,
	sendJoinAccept,
	sendJoinToIntegration,
}

type joinContext struct {
	ctx    context.Context
	server *Server

	UplinkFrame        semtechudp.UplinkFrame
	PHYPayload         []byte
	JoinRequestPayload *frame.JoinRequestPayload
	JoinAnswer         facade.JoinAnswer
	Device             *device.Device
}

func (s *Server) handleJoinRequest(ctx context.Context, f semtechudp.UplinkFrame, phy []byte) error {
	if s.opts.Facade == nil {
		log.WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Warning("uplink: join-request ignored, no facade configured")
		return nil
	}

	jctx := joinContext{
		ctx:         ctx,
		server:      s,
		UplinkFrame: f,
		PHYPayload:  phy,
	}

	for _, t := range joinTasks {
		if err := t(&jctx); err != nil {
			return err
		}
	}

	return nil
}

func parseJoinRequest(ctx *joinContext) error {
	jr, err := frame.ParseJoinRequest(ctx.PHYPayload)
	if err != nil {
		log.WithError(err).WithField("ctx_id", ctx.ctx.Value(logging.ContextIDKey)).Warning("uplink: parse join-request error")
		return ErrAbort
	}
	ctx.JoinRequestPayload = jr
	return nil
}

func performOTAA(ctx *joinContext) error {
	jr := ctx.JoinRequestPayload
	ans, err := ctx.server.opts.Facade.PerformOTAA(ctx.ctx, jr.DevEUI, jr.JoinEUI, jr.DevNonce)
	if err != nil {
		if errors.Cause(err) == facade.ErrJoinRejected {
			log.WithFields(log.Fields{
				"dev_eui":   jr.DevEUI,
				"join_eui":  jr.JoinEUI,
				"dev_nonce": jr.DevNonce,
				"ctx_id":    ctx.ctx.Value(logging.ContextIDKey),
			}).Warning("uplink: join-request rejected")
			return ErrAbort
		}
		return errors.Wrap(err, "perform otaa error")
	}

	ctx.JoinAnswer = ans
	return nil
}

// setDeviceSession replaces the cached device and resets the ADR history
// and frame-counters of the previous session.
func setDeviceSession(ctx *joinContext) error {
	ctx.Device = device.NewFromKeys(ctx.JoinAnswer.DeviceKeys)
	if ctx.Device.DevEUI != ctx.JoinRequestPayload.DevEUI {
		return errors.Errorf("join answer for unexpected device (expected: %s, got: %s)", ctx.JoinRequestPayload.DevEUI, ctx.Device.DevEUI)
	}

	ctx.server.opts.Devices.Set(ctx.Device)

	if err := ctx.server.resetDevice(ctx.ctx, ctx.Device); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"dev_eui":  ctx.Device.DevEUI,
		"dev_addr": ctx.Device.DevAddr,
		"ctx_id":   ctx.ctx.Value(logging.ContextIDKey),
	}).Info("uplink: device joined")

	return nil
}

func sendJoinAccept(ctx *joinContext) error {
	if len(ctx.JoinAnswer.JoinAccept) == 0 {
		return errors.New("join answer without join-accept")
	}

	return ctx.server.sendDownlink(ctx.ctx, ctx.UplinkFrame.RXPK, downlink.JoinAcceptDelay(), ctx.JoinAnswer.JoinAccept)
}

func sendJoinToIntegration(ctx *joinContext) error {
	pl := integration.JoinEvent{
		DevEUI:    ctx.Device.DevEUI,
		JoinEUI:   ctx.JoinRequestPayload.JoinEUI,
		DevAddr:   ctx.Device.DevAddr,
		GatewayID: ctx.UplinkFrame.GatewayID,
		Time:      time.Now(),
	}

	if err := ctx.server.opts.Integration.SendJoinEvent(ctx.ctx, pl); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"dev_eui": ctx.Device.DevEUI,
			"ctx_id":  ctx.ctx.Value(logging.ContextIDKey),
		}).Error("uplink: send join event error")
	}

	return nil
}
