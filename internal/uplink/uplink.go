// Package uplink implements the processing of the received uplink frames.
package uplink

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/adr"
	"github.com/loraedge/edge-network-server/internal/backend/gateway/semtechudp"
	"github.com/loraedge/edge-network-server/internal/device"
	"github.com/loraedge/edge-network-server/internal/facade"
	"github.com/loraedge/edge-network-server/internal/frame"
	"github.com/loraedge/edge-network-server/internal/integration"
	"github.com/loraedge/edge-network-server/internal/logging"
)

// ErrAbort is used to abort the flow without error
var ErrAbort = errors.New("nothing to do")

// Gateway defines the interface used to send downlinks.
type Gateway interface {
	SendDownlink(txpk semtechudp.TXPK) (uint16, error)
}

// Options holds the Server dependencies.
type Options struct {
	Devices     *device.Cache
	Facade      facade.Client
	ADR         *adr.Provider
	Integration integration.Integration

	// GatewayID overrides the gateway EUI reported to the ADR manager and
	// frame-counter coordinator.
	GatewayID string

	MaxFCntGap  uint32
	ADRDisabled bool
}

// Server handles the uplinks received by the gateway backend.
type Server struct {
	opts    Options
	gateway Gateway
}

// NewServer creates a new Server.
func NewServer(opts Options) *Server {
	if opts.Integration == nil {
		opts.Integration = integration.LogIntegration{}
	}
	return &Server{
		opts: opts,
	}
}

// SetGateway sets the gateway backend used for the downlinks.
func (s *Server) SetGateway(g Gateway) {
	s.gateway = g
}

// HandleUplink handles a single received packet. Errors are logged.
func (s *Server) HandleUplink(ctx context.Context, f semtechudp.UplinkFrame) {
	if err := s.handleUplink(ctx, f); err != nil {
		uplinkFrameErrorCount().Inc()
		log.WithError(err).WithFields(log.Fields{
			"gateway_id": f.GatewayID,
			"data":       f.RXPK.Data,
			"ctx_id":     ctx.Value(logging.ContextIDKey),
		}).Error("uplink: processing uplink frame error")
	}
}

func (s *Server) handleUplink(ctx context.Context, f semtechudp.UplinkFrame) error {
	if f.RXPK.Stat < 0 {
		log.WithFields(log.Fields{
			"gateway_id": f.GatewayID,
			"ctx_id":     ctx.Value(logging.ContextIDKey),
		}).Debug("uplink: ignoring packet with crc error")
		return nil
	}

	phy, err := decodeData(f.RXPK.Data)
	if err != nil {
		return errors.Wrap(err, "decode base64 error")
	}

	mType, err := frame.PeekMType(phy)
	if err != nil {
		return errors.Wrap(err, "get mtype error")
	}

	switch mType {
	case frame.JoinRequest:
		uplinkFrameCounter("JoinRequest").Inc()
		err = s.handleJoinRequest(ctx, f, phy)
	case frame.UnconfirmedDataUp:
		uplinkFrameCounter("UnconfirmedDataUp").Inc()
		err = s.handleData(ctx, f, phy)
	case frame.ConfirmedDataUp:
		uplinkFrameCounter("ConfirmedDataUp").Inc()
		err = s.handleData(ctx, f, phy)
	default:
		log.WithFields(log.Fields{
			"m_type": mType,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Warning("uplink: unsupported message type")
		return nil
	}

	if err == ErrAbort {
		return nil
	}
	return err
}

func (s *Server) gatewayID(f semtechudp.UplinkFrame) string {
	if s.opts.GatewayID != "" {
		return s.opts.GatewayID
	}
	return f.GatewayID.String()
}

// decodeData decodes the base64 payload, the padding is optional.
func decodeData(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
