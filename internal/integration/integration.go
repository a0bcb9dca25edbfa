// Package integration delivers the device events to the upstream
// application.
package integration

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"

	"github.com/loraedge/edge-network-server/internal/logging"
)

// Event types.
const (
	EventUp   = "up"
	EventJoin = "join"
)

// UplinkEvent holds a decrypted uplink.
type UplinkEvent struct {
	DevEUI    lorawan.EUI64   `json:"devEUI"`
	DevAddr   lorawan.DevAddr `json:"devAddr"`
	GatewayID lorawan.EUI64   `json:"gatewayID"`
	FCnt      uint32          `json:"fCnt"`
	FPort     *uint8          `json:"fPort,omitempty"`
	Data      []byte          `json:"data"`
	Confirmed bool            `json:"confirmed"`
	ADR       bool            `json:"adr"`
	DataRate  int             `json:"dr"`
	Frequency uint32          `json:"frequency"`
	RSSI      int16           `json:"rssi"`
	SNR       float64         `json:"loRaSNR"`
	Time      time.Time       `json:"time"`
}

// JoinEvent holds a successful join.
type JoinEvent struct {
	DevEUI    lorawan.EUI64   `json:"devEUI"`
	JoinEUI   lorawan.EUI64   `json:"joinEUI"`
	DevAddr   lorawan.DevAddr `json:"devAddr"`
	GatewayID lorawan.EUI64   `json:"gatewayID"`
	Time      time.Time       `json:"time"`
}

// Integration defines the interface that an integration must implement.
type Integration interface {
	SendUplinkEvent(ctx context.Context, pl UplinkEvent) error
	SendJoinEvent(ctx context.Context, pl JoinEvent) error
	Close() error
}

// LogIntegration only logs the events.
type LogIntegration struct{}

// SendUplinkEvent logs the uplink event.
func (LogIntegration) SendUplinkEvent(ctx context.Context, pl UplinkEvent) error {
	log.WithFields(log.Fields{
		"dev_eui": pl.DevEUI,
		"f_cnt":   pl.FCnt,
		"f_port":  pl.FPort,
		"size":    len(pl.Data),
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("integration/log: uplink event")
	return nil
}

// SendJoinEvent logs the join event.
func (LogIntegration) SendJoinEvent(ctx context.Context, pl JoinEvent) error {
	log.WithFields(log.Fields{
		"dev_eui":  pl.DevEUI,
		"dev_addr": pl.DevAddr,
		"ctx_id":   ctx.Value(logging.ContextIDKey),
	}).Info("integration/log: join event")
	return nil
}

// Close implements Integration.
func (LogIntegration) Close() error {
	return nil
}
