// Package semtechudp implements the Semtech packet-forwarder UDP protocol.
package semtechudp

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"

	"github.com/loraedge/edge-network-server/internal/logging"
)

const readBufferSize = 65507

// ErrNoDownstream is returned when no PULL_DATA has been received yet.
var ErrNoDownstream = errors.New("gateway: no downstream route latched")

// State defines the downstream state of the engine.
type State int

// Available states.
const (
	StateAwaitingFirstKeepalive State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "Active"
	}
	return "AwaitingFirstKeepalive"
}

// UplinkFrame contains a received RF packet.
type UplinkFrame struct {
	GatewayID lorawan.EUI64
	RXPK      RXPK
}

// UplinkHandler processes the received uplink frames.
type UplinkHandler interface {
	HandleUplink(ctx context.Context, frame UplinkFrame)
}

// UplinkHandlerFunc is an adapter to use a function as UplinkHandler.
type UplinkHandlerFunc func(ctx context.Context, frame UplinkFrame)

// HandleUplink calls f(ctx, frame).
func (f UplinkHandlerFunc) HandleUplink(ctx context.Context, frame UplinkFrame) {
	f(ctx, frame)
}

type pendingDownlink struct {
	gatewayID lorawan.EUI64
	sentAt    time.Time
}

// Backend implements a Semtech packet-forwarder backend. It owns the UDP
// socket and the downstream route of a single gateway.
type Backend struct {
	conn    *net.UDPConn
	handler UplinkHandler
	wg      sync.WaitGroup

	mu         sync.RWMutex
	state      State
	gatewayID  lorawan.EUI64
	downstream *net.UDPAddr

	tokenMu sync.Mutex
	rnd     *rand.Rand

	pending *lru.Cache[uint16, pendingDownlink]
}

// NewBackend creates a new backend listening on the given bind address.
// pendingTXAcks sets how many downlink tokens are remembered for TX_ACK
// correlation.
func NewBackend(bind string, pendingTXAcks int, handler UplinkHandler) (*Backend, error) {
	if pendingTXAcks <= 0 {
		pendingTXAcks = 256
	}

	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, errors.Wrap(err, "resolve udp addr error")
	}

	pending, err := lru.New[uint16, pendingDownlink](pendingTXAcks)
	if err != nil {
		return nil, errors.Wrap(err, "new lru cache error")
	}

	log.WithField("addr", addr).Info("gateway/semtechudp: starting gateway udp listener")
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen udp error")
	}

	return &Backend{
		conn:    conn,
		handler: handler,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		pending: pending,
	}, nil
}

// LocalAddr returns the address the backend is listening on.
func (b *Backend) LocalAddr() net.Addr {
	return b.conn.LocalAddr()
}

// State returns the downstream state.
func (b *Backend) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// GatewayID returns the EUI of the latched gateway.
func (b *Backend) GatewayID() (lorawan.EUI64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gatewayID, b.state == StateActive
}

// Run reads packets until the context is cancelled. It waits for all
// in-flight uplink handlers before returning.
func (b *Backend) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			log.Info("gateway/semtechudp: closing gateway backend")
		case <-done:
		}
		b.conn.Close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		i, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			b.wg.Wait()
			return errors.Wrap(err, "read from udp error")
		}

		data := make([]byte, i)
		copy(data, buf[:i])
		b.handlePacket(ctx, addr, data)
	}

	log.Info("gateway/semtechudp: waiting for pending uplinks to complete")
	b.wg.Wait()
	return nil
}

func (b *Backend) handlePacket(ctx context.Context, addr *net.UDPAddr, data []byte) {
	pt, err := GetPacketType(data)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"addr":     addr,
			"data_len": len(data),
		}).Warning("gateway/semtechudp: could not handle packet")
		return
	}

	log.WithFields(log.Fields{
		"addr": addr,
		"type": pt,
	}).Debug("gateway/semtechudp: received udp packet from gateway")
	udpPacketCounter(pt.String()).Inc()

	switch pt {
	case PushData:
		b.handlePushData(ctx, addr, data)
	case PullData:
		b.handlePullData(addr, data)
	case TXACK:
		b.handleTXACK(addr, data)
	default:
		log.WithFields(log.Fields{
			"addr": addr,
			"type": pt,
		}).Warning("gateway/semtechudp: ignoring unexpected packet type")
	}
}

func (b *Backend) handlePushData(ctx context.Context, addr *net.UDPAddr, data []byte) {
	h, err := readHeader(data, true)
	if err != nil {
		log.WithError(err).WithField("addr", addr).Warning("gateway/semtechudp: invalid PUSH_DATA packet")
		return
	}

	// the ack is sent before the payload is decoded
	b.send(addr, ackPacket(h.Token, PushACK))

	var p PushDataPacket
	if err := p.UnmarshalBinary(data); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"addr":       addr,
			"gateway_id": h.GatewayID,
		}).Error("gateway/semtechudp: unmarshal PUSH_DATA error")
		return
	}

	if p.Payload.Stat != nil {
		handleStat(p.GatewayID, *p.Payload.Stat)
	}

	for i := range p.Payload.RXPK {
		frame := UplinkFrame{
			GatewayID: p.GatewayID,
			RXPK:      p.Payload.RXPK[i],
		}

		b.wg.Add(1)
		go func(frame UplinkFrame) {
			defer b.wg.Done()

			ctx, err := logging.NewContext(ctx)
			if err != nil {
				log.WithError(err).Error("gateway/semtechudp: new context error")
				return
			}
			rxpkCounter().Inc()
			b.handler.HandleUplink(ctx, frame)
		}(frame)
	}
}

func (b *Backend) handlePullData(addr *net.UDPAddr, data []byte) {
	h, err := readHeader(data, true)
	if err != nil {
		log.WithError(err).WithField("addr", addr).Warning("gateway/semtechudp: invalid PULL_DATA packet")
		return
	}

	b.send(addr, ackPacket(h.Token, PullACK))

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.state == StateAwaitingFirstKeepalive:
		b.state = StateActive
		b.gatewayID = h.GatewayID
		b.downstream = addr
		log.WithFields(log.Fields{
			"addr":       addr,
			"gateway_id": h.GatewayID,
		}).Info("gateway/semtechudp: downstream route latched")
	case b.gatewayID == h.GatewayID:
		if b.downstream.String() != addr.String() {
			log.WithFields(log.Fields{
				"addr":       addr,
				"gateway_id": h.GatewayID,
			}).Info("gateway/semtechudp: downstream route updated")
		}
		b.downstream = addr
	default:
		log.WithFields(log.Fields{
			"addr":       addr,
			"gateway_id": h.GatewayID,
			"latched_id": b.gatewayID,
		}).Warning("gateway/semtechudp: PULL_DATA from other gateway ignored")
	}
}

func (b *Backend) handleTXACK(addr *net.UDPAddr, data []byte) {
	var p TXACKPacket
	if err := p.UnmarshalBinary(data); err != nil {
		log.WithError(err).WithField("addr", addr).Warning("gateway/semtechudp: unmarshal TX_ACK error")
		return
	}

	logFields := log.Fields{
		"gateway_id": p.GatewayID,
		"token":      p.RandomToken,
	}

	pd, ok := b.pending.Get(p.RandomToken)
	if !ok {
		log.WithFields(logFields).Warning("gateway/semtechudp: TX_ACK for unknown token")
	} else {
		b.pending.Remove(p.RandomToken)
		logFields["duration"] = time.Since(pd.sentAt)
	}

	if p.Success() {
		txAckCounter("OK").Inc()
		log.WithFields(logFields).Info("gateway/semtechudp: downlink transmitted")
		return
	}

	txAckCounter(p.Payload.TXPKACK.Error).Inc()
	logFields["error"] = p.Payload.TXPKACK.Error
	log.WithFields(logFields).Error("gateway/semtechudp: downlink transmission failed")
}

// SendDownlink sends the given TXPK to the latched gateway as PULL_RESP.
// It returns the token of the PULL_RESP packet.
func (b *Backend) SendDownlink(txpk TXPK) (uint16, error) {
	b.mu.RLock()
	state, gatewayID, addr := b.state, b.gatewayID, b.downstream
	b.mu.RUnlock()

	if state != StateActive {
		return 0, ErrNoDownstream
	}

	token := b.newToken()
	bb, err := PullRespPacket{
		RandomToken: token,
		Payload:     PullRespPayload{TXPK: txpk},
	}.MarshalBinary()
	if err != nil {
		return 0, errors.Wrap(err, "marshal PULL_RESP error")
	}

	b.pending.Add(token, pendingDownlink{
		gatewayID: gatewayID,
		sentAt:    time.Now(),
	})

	if _, err := b.conn.WriteToUDP(bb, addr); err != nil {
		b.pending.Remove(token)
		return 0, errors.Wrap(err, "write to udp error")
	}

	udpPacketCounter(PullResp.String()).Inc()
	log.WithFields(log.Fields{
		"addr":       addr,
		"gateway_id": gatewayID,
		"token":      token,
	}).Info("gateway/semtechudp: PULL_RESP sent")

	return token, nil
}

func (b *Backend) newToken() uint16 {
	b.tokenMu.Lock()
	defer b.tokenMu.Unlock()
	return uint16(b.rnd.Intn(1 << 16))
}

func (b *Backend) send(addr *net.UDPAddr, data []byte) {
	if _, err := b.conn.WriteToUDP(data, addr); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"addr": addr,
		}).Error("gateway/semtechudp: write to udp error")
	}
}

func handleStat(gatewayID lorawan.EUI64, stat Stat) {
	statCounter().Inc()
	log.WithFields(log.Fields{
		"gateway_id": gatewayID,
		"rxnb":       stat.RXNb,
		"rxok":       stat.RXOK,
		"rxfw":       stat.RXFW,
		"ackr":       stat.ACKR,
		"dwnb":       stat.DWNb,
		"txnb":       stat.TXNb,
	}).Info("gateway/semtechudp: gateway stats received")
}
