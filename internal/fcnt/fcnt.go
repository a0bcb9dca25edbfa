// Package fcnt coordinates the frame-counters of a device between network
// server instances serving the same device through different gateways.
package fcnt

import (
	"context"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/logging"
)

// DuplicateWindow is the default window in which a duplicate uplink is still
// considered part of the same transmission.
const DuplicateWindow = 10 * time.Second

// MaxResubmissions is the number of confirmed retransmissions of the same
// uplink, received through the same gateway within the duplicate window,
// which are acknowledged again.
const MaxResubmissions = 2

// State holds the frame-counter state of a device.
type State struct {
	DevEUI    lorawan.EUI64 `json:"devEui"`
	FCntUp    uint32        `json:"fCntUp"`
	FCntDown  uint32        `json:"fCntDown"`
	GatewayID string        `json:"gatewayId"`
	LastSeen  time.Time     `json:"lastSeen"`

	// DownlinkFCntUp holds the uplink frame-counter for which the last
	// downlink counter was handed out.
	DownlinkFCntUp  uint32 `json:"downlinkFCntUp"`
	DownlinkPending bool   `json:"downlinkPending"`
	DownlinkIssued  bool   `json:"downlinkIssued"`
	Resubmissions   int    `json:"resubmissions"`
}

// DuplicateResult holds the outcome of a duplicate check.
type DuplicateResult struct {
	// Duplicate is set when the uplink was already processed, by this or by
	// a sibling instance.
	Duplicate bool

	// WithinWindow is set for copies received through another gateway
	// within the duplicate window of the first copy. Their meta-data is
	// still useful for ADR.
	WithinWindow bool

	// Resubmission is set for a confirmed retransmission received through
	// the same gateway within the duplicate window. It must be acknowledged
	// again, but never forwarded to the integration.
	Resubmission bool
}

// Coordinator decides on duplicates and hands out downlink frame-counters.
type Coordinator struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

// NewCoordinator creates a new Coordinator. A zero window defaults to
// DuplicateWindow.
func NewCoordinator(store Store, window time.Duration) *Coordinator {
	if window == 0 {
		window = DuplicateWindow
	}

	return &Coordinator{
		store:  store,
		window: window,
		now:    time.Now,
	}
}

// CheckDuplicate records the uplink and returns if it is a duplicate. The
// first processed copy of an uplink wins, every other copy is a duplicate.
// Confirmed copies received through the same gateway within the window are
// flagged as resubmission, up to MaxResubmissions times.
func (c *Coordinator) CheckDuplicate(ctx context.Context, devEUI lorawan.EUI64, gatewayID string, fCntUp uint32, confirmed bool) (DuplicateResult, error) {
	var out DuplicateResult

	err := c.withState(ctx, devEUI, func(s *State) (bool, error) {
		now := c.now()

		if s == nil || fCntUp > s.FCntUp {
			if s == nil {
				s = &State{DevEUI: devEUI}
			}
			s.FCntUp = fCntUp
			s.GatewayID = gatewayID
			s.LastSeen = now
			s.Resubmissions = 0
			s.DownlinkPending = false
			return true, c.store.Save(ctx, s)
		}

		out.Duplicate = true
		if fCntUp != s.FCntUp || now.Sub(s.LastSeen) > c.window {
			return false, nil
		}

		if gatewayID != s.GatewayID {
			out.WithinWindow = true
			return false, nil
		}

		if !confirmed || s.Resubmissions >= MaxResubmissions {
			return false, nil
		}

		s.Resubmissions++
		s.DownlinkPending = true
		out.Resubmission = true
		return true, c.store.Save(ctx, s)
	})
	if err != nil {
		return out, err
	}

	if out.Duplicate {
		duplicateCounter.Inc()
		log.WithFields(log.Fields{
			"dev_eui":       devEUI,
			"gateway_id":    gatewayID,
			"f_cnt_up":      fCntUp,
			"within_window": out.WithinWindow,
			"resubmission":  out.Resubmission,
			"ctx_id":        ctx.Value(logging.ContextIDKey),
		}).Debug("fcnt: duplicate uplink")
	}

	return out, nil
}

// NextFCntDown returns the frame-counter for the next downlink. It returns 0
// when no downlink must be sent: the uplink was handled by a sibling
// instance, or a downlink was already issued for this uplink and no
// resubmission is pending. Counters are strictly increasing per device.
func (c *Coordinator) NextFCntDown(ctx context.Context, devEUI lorawan.EUI64, gatewayID string, fCntUp, clientFCntDown uint32) (uint32, error) {
	var next uint32

	err := c.withState(ctx, devEUI, func(s *State) (bool, error) {
		if s == nil {
			s = &State{
				DevEUI:   devEUI,
				FCntUp:   fCntUp,
				LastSeen: c.now(),
			}
		} else if fCntUp < s.FCntUp {
			return false, nil
		} else if fCntUp == s.FCntUp {
			if s.GatewayID != "" && gatewayID != s.GatewayID {
				return false, nil
			}
			if s.DownlinkIssued && s.DownlinkFCntUp == fCntUp && !s.DownlinkPending {
				return false, nil
			}
		}

		next = clientFCntDown
		if s.FCntDown > next {
			next = s.FCntDown
		}
		next++

		if fCntUp > s.FCntUp {
			s.LastSeen = c.now()
			s.Resubmissions = 0
		}
		s.FCntUp = fCntUp
		s.FCntDown = next
		s.GatewayID = gatewayID
		s.DownlinkFCntUp = fCntUp
		s.DownlinkIssued = true
		s.DownlinkPending = false
		return true, c.store.Save(ctx, s)
	})
	if err != nil {
		return 0, err
	}

	return next, nil
}

// Reset removes the frame-counter state, e.g. after a (re)join.
func (c *Coordinator) Reset(ctx context.Context, devEUI lorawan.EUI64) error {
	return c.withState(ctx, devEUI, func(s *State) (bool, error) {
		return true, c.store.Delete(ctx, devEUI)
	})
}

// withState calls f with the current state while holding the device lock.
func (c *Coordinator) withState(ctx context.Context, devEUI lorawan.EUI64, f func(*State) (bool, error)) error {
	lease, err := c.store.Lock(ctx, devEUI)
	if err != nil {
		return errors.Wrap(err, "lock error")
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			log.WithError(err).WithField("dev_eui", devEUI).Error("fcnt: release lock error")
		}
	}()

	s, err := c.store.Get(ctx, devEUI)
	if err != nil {
		return errors.Wrap(err, "get state error")
	}

	changed, err := f(s)
	if err != nil {
		return errors.Wrap(err, "update state error")
	}
	if changed {
		stateUpdateCounter.Inc()
	}

	return nil
}
