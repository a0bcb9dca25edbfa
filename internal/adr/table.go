package adr

import (
	"github.com/brocaar/lorawan"
)

// TableCapacity defines the max number of entries kept per device.
const TableCapacity = 20

// TableEntry holds the reception of a single uplink. When the uplink was
// received by multiple gateways, it holds the best reception.
type TableEntry struct {
	DevEUI    lorawan.EUI64 `json:"devEui"`
	FCnt      uint32        `json:"fCnt"`
	GatewayID string        `json:"gatewayId"`
	SNR       float64       `json:"snr"`
}

// Table holds the uplink history of a device together with the radio
// parameters that were last communicated to it.
type Table struct {
	DevEUI  lorawan.EUI64 `json:"devEui"`
	Entries []TableEntry  `json:"entries"`

	CurrentNbRep   *int `json:"currentNbRep,omitempty"`
	CurrentTxPower *int `json:"currentTxPower,omitempty"`

	LastResult *Result `json:"lastResult,omitempty"`
}

// NewTable returns an empty table for the given device.
func NewTable(devEUI lorawan.EUI64) *Table {
	return &Table{
		DevEUI: devEUI,
	}
}

// AddEntry adds the given entry to the table.
//
// An entry for the frame-counter of the last entry is merged, keeping the
// strongest reception. A frame-counter lower than the last entry means that
// the device reset its counters, in which case the history is discarded.
// When the table is full, the oldest entry is evicted.
func (t *Table) AddEntry(e TableEntry) {
	if n := len(t.Entries); n > 0 {
		last := &t.Entries[n-1]

		if e.FCnt == last.FCnt {
			if e.SNR > last.SNR {
				last.SNR = e.SNR
				last.GatewayID = e.GatewayID
			}
			return
		}

		if e.FCnt < last.FCnt {
			t.Entries = nil
			t.CurrentNbRep = nil
			t.CurrentTxPower = nil
			t.LastResult = nil
		}
	}

	t.Entries = append(t.Entries, e)
	if len(t.Entries) > TableCapacity {
		t.Entries = append(t.Entries[:0:0], t.Entries[len(t.Entries)-TableCapacity:]...)
	}
}

// IsComplete returns true when the table holds enough entries for an ADR
// calculation.
func (t *Table) IsComplete() bool {
	return len(t.Entries) >= TableCapacity
}

// Copy returns a deep copy of the table.
func (t *Table) Copy() *Table {
	out := *t
	out.Entries = append([]TableEntry(nil), t.Entries...)
	if t.CurrentNbRep != nil {
		v := *t.CurrentNbRep
		out.CurrentNbRep = &v
	}
	if t.CurrentTxPower != nil {
		v := *t.CurrentTxPower
		out.CurrentTxPower = &v
	}
	if t.LastResult != nil {
		r := *t.LastResult
		out.LastResult = &r
	}
	return &out
}
