package adr

import (
	"testing"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	devEUI := lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}

	t.Run("FIFO eviction at capacity", func(t *testing.T) {
		assert := require.New(t)

		table := NewTable(devEUI)
		for i := uint32(1); i <= TableCapacity+5; i++ {
			table.AddEntry(TableEntry{DevEUI: devEUI, FCnt: i, GatewayID: "gw1", SNR: float64(i)})
			if i < TableCapacity {
				assert.False(table.IsComplete())
			} else {
				assert.True(table.IsComplete())
			}
		}

		assert.Len(table.Entries, TableCapacity)
		assert.EqualValues(6, table.Entries[0].FCnt)
		assert.EqualValues(TableCapacity+5, table.Entries[TableCapacity-1].FCnt)
	})

	t.Run("Same frame-counter keeps strongest reception", func(t *testing.T) {
		assert := require.New(t)

		table := NewTable(devEUI)
		table.AddEntry(TableEntry{FCnt: 1, GatewayID: "gw1", SNR: 1})
		table.AddEntry(TableEntry{FCnt: 2, GatewayID: "gw1", SNR: -5})
		table.AddEntry(TableEntry{FCnt: 2, GatewayID: "gw2", SNR: 3})
		table.AddEntry(TableEntry{FCnt: 2, GatewayID: "gw3", SNR: 2})

		assert.Len(table.Entries, 2)
		assert.Equal("gw2", table.Entries[1].GatewayID)
		assert.Equal(3.0, table.Entries[1].SNR)
	})

	t.Run("Counter reset starts a fresh table", func(t *testing.T) {
		assert := require.New(t)

		nbRep := 2
		table := NewTable(devEUI)
		table.CurrentNbRep = &nbRep
		table.LastResult = &Result{DataRate: 3}
		table.AddEntry(TableEntry{FCnt: 100, SNR: 1})
		table.AddEntry(TableEntry{FCnt: 101, SNR: 1})
		table.AddEntry(TableEntry{FCnt: 1, SNR: 1})

		assert.Len(table.Entries, 1)
		assert.EqualValues(1, table.Entries[0].FCnt)
		assert.Nil(table.CurrentNbRep)
		assert.Nil(table.LastResult)
	})

	t.Run("Copy", func(t *testing.T) {
		assert := require.New(t)

		nbRep := 1
		table := NewTable(devEUI)
		table.CurrentNbRep = &nbRep
		table.AddEntry(TableEntry{FCnt: 1})

		c := table.Copy()
		*c.CurrentNbRep = 3
		c.Entries[0].FCnt = 5

		assert.Equal(1, *table.CurrentNbRep)
		assert.EqualValues(1, table.Entries[0].FCnt)
	})
}
