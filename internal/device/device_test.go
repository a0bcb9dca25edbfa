package device

import (
	"testing"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/require"

	"github.com/loraedge/edge-network-server/internal/facade"
)

func TestDevice(t *testing.T) {
	assert := require.New(t)

	d := NewFromKeys(facade.DeviceKeys{
		DevEUI:    lorawan.EUI64{1},
		GatewayID: "gw1",
		FCntUp:    10,
		FCntDown:  5,
	})
	assert.Equal("gw1", d.PinnedGatewayID())

	_, ok := d.RadioParameters()
	assert.False(ok)

	d.UpdateRadioParameters(5, 2, 1)
	rp, ok := d.RadioParameters()
	assert.True(ok)
	assert.Equal(RadioParameters{DataRate: 5, TxPower: 2, NbRep: 1}, rp)

	d.SetFCntUp(9)
	assert.EqualValues(10, d.FCntUp())
	d.SetFCntUp(11)
	assert.EqualValues(11, d.FCntUp())

	d.SetFCntDown(4)
	assert.EqualValues(5, d.FCntDown())
	d.SetFCntDown(6)
	assert.EqualValues(6, d.FCntDown())
}

func TestCache(t *testing.T) {
	assert := require.New(t)

	c := NewCache(time.Hour, time.Hour)
	addr := lorawan.DevAddr{1, 2, 3, 4}

	a := &Device{DevEUI: lorawan.EUI64{1}, DevAddr: addr}
	b := &Device{DevEUI: lorawan.EUI64{2}, DevAddr: addr}

	c.Set(a)
	c.Set(b)
	c.Set(a)
	assert.Equal(2, c.Count())
	assert.ElementsMatch([]*Device{a, b}, c.GetByDevAddr(addr))

	d, ok := c.Get(lorawan.EUI64{1})
	assert.True(ok)
	assert.Equal(a, d)

	// re-join with a new address
	a2 := &Device{DevEUI: lorawan.EUI64{1}, DevAddr: lorawan.DevAddr{5, 6, 7, 8}}
	c.Set(a2)
	assert.Equal([]*Device{b}, c.GetByDevAddr(addr))
	assert.Equal([]*Device{a2}, c.GetByDevAddr(lorawan.DevAddr{5, 6, 7, 8}))

	c.Delete(lorawan.EUI64{2})
	assert.Len(c.GetByDevAddr(addr), 0)
	assert.Equal(1, c.Count())
}

func TestCacheExpiration(t *testing.T) {
	t.Run("No expiration by default", func(t *testing.T) {
		assert := require.New(t)

		c := NewCache(0, 0)
		c.Set(&Device{DevEUI: lorawan.EUI64{1}, DevAddr: lorawan.DevAddr{1, 2, 3, 4}})

		for _, item := range c.byEUI.Items() {
			assert.Zero(item.Expiration)
		}
		for _, item := range c.byAddr.Items() {
			assert.Zero(item.Expiration)
		}
	})

	t.Run("Active device is kept beyond ttl", func(t *testing.T) {
		assert := require.New(t)

		ttl := 100 * time.Millisecond
		c := NewCache(ttl, time.Hour)

		active := &Device{DevEUI: lorawan.EUI64{1}, DevAddr: lorawan.DevAddr{1, 2, 3, 4}}
		idle := &Device{DevEUI: lorawan.EUI64{2}, DevAddr: lorawan.DevAddr{5, 6, 7, 8}}
		c.Set(active)
		c.Set(idle)

		for i := 0; i < 6; i++ {
			time.Sleep(ttl / 3)
			assert.Equal([]*Device{active}, c.GetByDevAddr(active.DevAddr))
		}

		_, ok := c.Get(active.DevEUI)
		assert.True(ok)

		_, ok = c.Get(idle.DevEUI)
		assert.False(ok)
		assert.Len(c.GetByDevAddr(idle.DevAddr), 0)
	})
}
