package device

import (
	"sync"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/patrickmn/go-cache"
)

// Cache holds the devices known to this instance, indexed by DevEUI and by
// DevAddr. Multiple devices can share the same DevAddr.
type Cache struct {
	mu     sync.Mutex
	byEUI  *cache.Cache
	byAddr *cache.Cache
}

// NewCache creates a new device cache. With a zero ttl devices are kept
// until they are deleted or replaced on (re)join. Otherwise devices are
// evicted after being idle for ttl, every lookup refreshes the expiration.
func NewCache(ttl, cleanupInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanupInterval = 0
	}

	return &Cache{
		byEUI:  cache.New(ttl, cleanupInterval),
		byAddr: cache.New(ttl, cleanupInterval),
	}
}

// Get returns the device for the given DevEUI.
func (c *Cache) Get(devEUI lorawan.EUI64) (*Device, bool) {
	d, ok := c.get(devEUI)
	if ok {
		c.byEUI.SetDefault(devEUI.String(), d)
	}
	return d, ok
}

func (c *Cache) get(devEUI lorawan.EUI64) (*Device, bool) {
	v, ok := c.byEUI.Get(devEUI.String())
	if !ok {
		return nil, false
	}
	return v.(*Device), true
}

// GetByDevAddr returns the devices using the given DevAddr.
func (c *Cache) GetByDevAddr(devAddr lorawan.DevAddr) []*Device {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.byAddr.Get(devAddr.String())
	if !ok {
		return nil
	}
	c.byAddr.SetDefault(devAddr.String(), v)

	var out []*Device
	for _, devEUI := range v.([]lorawan.EUI64) {
		if d, ok := c.Get(devEUI); ok && d.DevAddr == devAddr {
			out = append(out, d)
		}
	}
	return out
}

// Set adds or replaces the device.
func (c *Cache) Set(d *Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.get(d.DevEUI); ok && old.DevAddr != d.DevAddr {
		c.removeAddr(old.DevAddr, old.DevEUI)
	}
	c.byEUI.SetDefault(d.DevEUI.String(), d)

	var eui []lorawan.EUI64
	if v, ok := c.byAddr.Get(d.DevAddr.String()); ok {
		eui = v.([]lorawan.EUI64)
	}

	found := false
	for _, e := range eui {
		if e == d.DevEUI {
			found = true
			break
		}
	}
	if !found {
		eui = append(append([]lorawan.EUI64(nil), eui...), d.DevEUI)
	}
	c.byAddr.SetDefault(d.DevAddr.String(), eui)
}

// Delete removes the device.
func (c *Cache) Delete(devEUI lorawan.EUI64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.get(devEUI); ok {
		c.removeAddr(d.DevAddr, devEUI)
	}
	c.byEUI.Delete(devEUI.String())
}

// Count returns the number of cached devices.
func (c *Cache) Count() int {
	return c.byEUI.ItemCount()
}

func (c *Cache) removeAddr(devAddr lorawan.DevAddr, devEUI lorawan.EUI64) {
	v, ok := c.byAddr.Get(devAddr.String())
	if !ok {
		return
	}

	var eui []lorawan.EUI64
	for _, e := range v.([]lorawan.EUI64) {
		if e != devEUI {
			eui = append(eui, e)
		}
	}

	if len(eui) == 0 {
		c.byAddr.Delete(devAddr.String())
		return
	}
	c.byAddr.SetDefault(devAddr.String(), eui)
}
