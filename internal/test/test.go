package test

import (
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	loraband "github.com/brocaar/lorawan/band"
	"github.com/loraedge/edge-network-server/internal/config"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

// GetConfig returns the test configuration.
func GetConfig() config.Config {
	var c config.Config

	c.NetworkServer.InstanceID = "test"
	c.NetworkServer.GatewayID = "0101010101010101"
	c.NetworkServer.DeduplicationWindow = 10 * time.Second
	c.NetworkServer.MaxFCntGap = 16384
	c.NetworkServer.Band.Name = loraband.EU868
	c.NetworkServer.NetworkSettings.RX1Delay = 1
	c.NetworkServer.NetworkSettings.DownlinkTXPower = -1
	c.NetworkServer.UDP.Bind = "127.0.0.1:0"
	c.NetworkServer.UDP.PendingTXAcks = 16

	c.NetworkServer.ADR.InstallationMargin = 5
	c.NetworkServer.ADR.LockTTL = 5 * time.Second
	c.NetworkServer.ADR.LockPollInterval = 5 * time.Millisecond
	c.NetworkServer.ADR.LockTimeout = time.Second

	c.DeviceCache.TTL = time.Hour
	c.DeviceCache.CleanupInterval = time.Hour

	c.Integration.RetryBudget = 3
	c.Integration.RetryInterval = time.Millisecond

	return c
}

// MustStartRedis starts an in-memory Redis server and returns it together
// with a client connected to it. It panics on error.
func MustStartRedis() (*miniredis.Miniredis, redis.UniversalClient) {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}

	return mr, redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
