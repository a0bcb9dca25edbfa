package band

import (
	"testing"

	"github.com/stretchr/testify/require"

	loraband "github.com/brocaar/lorawan/band"
	"github.com/loraedge/edge-network-server/internal/config"
)

func TestSetup(t *testing.T) {
	assert := require.New(t)

	var conf config.Config
	conf.NetworkServer.Band.Name = loraband.EU868
	assert.NoError(Setup(conf))

	assert.Equal(5, MaxLoRaDR())
	assert.Equal(7, MinTxPowerIndex())

	dr, err := DataRateIndex(12, 125)
	assert.NoError(err)
	assert.Equal(0, dr)

	dr, err = DataRateIndex(7, 125)
	assert.NoError(err)
	assert.Equal(5, dr)

	_, err = DataRateIndex(5, 125)
	assert.Error(err)

	snr, err := RequiredSNR(0)
	assert.NoError(err)
	assert.Equal(-20.0, snr)

	snr, err = RequiredSNR(5)
	assert.NoError(err)
	assert.Equal(-7.5, snr)
}
