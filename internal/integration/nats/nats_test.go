package nats

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/lorawan"

	"github.com/loraedge/edge-network-server/internal/integration"
)

type fakeConn struct {
	err      error
	subjects []string
	payloads [][]byte
	drained  bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestIntegration(t *testing.T) {
	assert := require.New(t)

	devEUI := lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	conn := &fakeConn{}
	i, err := newIntegration(conn, "device.{{ .DevEUI }}.{{ .EventType }}")
	assert.NoError(err)

	t.Run("uplink", func(t *testing.T) {
		assert := require.New(t)

		assert.NoError(i.SendUplinkEvent(context.Background(), integration.UplinkEvent{
			DevEUI: devEUI,
			FCnt:   68,
			Data:   []byte("185:100"),
		}))
		assert.Equal([]string{"device.0102030405060708.up"}, conn.subjects)

		var pl integration.UplinkEvent
		assert.NoError(json.Unmarshal(conn.payloads[0], &pl))
		assert.Equal([]byte("185:100"), pl.Data)
	})

	t.Run("join", func(t *testing.T) {
		assert := require.New(t)

		assert.NoError(i.SendJoinEvent(context.Background(), integration.JoinEvent{DevEUI: devEUI}))
		assert.Equal("device.0102030405060708.join", conn.subjects[1])
	})

	t.Run("publish error", func(t *testing.T) {
		assert := require.New(t)

		conn.err = nats.ErrConnectionClosed
		err := i.SendUplinkEvent(context.Background(), integration.UplinkEvent{DevEUI: devEUI})
		assert.Error(err)
	})

	assert.NoError(i.Close())
	assert.True(conn.drained)
}
