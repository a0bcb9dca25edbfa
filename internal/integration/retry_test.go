package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/lorawan"
)

type failingIntegration struct {
	failures int
	calls    int
	uplinks  []UplinkEvent
}

func (i *failingIntegration) SendUplinkEvent(ctx context.Context, pl UplinkEvent) error {
	i.calls++
	if i.calls <= i.failures {
		return errors.New("broker unavailable")
	}
	i.uplinks = append(i.uplinks, pl)
	return nil
}

func (i *failingIntegration) SendJoinEvent(ctx context.Context, pl JoinEvent) error {
	i.calls++
	if i.calls <= i.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func (i *failingIntegration) Close() error {
	return nil
}

func TestRetryIntegration(t *testing.T) {
	pl := UplinkEvent{
		DevEUI: lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
		FCnt:   10,
		Data:   []byte("2:100"),
	}

	tests := []struct {
		Name          string
		Failures      int
		ExpectedCalls int
		ExpectedError bool
	}{
		{"first attempt succeeds", 0, 1, false},
		{"third attempt succeeds", 2, 3, false},
		{"budget exhausted", 3, 3, true},
		{"broker down", 10, 3, true},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			next := &failingIntegration{failures: tst.Failures}
			i := NewRetryIntegration(next, 3, time.Millisecond)

			err := i.SendUplinkEvent(context.Background(), pl)
			if tst.ExpectedError {
				assert.Error(err)
				assert.Len(next.uplinks, 0)
			} else {
				assert.NoError(err)
				assert.Equal([]UplinkEvent{pl}, next.uplinks)
			}
			assert.Equal(tst.ExpectedCalls, next.calls)
		})
	}

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		assert := require.New(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		next := &failingIntegration{failures: 10}
		i := NewRetryIntegration(next, 3, time.Hour)
		assert.Error(i.SendJoinEvent(ctx, JoinEvent{}))
		assert.Equal(1, next.calls)
	})

	t.Run("log integration", func(t *testing.T) {
		assert := require.New(t)

		var i Integration = LogIntegration{}
		assert.NoError(i.SendUplinkEvent(context.Background(), pl))
		assert.NoError(i.SendJoinEvent(context.Background(), JoinEvent{}))
		assert.NoError(i.Close())
	})
}
