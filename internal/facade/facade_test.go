package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	devEUI := lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	devAddr := lorawan.DevAddr{0x00, 0x28, 0xb9, 0x46}
	ctx := context.Background()

	t.Run("GetSessionKeys", func(t *testing.T) {
		assert := require.New(t)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal("/GetNwkSKeyAppSKey", r.URL.Path)
			assert.Equal("secret", r.URL.Query().Get("code"))

			if r.URL.Query().Get("devAddr") != devAddr.String() {
				w.WriteHeader(http.StatusNotFound)
				return
			}

			json.NewEncoder(w).Encode([]DeviceKeys{
				{DevEUI: devEUI, DevAddr: devAddr, NwkSKey: lorawan.AES128Key{1}, AppSKey: lorawan.AES128Key{2}, GatewayID: "gw1"},
			})
		}))
		defer server.Close()

		c := NewClient(server.URL, "secret", time.Second, 0)

		keys, err := c.GetSessionKeys(ctx, devAddr)
		assert.NoError(err)
		assert.Len(keys, 1)
		assert.Equal(devEUI, keys[0].DevEUI)
		assert.Equal(lorawan.AES128Key{1}, keys[0].NwkSKey)
		assert.Equal(lorawan.AES128Key{2}, keys[0].AppSKey)
		assert.Equal("gw1", keys[0].GatewayID)

		keys, err = c.GetSessionKeys(ctx, lorawan.DevAddr{1, 1, 1, 1})
		assert.NoError(err)
		assert.Len(keys, 0)
	})

	t.Run("PerformOTAA", func(t *testing.T) {
		assert := require.New(t)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal("/PerformOTAA", r.URL.Path)
			assert.Equal(devEUI.String(), r.URL.Query().Get("DevEUI"))
			assert.Equal("0102", r.URL.Query().Get("DevNonce"))

			json.NewEncoder(w).Encode(JoinAnswer{
				DeviceKeys: DeviceKeys{DevEUI: devEUI, DevAddr: devAddr},
				JoinAccept: []byte{0x20, 0x01, 0x02},
			})
		}))
		defer server.Close()

		c := NewClient(server.URL, "", time.Second, 0)
		ans, err := c.PerformOTAA(ctx, devEUI, lorawan.EUI64{8, 7, 6, 5, 4, 3, 2, 1}, 0x0102)
		assert.NoError(err)
		assert.Equal(devAddr, ans.DevAddr)
		assert.Equal([]byte{0x20, 0x01, 0x02}, ans.JoinAccept)
	})

	t.Run("PerformOTAA rejected", func(t *testing.T) {
		assert := require.New(t)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", time.Second, 0)
		_, err := c.PerformOTAA(ctx, devEUI, lorawan.EUI64{}, 1)
		assert.Equal(ErrJoinRejected, err)
	})

	t.Run("CalculateADRAndStoreFrame", func(t *testing.T) {
		assert := require.New(t)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(http.MethodPost, r.Method)
			assert.Equal("/CalculateADRAndStoreFrame", r.URL.Path)

			var req ADRRequest
			assert.NoError(json.NewDecoder(r.Body).Decode(&req))

			if !req.PerformCalculation {
				w.Write([]byte("null"))
				return
			}

			json.NewEncoder(w).Encode(ADRResult{
				DataRate:           5,
				TxPower:            2,
				NbRepetition:       1,
				FCntDown:           req.FCntDown + 1,
				CanConfirmToDevice: true,
			})
		}))
		defer server.Close()

		c := NewClient(server.URL, "", time.Second, 0)

		res, err := c.CalculateADRAndStoreFrame(ctx, ADRRequest{DevEUI: devEUI, FCntDown: 10})
		assert.NoError(err)
		assert.Nil(res)

		res, err = c.CalculateADRAndStoreFrame(ctx, ADRRequest{DevEUI: devEUI, FCntDown: 10, PerformCalculation: true})
		assert.NoError(err)
		assert.Equal(&ADRResult{DataRate: 5, TxPower: 2, NbRepetition: 1, FCntDown: 11, CanConfirmToDevice: true}, res)
	})

	t.Run("CalculateADRAndStoreFrame is not retried on server error", func(t *testing.T) {
		assert := require.New(t)

		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", time.Second, 3)
		_, err := c.CalculateADRAndStoreFrame(ctx, ADRRequest{DevEUI: devEUI, PerformCalculation: true})
		assert.Error(err)
		assert.EqualValues(1, atomic.LoadInt32(&calls))
	})

	t.Run("CalculateADRAndStoreFrame retries dial errors", func(t *testing.T) {
		assert := require.New(t)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		addr := server.URL
		server.Close()

		retry, err := dialErrorRetryPolicy(ctx, nil, nil)
		assert.NoError(err)
		assert.False(retry)

		c := NewClient(addr, "", time.Second, 1)
		_, err = c.CalculateADRAndStoreFrame(ctx, ADRRequest{DevEUI: devEUI})
		assert.Error(err)
		assert.Contains(err.Error(), "giving up after 2 attempt(s)")
	})

	t.Run("NextFCntDown with retry", func(t *testing.T) {
		assert := require.New(t)

		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			assert.Equal("/NextFCntDown", r.URL.Path)
			assert.Equal("12", r.URL.Query().Get("FCntDown"))
			assert.Equal("34", r.URL.Query().Get("FCntUp"))
			assert.Equal("gw1", r.URL.Query().Get("GatewayId"))
			w.Write([]byte("13"))
		}))
		defer server.Close()

		c := NewClient(server.URL, "", time.Second, 2)
		fCnt, err := c.NextFCntDown(ctx, devEUI, 12, 34, "gw1")
		assert.NoError(err)
		assert.EqualValues(13, fCnt)
		assert.EqualValues(2, atomic.LoadInt32(&calls))
	})

	t.Run("Server error", func(t *testing.T) {
		assert := require.New(t)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", time.Second, 0)
		_, err := c.NextFCntDown(ctx, devEUI, 1, 1, "gw1")
		assert.Error(err)
	})
}
