package uplink

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/loraedge/edge-network-server/internal/adr"
	"github.com/loraedge/edge-network-server/internal/backend/gateway/semtechudp"
	"github.com/loraedge/edge-network-server/internal/band"
	"github.com/loraedge/edge-network-server/internal/device"
	"github.com/loraedge/edge-network-server/internal/downlink"
	"github.com/loraedge/edge-network-server/internal/facade"
	"github.com/loraedge/edge-network-server/internal/fcnt"
	"github.com/loraedge/edge-network-server/internal/frame"
	"github.com/loraedge/edge-network-server/internal/integration"
	"github.com/loraedge/edge-network-server/internal/test"
)

var (
	testDevEUI  = lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	testJoinEUI = lorawan.EUI64{8, 7, 6, 5, 4, 3, 2, 1}
	testDevAddr = lorawan.DevAddr{0x00, 0x28, 0xb9, 0x46}
	testNwkSKey = lorawan.AES128Key{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}
	testAppSKey = lorawan.AES128Key{1, 2, 3, 4, 5, 6, 7, 8, 1, 2, 3, 4, 5, 6, 7, 8}
	gatewayA    = lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1}
	gatewayB    = lorawan.EUI64{2, 2, 2, 2, 2, 2, 2, 2}
)

type fakeFacade struct {
	sync.Mutex

	keys       []facade.DeviceKeys
	joinAnswer facade.JoinAnswer
	joinErr    error
	keyLookups int
}

func (f *fakeFacade) GetSessionKeys(ctx context.Context, devAddr lorawan.DevAddr) ([]facade.DeviceKeys, error) {
	f.Lock()
	defer f.Unlock()
	f.keyLookups++

	var out []facade.DeviceKeys
	for _, k := range f.keys {
		if k.DevAddr == devAddr {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeFacade) PerformOTAA(ctx context.Context, devEUI, joinEUI lorawan.EUI64, devNonce uint16) (facade.JoinAnswer, error) {
	return f.joinAnswer, f.joinErr
}

func (f *fakeFacade) CalculateADRAndStoreFrame(ctx context.Context, req facade.ADRRequest) (*facade.ADRResult, error) {
	return nil, nil
}

func (f *fakeFacade) NextFCntDown(ctx context.Context, devEUI lorawan.EUI64, fCntDown, fCntUp uint32, gatewayID string) (uint32, error) {
	return fCntDown + 1, nil
}

type fakeIntegration struct {
	sync.Mutex

	uplinks []integration.UplinkEvent
	joins   []integration.JoinEvent
}

func (i *fakeIntegration) SendUplinkEvent(ctx context.Context, pl integration.UplinkEvent) error {
	i.Lock()
	defer i.Unlock()
	i.uplinks = append(i.uplinks, pl)
	return nil
}

func (i *fakeIntegration) SendJoinEvent(ctx context.Context, pl integration.JoinEvent) error {
	i.Lock()
	defer i.Unlock()
	i.joins = append(i.joins, pl)
	return nil
}

func (i *fakeIntegration) Close() error {
	return nil
}

type fakeGateway struct {
	sync.Mutex

	txpks []semtechudp.TXPK
}

func (g *fakeGateway) SendDownlink(txpk semtechudp.TXPK) (uint16, error) {
	g.Lock()
	defer g.Unlock()
	g.txpks = append(g.txpks, txpk)
	return uint16(len(g.txpks)), nil
}

type ServerTestSuite struct {
	suite.Suite

	facade      *fakeFacade
	integration *fakeIntegration
	gateway     *fakeGateway
	devices     *device.Cache
	coordinator *fcnt.Coordinator
	server      *Server
}

func (ts *ServerTestSuite) SetupSuite() {
	assert := ts.Require()

	conf := test.GetConfig()
	assert.NoError(band.Setup(conf))
	assert.NoError(downlink.Setup(conf))
}

func (ts *ServerTestSuite) SetupTest() {
	assert := ts.Require()

	ts.facade = &fakeFacade{
		keys: []facade.DeviceKeys{
			{DevEUI: testDevEUI, DevAddr: testDevAddr, NwkSKey: testNwkSKey, AppSKey: testAppSKey},
		},
	}
	ts.integration = &fakeIntegration{}
	ts.gateway = &fakeGateway{}
	ts.devices = device.NewCache(time.Hour, time.Hour)
	ts.coordinator = fcnt.NewCoordinator(fcnt.NewMemoryStore(), fcnt.DuplicateWindow)

	provider, err := adr.NewProvider(adr.ProviderOptions{
		Options: adr.Options{
			Handler:            &adr.DefaultHandler{},
			InstallationMargin: 5,
		},
		LocalCoordinator: ts.coordinator,
	})
	assert.NoError(err)

	ts.server = NewServer(Options{
		Devices:     ts.devices,
		Facade:      ts.facade,
		ADR:         provider,
		Integration: ts.integration,
		MaxFCntGap:  16384,
	})
	ts.server.SetGateway(ts.gateway)
}

func (ts *ServerTestSuite) uplink(mType frame.MType, fCnt uint32, adrBit bool, payload []byte, gatewayID lorawan.EUI64, datr string, snr float64) semtechudp.UplinkFrame {
	assert := ts.Require()

	fPort := uint8(2)
	f := frame.Frame{
		MType:   mType,
		Major:   frame.LoRaWANR1,
		DevAddr: testDevAddr,
		FPort:   &fPort,
	}
	if adrBit {
		f.FCtrl |= 0x80
	}
	f.SetFullFCnt(fCnt)

	var err error
	f.FRMPayload, err = frame.EncryptPayload(testAppSKey, true, testDevAddr, fCnt, payload)
	assert.NoError(err)
	assert.NoError(frame.SetMIC(&f, testNwkSKey))

	b, err := f.MarshalBinary()
	assert.NoError(err)

	return semtechudp.UplinkFrame{
		GatewayID: gatewayID,
		RXPK: semtechudp.RXPK{
			Tmst: 1000000,
			Freq: 868.1,
			Stat: 1,
			Modu: "LORA",
			DatR: semtechudp.DatR{LoRa: datr},
			LSNR: snr,
			RSSI: -50,
			Data: base64.StdEncoding.EncodeToString(b),
		},
	}
}

func (ts *ServerTestSuite) TestUnconfirmedUplink() {
	assert := ts.Require()
	ctx := context.Background()

	ts.server.HandleUplink(ctx, ts.uplink(frame.UnconfirmedDataUp, 67, false, []byte("2:100"), gatewayA, "SF7BW125", 7))

	assert.Len(ts.integration.uplinks, 1)
	up := ts.integration.uplinks[0]
	assert.Equal(testDevEUI, up.DevEUI)
	assert.Equal(uint32(67), up.FCnt)
	assert.Equal([]byte("2:100"), up.Data)
	assert.Equal(5, up.DataRate)
	assert.Equal(uint32(868100000), up.Frequency)
	assert.Len(ts.gateway.txpks, 0)

	// device fetched from the facade and cached
	assert.Equal(1, ts.facade.keyLookups)
	d, ok := ts.devices.Get(testDevEUI)
	assert.True(ok)
	assert.Equal(uint32(67), d.FCntUp())

	ts.T().Run("cached device", func(t *testing.T) {
		assert := require.New(t)

		ts.server.HandleUplink(ctx, ts.uplink(frame.UnconfirmedDataUp, 68, false, []byte("185:100"), gatewayA, "SF7BW125", 7))
		ts.server.HandleUplink(ctx, ts.uplink(frame.UnconfirmedDataUp, 69, false, []byte("192:100"), gatewayA, "SF7BW125", 7))

		assert.Equal(1, ts.facade.keyLookups)
		assert.Len(ts.integration.uplinks, 3)
		assert.Equal([]byte("185:100"), ts.integration.uplinks[1].Data)
		assert.Equal([]byte("192:100"), ts.integration.uplinks[2].Data)
	})
}

func (ts *ServerTestSuite) TestAuthenticationFailure() {
	assert := ts.Require()

	ts.facade.keys[0].NwkSKey = lorawan.AES128Key{0xff}
	ts.server.HandleUplink(context.Background(), ts.uplink(frame.UnconfirmedDataUp, 67, false, []byte("2:100"), gatewayA, "SF7BW125", 7))

	assert.Len(ts.integration.uplinks, 0)
}

func (ts *ServerTestSuite) TestUnknownDevice() {
	assert := ts.Require()

	ts.facade.keys = nil
	ts.server.HandleUplink(context.Background(), ts.uplink(frame.UnconfirmedDataUp, 67, false, []byte("2:100"), gatewayA, "SF7BW125", 7))

	assert.Len(ts.integration.uplinks, 0)
	assert.Equal(0, ts.devices.Count())
}

func (ts *ServerTestSuite) TestMalformedFrames() {
	assert := ts.Require()
	ctx := context.Background()

	ts.server.HandleUplink(ctx, semtechudp.UplinkFrame{RXPK: semtechudp.RXPK{Data: "not base64!"}})
	ts.server.HandleUplink(ctx, semtechudp.UplinkFrame{RXPK: semtechudp.RXPK{Data: "QAEBAQE="}})

	up := ts.uplink(frame.UnconfirmedDataUp, 67, false, []byte("2:100"), gatewayA, "SF7BW125", 7)
	up.RXPK.Stat = -1
	ts.server.HandleUplink(ctx, up)

	assert.Len(ts.integration.uplinks, 0)
}

func (ts *ServerTestSuite) TestConfirmedUplink() {
	assert := ts.Require()

	ts.server.HandleUplink(context.Background(), ts.uplink(frame.ConfirmedDataUp, 10, false, []byte("2:100"), gatewayA, "SF7BW125", 7))

	assert.Len(ts.integration.uplinks, 1)
	assert.Len(ts.gateway.txpks, 1)

	txpk := ts.gateway.txpks[0]
	assert.Equal(uint32(2000000), *txpk.Tmst)
	assert.Equal(868.1, txpk.Freq)
	assert.Equal("SF7BW125", txpk.DatR.LoRa)

	b, err := base64.StdEncoding.DecodeString(txpk.Data)
	assert.NoError(err)
	f, err := frame.Parse(b)
	assert.NoError(err)
	assert.Equal(frame.UnconfirmedDataDown, f.MType)
	assert.True(f.FCtrl.ACK())
	assert.Equal(uint16(1), f.FCnt)
	assert.True(frame.VerifyMIC(f, testNwkSKey))

	d, _ := ts.devices.Get(testDevEUI)
	assert.Equal(uint32(1), d.FCntDown())
}

func (ts *ServerTestSuite) TestDuplicateUplink() {
	assert := ts.Require()
	ctx := context.Background()

	ts.server.HandleUplink(ctx, ts.uplink(frame.ConfirmedDataUp, 10, false, []byte("2:100"), gatewayA, "SF7BW125", 7))
	ts.server.HandleUplink(ctx, ts.uplink(frame.ConfirmedDataUp, 10, false, []byte("2:100"), gatewayB, "SF7BW125", 9))

	assert.Len(ts.integration.uplinks, 1)
	assert.Len(ts.gateway.txpks, 1)

	ts.T().Run("confirmed retransmission is acknowledged but not delivered", func(t *testing.T) {
		assert := require.New(t)

		ts.server.HandleUplink(ctx, ts.uplink(frame.ConfirmedDataUp, 10, false, []byte("2:100"), gatewayA, "SF7BW125", 7))
		assert.Len(ts.integration.uplinks, 1)
		assert.Len(ts.gateway.txpks, 2)

		d, _ := ts.devices.Get(testDevEUI)
		assert.Equal(uint32(2), d.FCntDown())
	})
}

func (ts *ServerTestSuite) TestReplayFromSameGateway() {
	ctx := context.Background()

	ts.T().Run("unconfirmed", func(t *testing.T) {
		assert := require.New(t)

		for i := 0; i < 5; i++ {
			ts.server.HandleUplink(ctx, ts.uplink(frame.UnconfirmedDataUp, 10, false, []byte("2:100"), gatewayA, "SF7BW125", 7))
		}

		assert.Len(ts.integration.uplinks, 1)
		assert.Len(ts.gateway.txpks, 0)
	})

	ts.T().Run("confirmed", func(t *testing.T) {
		assert := require.New(t)

		for i := 0; i < 5; i++ {
			ts.server.HandleUplink(ctx, ts.uplink(frame.ConfirmedDataUp, 11, false, []byte("2:100"), gatewayA, "SF7BW125", 7))
		}

		assert.Len(ts.integration.uplinks, 2)
		assert.Len(ts.gateway.txpks, 1+fcnt.MaxResubmissions)

		for i, txpk := range ts.gateway.txpks {
			b, err := base64.StdEncoding.DecodeString(txpk.Data)
			assert.NoError(err)
			f, err := frame.Parse(b)
			assert.NoError(err)
			assert.True(f.FCtrl.ACK())
			assert.Equal(uint16(i+1), f.FCnt)
		}

		d, _ := ts.devices.Get(testDevEUI)
		assert.Equal(uint32(1+fcnt.MaxResubmissions), d.FCntDown())
	})
}

func (ts *ServerTestSuite) TestADR() {
	assert := ts.Require()
	ctx := context.Background()

	for i := uint32(1); i < adr.TableCapacity; i++ {
		ts.server.HandleUplink(ctx, ts.uplink(frame.UnconfirmedDataUp, i, true, []byte{1}, gatewayA, "SF12BW125", 10))
	}
	assert.Len(ts.gateway.txpks, 0)

	ts.server.HandleUplink(ctx, ts.uplink(frame.UnconfirmedDataUp, adr.TableCapacity, true, []byte{1}, gatewayA, "SF12BW125", 10))
	assert.Len(ts.integration.uplinks, adr.TableCapacity)
	assert.Len(ts.gateway.txpks, 1)

	txpk := ts.gateway.txpks[0]
	assert.Equal("SF12BW125", txpk.DatR.LoRa)

	b, err := base64.StdEncoding.DecodeString(txpk.Data)
	assert.NoError(err)
	f, err := frame.Parse(b)
	assert.NoError(err)
	assert.False(f.FCtrl.ACK())
	assert.True(f.FCtrl.ADR())
	assert.Equal(uint16(1), f.FCnt)
	assert.Equal(frame.LinkADRReq(5, 3, 1, 0x0007), f.FOpts)

	d, _ := ts.devices.Get(testDevEUI)
	radio, ok := d.RadioParameters()
	assert.True(ok)
	assert.Equal(device.RadioParameters{DataRate: 5, TxPower: 3, NbRep: 1}, radio)
}

func (ts *ServerTestSuite) TestADRDeviceLimits() {
	assert := ts.Require()
	ctx := context.Background()

	maxDR := 3
	ts.facade.keys[0].MaxDataRate = &maxDR

	for i := uint32(1); i <= adr.TableCapacity; i++ {
		ts.server.HandleUplink(ctx, ts.uplink(frame.UnconfirmedDataUp, i, true, []byte{1}, gatewayA, "SF12BW125", 10))
	}
	assert.Len(ts.gateway.txpks, 1)

	b, err := base64.StdEncoding.DecodeString(ts.gateway.txpks[0].Data)
	assert.NoError(err)
	f, err := frame.Parse(b)
	assert.NoError(err)
	assert.Equal(frame.LinkADRReq(3, 5, 1, 0x0007), f.FOpts)

	d, _ := ts.devices.Get(testDevEUI)
	radio, ok := d.RadioParameters()
	assert.True(ok)
	assert.Equal(device.RadioParameters{DataRate: 3, TxPower: 5, NbRep: 1}, radio)
}

func (ts *ServerTestSuite) TestJoinRequest() {
	assert := ts.Require()
	ctx := context.Background()

	newDevAddr := lorawan.DevAddr{0x01, 0x02, 0x03, 0x04}
	joinAccept := []byte{0x20, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	ts.facade.joinAnswer = facade.JoinAnswer{
		DeviceKeys: facade.DeviceKeys{
			DevEUI:  testDevEUI,
			DevAddr: newDevAddr,
			NwkSKey: testNwkSKey,
			AppSKey: testAppSKey,
		},
		JoinAccept: joinAccept,
	}

	// state of the previous session
	_, err := ts.coordinator.NextFCntDown(ctx, testDevEUI, gatewayA.String(), 100, 5)
	assert.NoError(err)

	jr := make([]byte, 23)
	for i := 0; i < 8; i++ {
		jr[1+i] = testJoinEUI[7-i]
		jr[9+i] = testDevEUI[7-i]
	}
	binary.LittleEndian.PutUint16(jr[17:19], 0x0102)

	ts.server.HandleUplink(ctx, semtechudp.UplinkFrame{
		GatewayID: gatewayA,
		RXPK: semtechudp.RXPK{
			Tmst: 1000000,
			Freq: 868.1,
			Stat: 1,
			DatR: semtechudp.DatR{LoRa: "SF12BW125"},
			Data: base64.StdEncoding.EncodeToString(jr),
		},
	})

	assert.Len(ts.gateway.txpks, 1)
	txpk := ts.gateway.txpks[0]
	assert.Equal(uint32(6000000), *txpk.Tmst)
	assert.Equal("SF12BW125", txpk.DatR.LoRa)
	assert.Equal(base64.StdEncoding.EncodeToString(joinAccept), txpk.Data)

	d, ok := ts.devices.Get(testDevEUI)
	assert.True(ok)
	assert.Equal(newDevAddr, d.DevAddr)
	assert.Len(ts.devices.GetByDevAddr(newDevAddr), 1)

	assert.Len(ts.integration.joins, 1)
	assert.Equal(testJoinEUI, ts.integration.joins[0].JoinEUI)

	// frame-counters start over
	fCntDown, err := ts.coordinator.NextFCntDown(ctx, testDevEUI, gatewayA.String(), 0, 0)
	assert.NoError(err)
	assert.Equal(uint32(1), fCntDown)

	ts.T().Run("rejected", func(t *testing.T) {
		assert := require.New(t)

		ts.facade.joinErr = facade.ErrJoinRejected
		ts.server.HandleUplink(ctx, semtechudp.UplinkFrame{
			GatewayID: gatewayA,
			RXPK: semtechudp.RXPK{
				Tmst: 1000000,
				Freq: 868.1,
				DatR: semtechudp.DatR{LoRa: "SF12BW125"},
				Data: base64.StdEncoding.EncodeToString(jr),
			},
		})
		assert.Len(ts.gateway.txpks, 1)
		assert.Len(ts.integration.joins, 1)
	})
}

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
