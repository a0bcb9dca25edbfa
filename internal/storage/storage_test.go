package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/suite"

	"github.com/loraedge/edge-network-server/internal/test"
)

type StorageTestSuite struct {
	suite.Suite

	mr *miniredis.Miniredis
}

func (ts *StorageTestSuite) SetupTest() {
	mr, client := test.MustStartRedis()
	ts.mr = mr
	SetRedisClient(client)
}

func (ts *StorageTestSuite) TearDownTest() {
	ts.mr.Close()
}

func (ts *StorageTestSuite) TestJSON() {
	assert := ts.Require()
	ctx := context.Background()

	type value struct {
		A int
	}

	var v value
	assert.Equal(ErrDoesNotExist, GetJSON(ctx, RedisClient(), "foo", &v))

	assert.NoError(SetJSON(ctx, RedisClient(), "foo", value{A: 3}, time.Minute))
	assert.NoError(GetJSON(ctx, RedisClient(), "foo", &v))
	assert.Equal(3, v.A)
	assert.Equal(time.Minute, ts.mr.TTL("foo"))

	assert.NoError(ts.mr.Set("foo", "{invalid"))
	assert.Equal(ErrInvalidValue, GetJSON(ctx, RedisClient(), "foo", &v))
}

func (ts *StorageTestSuite) TestKeys() {
	assert := ts.Require()

	devEUI := lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	assert.Equal("0102030405060708:ADR", ADRTableKey(devEUI))
	assert.Equal("0102030405060708:ADR:lock", ADRLockKey(devEUI))
	assert.Equal("0102030405060708:fcnt", FCntKey(devEUI))
}

func TestStorage(t *testing.T) {
	suite.Run(t, new(StorageTestSuite))
}
