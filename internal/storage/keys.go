package storage

import (
	"github.com/brocaar/lorawan"
)

const (
	adrTableKeyTempl = "%s:ADR"
	adrLockKeyTempl  = "%s:ADR:lock"
	fCntKeyTempl     = "%s:fcnt"
	fCntLockKeyTempl = "%s:fcnt:lock"
)

// ADRTableKey returns the key holding the ADR table of the device.
func ADRTableKey(devEUI lorawan.EUI64) string {
	return GetRedisKey(adrTableKeyTempl, devEUI)
}

// ADRLockKey returns the key of the ADR table lease.
func ADRLockKey(devEUI lorawan.EUI64) string {
	return GetRedisKey(adrLockKeyTempl, devEUI)
}

// FCntKey returns the key holding the frame-counter state of the device.
func FCntKey(devEUI lorawan.EUI64) string {
	return GetRedisKey(fCntKeyTempl, devEUI)
}

// FCntLockKey returns the key of the frame-counter lease.
func FCntLockKey(devEUI lorawan.EUI64) string {
	return GetRedisKey(fCntLockKeyTempl, devEUI)
}
