package frame

// LinkADRReq CID.
const LinkADRReqCID byte = 0x03

// LinkADRReq encodes a LinkADRReq MAC command requesting the given data-rate,
// tx-power index and number of transmissions for the channels in chMask.
func LinkADRReq(dataRate, txPowerIndex, nbTrans int, chMask uint16) []byte {
	return []byte{
		LinkADRReqCID,
		byte(dataRate&0x0f)<<4 | byte(txPowerIndex&0x0f),
		byte(chMask),
		byte(chMask >> 8),
		byte(nbTrans & 0x0f),
	}
}
