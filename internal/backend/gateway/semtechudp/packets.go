package semtechudp

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// PacketType defines the packet type.
type PacketType byte

// Available packet types
const (
	PushData PacketType = iota
	PushACK
	PullData
	PullResp
	PullACK
	TXACK
)

// ProtocolVersion2 defines the packet-forwarder protocol version 2.
const ProtocolVersion2 uint8 = 0x02

// Errors
var (
	ErrInvalidProtocolVersion = errors.New("gateway: invalid protocol version")
	ErrPacketTooShort         = errors.New("gateway: packet too short")
)

func (p PacketType) String() string {
	switch p {
	case PushData:
		return "PUSH_DATA"
	case PushACK:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullACK:
		return "PULL_ACK"
	case TXACK:
		return "TX_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(p))
	}
}

// GetPacketType returns the packet type for the given packet data.
func GetPacketType(data []byte) (PacketType, error) {
	if len(data) < 4 {
		return PacketType(0), ErrPacketTooShort
	}
	if data[0] != ProtocolVersion2 {
		return PacketType(0), ErrInvalidProtocolVersion
	}
	return PacketType(data[3]), nil
}

// header holds the fields shared by every packet.
type header struct {
	Token     uint16
	GatewayID lorawan.EUI64
}

// readHeader reads the token and, when withEUI is set, the gateway EUI.
func readHeader(data []byte, withEUI bool) (header, error) {
	var h header
	min := 4
	if withEUI {
		min = 12
	}
	if len(data) < min {
		return h, ErrPacketTooShort
	}
	if data[0] != ProtocolVersion2 {
		return h, ErrInvalidProtocolVersion
	}
	h.Token = binary.LittleEndian.Uint16(data[1:3])
	if withEUI {
		copy(h.GatewayID[:], data[4:12])
	}
	return h, nil
}

// ackPacket returns the acknowledgement for the given token.
func ackPacket(token uint16, t PacketType) []byte {
	b := make([]byte, 4)
	b[0] = ProtocolVersion2
	binary.LittleEndian.PutUint16(b[1:3], token)
	b[3] = byte(t)
	return b
}

// PushDataPayload holds the JSON object of a PUSH_DATA packet.
type PushDataPayload struct {
	RXPK []RXPK `json:"rxpk,omitempty"`
	Stat *Stat  `json:"stat,omitempty"`
}

// PushDataPacket is used by the gateway to forward received RF packets and
// status information to the server.
type PushDataPacket struct {
	RandomToken uint16
	GatewayID   lorawan.EUI64
	Payload     PushDataPayload
}

// UnmarshalBinary decodes the packet from binary form.
func (p *PushDataPacket) UnmarshalBinary(data []byte) error {
	h, err := readHeader(data, true)
	if err != nil {
		return err
	}
	if PacketType(data[3]) != PushData {
		return errors.New("gateway: identifier mismatch (PUSH_DATA expected)")
	}
	p.RandomToken = h.Token
	p.GatewayID = h.GatewayID
	if err := json.Unmarshal(data[12:], &p.Payload); err != nil {
		return errors.Wrap(err, "unmarshal push_data payload error")
	}
	return nil
}

// MarshalBinary encodes the packet into binary form.
func (p PushDataPacket) MarshalBinary() ([]byte, error) {
	pb, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 12, 12+len(pb))
	out[0] = ProtocolVersion2
	binary.LittleEndian.PutUint16(out[1:3], p.RandomToken)
	out[3] = byte(PushData)
	copy(out[4:12], p.GatewayID[:])
	return append(out, pb...), nil
}

// PullDataPacket is used by the gateway to poll data from the server and to
// open the downstream route.
type PullDataPacket struct {
	RandomToken uint16
	GatewayID   lorawan.EUI64
}

// UnmarshalBinary decodes the packet from binary form.
func (p *PullDataPacket) UnmarshalBinary(data []byte) error {
	h, err := readHeader(data, true)
	if err != nil {
		return err
	}
	if PacketType(data[3]) != PullData {
		return errors.New("gateway: identifier mismatch (PULL_DATA expected)")
	}
	p.RandomToken = h.Token
	p.GatewayID = h.GatewayID
	return nil
}

// MarshalBinary encodes the packet into binary form.
func (p PullDataPacket) MarshalBinary() ([]byte, error) {
	out := make([]byte, 12)
	out[0] = ProtocolVersion2
	binary.LittleEndian.PutUint16(out[1:3], p.RandomToken)
	out[3] = byte(PullData)
	copy(out[4:12], p.GatewayID[:])
	return out, nil
}

// PullRespPayload holds the JSON object of a PULL_RESP packet.
type PullRespPayload struct {
	TXPK TXPK `json:"txpk"`
}

// PullRespPacket is used by the server to send RF packets and associated
// metadata that will have to be emitted by the gateway.
type PullRespPacket struct {
	RandomToken uint16
	Payload     PullRespPayload
}

// MarshalBinary encodes the packet into binary form.
func (p PullRespPacket) MarshalBinary() ([]byte, error) {
	pb, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(pb))
	out[0] = ProtocolVersion2
	binary.LittleEndian.PutUint16(out[1:3], p.RandomToken)
	out[3] = byte(PullResp)
	return append(out, pb...), nil
}

// UnmarshalBinary decodes the packet from binary form.
func (p *PullRespPacket) UnmarshalBinary(data []byte) error {
	h, err := readHeader(data, false)
	if err != nil {
		return err
	}
	if PacketType(data[3]) != PullResp {
		return errors.New("gateway: identifier mismatch (PULL_RESP expected)")
	}
	p.RandomToken = h.Token
	return json.Unmarshal(data[4:], &p.Payload)
}

// TXACKPayload holds the optional JSON object of a TX_ACK packet.
type TXACKPayload struct {
	TXPKACK TXPKACK `json:"txpk_ack"`
}

// TXPKACK contains the status information of the associated PULL_RESP.
type TXPKACK struct {
	Error string `json:"error"`
}

// TXACKPacket is used by the gateway to report the status of a PULL_RESP.
type TXACKPacket struct {
	RandomToken uint16
	GatewayID   lorawan.EUI64
	Payload     *TXACKPayload
}

// UnmarshalBinary decodes the packet from binary form.
func (p *TXACKPacket) UnmarshalBinary(data []byte) error {
	h, err := readHeader(data, true)
	if err != nil {
		return err
	}
	if PacketType(data[3]) != TXACK {
		return errors.New("gateway: identifier mismatch (TX_ACK expected)")
	}
	p.RandomToken = h.Token
	p.GatewayID = h.GatewayID

	body := data[12:]
	// some forwarders pad the packet with a trailing null byte
	body = []byte(strings.TrimRight(string(body), "\x00"))
	if len(body) == 0 {
		return nil
	}
	p.Payload = &TXACKPayload{}
	if err := json.Unmarshal(body, p.Payload); err != nil {
		return errors.Wrap(err, "unmarshal tx_ack payload error")
	}
	return nil
}

// Success returns true when the packet reports a successful transmission.
// A TX_ACK without payload means success. Unlike a strict reading of the
// protocol, where any payload means failure, a JSON payload with an empty
// or "NONE" error is also a success: packet-forwarder v2+ always sends it.
func (p TXACKPacket) Success() bool {
	if p.Payload == nil {
		return true
	}
	switch p.Payload.TXPKACK.Error {
	case "", "NONE":
		return true
	default:
		return false
	}
}

// RXPK contains a RF packet and associated metadata.
type RXPK struct {
	Time string  `json:"time,omitempty"`
	Tmst uint32  `json:"tmst"`
	Freq float64 `json:"freq"`
	Chan uint8   `json:"chan"`
	RFCh uint8   `json:"rfch"`
	Stat int8    `json:"stat"`
	Modu string  `json:"modu"`
	DatR DatR    `json:"datr"`
	CodR string  `json:"codr,omitempty"`
	RSSI int16   `json:"rssi"`
	LSNR float64 `json:"lsnr"`
	Size uint16  `json:"size"`
	Data string  `json:"data"`
}

// TXPK contains a RF packet to be emitted and associated metadata.
type TXPK struct {
	Imme bool    `json:"imme"`
	Tmst *uint32 `json:"tmst,omitempty"`
	Freq float64 `json:"freq"`
	RFCh uint8   `json:"rfch"`
	Powe uint8   `json:"powe"`
	Modu string  `json:"modu"`
	DatR DatR    `json:"datr"`
	CodR string  `json:"codr,omitempty"`
	IPol bool    `json:"ipol"`
	Size uint16  `json:"size"`
	Data string  `json:"data"`
	NCRC bool    `json:"ncrc,omitempty"`
}

// Stat contains the status of the gateway.
type Stat struct {
	Time string  `json:"time"`
	Lati float64 `json:"lati,omitempty"`
	Long float64 `json:"long,omitempty"`
	Alti int32   `json:"alti,omitempty"`
	RXNb uint32  `json:"rxnb"`
	RXOK uint32  `json:"rxok"`
	RXFW uint32  `json:"rxfw"`
	ACKR float64 `json:"ackr"`
	DWNb uint32  `json:"dwnb"`
	TXNb uint32  `json:"txnb"`
}

// DatR implements the data rate which can be either a string (LoRa
// identifier) or an unsigned integer in case of FSK (bits per second).
type DatR struct {
	LoRa string
	FSK  uint32
}

// MarshalJSON implements json.Marshaler.
func (d DatR) MarshalJSON() ([]byte, error) {
	if d.LoRa != "" {
		return []byte(`"` + d.LoRa + `"`), nil
	}
	return []byte(strconv.FormatUint(uint64(d.FSK), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DatR) UnmarshalJSON(data []byte) error {
	i, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		d.LoRa = strings.Trim(string(data), `"`)
		return nil
	}
	d.FSK = uint32(i)
	return nil
}

// SpreadFactorBandwidth returns the spreading-factor and bandwidth (kHz) of
// a LoRa data rate identifier like "SF7BW125".
func (d DatR) SpreadFactorBandwidth() (int, int, error) {
	var sf, bw int
	if _, err := fmt.Sscanf(d.LoRa, "SF%dBW%d", &sf, &bw); err != nil {
		return 0, 0, errors.Wrapf(err, "parse datr %q error", d.LoRa)
	}
	return sf, bw, nil
}
