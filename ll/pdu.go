package ll

import (
	"encoding/binary"
	"fmt"
)

// Advertising channel PDU types [Vol 6, Part B, 2.3].
const (
	PDUAdvInd        = 0x00
	PDUAdvDirectInd  = 0x01
	PDUAdvNonconnInd = 0x02
	PDUScanReq       = 0x03
	PDUScanRsp       = 0x04
	PDUConnectReq    = 0x05
	PDUAdvScanInd    = 0x06
)

const (
	pduHdrLen        = 2
	advPayloadMax    = 37 // AdvA plus up to 31 bytes of data
	MaxAdvDataLen    = 31
	connectReqPayLen = 34
	scanReqPayLen    = 12

	hdrTxAdd = 0x40
	hdrRxAdd = 0x80
)

// Advertising access address and CRC init used on channels 37-39
// [Vol 6, Part B, 2.1.2].
const (
	AdvAccessAddr = 0x8e89bed6
	AdvCRCInit    = 0x555555
)

// AdvPDU is a view over a raw advertising-channel PDU. All accessors
// check the advertised length against the buffer before reading;
// malformed PDUs surface errors instead of panics.
type AdvPDU []byte

func (p AdvPDU) TypeWErr() (uint8, error) {
	b, err := getByte(p, 0, 0xff)
	return b & 0x0f, err
}

func (p AdvPDU) Type() uint8 {
	v, _ := p.TypeWErr()
	return v
}

// TxAdd reports the transmitter address type flag (set = random).
func (p AdvPDU) TxAdd() bool {
	b, _ := getByte(p, 0, 0)
	return b&hdrTxAdd != 0
}

// RxAdd reports the receiver address type flag (set = random).
func (p AdvPDU) RxAdd() bool {
	b, _ := getByte(p, 0, 0)
	return b&hdrRxAdd != 0
}

func (p AdvPDU) Length() uint8 {
	v, _ := getByte(p, 1, 0)
	return v & 0x3f
}

// Payload returns the PDU body, checked against the header length.
func (p AdvPDU) Payload() ([]byte, error) {
	return getBytes(p, pduHdrLen, int(p.Length()))
}

// AdvA returns the advertiser address carried in the first six payload
// bytes (valid for every advertising PDU type except SCAN_REQ and
// CONNECT_REQ, where it sits behind the initiator/scanner address).
func (p AdvPDU) AdvA() ([6]byte, error) {
	t, err := p.TypeWErr()
	if err != nil {
		return [6]byte{}, err
	}
	off := pduHdrLen
	if t == PDUScanReq || t == PDUConnectReq {
		off += 6
	}
	return getAddr(p, off)
}

// ScanA returns the scanner address of a SCAN_REQ.
func (p AdvPDU) ScanA() ([6]byte, error) {
	if t := p.Type(); t != PDUScanReq {
		return [6]byte{}, fmt.Errorf("ll: scana on pdu type %d", t)
	}
	return getAddr(p, pduHdrLen)
}

// InitA returns the initiator address of a CONNECT_REQ or the target
// address of an ADV_DIRECT_IND.
func (p AdvPDU) InitA() ([6]byte, error) {
	switch p.Type() {
	case PDUConnectReq:
		return getAddr(p, pduHdrLen)
	case PDUAdvDirectInd:
		return getAddr(p, pduHdrLen+6)
	}
	return [6]byte{}, fmt.Errorf("ll: inita on pdu type %d", p.Type())
}

// AdvData returns the advertising data of an ADV_IND/ADV_NONCONN_IND/
// ADV_SCAN_IND or the scan-response data of a SCAN_RSP.
func (p AdvPDU) AdvData() ([]byte, error) {
	switch p.Type() {
	case PDUAdvInd, PDUAdvNonconnInd, PDUAdvScanInd, PDUScanRsp:
	default:
		return nil, fmt.Errorf("ll: advdata on pdu type %d", p.Type())
	}
	n := int(p.Length())
	if n < 6 {
		return nil, fmt.Errorf("ll: short adv pdu (len %d)", n)
	}
	return getBytes(p, pduHdrLen+6, n-6)
}

// ConnectReq is a checked view over a CONNECT_REQ payload
// [Vol 6, Part B, 2.3.3.1].
type ConnectReq AdvPDU

func (p ConnectReq) valid() error {
	if AdvPDU(p).Type() != PDUConnectReq {
		return fmt.Errorf("ll: not a connect request")
	}
	if int(AdvPDU(p).Length()) != connectReqPayLen || len(p) < pduHdrLen+connectReqPayLen {
		return fmt.Errorf("ll: bad connect request length %d", AdvPDU(p).Length())
	}
	return nil
}

func (p ConnectReq) AccessAddr() (uint32, error) {
	if err := p.valid(); err != nil {
		return 0, err
	}
	b, _ := getBytes(p, pduHdrLen+12, 4)
	return binary.LittleEndian.Uint32(b), nil
}

func (p ConnectReq) CRCInit() (uint32, error) {
	if err := p.valid(); err != nil {
		return 0, err
	}
	b, _ := getBytes(p, pduHdrLen+16, 3)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func (p ConnectReq) WinSize() (uint8, error) {
	if err := p.valid(); err != nil {
		return 0, err
	}
	return getByte(p, pduHdrLen+19, 0)
}

func (p ConnectReq) WinOffset() (uint16, error) {
	if err := p.valid(); err != nil {
		return 0, err
	}
	return getUint16LE(p, pduHdrLen+20, 0)
}

func (p ConnectReq) Interval() (uint16, error) {
	if err := p.valid(); err != nil {
		return 0, err
	}
	return getUint16LE(p, pduHdrLen+22, 0)
}

func (p ConnectReq) Latency() (uint16, error) {
	if err := p.valid(); err != nil {
		return 0, err
	}
	return getUint16LE(p, pduHdrLen+24, 0)
}

func (p ConnectReq) Timeout() (uint16, error) {
	if err := p.valid(); err != nil {
		return 0, err
	}
	return getUint16LE(p, pduHdrLen+26, 0)
}

func (p ConnectReq) ChanMap() ([5]byte, error) {
	var m [5]byte
	if err := p.valid(); err != nil {
		return m, err
	}
	b, _ := getBytes(p, pduHdrLen+28, 5)
	copy(m[:], b)
	return m, nil
}

func (p ConnectReq) Hop() (uint8, error) {
	if err := p.valid(); err != nil {
		return 0, err
	}
	b, _ := getByte(p, pduHdrLen+33, 0)
	return b & 0x1f, nil
}

func (p ConnectReq) SCA() (uint8, error) {
	if err := p.valid(); err != nil {
		return 0, err
	}
	b, _ := getByte(p, pduHdrLen+33, 0)
	return b >> 5, nil
}

func pduHdr(typ uint8, txRandom, rxRandom bool, payLen int) [2]byte {
	h := typ & 0x0f
	if txRandom {
		h |= hdrTxAdd
	}
	if rxRandom {
		h |= hdrRxAdd
	}
	return [2]byte{h, uint8(payLen) & 0x3f}
}

// BuildAdvPDU assembles an ADV_IND/ADV_NONCONN_IND/ADV_SCAN_IND or
// SCAN_RSP: AdvA followed by the (scan-response) data.
func BuildAdvPDU(typ uint8, advA [6]byte, txRandom bool, data []byte) ([]byte, error) {
	if len(data) > MaxAdvDataLen {
		return nil, fmt.Errorf("ll: adv data %d exceeds %d", len(data), MaxAdvDataLen)
	}
	h := pduHdr(typ, txRandom, false, 6+len(data))
	b := make([]byte, 0, pduHdrLen+6+len(data))
	b = append(b, h[0], h[1])
	b = append(b, advA[:]...)
	return append(b, data...), nil
}

// BuildAdvDirectInd assembles an ADV_DIRECT_IND: AdvA then InitA.
func BuildAdvDirectInd(advA [6]byte, txRandom bool, initA [6]byte, rxRandom bool) []byte {
	h := pduHdr(PDUAdvDirectInd, txRandom, rxRandom, 12)
	b := make([]byte, 0, pduHdrLen+12)
	b = append(b, h[0], h[1])
	b = append(b, advA[:]...)
	return append(b, initA[:]...)
}

// BuildScanReq assembles a SCAN_REQ: ScanA then AdvA.
func BuildScanReq(scanA [6]byte, txRandom bool, advA [6]byte, rxRandom bool) []byte {
	h := pduHdr(PDUScanReq, txRandom, rxRandom, scanReqPayLen)
	b := make([]byte, 0, pduHdrLen+scanReqPayLen)
	b = append(b, h[0], h[1])
	b = append(b, scanA[:]...)
	return append(b, advA[:]...)
}

// ConnectReqParams are the timing fields carried by a CONNECT_REQ.
type ConnectReqParams struct {
	AccessAddr uint32
	CRCInit    uint32
	WinSize    uint8
	WinOffset  uint16
	Interval   uint16
	Latency    uint16
	Timeout    uint16
	ChanMap    [5]byte
	Hop        uint8
	SCA        uint8
}

// BuildConnectReq assembles a CONNECT_REQ: InitA, AdvA, then the link
// parameters.
func BuildConnectReq(initA [6]byte, txRandom bool, advA [6]byte, rxRandom bool, p ConnectReqParams) []byte {
	h := pduHdr(PDUConnectReq, txRandom, rxRandom, connectReqPayLen)
	b := make([]byte, pduHdrLen+connectReqPayLen)
	b[0], b[1] = h[0], h[1]
	copy(b[2:], initA[:])
	copy(b[8:], advA[:])
	binary.LittleEndian.PutUint32(b[14:], p.AccessAddr)
	b[18] = byte(p.CRCInit)
	b[19] = byte(p.CRCInit >> 8)
	b[20] = byte(p.CRCInit >> 16)
	b[21] = p.WinSize
	binary.LittleEndian.PutUint16(b[22:], p.WinOffset)
	binary.LittleEndian.PutUint16(b[24:], p.Interval)
	binary.LittleEndian.PutUint16(b[26:], p.Latency)
	binary.LittleEndian.PutUint16(b[28:], p.Timeout)
	copy(b[30:], p.ChanMap[:])
	b[35] = (p.Hop & 0x1f) | (p.SCA << 5)
	return b
}

func getAddr(b []byte, i int) ([6]byte, error) {
	var a [6]byte
	bb, err := getBytes(b, i, 6)
	if err != nil {
		return a, err
	}
	copy(a[:], bb)
	return a, nil
}

//get or default
func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

//get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(b []byte, start int, count int) ([]byte, error) {
	if b == nil || start > len(b) {
		return nil, fmt.Errorf("index error")
	}
	if count < 0 {
		return b[start:], nil
	}
	end := start + count
	//end is non-inclusive
	if end > len(b) {
		return nil, fmt.Errorf("index error")
	}
	return b[start:end], nil
}
