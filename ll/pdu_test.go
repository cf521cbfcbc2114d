package ll

import (
	"bytes"
	"testing"
)

func TestBuildAdvPDU(t *testing.T) {
	adva := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	data := []byte{0x02, 0x01, 0x06, 0x03, 0x03, 0x0f, 0x18}

	b, err := BuildAdvPDU(PDUAdvInd, adva, false, data)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	pdu := AdvPDU(b)
	if pdu.Type() != PDUAdvInd {
		t.Fatalf("type %d, want %d", pdu.Type(), PDUAdvInd)
	}
	if pdu.TxAdd() || pdu.RxAdd() {
		t.Fatal("address flags set on public sender")
	}
	if int(pdu.Length()) != 6+len(data) {
		t.Fatalf("length %d, want %d", pdu.Length(), 6+len(data))
	}
	got, err := pdu.AdvA()
	if err != nil {
		t.Fatalf("adva: %v", err)
	}
	if got != adva {
		t.Fatalf("adva %x, want %x", got, adva)
	}
	gd, err := pdu.AdvData()
	if err != nil {
		t.Fatalf("advdata: %v", err)
	}
	if !bytes.Equal(gd, data) {
		t.Fatalf("advdata %x, want %x", gd, data)
	}
}

func TestBuildAdvPDUDataTooLong(t *testing.T) {
	if _, err := BuildAdvPDU(PDUAdvInd, [6]byte{}, false, make([]byte, MaxAdvDataLen+1)); err == nil {
		t.Fatal("oversized adv data accepted")
	}
}

func TestBuildAdvDirectInd(t *testing.T) {
	adva := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	inita := [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}

	pdu := AdvPDU(BuildAdvDirectInd(adva, true, inita, true))
	if pdu.Type() != PDUAdvDirectInd {
		t.Fatalf("type %d", pdu.Type())
	}
	if !pdu.TxAdd() || !pdu.RxAdd() {
		t.Fatal("random address flags not set")
	}
	got, err := pdu.InitA()
	if err != nil {
		t.Fatalf("inita: %v", err)
	}
	if got != inita {
		t.Fatalf("inita %x, want %x", got, inita)
	}
}

func TestBuildScanReq(t *testing.T) {
	scana := [6]byte{1, 1, 1, 1, 1, 1}
	adva := [6]byte{2, 2, 2, 2, 2, 2}

	pdu := AdvPDU(BuildScanReq(scana, false, adva, false))
	if pdu.Type() != PDUScanReq {
		t.Fatalf("type %d", pdu.Type())
	}
	gs, err := pdu.ScanA()
	if err != nil {
		t.Fatalf("scana: %v", err)
	}
	if gs != scana {
		t.Fatalf("scana %x, want %x", gs, scana)
	}
	// AdvA of a SCAN_REQ sits behind the scanner address
	ga, err := pdu.AdvA()
	if err != nil {
		t.Fatalf("adva: %v", err)
	}
	if ga != adva {
		t.Fatalf("adva %x, want %x", ga, adva)
	}
}

func TestBuildConnectReq(t *testing.T) {
	inita := [6]byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}
	adva := [6]byte{0x61, 0x51, 0x41, 0x31, 0x21, 0x11}
	p := ConnectReqParams{
		AccessAddr: 0x50ab3c87,
		CRCInit:    0x123456,
		WinSize:    2,
		WinOffset:  4,
		Interval:   0x0018,
		Latency:    0x0002,
		Timeout:    0x0048,
		ChanMap:    [5]byte{0xff, 0xff, 0xff, 0xff, 0x1f},
		Hop:        9,
		SCA:        5,
	}

	req := ConnectReq(BuildConnectReq(inita, false, adva, true, p))

	if aa, err := req.AccessAddr(); err != nil || aa != p.AccessAddr {
		t.Fatalf("access addr %x/%v, want %x", aa, err, p.AccessAddr)
	}
	if crc, err := req.CRCInit(); err != nil || crc != p.CRCInit {
		t.Fatalf("crc init %x/%v, want %x", crc, err, p.CRCInit)
	}
	if ws, _ := req.WinSize(); ws != p.WinSize {
		t.Fatalf("win size %d, want %d", ws, p.WinSize)
	}
	if wo, _ := req.WinOffset(); wo != p.WinOffset {
		t.Fatalf("win offset %d, want %d", wo, p.WinOffset)
	}
	if iv, _ := req.Interval(); iv != p.Interval {
		t.Fatalf("interval %d, want %d", iv, p.Interval)
	}
	if lat, _ := req.Latency(); lat != p.Latency {
		t.Fatalf("latency %d, want %d", lat, p.Latency)
	}
	if tmo, _ := req.Timeout(); tmo != p.Timeout {
		t.Fatalf("timeout %d, want %d", tmo, p.Timeout)
	}
	if m, _ := req.ChanMap(); m != p.ChanMap {
		t.Fatalf("chan map %x, want %x", m, p.ChanMap)
	}
	if hop, _ := req.Hop(); hop != p.Hop {
		t.Fatalf("hop %d, want %d", hop, p.Hop)
	}
	if sca, _ := req.SCA(); sca != p.SCA {
		t.Fatalf("sca %d, want %d", sca, p.SCA)
	}

	pdu := AdvPDU(req)
	ia, err := pdu.InitA()
	if err != nil || ia != inita {
		t.Fatalf("inita %x/%v, want %x", ia, err, inita)
	}
	aa, err := pdu.AdvA()
	if err != nil || aa != adva {
		t.Fatalf("adva %x/%v, want %x", aa, err, adva)
	}
	if pdu.TxAdd() {
		t.Fatal("txadd set for public initiator")
	}
	if !pdu.RxAdd() {
		t.Fatal("rxadd not set for random advertiser")
	}
}

func TestConnectReqMalformed(t *testing.T) {
	// wrong PDU type
	b, _ := BuildAdvPDU(PDUAdvInd, [6]byte{}, false, nil)
	if _, err := ConnectReq(b).AccessAddr(); err == nil {
		t.Fatal("access addr read off an ADV_IND")
	}

	// truncated body behind a full-length header
	full := BuildConnectReq([6]byte{}, false, [6]byte{}, false, ConnectReqParams{})
	if _, err := ConnectReq(full[:20]).Interval(); err == nil {
		t.Fatal("interval read off a truncated connect request")
	}
}

func TestAdvPDUShortBuffer(t *testing.T) {
	if _, err := AdvPDU(nil).TypeWErr(); err == nil {
		t.Fatal("type read off an empty buffer")
	}
	if _, err := AdvPDU([]byte{0x00, 0x10}).AdvA(); err == nil {
		t.Fatal("adva read past the buffer")
	}
	// header length larger than the actual payload
	if _, err := AdvPDU([]byte{0x00, 0x20, 1, 2, 3}).Payload(); err == nil {
		t.Fatal("payload read past the buffer")
	}
}

func TestAdvDataWrongType(t *testing.T) {
	b := BuildScanReq([6]byte{}, false, [6]byte{}, false)
	if _, err := AdvPDU(b).AdvData(); err == nil {
		t.Fatal("adv data read off a SCAN_REQ")
	}
}
