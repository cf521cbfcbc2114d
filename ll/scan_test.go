package ll

import (
	"bytes"
	"testing"

	"github.com/edgeble/llc"
)

func scanTestParams() ScanParams {
	return ScanParams{ScanType: ScanTypePassive, Itvl: 0x0010, Window: 0x0010}
}

// openScanWindow fires the pending scan window callback.
func openScanWindow(c *Controller, clock *ManualClock, at Ticks) {
	clock.Set(at)
	c.Tick(at)
}

func TestScanSetParamsValidation(t *testing.T) {
	c, _, _, _ := newTestController(t)
	s := c.Scanner()

	cases := []struct {
		name string
		mod  func(*ScanParams)
		want llc.Status
	}{
		{"valid", func(p *ScanParams) {}, llc.StatusSuccess},
		{"bad type", func(p *ScanParams) { p.ScanType = 0x02 }, llc.ErrInvalidParams},
		{"itvl low", func(p *ScanParams) { p.Itvl = 0x0003 }, llc.ErrInvalidParams},
		{"window low", func(p *ScanParams) { p.Window = 0x0003 }, llc.ErrInvalidParams},
		{"window above itvl", func(p *ScanParams) { p.Window = 0x0020 }, llc.ErrInvalidParams},
		{"bad own addr type", func(p *ScanParams) { p.OwnAddrType = 0x02 }, llc.ErrInvalidParams},
		{"bad filter policy", func(p *ScanParams) { p.FilterPolicy = 0x02 }, llc.ErrInvalidParams},
	}
	for _, tc := range cases {
		p := scanTestParams()
		tc.mod(&p)
		if st := s.SetParams(p); st != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, st, tc.want)
		}
	}

	if st := s.SetEnable(true, false); !st.Ok() {
		t.Fatalf("enable: %v", st)
	}
	if st := s.SetParams(scanTestParams()); st != llc.ErrCommandDisallowed {
		t.Fatalf("set params while scanning: %v", st)
	}
	if st := s.SetEnable(true, false); !st.Ok() {
		t.Fatalf("enable while enabled: %v", st)
	}
}

func TestScanWindowWalk(t *testing.T) {
	c, radio, clock, _ := newTestController(t)
	s := c.Scanner()

	if st := s.SetParams(scanTestParams()); !st.Ok() {
		t.Fatalf("set params: %v", st)
	}
	if st := s.SetEnable(true, false); !st.Ok() {
		t.Fatalf("enable: %v", st)
	}

	itvl := Ticks(0x0010) * ScanItvlUnitUsecs
	openScanWindow(c, clock, IFSUsecs)
	openScanWindow(c, clock, IFSUsecs+itvl)
	openScanWindow(c, clock, IFSUsecs+2*itvl)
	openScanWindow(c, clock, IFSUsecs+3*itvl)

	chans := radio.opsOf("chan")
	if len(chans) != 4 {
		t.Fatalf("%d windows opened, want 4", len(chans))
	}
	for i, want := range []uint8{37, 38, 39, 37} {
		if chans[i].ch != want {
			t.Fatalf("window %d on channel %d, want %d", i, chans[i].ch, want)
		}
	}
	if len(radio.opsOf("rx")) != 4 {
		t.Fatal("windows opened without listening")
	}

	if st := s.SetEnable(false, false); !st.Ok() {
		t.Fatalf("disable: %v", st)
	}
	if _, ok := c.sched.NextWakeup(); ok {
		t.Fatal("scan window still scheduled after disable")
	}
}

func TestScanReport(t *testing.T) {
	c, _, clock, rec := newTestController(t)
	s := c.Scanner()

	if st := s.SetParams(scanTestParams()); !st.Ok() {
		t.Fatalf("set params: %v", st)
	}
	if st := s.SetEnable(true, false); !st.Ok() {
		t.Fatalf("enable: %v", st)
	}
	openScanWindow(c, clock, IFSUsecs)

	adva := [6]byte{0x51, 0x52, 0x53, 0x54, 0x55, 0x56}
	data := []byte{0x02, 0x01, 0x06}
	pdu, _ := BuildAdvPDU(PDUAdvInd, adva, true, data)
	c.RxPDU(pdu, -55, 500)
	flush(c)

	e := rec.last()
	if e == nil || e[0] != 0x3e || e[2] != 0x02 {
		t.Fatalf("no advertising report: %x", e)
	}
	// one report: event type, random address, payload, rssi at the tail
	if e[3] != 1 {
		t.Fatalf("report count %d, want 1", e[3])
	}
	if e[4] != reportAdvInd {
		t.Fatalf("report event type %d", e[4])
	}
	if e[5] != AddrTypeRandom {
		t.Fatalf("report addr type %d", e[5])
	}
	if !bytes.Equal(e[6:12], adva[:]) {
		t.Fatalf("report address %x, want %x", e[6:12], adva)
	}
	if int(e[12]) != len(data) || !bytes.Equal(e[13:13+len(data)], data) {
		t.Fatalf("report data %x", e[12:])
	}
	if int8(e[len(e)-1]) != -55 {
		t.Fatalf("report rssi %d, want -55", int8(e[len(e)-1]))
	}
}

func TestScanDuplicateFilter(t *testing.T) {
	c, _, clock, rec := newTestController(t)
	s := c.Scanner()

	s.SetParams(scanTestParams())
	if st := s.SetEnable(true, true); !st.Ok() {
		t.Fatalf("enable: %v", st)
	}
	openScanWindow(c, clock, IFSUsecs)

	adva := [6]byte{0x51, 0x52, 0x53, 0x54, 0x55, 0x56}
	pdu, _ := BuildAdvPDU(PDUAdvInd, adva, false, nil)
	c.RxPDU(pdu, -55, 500)
	c.RxPDU(pdu, -60, 600)
	flush(c)

	if rec.count() != 1 {
		t.Fatalf("%d reports for a duplicate advertiser, want 1", rec.count())
	}
	if s.Stats().Dups != 1 {
		t.Fatalf("dup counter %d, want 1", s.Stats().Dups)
	}

	// a different PDU type from the same advertiser still reports
	scanInd, _ := BuildAdvPDU(PDUAdvScanInd, adva, false, nil)
	c.RxPDU(scanInd, -55, 700)
	flush(c)
	if rec.count() != 2 {
		t.Fatalf("%d reports, want 2", rec.count())
	}
}

func TestScanWhitelistFilter(t *testing.T) {
	c, _, clock, rec := newTestController(t)
	s := c.Scanner()

	listed := [6]byte{0x51, 0x52, 0x53, 0x54, 0x55, 0x56}
	c.Whitelist().Add(listed, AddrTypePublic)

	p := scanTestParams()
	p.FilterPolicy = ScanFilterWL
	s.SetParams(p)
	if st := s.SetEnable(true, false); !st.Ok() {
		t.Fatalf("enable: %v", st)
	}
	openScanWindow(c, clock, IFSUsecs)

	stranger, _ := BuildAdvPDU(PDUAdvInd, [6]byte{9, 9, 9, 9, 9, 9}, false, nil)
	c.RxPDU(stranger, -55, 500)
	flush(c)
	if rec.count() != 0 {
		t.Fatal("unlisted advertiser reported under whitelist policy")
	}
	if s.Stats().Filtered != 1 {
		t.Fatalf("filtered counter %d, want 1", s.Stats().Filtered)
	}

	ok, _ := BuildAdvPDU(PDUAdvInd, listed, false, nil)
	c.RxPDU(ok, -55, 600)
	flush(c)
	if rec.count() != 1 {
		t.Fatal("listed advertiser not reported")
	}
}

func TestActiveScan(t *testing.T) {
	c, radio, clock, rec := newTestController(t)
	s := c.Scanner()

	p := scanTestParams()
	p.ScanType = ScanTypeActive
	s.SetParams(p)
	if st := s.SetEnable(true, false); !st.Ok() {
		t.Fatalf("enable: %v", st)
	}
	openScanWindow(c, clock, IFSUsecs)
	radio.clear()

	adva := [6]byte{0x51, 0x52, 0x53, 0x54, 0x55, 0x56}
	pdu, _ := BuildAdvPDU(PDUAdvInd, adva, false, nil)
	c.RxPDU(pdu, -55, 500)
	flush(c)

	req := AdvPDU(radio.lastTx())
	if req == nil || req.Type() != PDUScanReq {
		t.Fatalf("no scan request on the air: %x", radio.lastTx())
	}
	if sa, _ := req.ScanA(); sa != testOwnAddr {
		t.Fatalf("scan request scana %x", sa)
	}
	if aa, _ := req.AdvA(); aa != adva {
		t.Fatalf("scan request adva %x", aa)
	}

	// the solicited response reports; an unsolicited one does not
	other := [6]byte{9, 9, 9, 9, 9, 9}
	unsolicited, _ := BuildAdvPDU(PDUScanRsp, other, false, nil)
	c.RxPDU(unsolicited, -55, 600)
	rsp, _ := BuildAdvPDU(PDUScanRsp, adva, false, []byte{0x03, 0x09, 'h', 'i'})
	c.RxPDU(rsp, -55, 700)
	flush(c)

	// one ADV_IND report plus one SCAN_RSP report
	if rec.count() != 2 {
		t.Fatalf("%d reports, want 2", rec.count())
	}
	e := rec.last()
	if e[4] != reportScanRsp {
		t.Fatalf("report event type %d, want scan response", e[4])
	}
}

func TestInitiatorConnects(t *testing.T) {
	c, radio, clock, rec := newTestController(t)

	peer := [6]byte{0x41, 0x42, 0x43, 0x44, 0x45, 0x46}
	if st := c.CreateConnection(createTestParams()); !st.Ok() {
		t.Fatalf("create connection: %v", st)
	}
	openScanWindow(c, clock, IFSUsecs)
	radio.clear()

	// a stranger's ADV_IND does not trigger the request
	stranger, _ := BuildAdvPDU(PDUAdvInd, [6]byte{9, 9, 9, 9, 9, 9}, false, nil)
	c.RxPDU(stranger, -55, 500)
	if radio.lastTx() != nil {
		t.Fatal("connect request sent to the wrong advertiser")
	}

	pdu, _ := BuildAdvPDU(PDUAdvInd, peer, false, nil)
	c.RxPDU(pdu, -55, 600)
	flush(c)

	req := ConnectReq(radio.lastTx())
	if AdvPDU(req).Type() != PDUConnectReq {
		t.Fatalf("no connect request on the air: %x", radio.lastTx())
	}
	if ia, _ := AdvPDU(req).InitA(); ia != testOwnAddr {
		t.Fatalf("connect request inita %x", ia)
	}
	if aa, _ := AdvPDU(req).AdvA(); aa != peer {
		t.Fatalf("connect request adva %x", aa)
	}
	if hop, _ := req.Hop(); hop < 5 || hop > 16 {
		t.Fatalf("hop increment %d outside 5..16", hop)
	}
	if iv, _ := req.Interval(); iv != 0x0018 {
		t.Fatalf("connect request interval %d", iv)
	}

	if c.Scanner().Initiating() {
		t.Fatal("still initiating after the connect request")
	}
	hh := c.ActiveConns()
	if len(hh) != 1 {
		t.Fatalf("%d active connections, want 1", len(hh))
	}
	sm := c.findConn(hh[0])
	if sm.role != RoleMaster || sm.peerAddr != peer {
		t.Fatalf("connection role %d peer %x", sm.role, sm.peerAddr)
	}

	e := rec.last()
	if e == nil || e[0] != 0x3e || e[2] != 0x01 || e[3] != 0x00 {
		t.Fatalf("no connection complete event: %x", e)
	}
	if e[6] != RoleMaster {
		t.Fatalf("connection complete role %d, want master", e[6])
	}
}

func TestInitiatorDirectedAtUs(t *testing.T) {
	c, radio, clock, _ := newTestController(t)

	peer := [6]byte{0x41, 0x42, 0x43, 0x44, 0x45, 0x46}
	if st := c.CreateConnection(createTestParams()); !st.Ok() {
		t.Fatalf("create connection: %v", st)
	}
	openScanWindow(c, clock, IFSUsecs)
	radio.clear()

	// directed at somebody else: ignored
	misdirected := BuildAdvDirectInd(peer, false, [6]byte{9, 9, 9, 9, 9, 9}, false)
	c.RxPDU(misdirected, -55, 500)
	if radio.lastTx() != nil {
		t.Fatal("answered directed advertising aimed elsewhere")
	}

	directed := BuildAdvDirectInd(peer, false, testOwnAddr, false)
	c.RxPDU(directed, -55, 600)
	flush(c)

	if AdvPDU(radio.lastTx()).Type() != PDUConnectReq {
		t.Fatal("no connect request for directed advertising aimed at us")
	}
	if len(c.ActiveConns()) != 1 {
		t.Fatal("no connection from directed advertising")
	}
}

func TestInitiatorWhitelist(t *testing.T) {
	c, radio, clock, _ := newTestController(t)

	listed := [6]byte{0x61, 0x62, 0x63, 0x64, 0x65, 0x66}
	c.Whitelist().Add(listed, AddrTypePublic)

	p := createTestParams()
	p.FilterPolicy = 0x01
	if st := c.CreateConnection(p); !st.Ok() {
		t.Fatalf("create connection: %v", st)
	}
	openScanWindow(c, clock, IFSUsecs)
	radio.clear()

	stranger, _ := BuildAdvPDU(PDUAdvInd, [6]byte{9, 9, 9, 9, 9, 9}, false, nil)
	c.RxPDU(stranger, -55, 500)
	if radio.lastTx() != nil {
		t.Fatal("connect request sent to an unlisted advertiser")
	}

	pdu, _ := BuildAdvPDU(PDUAdvInd, listed, false, nil)
	c.RxPDU(pdu, -55, 600)
	flush(c)
	if AdvPDU(radio.lastTx()).Type() != PDUConnectReq {
		t.Fatal("no connect request for a listed advertiser")
	}
}
