package ll

import (
	"testing"

	"github.com/edgeble/llc"
)

func connTestParams() ConnParams {
	return ConnParams{ItvlMin: 0x0018, ItvlMax: 0x0018, Latency: 0, SpvnTmo: 0x0048}
}

func TestCheckConnParams(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*ConnParams)
		want llc.Status
	}{
		{"valid", func(p *ConnParams) {}, llc.StatusSuccess},
		{"itvl min low", func(p *ConnParams) { p.ItvlMin = 0x0005 }, llc.ErrInvalidParams},
		{"itvl max high", func(p *ConnParams) { p.ItvlMax = 0x0c81 }, llc.ErrInvalidParams},
		{"min above max", func(p *ConnParams) { p.ItvlMin = 0x0020 }, llc.ErrInvalidParams},
		{"latency high", func(p *ConnParams) { p.Latency = 0x01f4 }, llc.ErrInvalidParams},
		{"tmo low", func(p *ConnParams) { p.SpvnTmo = 0x0009 }, llc.ErrInvalidParams},
		{"tmo high", func(p *ConnParams) { p.SpvnTmo = 0x0c81 }, llc.ErrInvalidParams},
		{"ce len inverted", func(p *ConnParams) { p.MinCELen = 4; p.MaxCELen = 2 }, llc.ErrInvalidParams},
	}
	for _, tc := range cases {
		p := connTestParams()
		tc.mod(&p)
		if st := CheckConnParams(p); st != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, st, tc.want)
		}
	}

	// the supervision timeout must exceed (1+latency)*itvl_max*2
	p := ConnParams{ItvlMin: 0x0006, ItvlMax: 0x0c80, Latency: 0, SpvnTmo: 0x000a}
	if st := CheckConnParams(p); st != llc.ErrInvalidParams {
		t.Fatalf("timeout below effective interval accepted: %v", st)
	}
	// boundary: 40 units * 1.25 ms * 2 = 100 ms equals a timeout of 10
	p = ConnParams{ItvlMin: 0x0006, ItvlMax: 0x0028, Latency: 0, SpvnTmo: 0x000a}
	if st := CheckConnParams(p); st != llc.ErrInvalidParams {
		t.Fatalf("timeout equal to effective interval accepted: %v", st)
	}
	p.SpvnTmo = 0x000b
	if st := CheckConnParams(p); !st.Ok() {
		t.Fatalf("timeout just above effective interval rejected: %v", st)
	}
}

func createTestParams() CreateConnParams {
	return CreateConnParams{
		ScanItvl:     0x0010,
		ScanWindow:   0x0010,
		PeerAddrType: AddrTypePublic,
		PeerAddr:     [6]byte{0x41, 0x42, 0x43, 0x44, 0x45, 0x46},
		Conn:         connTestParams(),
	}
}

func TestCreateConnectionValidation(t *testing.T) {
	c, _, _, _ := newTestController(t)

	p := createTestParams()
	p.ScanWindow = 0x0020 // window above interval
	if st := c.CreateConnection(p); st != llc.ErrInvalidParams {
		t.Fatalf("window above interval: %v", st)
	}

	p = createTestParams()
	p.Conn.SpvnTmo = 0x0009
	if st := c.CreateConnection(p); st != llc.ErrInvalidParams {
		t.Fatalf("bad link params: %v", st)
	}

	p = createTestParams()
	p.OwnAddrType = AddrTypeRandom // no random address configured
	if st := c.CreateConnection(p); st != llc.ErrInvalidParams {
		t.Fatalf("random own address without one set: %v", st)
	}
}

func TestCreateConnectionCancel(t *testing.T) {
	c, _, _, rec := newTestController(t)

	if st := c.CreateConnectionCancel(); st != llc.ErrCommandDisallowed {
		t.Fatalf("cancel with nothing pending: %v", st)
	}

	if st := c.CreateConnection(createTestParams()); !st.Ok() {
		t.Fatalf("create: %v", st)
	}
	if !c.Scanner().Initiating() {
		t.Fatal("not initiating after create")
	}
	// only one creation at a time
	if st := c.CreateConnection(createTestParams()); st != llc.ErrCommandDisallowed {
		t.Fatalf("second create: %v", st)
	}

	if st := c.CreateConnectionCancel(); !st.Ok() {
		t.Fatalf("cancel: %v", st)
	}
	flush(c)

	if c.Scanner().Initiating() {
		t.Fatal("still initiating after cancel")
	}
	if len(c.ActiveConns()) != 0 {
		t.Fatal("connection slot leaked by cancel")
	}
	e := rec.last()
	if e == nil || e[0] != 0x3e || e[2] != 0x01 {
		t.Fatalf("no connection complete event after cancel: %x", e)
	}
	if llc.Status(e[3]) != llc.ErrUnknownConnID {
		t.Fatalf("cancel event status %#x, want unknown connection id", e[3])
	}
}

// newSlaveConn brings up a slave connection from a CONNECT_REQ, the way
// the advertiser hands one over.
func newSlaveConn(t *testing.T) (*Controller, *ConnSM, *evtRecorder, *ManualClock) {
	t.Helper()
	c, _, clock, rec := newTestController(t)
	clock.Set(1000)

	req := ConnectReq(BuildConnectReq(
		[6]byte{0x21, 0x22, 0x23, 0x24, 0x25, 0x26}, false, testOwnAddr, false,
		ConnectReqParams{
			AccessAddr: 0x50ab3c87,
			CRCInit:    0x00aabbcc,
			WinSize:    1,
			Interval:   0x0018,
			Latency:    0,
			Timeout:    0x0048,
			ChanMap:    [5]byte{0xff, 0xff, 0xff, 0xff, 0x1f},
			Hop:        7,
		}))
	done := make(chan struct{})
	c.post(func() {
		c.slaveConnect(req, AddrTypePublic, 1000)
		close(done)
	})
	<-done

	sm := c.findConn(0)
	if sm == nil {
		t.Fatal("no connection after connect request")
	}
	return c, sm, rec, clock
}

// onTask runs fn on the task goroutine and waits for it, then drains
// anything fn itself posted.
func onTask(c *Controller, fn func()) {
	done := make(chan struct{})
	c.post(func() {
		fn()
		close(done)
	})
	<-done
	flush(c)
}

func TestDisconnect(t *testing.T) {
	c, sm, rec, _ := newSlaveConn(t)

	if st := c.Disconnect(99, llc.ErrRemoteTerminated); st != llc.ErrUnknownConnID {
		t.Fatalf("disconnect unknown handle: %v", st)
	}
	if st := c.Disconnect(sm.handle, llc.StatusSuccess); st != llc.ErrInvalidParams {
		t.Fatalf("disconnect with illegal reason: %v", st)
	}

	if st := c.Disconnect(sm.handle, llc.ErrRemoteTerminated); !st.Ok() {
		t.Fatalf("disconnect: %v", st)
	}
	if st := c.Disconnect(sm.handle, llc.ErrRemoteTerminated); st != llc.ErrCommandDisallowed {
		t.Fatalf("second disconnect: %v", st)
	}

	ctrl := sm.txq[len(sm.txq)-1].Bytes()
	want := []byte{0x03, 0x02, LLTerminateInd, byte(llc.ErrRemoteTerminated)}
	if len(ctrl) != 4 || ctrl[0] != want[0] || ctrl[2] != want[2] || ctrl[3] != want[3] {
		t.Fatalf("terminate pdu %x, want %x", ctrl, want)
	}

	// the indication leaves the queue; the next event close reports the
	// local termination
	onTask(c, func() { sm.txDone(5000) })
	flush(c)

	if len(c.ActiveConns()) != 0 {
		t.Fatal("connection still active after termination")
	}
	e := rec.last()
	if e == nil || e[0] != 0x05 {
		t.Fatalf("no disconnection complete event: %x", e)
	}
	if llc.Status(e[5]) != llc.ErrLocalTerminated {
		t.Fatalf("disconnect reason %#x, want local terminated", e[5])
	}
}

func TestSupervisionTimeout(t *testing.T) {
	c, sm, rec, _ := newSlaveConn(t)

	// one heard event makes the link established and re-arms supervision
	onTask(c, func() { sm.closeEvent(2000, true) })
	if sm.state != connActive {
		t.Fatal("connection not active after a heard event")
	}

	// then silence past the supervision timeout
	quiet := Ticks(2000 + 0x48*SpvnTmoUnitUsecs)
	onTask(c, func() { sm.closeEvent(quiet, false) })

	if len(c.ActiveConns()) != 0 {
		t.Fatal("connection survived supervision timeout")
	}
	e := rec.last()
	if e == nil || e[0] != 0x05 || llc.Status(e[5]) != llc.ErrConnTimeout {
		t.Fatalf("expected connection timeout disconnection, got %x", e)
	}
}

func TestEstablishmentTimeout(t *testing.T) {
	c, sm, rec, _ := newSlaveConn(t)

	// six intervals pass without a single packet from the master
	late := Ticks(1000 + connEstabFactor*0x18*ConnItvlUnitUsecs)
	onTask(c, func() { sm.closeEvent(late, false) })

	if len(c.ActiveConns()) != 0 {
		t.Fatal("pending connection survived the establishment window")
	}
	e := rec.last()
	if e == nil || e[0] != 0x05 || llc.Status(e[5]) != llc.ErrConnFailedToEstab {
		t.Fatalf("expected failed-to-establish disconnection, got %x", e)
	}
}

func TestQueueData(t *testing.T) {
	c, sm, _, _ := newSlaveConn(t)

	if st := c.QueueData(99, []byte{1}); st != llc.ErrUnknownConnID {
		t.Fatalf("queue to unknown handle: %v", st)
	}

	// pool of 8 split across 2 slots: 4 packets per connection
	for i := 0; i < 4; i++ {
		if st := c.QueueData(sm.handle, []byte{byte(i)}); !st.Ok() {
			t.Fatalf("queue %d: %v", i, st)
		}
	}
	if st := c.QueueData(sm.handle, []byte{9}); st != llc.ErrMemCapacity {
		t.Fatalf("queue beyond the connection share: %v", st)
	}

	b := sm.txq[0].Bytes()
	if b[0] != 0x02 || b[1] != 1 || b[2] != 0 {
		t.Fatalf("data pdu %x, want llid 02 len 1", b)
	}

	// completions drain into the batched counter
	onTask(c, func() { sm.txDone(5000) })
	hc := c.CompletedPackets()
	if len(hc) != 1 || hc[0].Handle != sm.handle || hc[0].Count != 1 {
		t.Fatalf("completed packets %v", hc)
	}
	// and the drain is destructive
	if hc := c.CompletedPackets(); len(hc) != 0 {
		t.Fatalf("completed packets not drained: %v", hc)
	}
}

func TestReadChannelMap(t *testing.T) {
	c, sm, _, _ := newSlaveConn(t)

	m, st := c.ReadChannelMap(sm.handle)
	if !st.Ok() {
		t.Fatalf("read channel map: %v", st)
	}
	if m != [5]byte{0xff, 0xff, 0xff, 0xff, 0x1f} {
		t.Fatalf("channel map %x", m)
	}
	if _, st := c.ReadChannelMap(99); st != llc.ErrUnknownConnID {
		t.Fatalf("read map on unknown handle: %v", st)
	}
}

func TestHostChannelClassification(t *testing.T) {
	c, sm, _, _ := newSlaveConn(t)

	if st := c.SetHostChannelClassification([5]byte{}); st != llc.ErrInvalidParams {
		t.Fatalf("empty classification: %v", st)
	}

	// slave connections are not updated; the call still succeeds
	if st := c.SetHostChannelClassification([5]byte{0xff, 0x00, 0x00, 0x00, 0x00}); !st.Ok() {
		t.Fatalf("classification: %v", st)
	}
	if sm.pendingChanMap != nil {
		t.Fatal("channel map update started on a slave link")
	}

	// a master link picks it up with an instant six events out
	onTask(c, func() {
		sm.role = RoleMaster
	})
	if st := c.SetHostChannelClassification([5]byte{0xff, 0x00, 0x00, 0x00, 0x00}); !st.Ok() {
		t.Fatalf("classification: %v", st)
	}
	if sm.pendingChanMap == nil {
		t.Fatal("no pending channel map update on the master link")
	}
	if sm.pendingChanMap.instant != sm.eventCounter+6 {
		t.Fatalf("instant %d, counter %d", sm.pendingChanMap.instant, sm.eventCounter)
	}
}

func TestNextDataChan(t *testing.T) {
	sm := &ConnSM{hopInc: 7}
	sm.chanMap = [5]byte{0xff, 0xff, 0xff, 0xff, 0x1f}

	want := []uint8{7, 14, 21, 28, 35, 5, 12}
	for i, w := range want {
		if ch := sm.nextDataChan(); ch != w {
			t.Fatalf("hop %d landed on %d, want %d", i, ch, w)
		}
	}

	// a bad channel remaps into the used set
	sm = &ConnSM{hopInc: 7}
	sm.chanMap = [5]byte{0x03} // only channels 0 and 1
	if ch := sm.nextDataChan(); ch != 1 {
		t.Fatalf("remap landed on %d, want 1", ch)
	}
	if ch := sm.nextDataChan(); ch != 0 {
		t.Fatalf("remap landed on %d, want 0", ch)
	}
}

func TestInstantPassed(t *testing.T) {
	cases := []struct {
		instant, counter uint16
		want             bool
	}{
		{10, 5, false},
		{5, 10, true},
		{100, 100, false},
		{32766 + 100, 100, false},
		{32767 + 100, 100, true},
		{5, 65530, false}, // wraps forward
	}
	for _, tc := range cases {
		if got := instantPassed(tc.instant, tc.counter); got != tc.want {
			t.Fatalf("instantPassed(%d, %d) = %v, want %v", tc.instant, tc.counter, got, tc.want)
		}
	}
}
