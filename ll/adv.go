package ll

import (
	"math/rand"
	"sync/atomic"

	"github.com/edgeble/llc"
)

// Address types carried in HCI parameters and PDU header flags.
const (
	AddrTypePublic uint8 = 0x00
	AddrTypeRandom uint8 = 0x01
)

// Advertising types [Vol 2, Part E, 7.8.5].
const (
	AdvTypeInd          uint8 = 0x00 // connectable undirected
	AdvTypeDirectIndHD  uint8 = 0x01 // connectable directed, high duty cycle
	AdvTypeScanInd      uint8 = 0x02 // scannable undirected
	AdvTypeNonconnInd   uint8 = 0x03 // non-connectable undirected
	AdvTypeDirectIndLD  uint8 = 0x04 // connectable directed, low duty cycle
	advTypeMax                = AdvTypeDirectIndLD
)

// Advertising filter policies [Vol 6, Part B, 4.3.2].
const (
	AdvFilterNone        uint8 = 0x00
	AdvFilterScanWL      uint8 = 0x01
	AdvFilterConnWL      uint8 = 0x02
	AdvFilterScanConnWL  uint8 = 0x03
	advFilterPolicyMax         = AdvFilterScanConnWL
)

const (
	AdvItvlMin = 0x0020
	AdvItvlMax = 0x4000

	advChanFirst   = 37
	advChanLast    = 39
	advChanMaskAll = 0x07

	// Worst case on-air time for one advertising channel: the PDU, a
	// request after T_IFS and our reply after another T_IFS.
	advSlotUsecs = 2200

	// advDelay randomization span between advertising events.
	advDelayMaxUsecs = 10000

	// High duty cycle directed advertising paces PDUs at <= 3.75 ms
	// and self-disables after 1.28 s [Vol 6, Part B, 4.4.2.4].
	hdDirectedItvlUsecs    = 3750
	hdDirectedTimeoutUsecs = 1280000
)

// AdvParams is the validated Set Advertising Parameters payload.
type AdvParams struct {
	ItvlMin      uint16
	ItvlMax      uint16
	AdvType      uint8
	OwnAddrType  uint8
	PeerAddrType uint8
	PeerAddr     [6]byte
	ChanMap      uint8
	FilterPolicy uint8
}

// AdvStats counts per-operation degradations; none of them corrupt the
// state machine.
type AdvStats struct {
	TxFailed     uint32
	NoBuffers    uint32
	LateStarts   uint32
	ScanReqs     uint32
	ScanRsps     uint32
	ConnectReqs  uint32
	EventsDone   uint32
}

// Advertiser owns the single in-flight advertising configuration and
// walks the advertising channels. Parameter/enable mutations run in
// task context; txDone/rxPDU run on the radio callback context and
// communicate back only via posted events.
type Advertiser struct {
	c *Controller

	enabled int32 // atomic; read on the isr fast path

	p         AdvParams
	itvlUsecs Ticks

	advData     []byte
	scanRspData []byte

	advPDU     []byte
	scanRspPDU []byte

	chanIdx    uint8 // current channel, 37..39
	eventStart Ticks // schedule time of the first channel of this event

	directedDeadline Ticks
	scanRspInFlight  bool

	item SchedItem

	stats AdvStats
}

func newAdvertiser(c *Controller) *Advertiser {
	a := &Advertiser{c: c}
	a.p = AdvParams{
		ItvlMin:  0x0800,
		ItvlMax:  0x0800,
		ChanMap:  advChanMaskAll,
	}
	a.item.Type = SchedTypeAdv
	a.item.Cb = a.schedCb
	a.item.Arg = a
	return a
}

// Enabled reports whether advertising is on. Safe from any context.
func (a *Advertiser) Enabled() bool {
	return atomic.LoadInt32(&a.enabled) != 0
}

func (a *Advertiser) usesWhitelist() bool {
	return a.Enabled() && a.p.FilterPolicy != AdvFilterNone
}

func (a *Advertiser) connectable() bool {
	switch a.p.AdvType {
	case AdvTypeInd, AdvTypeDirectIndHD, AdvTypeDirectIndLD:
		return true
	}
	return false
}

func (a *Advertiser) scannable() bool {
	return a.p.AdvType == AdvTypeInd || a.p.AdvType == AdvTypeScanInd
}

func (a *Advertiser) directed() bool {
	return a.p.AdvType == AdvTypeDirectIndHD || a.p.AdvType == AdvTypeDirectIndLD
}

// SetParams validates and stores advertising parameters. Only legal
// while disabled; any violation leaves the previous parameters intact.
func (a *Advertiser) SetParams(p AdvParams) llc.Status {
	if a.Enabled() {
		return llc.ErrCommandDisallowed
	}

	if p.AdvType > advTypeMax {
		return llc.ErrInvalidParams
	}
	if p.AdvType == AdvTypeDirectIndHD {
		// High duty cycle directed advertising has no interval and no
		// filter policy.
		p.ItvlMin = 0
		p.ItvlMax = 0
		p.FilterPolicy = AdvFilterNone
	} else {
		if p.ItvlMin < AdvItvlMin || p.ItvlMin > AdvItvlMax ||
			p.ItvlMax < AdvItvlMin || p.ItvlMax > AdvItvlMax ||
			p.ItvlMin > p.ItvlMax {
			return llc.ErrInvalidParams
		}
		if p.FilterPolicy > advFilterPolicyMax {
			return llc.ErrInvalidParams
		}
	}
	if p.OwnAddrType > AddrTypeRandom || p.PeerAddrType > AddrTypeRandom {
		return llc.ErrInvalidParams
	}
	if p.ChanMap == 0 || p.ChanMap > advChanMaskAll {
		return llc.ErrInvalidParams
	}

	a.p = p
	if p.AdvType == AdvTypeDirectIndHD {
		a.itvlUsecs = hdDirectedItvlUsecs
	} else {
		a.itvlUsecs = Ticks(p.ItvlMax) * AdvItvlUnitUsecs
	}
	return llc.StatusSuccess
}

// SetAdvData stores up to 31 bytes of advertising data.
func (a *Advertiser) SetAdvData(b []byte) llc.Status {
	if len(b) > MaxAdvDataLen {
		return llc.ErrInvalidParams
	}
	a.advData = append(a.advData[:0], b...)
	if a.Enabled() {
		// data changes take effect on the next event
		a.rebuildPDUs()
	}
	return llc.StatusSuccess
}

// SetScanRspData stores up to 31 bytes of scan response data.
func (a *Advertiser) SetScanRspData(b []byte) llc.Status {
	if len(b) > MaxAdvDataLen {
		return llc.ErrInvalidParams
	}
	a.scanRspData = append(a.scanRspData[:0], b...)
	if a.Enabled() {
		a.rebuildPDUs()
	}
	return llc.StatusSuccess
}

func (a *Advertiser) ownAddr() ([6]byte, bool, llc.Status) {
	if a.p.OwnAddrType == AddrTypeRandom {
		if !a.c.hasRandomAddr {
			return [6]byte{}, false, llc.ErrInvalidParams
		}
		return a.c.randomAddr, true, llc.StatusSuccess
	}
	return a.c.publicAddr, false, llc.StatusSuccess
}

func (a *Advertiser) rebuildPDUs() llc.Status {
	own, random, st := a.ownAddr()
	if !st.Ok() {
		return st
	}

	switch a.p.AdvType {
	case AdvTypeDirectIndHD, AdvTypeDirectIndLD:
		a.advPDU = BuildAdvDirectInd(own, random, a.p.PeerAddr,
			a.p.PeerAddrType == AddrTypeRandom)
	case AdvTypeScanInd:
		a.advPDU, _ = BuildAdvPDU(PDUAdvScanInd, own, random, a.advData)
	case AdvTypeNonconnInd:
		a.advPDU, _ = BuildAdvPDU(PDUAdvNonconnInd, own, random, a.advData)
	default:
		a.advPDU, _ = BuildAdvPDU(PDUAdvInd, own, random, a.advData)
	}

	if a.scannable() {
		a.scanRspPDU, _ = BuildAdvPDU(PDUScanRsp, own, random, a.scanRspData)
	} else {
		a.scanRspPDU = nil
	}
	return llc.StatusSuccess
}

// SetEnable turns advertising on or off. Enabling while enabled and
// disabling while disabled are successful no-ops.
func (a *Advertiser) SetEnable(enable bool) llc.Status {
	if !enable {
		if !a.Enabled() {
			return llc.StatusSuccess
		}
		atomic.StoreInt32(&a.enabled, 0)
		a.c.sched.Remove(&a.item)
		a.c.radioIdle(stateAdvertising)
		a.scanRspInFlight = false
		return llc.StatusSuccess
	}

	if a.Enabled() {
		return llc.StatusSuccess
	}
	if st := a.rebuildPDUs(); !st.Ok() {
		return st
	}

	a.chanIdx = a.firstChan()
	now := a.c.clock.Now()
	a.eventStart = now + advSlotUsecs // first event starts shortly
	if a.p.AdvType == AdvTypeDirectIndHD {
		a.directedDeadline = a.eventStart + hdDirectedTimeoutUsecs
	}

	a.item.Start = a.eventStart
	a.item.End = a.item.Start + advSlotUsecs
	if err := a.c.sched.Schedule(&a.item); err != nil {
		// push past whatever owns the radio rather than failing the
		// host command
		if err := a.c.sched.Reschedule(&a.item, advSlotUsecs, schedRetryMax); err != nil {
			return llc.ErrMemCapacity
		}
	}
	atomic.StoreInt32(&a.enabled, 1)
	return llc.StatusSuccess
}

func (a *Advertiser) firstChan() uint8 {
	for i := uint8(0); i < 3; i++ {
		if a.p.ChanMap&(1<<i) != 0 {
			return advChanFirst + i
		}
	}
	return advChanFirst
}

// nextChan returns the next unmasked channel above the current one, or
// false when the event is over.
func (a *Advertiser) nextChan() (uint8, bool) {
	for ch := a.chanIdx + 1; ch <= advChanLast; ch++ {
		if a.p.ChanMap&(1<<(ch-advChanFirst)) != 0 {
			return ch, true
		}
	}
	return 0, false
}

// schedCb fires from interrupt context when this channel's slot is due.
func (a *Advertiser) schedCb(it *SchedItem) SchedState {
	if !a.Enabled() {
		return SchedDone
	}
	now := a.c.clock.Now()

	if a.p.AdvType == AdvTypeDirectIndHD && !TicksBefore(now, a.directedDeadline) {
		// 1.28 s without a connect request: self-disable and report a
		// timeout upward, from task context.
		atomic.StoreInt32(&a.enabled, 0)
		a.c.post(a.directedTimedOut)
		return SchedDone
	}

	if !TicksBefore(now, it.End) {
		// too late to start: skip this channel, keep the machine going
		a.stats.LateStarts++
		a.advance(now)
		return SchedDone
	}

	a.scanRspInFlight = false
	a.c.setState(stateAdvertising)
	if err := a.c.radio.SetChannel(a.chanIdx, AdvAccessAddr, AdvCRCInit); err != nil {
		a.stats.TxFailed++
		a.advance(now)
		return SchedDone
	}
	hint := TransitionNone
	if a.connectable() || a.scannable() {
		hint = TransitionTxToRx
	}
	if err := a.c.radio.Transmit(a.advPDU, hint); err != nil {
		a.stats.TxFailed++
		a.advance(now)
		return SchedDone
	}
	return SchedRunning
}

// txDone runs from the radio callback when an advertising PDU or a
// scan response finished transmitting.
func (a *Advertiser) txDone(now Ticks) {
	if !a.Enabled() {
		a.c.sched.ItemDone(&a.item)
		return
	}

	if !a.scanRspInFlight && (a.connectable() || a.scannable()) {
		// listen for a request within T_IFS; the channel advances on
		// the next slot regardless of whether anything arrives
		_ = a.c.radio.Receive(TransitionRxToTx)
	}
	a.c.sched.ItemDone(&a.item)
	a.advance(now)
}

// advance moves to the next channel, or closes the advertising event
// and schedules the next one.
func (a *Advertiser) advance(now Ticks) {
	if ch, ok := a.nextChan(); ok {
		a.chanIdx = ch
		a.item.Start = now + IFSUsecs
		a.item.End = a.item.Start + advSlotUsecs
		if err := a.c.sched.Reschedule(&a.item, advSlotUsecs, schedRetryMax); err != nil {
			a.c.post(func() { a.closeEvent(now) })
		}
		return
	}
	a.closeEvent(now)
}

// closeEvent finishes one advertising event: pick the randomized
// inter-event delay and schedule the first channel of the next event.
func (a *Advertiser) closeEvent(now Ticks) {
	a.stats.EventsDone++
	a.chanIdx = a.firstChan()

	next := a.eventStart + a.itvlUsecs
	if a.p.AdvType != AdvTypeDirectIndHD {
		next += Ticks(rand.Intn(advDelayMaxUsecs + 1))
	}
	if !TicksBefore(now, next) {
		next = now + IFSUsecs
	}
	a.eventStart = next

	a.item.Start = next
	a.item.End = next + advSlotUsecs
	if err := a.c.sched.Reschedule(&a.item, a.itvlUsecs, schedRetryMax); err != nil {
		// never drop the event machine: try again one interval out
		a.eventStart += a.itvlUsecs
		a.item.Start = a.eventStart
		a.item.End = a.item.Start + advSlotUsecs
		_ = a.c.sched.Schedule(&a.item)
	}
}

// rxPDU runs from the radio callback with a request received while
// advertising. Only the whitelist/address checks happen here; anything
// that mutates protocol state is posted to task context.
func (a *Advertiser) rxPDU(b []byte, now Ticks) {
	if !a.Enabled() {
		return
	}
	pdu := AdvPDU(b)

	switch pdu.Type() {
	case PDUScanReq:
		a.rxScanReq(pdu, now)
	case PDUConnectReq:
		a.rxConnectReq(pdu, now)
	}
}

func (a *Advertiser) addressedToUs(pdu AdvPDU) bool {
	adva, err := pdu.AdvA()
	if err != nil {
		return false
	}
	own, random, st := a.ownAddr()
	if !st.Ok() {
		return false
	}
	return adva == own && pdu.RxAdd() == random
}

func (a *Advertiser) rxScanReq(pdu AdvPDU, now Ticks) {
	if !a.scannable() || !a.addressedToUs(pdu) {
		return
	}
	scana, err := pdu.ScanA()
	if err != nil {
		return
	}
	scanAddrType := AddrTypePublic
	if pdu.TxAdd() {
		scanAddrType = AddrTypeRandom
	}
	if a.p.FilterPolicy == AdvFilterScanWL || a.p.FilterPolicy == AdvFilterScanConnWL {
		if !a.c.wl.Match(scana, scanAddrType) {
			return
		}
	}
	a.stats.ScanReqs++

	// reply within T_IFS; this runs in interrupt context on purpose
	if err := a.c.radio.Transmit(a.scanRspPDU, TransitionNone); err != nil {
		a.stats.TxFailed++
		return
	}
	a.scanRspInFlight = true
	a.stats.ScanRsps++
}

func (a *Advertiser) rxConnectReq(pdu AdvPDU, now Ticks) {
	if !a.connectable() || !a.addressedToUs(pdu) {
		return
	}
	inita, err := pdu.InitA()
	if err != nil {
		return
	}
	initAddrType := AddrTypePublic
	if pdu.TxAdd() {
		initAddrType = AddrTypeRandom
	}

	if a.directed() {
		// Directed advertising only ever connects to the configured
		// initiator. The type is compared along with the address; see
		// DESIGN.md on random-address peers.
		if inita != a.p.PeerAddr || initAddrType != a.p.PeerAddrType {
			return
		}
	} else if a.p.FilterPolicy == AdvFilterConnWL || a.p.FilterPolicy == AdvFilterScanConnWL {
		if !a.c.wl.Match(inita, initAddrType) {
			return
		}
	}
	a.stats.ConnectReqs++

	// copy the PDU out of the radio buffer before leaving isr context
	pkt, err2 := a.c.pool.Get(DirRx)
	if err2 != nil {
		a.stats.NoBuffers++
		return
	}
	if err := pkt.SetPayload(pdu); err != nil {
		a.c.pool.Put(pkt)
		return
	}

	// advertising stops the moment a connect request is accepted
	atomic.StoreInt32(&a.enabled, 0)
	a.c.sched.Remove(&a.item)

	a.c.post(func() {
		defer a.c.pool.Put(pkt)
		a.c.slaveConnect(ConnectReq(pkt.Bytes()), initAddrType, now)
	})
}

// directedTimedOut runs in task context after the 1.28 s directed
// advertising window expired without a connection.
func (a *Advertiser) directedTimedOut() {
	a.c.sched.Remove(&a.item)
	a.c.radioIdle(stateAdvertising)
	a.c.sendConnCompleteEvent(llc.ErrDirectedAdvTimeout, 0, RoleSlave,
		a.p.PeerAddrType, a.p.PeerAddr, 0, 0, 0, 0)
}

// Stats returns a copy of the counters.
func (a *Advertiser) Stats() AdvStats { return a.stats }
