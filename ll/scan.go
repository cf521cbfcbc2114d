package ll

import (
	"sync/atomic"

	"github.com/edgeble/llc"
)

// Scan types [Vol 2, Part E, 7.8.10].
const (
	ScanTypePassive uint8 = 0x00
	ScanTypeActive  uint8 = 0x01
)

// Scan filter policies.
const (
	ScanFilterNone uint8 = 0x00
	ScanFilterWL   uint8 = 0x01
)

const (
	ScanItvlMin   = 0x0004
	ScanItvlLimit = 0x4000

	// advertising report event type codes
	reportAdvInd        = 0x00
	reportAdvDirectInd  = 0x01
	reportAdvScanInd    = 0x02
	reportAdvNonconnInd = 0x03
	reportScanRsp       = 0x04

	// bounded duplicate-suppression memory
	dupCacheMax = 64
)

// ScanParams is the validated Set Scan Parameters payload.
type ScanParams struct {
	ScanType     uint8
	Itvl         uint16
	Window       uint16
	OwnAddrType  uint8
	FilterPolicy uint8
}

type ScanStats struct {
	Reports     uint32
	Dups        uint32
	Filtered    uint32
	ScanReqs    uint32
	NoBuffers   uint32
	ConnectReqs uint32
}

type dupKey struct {
	addr     [6]byte
	addrType uint8
	event    uint8
}

// Scanner owns scanning and, while a connection is being created,
// initiating. Both walk the advertising channels in interval/window
// cycles; the initiator additionally answers a matching advertiser
// with a CONNECT_REQ inside T_IFS.
type Scanner struct {
	c *Controller

	enabled    int32 // atomic
	initiating int32 // atomic

	p          ScanParams
	filterDups bool
	dups       map[dupKey]struct{}

	chanIdx     uint8
	windowStart Ticks

	// initiator target
	initParams CreateConnParams
	initSM     *ConnSM
	reqSent    int32 // atomic; CONNECT_REQ handed to the radio

	// active scanning: a SCAN_REQ is in flight to this advertiser
	awaitRsp     bool
	awaitAddr    [6]byte
	awaitType    uint8

	item SchedItem

	stats ScanStats
}

func newScanner(c *Controller) *Scanner {
	s := &Scanner{c: c}
	s.p = ScanParams{Itvl: 0x0010, Window: 0x0010}
	s.item.Type = SchedTypeScan
	s.item.Cb = s.schedCb
	s.item.Arg = s
	return s
}

// Enabled reports whether scanning is on. Safe from any context.
func (s *Scanner) Enabled() bool {
	return atomic.LoadInt32(&s.enabled) != 0
}

// Initiating reports whether a connection creation is in progress.
func (s *Scanner) Initiating() bool {
	return atomic.LoadInt32(&s.initiating) != 0
}

func (s *Scanner) usesWhitelist() bool {
	if s.Enabled() && s.p.FilterPolicy == ScanFilterWL {
		return true
	}
	return s.Initiating() && s.initParams.FilterPolicy == 0x01
}

// SetParams validates and stores scan parameters. Refused while
// scanning is enabled.
func (s *Scanner) SetParams(p ScanParams) llc.Status {
	if s.Enabled() {
		return llc.ErrCommandDisallowed
	}
	switch {
	case p.ScanType > ScanTypeActive:
		return llc.ErrInvalidParams
	case p.Itvl < ScanItvlMin || p.Itvl > ScanItvlLimit:
		return llc.ErrInvalidParams
	case p.Window < ScanItvlMin || p.Window > ScanItvlLimit:
		return llc.ErrInvalidParams
	case p.Window > p.Itvl:
		return llc.ErrInvalidParams
	case p.OwnAddrType > AddrTypeRandom:
		return llc.ErrInvalidParams
	case p.FilterPolicy > ScanFilterWL:
		return llc.ErrInvalidParams
	}
	s.p = p
	return llc.StatusSuccess
}

// SetEnable turns scanning on or off. Both directions are no-ops when
// already in the requested state.
func (s *Scanner) SetEnable(enable, filterDups bool) llc.Status {
	if !enable {
		if !s.Enabled() {
			return llc.StatusSuccess
		}
		atomic.StoreInt32(&s.enabled, 0)
		if !s.Initiating() {
			s.c.sched.Remove(&s.item)
			s.c.radioIdle(stateScanning)
		}
		return llc.StatusSuccess
	}

	if s.Enabled() {
		return llc.StatusSuccess
	}
	if s.p.OwnAddrType == AddrTypeRandom && !s.c.hasRandomAddr {
		return llc.ErrInvalidParams
	}

	s.filterDups = filterDups
	s.dups = make(map[dupKey]struct{})
	s.chanIdx = advChanFirst
	atomic.StoreInt32(&s.enabled, 1)
	s.scheduleWindow(s.c.clock.Now() + IFSUsecs)
	return llc.StatusSuccess
}

func (s *Scanner) itvlUsecs() Ticks   { return Ticks(s.p.Itvl) * ScanItvlUnitUsecs }
func (s *Scanner) windowUsecs() Ticks { return Ticks(s.p.Window) * ScanItvlUnitUsecs }

func (s *Scanner) scheduleWindow(at Ticks) {
	s.windowStart = at
	s.item.Start = at
	s.item.End = at + s.windowUsecs()
	if err := s.c.sched.Reschedule(&s.item, s.itvlUsecs(), schedRetryMax); err != nil {
		atomic.AddUint32(&s.c.stats.SchedFailed, 1)
	}
}

// schedCb opens one scan window: tune to the next advertising channel
// and listen. The window itself is passive from the scheduler's point
// of view; received PDUs arrive via rxPDU until something else claims
// the radio.
func (s *Scanner) schedCb(it *SchedItem) SchedState {
	if !s.Enabled() && !s.Initiating() {
		return SchedDone
	}
	now := s.c.clock.Now()

	if s.Initiating() {
		s.c.setState(stateInitiating)
	} else {
		s.c.setState(stateScanning)
	}
	s.awaitRsp = false

	if err := s.c.radio.SetChannel(s.chanIdx, AdvAccessAddr, AdvCRCInit); err == nil {
		_ = s.c.radio.Receive(TransitionRxToTx)
	}

	// advance to the next channel for the following window
	s.chanIdx++
	if s.chanIdx > advChanLast {
		s.chanIdx = advChanFirst
	}
	s.scheduleWindow(now + s.itvlUsecs())
	return SchedDone
}

func (s *Scanner) ownAddr() ([6]byte, bool) {
	if s.p.OwnAddrType == AddrTypeRandom {
		return s.c.randomAddr, true
	}
	return s.c.publicAddr, false
}

// rxPDU runs on the radio callback with an advertising-channel PDU
// heard during a scan or initiation window.
func (s *Scanner) rxPDU(b []byte, rssi int8, now Ticks) {
	if s.Initiating() {
		s.rxInitiating(AdvPDU(b), now)
		return
	}
	if s.Enabled() {
		s.rxScanning(AdvPDU(b), rssi, now)
	}
}

func (s *Scanner) rxScanning(pdu AdvPDU, rssi int8, now Ticks) {
	var event uint8
	switch pdu.Type() {
	case PDUAdvInd:
		event = reportAdvInd
	case PDUAdvDirectInd:
		event = reportAdvDirectInd
	case PDUAdvScanInd:
		event = reportAdvScanInd
	case PDUAdvNonconnInd:
		event = reportAdvNonconnInd
	case PDUScanRsp:
		event = reportScanRsp
	default:
		return
	}

	adva, err := pdu.AdvA()
	if err != nil {
		return
	}
	addrType := AddrTypePublic
	if pdu.TxAdd() {
		addrType = AddrTypeRandom
	}

	if event == reportScanRsp {
		// only report the response we solicited
		if !s.awaitRsp || adva != s.awaitAddr || addrType != s.awaitType {
			return
		}
		s.awaitRsp = false
	}

	if s.p.FilterPolicy == ScanFilterWL && !s.c.wl.Match(adva, addrType) {
		s.stats.Filtered++
		return
	}

	if s.filterDups {
		k := dupKey{addr: adva, addrType: addrType, event: event}
		if _, ok := s.dups[k]; ok {
			s.stats.Dups++
			return
		}
		if len(s.dups) < dupCacheMax {
			s.dups[k] = struct{}{}
		}
	}

	var data []byte
	switch event {
	case reportAdvInd, reportAdvScanInd, reportAdvNonconnInd, reportScanRsp:
		data, _ = pdu.AdvData()
	}

	// active scanning: chase the advertiser for its scan response
	if s.p.ScanType == ScanTypeActive && !s.awaitRsp &&
		(event == reportAdvInd || event == reportAdvScanInd) {
		own, random := s.ownAddr()
		req := BuildScanReq(own, random, adva, pdu.TxAdd())
		if err := s.c.radio.Transmit(req, TransitionTxToRx); err == nil {
			s.awaitRsp = true
			s.awaitAddr = adva
			s.awaitType = addrType
			s.stats.ScanReqs++
		}
	}

	// copy out of the radio buffer before leaving isr context
	pkt, err := s.c.pool.Get(DirRx)
	if err != nil {
		s.stats.NoBuffers++
		return
	}
	if err := pkt.SetPayload(data); err != nil {
		s.c.pool.Put(pkt)
		return
	}
	s.stats.Reports++
	s.c.post(func() {
		defer s.c.pool.Put(pkt)
		s.c.sendAdvReportEvent(event, addrType, adva, pkt.Bytes(), rssi)
	})
}

// --- initiator ----------------------------------------------------------------

// startInitiator begins scanning for the connection peer. Task context,
// called with a pending ConnSM already allocated.
func (s *Scanner) startInitiator(p CreateConnParams, sm *ConnSM) llc.Status {
	if s.Initiating() {
		return llc.ErrCommandDisallowed
	}
	s.initParams = p
	s.initSM = sm
	atomic.StoreInt32(&s.reqSent, 0)
	atomic.StoreInt32(&s.initiating, 1)

	if !s.Enabled() {
		s.chanIdx = advChanFirst
		s.p.Itvl = p.ScanItvl
		s.p.Window = p.ScanWindow
		s.scheduleWindow(s.c.clock.Now() + IFSUsecs)
	}
	return llc.StatusSuccess
}

func (s *Scanner) stopInitiator() {
	atomic.StoreInt32(&s.initiating, 0)
	s.initSM = nil
	if !s.Enabled() {
		s.c.sched.Remove(&s.item)
		s.c.radioIdle(stateInitiating)
	}
}

// initMatch decides whether this advertiser is the peer we are
// creating a connection to.
func (s *Scanner) initMatch(pdu AdvPDU, adva [6]byte, addrType uint8) bool {
	switch pdu.Type() {
	case PDUAdvInd:
	case PDUAdvDirectInd:
		// directed advertising must be aimed at us
		inita, err := pdu.InitA()
		if err != nil {
			return false
		}
		own, random := s.initOwnAddr()
		if inita != own || pdu.RxAdd() != random {
			return false
		}
	default:
		return false
	}

	if s.initParams.FilterPolicy == 0x01 {
		return s.c.wl.Match(adva, addrType)
	}
	return adva == s.initParams.PeerAddr && addrType == s.initParams.PeerAddrType
}

func (s *Scanner) initOwnAddr() ([6]byte, bool) {
	if s.initParams.OwnAddrType == AddrTypeRandom {
		return s.c.randomAddr, true
	}
	return s.c.publicAddr, false
}

func (s *Scanner) rxInitiating(pdu AdvPDU, now Ticks) {
	if atomic.LoadInt32(&s.reqSent) != 0 {
		return
	}
	adva, err := pdu.AdvA()
	if err != nil {
		return
	}
	addrType := AddrTypePublic
	if pdu.TxAdd() {
		addrType = AddrTypeRandom
	}
	if !s.initMatch(pdu, adva, addrType) {
		return
	}
	sm := s.initSM
	if sm == nil {
		return
	}

	own, random := s.initOwnAddr()
	req := BuildConnectReq(own, random, adva, pdu.TxAdd(), ConnectReqParams{
		AccessAddr: sm.accessAddr,
		CRCInit:    sm.crcInit,
		WinSize:    1,
		WinOffset:  0,
		Interval:   sm.itvl,
		Latency:    sm.latency,
		Timeout:    sm.spvnTmo,
		ChanMap:    sm.chanMap,
		Hop:        sm.hopInc,
		SCA:        0,
	})
	// the request must leave within T_IFS of the advertising PDU
	if err := s.c.radio.Transmit(req, TransitionNone); err != nil {
		return
	}
	atomic.StoreInt32(&s.reqSent, 1)
	s.stats.ConnectReqs++

	peerAddr, peerType := adva, addrType
	s.c.post(func() {
		if !s.Initiating() {
			return // cancelled while the request was in flight
		}
		atomic.StoreInt32(&s.initiating, 0)
		sm := s.initSM
		s.initSM = nil
		if !s.Enabled() {
			s.c.sched.Remove(&s.item)
		}
		if sm != nil {
			s.c.masterConnected(sm, peerAddr, peerType, now)
		}
	})
}

// Stats returns a copy of the counters.
func (s *Scanner) Stats() ScanStats { return s.stats }
