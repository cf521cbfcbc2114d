package ll

import (
	"math/rand"
	"sync/atomic"

	"github.com/edgeble/llc"
)

// Connection roles on the wire [Vol 6, Part B, 4.5].
const (
	RoleMaster uint8 = 0x00
	RoleSlave  uint8 = 0x01
)

// Connection parameter bounds [Vol 2, Part E, 7.8.12].
const (
	ConnItvlMin    = 0x0006
	ConnItvlMax    = 0x0c80
	ConnLatencyMax = 0x01f3
	SpvnTmoMin     = 0x000a
	SpvnTmoMax     = 0x0c80

	numDataChans = 37

	// A pending connection is abandoned if no packet arrives within
	// six connection intervals of the first anchor.
	connEstabFactor = 6
)

type connState uint8

const (
	connFree connState = iota
	connPending
	connActive
)

// ConnParams are the negotiable link timing parameters, in protocol
// units.
type ConnParams struct {
	ItvlMin  uint16
	ItvlMax  uint16
	Latency  uint16
	SpvnTmo  uint16
	MinCELen uint16
	MaxCELen uint16
}

// CheckConnParams validates connection parameters as shared by the
// create-connection and connection-update commands. The supervision
// timeout must exceed (1 + latency) * itvl_max * 2.
func CheckConnParams(p ConnParams) llc.Status {
	switch {
	case p.ItvlMin < ConnItvlMin || p.ItvlMin > ConnItvlMax:
		return llc.ErrInvalidParams
	case p.ItvlMax < ConnItvlMin || p.ItvlMax > ConnItvlMax:
		return llc.ErrInvalidParams
	case p.ItvlMin > p.ItvlMax:
		return llc.ErrInvalidParams
	case p.Latency > ConnLatencyMax:
		return llc.ErrInvalidParams
	case p.SpvnTmo < SpvnTmoMin || p.SpvnTmo > SpvnTmoMax:
		return llc.ErrInvalidParams
	case p.MinCELen > p.MaxCELen:
		return llc.ErrInvalidParams
	}

	tmoUsecs := uint32(p.SpvnTmo) * SpvnTmoUnitUsecs
	minUsecs := uint32(1+p.Latency) * uint32(p.ItvlMax) * ConnItvlUnitUsecs * 2
	if tmoUsecs <= minUsecs {
		return llc.ErrInvalidParams
	}
	return llc.StatusSuccess
}

type connUpdate struct {
	itvl    uint16
	latency uint16
	spvnTmo uint16
	instant uint16
}

type chanMapUpdate struct {
	chanMap [5]byte
	instant uint16
}

// ConnSM is one connection state machine. All mutation happens in task
// context; the schedule callback and txDone/rxPDU run on the radio
// callback context.
type ConnSM struct {
	c *Controller

	handle uint16
	state  connState
	role   uint8

	peerAddr     [6]byte
	peerAddrType uint8
	ownAddrType  uint8

	accessAddr   uint32
	crcInit      uint32
	chanMap      [5]byte
	numUsed      uint8
	hopInc       uint8
	lastUnmapped uint8
	masterSCA    uint8

	itvl    uint16
	latency uint16
	spvnTmo uint16

	eventCounter  uint16
	anchor        Ticks
	supervisionAt Ticks
	estabAt       Ticks

	pendingUpdate  *connUpdate
	pendingChanMap *chanMapUpdate

	txq       []*Packet
	completed uint16

	terminating      bool
	disconnectReason llc.Status

	procs procSet
	enc   encState

	peerFeatures  uint64
	featuresValid bool
	peerVersion   struct {
		vers    uint8
		company uint16
		subvers uint16
		valid   bool
	}

	item SchedItem

	rxThisEvent int32 // atomic; set by the isr rx path
}

// Handle returns the connection handle.
func (sm *ConnSM) Handle() uint16 { return sm.handle }

// Role returns RoleMaster or RoleSlave.
func (sm *ConnSM) Role() uint8 { return sm.role }

func (sm *ConnSM) usedChans() []uint8 {
	var out []uint8
	for ch := uint8(0); ch < numDataChans; ch++ {
		if sm.chanMap[ch/8]&(1<<(ch%8)) != 0 {
			out = append(out, ch)
		}
	}
	return out
}

func countUsed(m [5]byte) uint8 {
	var n uint8
	for ch := 0; ch < numDataChans; ch++ {
		if m[ch/8]&(1<<(ch%8)) != 0 {
			n++
		}
	}
	return n
}

// nextDataChan runs channel selection algorithm #1: hop the unmapped
// channel and remap onto the used set when it lands on a bad channel.
func (sm *ConnSM) nextDataChan() uint8 {
	sm.lastUnmapped = (sm.lastUnmapped + sm.hopInc) % numDataChans
	ch := sm.lastUnmapped
	if sm.chanMap[ch/8]&(1<<(ch%8)) != 0 {
		return ch
	}
	used := sm.usedChans()
	if len(used) == 0 {
		return ch // structurally impossible: the map is validated non-empty
	}
	return used[int(ch)%len(used)]
}

func (sm *ConnSM) itvlUsecs() Ticks {
	return Ticks(sm.itvl) * ConnItvlUnitUsecs
}

func (sm *ConnSM) armSupervision(now Ticks) {
	sm.supervisionAt = now + Ticks(sm.spvnTmo)*SpvnTmoUnitUsecs
}

// genAccessAddr produces a random access address for a new link. The
// advertising access address is reserved.
func genAccessAddr() uint32 {
	for {
		aa := rand.Uint32()
		if aa != AdvAccessAddr && aa != 0 && aa != 0xffffffff {
			return aa
		}
	}
}

func genCRCInit() uint32 {
	return rand.Uint32() & 0xffffff
}

// --- controller-side arena -------------------------------------------------

func (c *Controller) findConn(handle uint16) *ConnSM {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if int(handle) >= len(c.conns) {
		return nil
	}
	sm := c.conns[handle]
	if sm.state == connFree {
		return nil
	}
	return sm
}

func (c *Controller) allocConn() *ConnSM {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	for _, sm := range c.conns {
		if sm.state == connFree {
			sm.reset()
			sm.state = connPending
			return sm
		}
	}
	return nil
}

func (sm *ConnSM) reset() {
	h, c := sm.handle, sm.c
	*sm = ConnSM{c: c, handle: h}
	sm.chanMap = [5]byte{0xff, 0xff, 0xff, 0xff, 0x1f}
	sm.numUsed = numDataChans
	sm.item.Type = SchedTypeConn
	sm.item.Cb = sm.schedCb
	sm.item.Arg = sm
}

// ActiveConns returns the handles of all non-free connections.
func (c *Controller) ActiveConns() []uint16 {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	var hh []uint16
	for _, sm := range c.conns {
		if sm.state != connFree {
			hh = append(hh, sm.handle)
		}
	}
	return hh
}

// --- creation paths ---------------------------------------------------------

// CreateConnParams is everything the create-connection command
// supplies: how to look for the peer and what link to ask for.
type CreateConnParams struct {
	ScanItvl     uint16
	ScanWindow   uint16
	FilterPolicy uint8
	PeerAddrType uint8
	PeerAddr     [6]byte
	OwnAddrType  uint8
	Conn         ConnParams
}

// CreateConnection validates the initiator parameters and starts
// scanning for the peer. At most one connection may be pending
// creation.
func (c *Controller) CreateConnection(p CreateConnParams) llc.Status {
	switch {
	case p.ScanItvl < ScanItvlMin || p.ScanItvl > ScanItvlLimit:
		return llc.ErrInvalidParams
	case p.ScanWindow < ScanItvlMin || p.ScanWindow > ScanItvlLimit:
		return llc.ErrInvalidParams
	case p.ScanWindow > p.ScanItvl:
		return llc.ErrInvalidParams
	case p.FilterPolicy > 0x01:
		return llc.ErrInvalidParams
	case p.PeerAddrType > AddrTypeRandom || p.OwnAddrType > AddrTypeRandom:
		return llc.ErrInvalidParams
	}
	if st := CheckConnParams(p.Conn); !st.Ok() {
		return st
	}
	if p.OwnAddrType == AddrTypeRandom && !c.hasRandomAddr {
		return llc.ErrInvalidParams
	}

	c.connMu.Lock()
	if c.createSM != nil {
		c.connMu.Unlock()
		return llc.ErrCommandDisallowed
	}
	c.connMu.Unlock()

	sm := c.allocConn()
	if sm == nil {
		return llc.ErrConnLimit
	}
	sm.role = RoleMaster
	sm.peerAddr = p.PeerAddr
	sm.peerAddrType = p.PeerAddrType
	sm.ownAddrType = p.OwnAddrType
	sm.accessAddr = genAccessAddr()
	sm.crcInit = genCRCInit()
	sm.hopInc = uint8(5 + rand.Intn(12))
	sm.itvl = p.Conn.ItvlMax
	sm.latency = p.Conn.Latency
	sm.spvnTmo = p.Conn.SpvnTmo

	if st := c.scan.startInitiator(p, sm); !st.Ok() {
		c.freeConn(sm)
		return st
	}

	c.connMu.Lock()
	c.createSM = sm
	c.connMu.Unlock()
	return llc.StatusSuccess
}

// CreateConnectionCancel stops a pending creation. The confirming
// connection-complete event (status: unknown connection id) is sent
// after the command completes, not before.
func (c *Controller) CreateConnectionCancel() llc.Status {
	c.connMu.Lock()
	sm := c.createSM
	c.createSM = nil
	c.connMu.Unlock()

	if sm == nil {
		return llc.ErrCommandDisallowed
	}
	c.scan.stopInitiator()
	peer, peerType := sm.peerAddr, sm.peerAddrType
	c.freeConn(sm)

	c.post(func() {
		c.sendConnCompleteEvent(llc.ErrUnknownConnID, 0, RoleMaster,
			peerType, peer, 0, 0, 0, 0)
	})
	return llc.StatusSuccess
}

// masterConnected runs in task context after the initiator transmitted
// a CONNECT_REQ to the matched peer.
func (c *Controller) masterConnected(sm *ConnSM, peerAddr [6]byte, peerAddrType uint8, now Ticks) {
	c.connMu.Lock()
	if c.createSM != sm {
		c.connMu.Unlock()
		return
	}
	c.createSM = nil
	c.connMu.Unlock()

	sm.peerAddr = peerAddr
	sm.peerAddrType = peerAddrType
	sm.startLink(now)
	c.sendConnCompleteEvent(llc.StatusSuccess, sm.handle, RoleMaster,
		sm.peerAddrType, sm.peerAddr, sm.itvl, sm.latency, sm.spvnTmo, sm.masterSCA)
}

// slaveConnect runs in task context with an accepted CONNECT_REQ. On
// any validation or resource failure the request is dropped and the
// advertiser is left disabled, exactly as if the PDU never arrived.
func (c *Controller) slaveConnect(req ConnectReq, initAddrType uint8, now Ticks) {
	aa, err := req.AccessAddr()
	if err != nil {
		return
	}
	itvl, _ := req.Interval()
	latency, _ := req.Latency()
	tmo, _ := req.Timeout()
	hop, err := req.Hop()
	if err != nil || hop < 5 || hop > 16 {
		return
	}
	chm, _ := req.ChanMap()
	if countUsed(chm) == 0 {
		return
	}
	if CheckConnParams(ConnParams{
		ItvlMin: itvl, ItvlMax: itvl, Latency: latency, SpvnTmo: tmo,
	}) != llc.StatusSuccess {
		return
	}

	sm := c.allocConn()
	if sm == nil {
		atomic.AddUint32(&c.stats.ConnNoSlots, 1)
		return
	}
	inita, _ := AdvPDU(req).InitA()
	crc, _ := req.CRCInit()
	sca, _ := req.SCA()
	winOffset, _ := req.WinOffset()

	sm.role = RoleSlave
	sm.peerAddr = inita
	sm.peerAddrType = initAddrType
	sm.ownAddrType = c.adv.p.OwnAddrType
	sm.accessAddr = aa
	sm.crcInit = crc
	sm.chanMap = chm
	sm.numUsed = countUsed(chm)
	sm.hopInc = hop
	sm.itvl = itvl
	sm.latency = latency
	sm.spvnTmo = tmo
	sm.masterSCA = sca

	sm.anchor = now + Ticks(1+uint32(winOffset))*ConnItvlUnitUsecs
	sm.startLink(now)
	c.sendConnCompleteEvent(llc.StatusSuccess, sm.handle, RoleSlave,
		sm.peerAddrType, sm.peerAddr, sm.itvl, sm.latency, sm.spvnTmo, sm.masterSCA)
}

// startLink schedules the first connection event.
func (sm *ConnSM) startLink(now Ticks) {
	c := sm.c
	if sm.anchor == 0 {
		sm.anchor = now + sm.itvlUsecs()
	}
	sm.estabAt = now + Ticks(connEstabFactor)*sm.itvlUsecs()
	sm.armSupervision(now)

	sm.item.Start = sm.anchor
	sm.item.End = sm.anchor + sm.connEventLen()
	if err := c.sched.Reschedule(&sm.item, sm.itvlUsecs(), schedRetryMax); err != nil {
		atomic.AddUint32(&c.stats.SchedFailed, 1)
	}
}

func (sm *ConnSM) connEventLen() Ticks {
	// bounded by the interval; enough for one tx/rx turnaround pair
	l := sm.itvlUsecs() / 2
	if l > 5000 {
		l = 5000
	}
	if l < 2*IFSUsecs {
		l = 2 * IFSUsecs
	}
	return l
}

// --- connection events ------------------------------------------------------

// schedCb opens one connection event. Interrupt context.
func (sm *ConnSM) schedCb(it *SchedItem) SchedState {
	c := sm.c
	now := c.clock.Now()

	if sm.state == connFree {
		return SchedDone
	}
	if !TicksBefore(now, it.End) {
		// too late for this anchor; count it as a missed event
		c.post(func() { sm.closeEvent(now, false) })
		return SchedDone
	}

	atomic.StoreInt32(&sm.rxThisEvent, 0)
	c.setState(stateConnection)
	ch := sm.nextDataChan()
	if err := c.radio.SetChannel(ch, sm.accessAddr, sm.crcInit); err != nil {
		c.post(func() { sm.closeEvent(now, false) })
		return SchedDone
	}

	if sm.role == RoleMaster {
		// master transmits first in every event
		if err := c.radio.Transmit(sm.headPDU(), TransitionTxToRx); err != nil {
			c.post(func() { sm.closeEvent(now, false) })
			return SchedDone
		}
	} else {
		if err := c.radio.Receive(TransitionRxToTx); err != nil {
			c.post(func() { sm.closeEvent(now, false) })
			return SchedDone
		}
	}
	return SchedRunning
}

// headPDU returns the next queued PDU, or an empty data PDU when the
// queue is idle.
func (sm *ConnSM) headPDU() []byte {
	sm.c.connMu.Lock()
	defer sm.c.connMu.Unlock()
	if len(sm.txq) > 0 {
		return sm.txq[0].Bytes()
	}
	// empty PDU: LLID 01, len 0
	return []byte{0x01, 0x00}
}

// txDone runs on the radio callback when our PDU finished sending.
func (sm *ConnSM) txDone(now Ticks) {
	c := sm.c
	c.sched.ItemDone(&sm.item)

	var donePkt *Packet
	c.connMu.Lock()
	if len(sm.txq) > 0 {
		donePkt = sm.txq[0]
		sm.txq = sm.txq[1:]
		sm.completed++
	}
	c.connMu.Unlock()
	if donePkt != nil {
		c.pool.Put(donePkt)
	}

	if sm.role == RoleSlave {
		// reply sent; the event is over for us
		c.post(func() { sm.closeEvent(now, true) })
		return
	}
	// master waits for the slave's reply
	_ = c.radio.Receive(TransitionRxToTx)
}

// rxPDU runs on the radio callback with a data-channel PDU.
func (sm *ConnSM) rxPDU(b []byte, now Ticks) {
	c := sm.c
	if len(b) < 2 {
		return
	}
	atomic.StoreInt32(&sm.rxThisEvent, 1)

	llid := b[0] & 0x03
	payload := append([]byte(nil), b[2:]...)

	if sm.role == RoleSlave {
		// send our reply within T_IFS; txDone closes the event
		if err := c.radio.Transmit(sm.headPDU(), TransitionNone); err != nil {
			c.sched.ItemDone(&sm.item)
			c.post(func() { sm.closeEvent(now, true) })
		}
	} else {
		c.sched.ItemDone(&sm.item)
		c.post(func() { sm.closeEvent(now, true) })
	}

	if llid == 0x03 {
		c.post(func() { sm.rxCtrl(payload, now) })
	}
}

// closeEvent finishes one connection event and schedules the next.
// Task context.
func (sm *ConnSM) closeEvent(now Ticks, heard bool) {
	c := sm.c
	if sm.state == connFree {
		return
	}
	if atomic.LoadInt32(&sm.rxThisEvent) != 0 {
		heard = true
	}

	if heard {
		sm.armSupervision(now)
		if sm.state == connPending {
			sm.state = connActive
		}
	} else {
		if sm.state == connPending && !TicksBefore(now, sm.estabAt) {
			c.connEnded(sm, llc.ErrConnFailedToEstab)
			return
		}
		if !TicksBefore(now, sm.supervisionAt) {
			c.connEnded(sm, llc.ErrConnTimeout)
			return
		}
	}

	sm.eventCounter++
	sm.applyInstants()
	sm.procTick(now)
	if sm.state == connFree {
		return
	}

	if sm.terminating {
		c.connMu.Lock()
		sent := len(sm.txq) == 0
		c.connMu.Unlock()
		// the terminate indication has left the queue; report the
		// local termination regardless of the peer's ack
		if sent {
			c.connEnded(sm, llc.ErrLocalTerminated)
			return
		}
	}

	sm.anchor += sm.itvlUsecs()
	if !TicksBefore(now, sm.anchor) {
		sm.anchor = now + sm.itvlUsecs()
	}
	sm.item.Start = sm.anchor
	sm.item.End = sm.anchor + sm.connEventLen()
	if err := c.sched.Reschedule(&sm.item, sm.itvlUsecs(), schedRetryMax); err != nil {
		atomic.AddUint32(&c.stats.SchedFailed, 1)
	}
}

// applyInstants commits negotiated parameter/channel-map switches when
// their instant is reached.
func (sm *ConnSM) applyInstants() {
	if u := sm.pendingUpdate; u != nil && sm.eventCounter == u.instant {
		sm.itvl = u.itvl
		sm.latency = u.latency
		sm.spvnTmo = u.spvnTmo
		sm.pendingUpdate = nil
		sm.procComplete(procConnUpdate)
		sm.c.sendConnUpdateCompleteEvent(llc.StatusSuccess, sm.handle,
			sm.itvl, sm.latency, sm.spvnTmo)
	}
	if u := sm.pendingChanMap; u != nil && sm.eventCounter == u.instant {
		sm.chanMap = u.chanMap
		sm.numUsed = countUsed(u.chanMap)
		sm.pendingChanMap = nil
		sm.procComplete(procChanMap)
	}
}

// --- host operations ---------------------------------------------------------

// ConnUpdate starts the connection-update (or, for a slave, the
// connection-parameter-request) procedure.
func (c *Controller) ConnUpdate(handle uint16, p ConnParams) llc.Status {
	if st := CheckConnParams(p); !st.Ok() {
		return st
	}
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if sm.terminating {
		return llc.ErrCommandDisallowed
	}

	if sm.role == RoleMaster {
		if st := sm.procStart(procConnUpdate); !st.Ok() {
			return st
		}
		instant := sm.eventCounter + 6
		sm.pendingUpdate = &connUpdate{
			itvl: p.ItvlMax, latency: p.Latency, spvnTmo: p.SpvnTmo, instant: instant,
		}
		return sm.queueConnUpdateInd(p, instant)
	}

	// slave: ask the master via the connection parameter request
	if st := sm.procStart(procConnParamReq); !st.Ok() {
		return st
	}
	return sm.queueConnParamReq(p)
}

// Disconnect records the reason and starts termination. A second
// disconnect while one is in progress is rejected.
func (c *Controller) Disconnect(handle uint16, reason llc.Status) llc.Status {
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if sm.terminating {
		return llc.ErrCommandDisallowed
	}
	switch reason {
	case llc.ErrAuthFailure, llc.ErrRemoteTerminated, llc.ErrUnsupportedRemote,
		llc.ErrPinKeyMissing, llc.ErrUnacceptableParams:
	default:
		return llc.ErrInvalidParams
	}
	sm.terminating = true
	sm.disconnectReason = reason
	if st := sm.procStart(procTerminate); !st.Ok() {
		// termination overrides whatever else is pending
		sm.procs.pending |= 1 << procTerminate
	}
	return sm.queueTerminateInd(reason)
}

// SetHostChannelClassification starts a channel-map update on every
// master connection.
func (c *Controller) SetHostChannelClassification(chanMap [5]byte) llc.Status {
	if countUsed(chanMap) == 0 {
		return llc.ErrInvalidParams
	}
	var st llc.Status = llc.StatusSuccess
	for _, h := range c.ActiveConns() {
		sm := c.findConn(h)
		if sm == nil || sm.role != RoleMaster {
			continue
		}
		if s := sm.startChanMapUpdate(chanMap); !s.Ok() && st.Ok() {
			st = s
		}
	}
	return st
}

// ReadChannelMap returns the channel map in use on the connection.
func (c *Controller) ReadChannelMap(handle uint16) ([5]byte, llc.Status) {
	sm := c.findConn(handle)
	if sm == nil {
		return [5]byte{}, llc.ErrUnknownConnID
	}
	return sm.chanMap, llc.StatusSuccess
}

// connEnded tears the link down, returns its buffers and reports the
// disconnection upward. The slot goes back to the free arena.
func (c *Controller) connEnded(sm *ConnSM, reason llc.Status) {
	c.sched.Remove(&sm.item)
	c.radioIdle(stateConnection)

	c.connMu.Lock()
	for _, p := range sm.txq {
		c.pool.Put(p)
	}
	sm.txq = nil
	wasFree := sm.state == connFree
	sm.state = connFree
	c.connMu.Unlock()

	if wasFree {
		return
	}
	c.sendDisconnectionCompleteEvent(sm.handle, reason)
}

// CompletedPackets drains the per-connection completed counters.
type HandleCount struct {
	Handle uint16
	Count  uint16
}

func (c *Controller) CompletedPackets() []HandleCount {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	var out []HandleCount
	for _, sm := range c.conns {
		if sm.state != connFree && sm.completed > 0 {
			out = append(out, HandleCount{Handle: sm.handle, Count: sm.completed})
			sm.completed = 0
		}
	}
	return out
}

// QueueData appends one host ACL payload to a connection's transmit
// queue. Every connection gets an equal share of the buffer pool; a
// connection at its share is refused until completions drain it.
func (c *Controller) QueueData(handle uint16, b []byte) llc.Status {
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if len(b) > 0xff {
		return llc.ErrInvalidParams
	}

	share := c.poolCount / len(c.conns)
	if share < 1 {
		share = 1
	}
	c.connMu.Lock()
	full := len(sm.txq) >= share
	c.connMu.Unlock()
	if full {
		return llc.ErrMemCapacity
	}

	pkt, err := c.pool.Get(DirTx)
	if err != nil {
		return llc.ErrMemCapacity
	}
	pdu := make([]byte, 0, 2+len(b))
	pdu = append(pdu, 0x02, byte(len(b))) // LLID 10: start of an L2CAP message
	pdu = append(pdu, b...)
	if err := pkt.SetPayload(pdu); err != nil {
		c.pool.Put(pkt)
		return llc.ErrMemCapacity
	}

	c.connMu.Lock()
	sm.txq = append(sm.txq, pkt)
	c.connMu.Unlock()
	return llc.StatusSuccess
}

// BufferDims reports the data buffer geometry advertised to the host.
func (c *Controller) BufferDims() (size, count int) {
	return c.poolSize, c.poolCount
}

func (c *Controller) freeConn(sm *ConnSM) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	for _, p := range sm.txq {
		c.pool.Put(p)
	}
	sm.txq = nil
	sm.state = connFree
}
