// Package hci implements the controller-side HCI command and event
// processor: command parsing and validation, dispatch onto the Link
// Layer, and event emission toward the host transport.
package hci

import (
	"crypto/aes"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/edgeble/llc"
	"github.com/edgeble/llc/hci/cmd"
	"github.com/edgeble/llc/hci/evt"
	"github.com/edgeble/llc/ll"
	"github.com/edgeble/llc/sliceops"
)

// Local version identity reported by Read Local Version Information.
const (
	hciVersion    = 0x08 // 4.2
	hciRevision   = 0x0001
	lmpVersion    = 0x08
	manufacturer  = 0xffff
	lmpSubversion = 0x0001

	// supported-states bitmap: everything up through master/slave
	// connection states
	leStatesSupported = 0x000003ffffffffff
)

type handlerFn func(params []byte) []byte

// Processor parses HCI command packets, drives the Link Layer and
// produces event packets. One command is outstanding at a time; each
// response returns one command credit.
type Processor struct {
	logger llc.Logger
	ctrl   *ll.Controller

	mu      sync.Mutex
	sink    func([]byte)
	evtMask uint64
	leMask  uint64

	cmdh map[int]handlerFn
}

// NewProcessor wires a processor on top of a Link Layer controller.
func NewProcessor(ctrl *ll.Controller) *Processor {
	p := &Processor{
		logger:  llc.GetLogger().ChildLogger(map[string]interface{}{"layer": "hci"}),
		ctrl:    ctrl,
		evtMask: 0xffffffffffffffff,
		leMask:  0xffffffffffffffff,
		cmdh:    map[int]handlerFn{},
	}
	p.install()
	ctrl.SetEventSink(p.emit)
	return p
}

// SetSink installs the consumer of outgoing event packets.
func (p *Processor) SetSink(sink func([]byte)) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

func (p *Processor) install() {
	p.cmdh[cmd.Opcode(1, 0x0006)] = p.disconnect
	p.cmdh[cmd.Opcode(1, 0x001d)] = p.readRemoteVersion

	p.cmdh[cmd.Opcode(3, 0x0001)] = p.setEventMask
	p.cmdh[cmd.Opcode(3, 0x0003)] = p.reset

	p.cmdh[cmd.Opcode(4, 0x0001)] = p.readLocalVersion
	p.cmdh[cmd.Opcode(4, 0x0009)] = p.readBDADDR

	p.cmdh[cmd.Opcode(8, 0x0001)] = p.leSetEventMask
	p.cmdh[cmd.Opcode(8, 0x0002)] = p.leReadBufferSize
	p.cmdh[cmd.Opcode(8, 0x0003)] = p.leReadLocalFeatures
	p.cmdh[cmd.Opcode(8, 0x0005)] = p.leSetRandomAddress
	p.cmdh[cmd.Opcode(8, 0x0006)] = p.leSetAdvParams
	p.cmdh[cmd.Opcode(8, 0x0007)] = p.leReadAdvTxPower
	p.cmdh[cmd.Opcode(8, 0x0008)] = p.leSetAdvData
	p.cmdh[cmd.Opcode(8, 0x0009)] = p.leSetScanRspData
	p.cmdh[cmd.Opcode(8, 0x000a)] = p.leSetAdvEnable
	p.cmdh[cmd.Opcode(8, 0x000b)] = p.leSetScanParams
	p.cmdh[cmd.Opcode(8, 0x000c)] = p.leSetScanEnable
	p.cmdh[cmd.Opcode(8, 0x000d)] = p.leCreateConn
	p.cmdh[cmd.Opcode(8, 0x000e)] = p.leCreateConnCancel
	p.cmdh[cmd.Opcode(8, 0x000f)] = p.leReadWhiteListSize
	p.cmdh[cmd.Opcode(8, 0x0010)] = p.leClearWhiteList
	p.cmdh[cmd.Opcode(8, 0x0011)] = p.leAddWhiteList
	p.cmdh[cmd.Opcode(8, 0x0012)] = p.leRemoveWhiteList
	p.cmdh[cmd.Opcode(8, 0x0013)] = p.leConnUpdate
	p.cmdh[cmd.Opcode(8, 0x0014)] = p.leSetHostChanClass
	p.cmdh[cmd.Opcode(8, 0x0015)] = p.leReadChanMap
	p.cmdh[cmd.Opcode(8, 0x0016)] = p.leReadRemoteFeatures
	p.cmdh[cmd.Opcode(8, 0x0017)] = p.leEncrypt
	p.cmdh[cmd.Opcode(8, 0x0018)] = p.leRand
	p.cmdh[cmd.Opcode(8, 0x0019)] = p.leStartEncryption
	p.cmdh[cmd.Opcode(8, 0x001a)] = p.leLTKReply
	p.cmdh[cmd.Opcode(8, 0x001b)] = p.leLTKNegReply
	p.cmdh[cmd.Opcode(8, 0x001c)] = p.leReadSupportedStates
	p.cmdh[cmd.Opcode(8, 0x0020)] = p.leConnParamReply
	p.cmdh[cmd.Opcode(8, 0x0021)] = p.leConnParamNegReply
}

// Receive processes one HCI command packet: a little-endian opcode,
// the parameter length and the parameters.
func (p *Processor) Receive(b []byte) error {
	if len(b) < 3 {
		return errors.New("hci: short command packet")
	}
	opcode := binary.LittleEndian.Uint16(b)
	plen := int(b[2])
	if len(b) != 3+plen {
		p.emit(evt.BuildCommandComplete(1, opcode, []byte{byte(llc.ErrInvalidParams)}))
		return nil
	}
	params := b[3:]

	h := p.cmdh[int(opcode)]
	if h == nil {
		p.logger.Debugf("hci: unknown opcode 0x%04x", opcode)
		p.emit(evt.BuildCommandStatus(byte(llc.ErrUnknownCommand), 1, opcode))
		return nil
	}
	p.emit(h(params))
	return nil
}

// ReceiveACL processes one host ACL data packet and queues its payload
// on the addressed connection.
func (p *Processor) ReceiveACL(b []byte) error {
	if len(b) < 4 {
		return errors.New("hci: short ACL packet")
	}
	handle := binary.LittleEndian.Uint16(b) & 0x0fff
	dlen := int(binary.LittleEndian.Uint16(b[2:]))
	if len(b) != 4+dlen {
		return errors.Errorf("hci: ACL length mismatch %d/%d", len(b)-4, dlen)
	}
	if st := p.ctrl.QueueData(handle, b[4:]); !st.Ok() {
		return errors.Wrap(st, "hci: queue data")
	}
	return nil
}

// emit filters an event against the host's event masks and hands it to
// the sink.
func (p *Processor) emit(b []byte) {
	if len(b) < 2 {
		return
	}
	p.mu.Lock()
	sink := p.sink
	masked := p.maskedLocked(b)
	p.mu.Unlock()
	if masked || sink == nil {
		return
	}
	sink(b)
}

// Event mask bit positions [Vol 2, Part E, 7.3.1 / 7.8.1]. Command
// Complete and Command Status are never maskable.
var evtMaskBit = map[uint8]uint{
	evt.DisconnectionCompleteCode:        4,
	evt.EncryptionChangeCode:             7,
	evt.ReadRemoteVersionCompleteCode:    11,
	evt.HardwareErrorCode:                15,
	evt.EncryptionKeyRefreshCompleteCode: 47,
	evt.LEMetaCode:                       61,
}

func (p *Processor) maskedLocked(b []byte) bool {
	code := b[0]
	if bit, ok := evtMaskBit[code]; ok && p.evtMask&(1<<bit) == 0 {
		return true
	}
	if code == evt.LEMetaCode && len(b) >= 3 {
		sub := b[2]
		if sub >= 1 && sub <= 64 && p.leMask&(1<<uint(sub-1)) == 0 {
			return true
		}
	}
	return false
}

func complete(opcode int, ret []byte) []byte {
	return evt.BuildCommandComplete(1, uint16(opcode), ret)
}

func statusRet(opcode int, st llc.Status) []byte {
	return complete(opcode, []byte{byte(st)})
}

func ack(opcode int, st llc.Status) []byte {
	return evt.BuildCommandStatus(byte(st), 1, uint16(opcode))
}

// --- link control / baseband / info ------------------------------------------

func (p *Processor) disconnect(b []byte) []byte {
	op := cmd.Opcode(1, 0x0006)
	if len(b) != 3 {
		return ack(op, llc.ErrInvalidParams)
	}
	handle := binary.LittleEndian.Uint16(b)
	st := p.ctrl.Disconnect(handle, llc.Status(b[2]))
	return ack(op, st)
}

func (p *Processor) readRemoteVersion(b []byte) []byte {
	op := cmd.Opcode(1, 0x001d)
	if len(b) != 2 {
		return ack(op, llc.ErrInvalidParams)
	}
	st := p.ctrl.ReadRemoteVersion(binary.LittleEndian.Uint16(b))
	return ack(op, st)
}

func (p *Processor) setEventMask(b []byte) []byte {
	op := cmd.Opcode(3, 0x0001)
	if len(b) != 8 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	p.mu.Lock()
	p.evtMask = binary.LittleEndian.Uint64(b)
	p.mu.Unlock()
	return statusRet(op, llc.StatusSuccess)
}

func (p *Processor) reset(b []byte) []byte {
	op := cmd.Opcode(3, 0x0003)
	if len(b) != 0 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	st := p.ctrl.Reset()
	p.mu.Lock()
	p.evtMask = 0xffffffffffffffff
	p.leMask = 0xffffffffffffffff
	p.mu.Unlock()
	return statusRet(op, st)
}

func (p *Processor) readLocalVersion(b []byte) []byte {
	op := cmd.Opcode(4, 0x0001)
	ret := make([]byte, 9)
	ret[0] = byte(llc.StatusSuccess)
	ret[1] = hciVersion
	binary.LittleEndian.PutUint16(ret[2:], hciRevision)
	ret[4] = lmpVersion
	binary.LittleEndian.PutUint16(ret[5:], manufacturer)
	binary.LittleEndian.PutUint16(ret[7:], lmpSubversion)
	return complete(op, ret)
}

func (p *Processor) readBDADDR(b []byte) []byte {
	op := cmd.Opcode(4, 0x0009)
	addr := p.ctrl.PublicAddr()
	ret := make([]byte, 7)
	ret[0] = byte(llc.StatusSuccess)
	copy(ret[1:], addr[:])
	return complete(op, ret)
}

// --- LE ----------------------------------------------------------------------

func (p *Processor) leSetEventMask(b []byte) []byte {
	op := cmd.Opcode(8, 0x0001)
	if len(b) != 8 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	p.mu.Lock()
	p.leMask = binary.LittleEndian.Uint64(b)
	p.mu.Unlock()
	return statusRet(op, llc.StatusSuccess)
}

func (p *Processor) leReadBufferSize(b []byte) []byte {
	op := cmd.Opcode(8, 0x0002)
	size, count := p.ctrl.BufferDims()
	ret := make([]byte, 4)
	ret[0] = byte(llc.StatusSuccess)
	binary.LittleEndian.PutUint16(ret[1:], uint16(size))
	ret[3] = uint8(count)
	return complete(op, ret)
}

func (p *Processor) leReadLocalFeatures(b []byte) []byte {
	op := cmd.Opcode(8, 0x0003)
	ret := make([]byte, 9)
	ret[0] = byte(llc.StatusSuccess)
	binary.LittleEndian.PutUint64(ret[1:], ll.FeatureEncryption|ll.FeatureConnParamsReq|
		ll.FeatureExtReject|ll.FeatureSlaveFeatures)
	return complete(op, ret)
}

func (p *Processor) leSetRandomAddress(b []byte) []byte {
	op := cmd.Opcode(8, 0x0005)
	if len(b) != 6 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	var a [6]byte
	copy(a[:], b)
	return statusRet(op, p.ctrl.SetRandomAddress(a))
}

func (p *Processor) leSetAdvParams(b []byte) []byte {
	op := cmd.Opcode(8, 0x0006)
	if len(b) != 15 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	var peer [6]byte
	copy(peer[:], b[7:13])
	st := p.ctrl.Advertiser().SetParams(ll.AdvParams{
		ItvlMin:      binary.LittleEndian.Uint16(b),
		ItvlMax:      binary.LittleEndian.Uint16(b[2:]),
		AdvType:      b[4],
		OwnAddrType:  b[5],
		PeerAddrType: b[6],
		PeerAddr:     peer,
		ChanMap:      b[13],
		FilterPolicy: b[14],
	})
	return statusRet(op, st)
}

func (p *Processor) leReadAdvTxPower(b []byte) []byte {
	op := cmd.Opcode(8, 0x0007)
	// fixed 0 dBm
	return complete(op, []byte{byte(llc.StatusSuccess), 0x00})
}

func (p *Processor) leSetAdvData(b []byte) []byte {
	op := cmd.Opcode(8, 0x0008)
	if len(b) != 32 || int(b[0]) > 31 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	return statusRet(op, p.ctrl.Advertiser().SetAdvData(b[1:1+b[0]]))
}

func (p *Processor) leSetScanRspData(b []byte) []byte {
	op := cmd.Opcode(8, 0x0009)
	if len(b) != 32 || int(b[0]) > 31 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	return statusRet(op, p.ctrl.Advertiser().SetScanRspData(b[1:1+b[0]]))
}

func (p *Processor) leSetAdvEnable(b []byte) []byte {
	op := cmd.Opcode(8, 0x000a)
	if len(b) != 1 || b[0] > 1 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	return statusRet(op, p.ctrl.Advertiser().SetEnable(b[0] == 1))
}

func (p *Processor) leSetScanParams(b []byte) []byte {
	op := cmd.Opcode(8, 0x000b)
	if len(b) != 7 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	st := p.ctrl.Scanner().SetParams(ll.ScanParams{
		ScanType:     b[0],
		Itvl:         binary.LittleEndian.Uint16(b[1:]),
		Window:       binary.LittleEndian.Uint16(b[3:]),
		OwnAddrType:  b[5],
		FilterPolicy: b[6],
	})
	return statusRet(op, st)
}

func (p *Processor) leSetScanEnable(b []byte) []byte {
	op := cmd.Opcode(8, 0x000c)
	if len(b) != 2 || b[0] > 1 || b[1] > 1 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	return statusRet(op, p.ctrl.Scanner().SetEnable(b[0] == 1, b[1] == 1))
}

func (p *Processor) leCreateConn(b []byte) []byte {
	op := cmd.Opcode(8, 0x000d)
	if len(b) != 25 {
		return ack(op, llc.ErrInvalidParams)
	}
	var peer [6]byte
	copy(peer[:], b[6:12])
	st := p.ctrl.CreateConnection(ll.CreateConnParams{
		ScanItvl:     binary.LittleEndian.Uint16(b),
		ScanWindow:   binary.LittleEndian.Uint16(b[2:]),
		FilterPolicy: b[4],
		PeerAddrType: b[5],
		PeerAddr:     peer,
		OwnAddrType:  b[12],
		Conn: ll.ConnParams{
			ItvlMin:  binary.LittleEndian.Uint16(b[13:]),
			ItvlMax:  binary.LittleEndian.Uint16(b[15:]),
			Latency:  binary.LittleEndian.Uint16(b[17:]),
			SpvnTmo:  binary.LittleEndian.Uint16(b[19:]),
			MinCELen: binary.LittleEndian.Uint16(b[21:]),
			MaxCELen: binary.LittleEndian.Uint16(b[23:]),
		},
	})
	return ack(op, st)
}

func (p *Processor) leCreateConnCancel(b []byte) []byte {
	op := cmd.Opcode(8, 0x000e)
	return statusRet(op, p.ctrl.CreateConnectionCancel())
}

func (p *Processor) leReadWhiteListSize(b []byte) []byte {
	op := cmd.Opcode(8, 0x000f)
	return complete(op, []byte{byte(llc.StatusSuccess), uint8(p.ctrl.Whitelist().Size())})
}

func (p *Processor) leClearWhiteList(b []byte) []byte {
	op := cmd.Opcode(8, 0x0010)
	return statusRet(op, p.ctrl.Whitelist().Clear())
}

func (p *Processor) leAddWhiteList(b []byte) []byte {
	op := cmd.Opcode(8, 0x0011)
	if len(b) != 7 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	var a [6]byte
	copy(a[:], b[1:])
	return statusRet(op, p.ctrl.Whitelist().Add(a, b[0]))
}

func (p *Processor) leRemoveWhiteList(b []byte) []byte {
	op := cmd.Opcode(8, 0x0012)
	if len(b) != 7 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	var a [6]byte
	copy(a[:], b[1:])
	return statusRet(op, p.ctrl.Whitelist().Remove(a, b[0]))
}

func (p *Processor) leConnUpdate(b []byte) []byte {
	op := cmd.Opcode(8, 0x0013)
	if len(b) != 14 {
		return ack(op, llc.ErrInvalidParams)
	}
	handle := binary.LittleEndian.Uint16(b)
	st := p.ctrl.ConnUpdate(handle, ll.ConnParams{
		ItvlMin:  binary.LittleEndian.Uint16(b[2:]),
		ItvlMax:  binary.LittleEndian.Uint16(b[4:]),
		Latency:  binary.LittleEndian.Uint16(b[6:]),
		SpvnTmo:  binary.LittleEndian.Uint16(b[8:]),
		MinCELen: binary.LittleEndian.Uint16(b[10:]),
		MaxCELen: binary.LittleEndian.Uint16(b[12:]),
	})
	return ack(op, st)
}

func (p *Processor) leSetHostChanClass(b []byte) []byte {
	op := cmd.Opcode(8, 0x0014)
	if len(b) != 5 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	var m [5]byte
	copy(m[:], b)
	return statusRet(op, p.ctrl.SetHostChannelClassification(m))
}

func (p *Processor) leReadChanMap(b []byte) []byte {
	op := cmd.Opcode(8, 0x0015)
	if len(b) != 2 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	handle := binary.LittleEndian.Uint16(b)
	m, st := p.ctrl.ReadChannelMap(handle)
	ret := make([]byte, 8)
	ret[0] = byte(st)
	binary.LittleEndian.PutUint16(ret[1:], handle)
	copy(ret[3:], m[:])
	return complete(op, ret)
}

func (p *Processor) leReadRemoteFeatures(b []byte) []byte {
	op := cmd.Opcode(8, 0x0016)
	if len(b) != 2 {
		return ack(op, llc.ErrInvalidParams)
	}
	return ack(op, p.ctrl.ReadRemoteFeatures(binary.LittleEndian.Uint16(b)))
}

// leEncrypt runs the host-visible AES-128 block. Key and plaintext
// arrive LSB first.
func (p *Processor) leEncrypt(b []byte) []byte {
	op := cmd.Opcode(8, 0x0017)
	if len(b) != 32 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	c, err := aes.NewCipher(sliceops.SwapBuf(b[:16]))
	if err != nil {
		return statusRet(op, llc.ErrHardware)
	}
	var out [16]byte
	c.Encrypt(out[:], sliceops.SwapBuf(b[16:32]))

	ret := make([]byte, 17)
	ret[0] = byte(llc.StatusSuccess)
	copy(ret[1:], sliceops.SwapBuf(out[:]))
	return complete(op, ret)
}

func (p *Processor) leRand(b []byte) []byte {
	op := cmd.Opcode(8, 0x0018)
	ret := make([]byte, 9)
	ret[0] = byte(llc.StatusSuccess)
	binary.LittleEndian.PutUint64(ret[1:], ll.RandomNumber())
	return complete(op, ret)
}

func (p *Processor) leStartEncryption(b []byte) []byte {
	op := cmd.Opcode(8, 0x0019)
	if len(b) != 28 {
		return ack(op, llc.ErrInvalidParams)
	}
	handle := binary.LittleEndian.Uint16(b)
	rand := binary.LittleEndian.Uint64(b[2:])
	ediv := binary.LittleEndian.Uint16(b[10:])
	var ltk [16]byte
	copy(ltk[:], b[12:28])
	return ack(op, p.ctrl.StartEncryption(handle, rand, ediv, ltk))
}

func (p *Processor) leLTKReply(b []byte) []byte {
	op := cmd.Opcode(8, 0x001a)
	if len(b) != 18 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	handle := binary.LittleEndian.Uint16(b)
	var ltk [16]byte
	copy(ltk[:], b[2:18])
	st := p.ctrl.LTKRequestReply(handle, ltk)

	ret := make([]byte, 3)
	ret[0] = byte(st)
	binary.LittleEndian.PutUint16(ret[1:], handle)
	return complete(op, ret)
}

func (p *Processor) leLTKNegReply(b []byte) []byte {
	op := cmd.Opcode(8, 0x001b)
	if len(b) != 2 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	handle := binary.LittleEndian.Uint16(b)
	st := p.ctrl.LTKRequestNegReply(handle)

	ret := make([]byte, 3)
	ret[0] = byte(st)
	binary.LittleEndian.PutUint16(ret[1:], handle)
	return complete(op, ret)
}

func (p *Processor) leReadSupportedStates(b []byte) []byte {
	op := cmd.Opcode(8, 0x001c)
	ret := make([]byte, 9)
	ret[0] = byte(llc.StatusSuccess)
	binary.LittleEndian.PutUint64(ret[1:], leStatesSupported)
	return complete(op, ret)
}

func (p *Processor) leConnParamReply(b []byte) []byte {
	op := cmd.Opcode(8, 0x0020)
	if len(b) != 14 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	handle := binary.LittleEndian.Uint16(b)
	st := p.ctrl.RemoteConnParamReqReply(handle, ll.ConnParams{
		ItvlMin:  binary.LittleEndian.Uint16(b[2:]),
		ItvlMax:  binary.LittleEndian.Uint16(b[4:]),
		Latency:  binary.LittleEndian.Uint16(b[6:]),
		SpvnTmo:  binary.LittleEndian.Uint16(b[8:]),
		MinCELen: binary.LittleEndian.Uint16(b[10:]),
		MaxCELen: binary.LittleEndian.Uint16(b[12:]),
	})
	ret := make([]byte, 3)
	ret[0] = byte(st)
	binary.LittleEndian.PutUint16(ret[1:], handle)
	return complete(op, ret)
}

func (p *Processor) leConnParamNegReply(b []byte) []byte {
	op := cmd.Opcode(8, 0x0021)
	if len(b) != 3 {
		return statusRet(op, llc.ErrInvalidParams)
	}
	handle := binary.LittleEndian.Uint16(b)
	st := p.ctrl.RemoteConnParamReqNegReply(handle, llc.Status(b[2]))
	ret := make([]byte, 3)
	ret[0] = byte(st)
	binary.LittleEndian.PutUint16(ret[1:], handle)
	return complete(op, ret)
}
