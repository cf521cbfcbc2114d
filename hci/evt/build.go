package evt

import "encoding/binary"

// The builders assemble complete HCI event packets: event code, the
// parameter length, then the parameters.

func pack(code uint8, params []byte) []byte {
	b := make([]byte, 0, 2+len(params))
	b = append(b, code, uint8(len(params)))
	return append(b, params...)
}

func packLE(sub uint8, params []byte) []byte {
	b := make([]byte, 0, 1+len(params))
	b = append(b, sub)
	return pack(LEMetaCode, append(b, params...))
}

// BuildCommandComplete reports the result of a command together with
// the number of command credits the host gets back.
func BuildCommandComplete(numPkts uint8, opcode uint16, ret []byte) []byte {
	p := make([]byte, 3, 3+len(ret))
	p[0] = numPkts
	binary.LittleEndian.PutUint16(p[1:], opcode)
	return pack(CommandCompleteCode, append(p, ret...))
}

// BuildCommandStatus acknowledges a command whose outcome arrives in a
// later event.
func BuildCommandStatus(status uint8, numPkts uint8, opcode uint16) []byte {
	p := make([]byte, 4)
	p[0] = status
	p[1] = numPkts
	binary.LittleEndian.PutUint16(p[2:], opcode)
	return pack(CommandStatusCode, p)
}

func BuildDisconnectionComplete(status uint8, handle uint16, reason uint8) []byte {
	p := make([]byte, 4)
	p[0] = status
	binary.LittleEndian.PutUint16(p[1:], handle)
	p[3] = reason
	return pack(DisconnectionCompleteCode, p)
}

func BuildEncryptionChange(status uint8, handle uint16, enabled uint8) []byte {
	p := make([]byte, 4)
	p[0] = status
	binary.LittleEndian.PutUint16(p[1:], handle)
	p[3] = enabled
	return pack(EncryptionChangeCode, p)
}

func BuildEncryptionKeyRefreshComplete(status uint8, handle uint16) []byte {
	p := make([]byte, 3)
	p[0] = status
	binary.LittleEndian.PutUint16(p[1:], handle)
	return pack(EncryptionKeyRefreshCompleteCode, p)
}

func BuildReadRemoteVersionComplete(status uint8, handle uint16, vers uint8, company, subvers uint16) []byte {
	p := make([]byte, 8)
	p[0] = status
	binary.LittleEndian.PutUint16(p[1:], handle)
	p[3] = vers
	binary.LittleEndian.PutUint16(p[4:], company)
	binary.LittleEndian.PutUint16(p[6:], subvers)
	return pack(ReadRemoteVersionCompleteCode, p)
}

func BuildHardwareError(code uint8) []byte {
	return pack(HardwareErrorCode, []byte{code})
}

// BuildNumberOfCompletedPackets batches per-handle completion counts
// into one event.
func BuildNumberOfCompletedPackets(handles []uint16, counts []uint16) []byte {
	n := len(handles)
	p := make([]byte, 1+4*n)
	p[0] = uint8(n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(p[1+4*i:], handles[i])
		binary.LittleEndian.PutUint16(p[3+4*i:], counts[i])
	}
	return pack(NumberOfCompletedPacketsCode, p)
}

func BuildLEConnectionComplete(status uint8, handle uint16, role, peerAddrType uint8,
	peer [6]byte, itvl, latency, spvnTmo uint16, mca uint8) []byte {
	p := make([]byte, 18)
	p[0] = status
	binary.LittleEndian.PutUint16(p[1:], handle)
	p[3] = role
	p[4] = peerAddrType
	copy(p[5:], peer[:])
	binary.LittleEndian.PutUint16(p[11:], itvl)
	binary.LittleEndian.PutUint16(p[13:], latency)
	binary.LittleEndian.PutUint16(p[15:], spvnTmo)
	p[17] = mca
	return packLE(LEConnectionCompleteSubCode, p)
}

// BuildLEAdvertisingReport carries a single report.
func BuildLEAdvertisingReport(eventType, addrType uint8, addr [6]byte, data []byte, rssi int8) []byte {
	p := make([]byte, 0, 10+len(data)+1)
	p = append(p, 0x01, eventType, addrType)
	p = append(p, addr[:]...)
	p = append(p, uint8(len(data)))
	p = append(p, data...)
	p = append(p, uint8(rssi))
	return packLE(LEAdvertisingReportSubCode, p)
}

func BuildLEConnectionUpdateComplete(status uint8, handle uint16, itvl, latency, spvnTmo uint16) []byte {
	p := make([]byte, 9)
	p[0] = status
	binary.LittleEndian.PutUint16(p[1:], handle)
	binary.LittleEndian.PutUint16(p[3:], itvl)
	binary.LittleEndian.PutUint16(p[5:], latency)
	binary.LittleEndian.PutUint16(p[7:], spvnTmo)
	return packLE(LEConnectionUpdateCompleteSubCode, p)
}

func BuildLEReadRemoteFeaturesComplete(status uint8, handle uint16, features uint64) []byte {
	p := make([]byte, 11)
	p[0] = status
	binary.LittleEndian.PutUint16(p[1:], handle)
	binary.LittleEndian.PutUint64(p[3:], features)
	return packLE(LEReadRemoteFeaturesCompleteSubCode, p)
}

func BuildLELongTermKeyRequest(handle uint16, rand uint64, ediv uint16) []byte {
	p := make([]byte, 12)
	binary.LittleEndian.PutUint16(p[0:], handle)
	binary.LittleEndian.PutUint64(p[2:], rand)
	binary.LittleEndian.PutUint16(p[10:], ediv)
	return packLE(LELongTermKeyRequestSubCode, p)
}

func BuildLERemoteConnParamReq(handle uint16, itvlMin, itvlMax, latency, spvnTmo uint16) []byte {
	p := make([]byte, 10)
	binary.LittleEndian.PutUint16(p[0:], handle)
	binary.LittleEndian.PutUint16(p[2:], itvlMin)
	binary.LittleEndian.PutUint16(p[4:], itvlMax)
	binary.LittleEndian.PutUint16(p[6:], latency)
	binary.LittleEndian.PutUint16(p[8:], spvnTmo)
	return packLE(LERemoteConnParamReqSubCode, p)
}
