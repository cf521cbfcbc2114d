// Package evt encodes and decodes HCI event packets. Each event type
// is a []byte view over the event parameters; accessors come in a
// checked WErr form and an unchecked convenience form.
package evt

// HCI event codes [Vol 2, Part E, 7.7].
const (
	DisconnectionCompleteCode        = 0x05
	EncryptionChangeCode             = 0x08
	ReadRemoteVersionCompleteCode    = 0x0c
	CommandCompleteCode              = 0x0e
	CommandStatusCode                = 0x0f
	HardwareErrorCode                = 0x10
	NumberOfCompletedPacketsCode     = 0x13
	EncryptionKeyRefreshCompleteCode = 0x30
	LEMetaCode                       = 0x3e
)

// LE meta subevent codes [Vol 2, Part E, 7.7.65].
const (
	LEConnectionCompleteSubCode         = 0x01
	LEAdvertisingReportSubCode          = 0x02
	LEConnectionUpdateCompleteSubCode   = 0x03
	LEReadRemoteFeaturesCompleteSubCode = 0x04
	LELongTermKeyRequestSubCode         = 0x05
	LERemoteConnParamReqSubCode         = 0x06
)

type CommandComplete []byte
type CommandStatus []byte
type DisconnectionComplete []byte
type EncryptionChange []byte
type ReadRemoteVersionComplete []byte
type HardwareError []byte
type NumberOfCompletedPackets []byte
type EncryptionKeyRefreshComplete []byte
type LEConnectionComplete []byte
type LEAdvertisingReport []byte
type LEConnectionUpdateComplete []byte
type LEReadRemoteFeaturesComplete []byte
type LELongTermKeyRequest []byte
type LERemoteConnParamReq []byte

func (e CommandComplete) NumHCICommandPackets() uint8 {
	v, _ := e.NumHCICommandPacketsWErr()
	return v
}

func (e CommandComplete) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e CommandComplete) ReturnParameters() []byte {
	v, _ := e.ReturnParametersWErr()
	return v
}

func (e CommandStatus) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e CommandStatus) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e DisconnectionComplete) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e DisconnectionComplete) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e DisconnectionComplete) Reason() uint8 {
	v, _ := e.ReasonWErr()
	return v
}

func (e EncryptionChange) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e EncryptionChange) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e EncryptionChange) EncryptionEnabled() uint8 {
	v, _ := e.EncryptionEnabledWErr()
	return v
}

func (e NumberOfCompletedPackets) NumberOfHandles() uint8 {
	v, _ := e.NumberOfHandlesWErr()
	return v
}

func (e NumberOfCompletedPackets) ConnectionHandle(i int) uint16 {
	v, _ := e.ConnectionHandleWErr(i)
	return v
}

func (e NumberOfCompletedPackets) HCNumOfCompletedPackets(i int) uint16 {
	v, _ := e.HCNumOfCompletedPacketsWErr(i)
	return v
}

func (e LEConnectionComplete) SubeventCode() uint8 {
	v, _ := e.SubeventCodeWErr()
	return v
}

func (e LEConnectionComplete) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e LEConnectionComplete) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e LEConnectionComplete) Role() uint8 {
	v, _ := e.RoleWErr()
	return v
}

func (e LEConnectionComplete) PeerAddressType() uint8 {
	v, _ := e.PeerAddressTypeWErr()
	return v
}

func (e LEConnectionComplete) PeerAddress() [6]byte {
	v, _ := e.PeerAddressWErr()
	return v
}

func (e LEConnectionComplete) ConnInterval() uint16 {
	v, _ := e.ConnIntervalWErr()
	return v
}

func (e LEConnectionComplete) ConnLatency() uint16 {
	v, _ := e.ConnLatencyWErr()
	return v
}

func (e LEConnectionComplete) SupervisionTimeout() uint16 {
	v, _ := e.SupervisionTimeoutWErr()
	return v
}

func (e LEConnectionComplete) MasterClockAccuracy() uint8 {
	v, _ := e.MasterClockAccuracyWErr()
	return v
}

func (e LEAdvertisingReport) SubeventCode() uint8 {
	v, _ := e.SubeventCodeWErr()
	return v
}

func (e LEAdvertisingReport) NumReports() uint8 {
	v, _ := e.NumReportsWErr()
	return v
}

func (e LEAdvertisingReport) EventType(i int) uint8 {
	v, _ := e.EventTypeWErr(i)
	return v
}

func (e LEAdvertisingReport) AddressType(i int) uint8 {
	v, _ := e.AddressTypeWErr(i)
	return v
}

func (e LEAdvertisingReport) Address(i int) [6]byte {
	v, _ := e.AddressWErr(i)
	return v
}

func (e LEAdvertisingReport) LengthData(i int) uint8 {
	v, _ := e.LengthDataWErr(i)
	return v
}

func (e LEAdvertisingReport) Data(i int) []byte {
	v, _ := e.DataWErr(i)
	return v
}

func (e LEAdvertisingReport) RSSI(i int) int8 {
	v, _ := e.RSSIWErr(i)
	return v
}

func (e LEConnectionUpdateComplete) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e LEConnectionUpdateComplete) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e LEConnectionUpdateComplete) ConnInterval() uint16 {
	v, _ := e.ConnIntervalWErr()
	return v
}

func (e LEConnectionUpdateComplete) ConnLatency() uint16 {
	v, _ := e.ConnLatencyWErr()
	return v
}

func (e LEConnectionUpdateComplete) SupervisionTimeout() uint16 {
	v, _ := e.SupervisionTimeoutWErr()
	return v
}

func (e LELongTermKeyRequest) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e LELongTermKeyRequest) RandomNumber() uint64 {
	v, _ := e.RandomNumberWErr()
	return v
}

func (e LELongTermKeyRequest) EncryptionDiversifier() uint16 {
	v, _ := e.EncryptionDiversifierWErr()
	return v
}
