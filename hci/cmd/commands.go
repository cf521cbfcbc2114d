package cmd

// Disconnect (0x01|0x0006)
type Disconnect struct {
	ConnectionHandle uint16
	Reason           uint8
}

func (c *Disconnect) OpCode() int            { return Opcode(1, 0x0006) }
func (c *Disconnect) Len() int               { return 3 }
func (c *Disconnect) Marshal(b []byte) error { return marshal(c, b) }

// ReadRemoteVersionInformation (0x01|0x001D)
type ReadRemoteVersionInformation struct {
	ConnectionHandle uint16
}

func (c *ReadRemoteVersionInformation) OpCode() int            { return Opcode(1, 0x001d) }
func (c *ReadRemoteVersionInformation) Len() int               { return 2 }
func (c *ReadRemoteVersionInformation) Marshal(b []byte) error { return marshal(c, b) }

// SetEventMask (0x03|0x0001)
type SetEventMask struct {
	EventMask uint64
}

func (c *SetEventMask) OpCode() int            { return Opcode(3, 0x0001) }
func (c *SetEventMask) Len() int               { return 8 }
func (c *SetEventMask) Marshal(b []byte) error { return marshal(c, b) }

// SetEventMaskRP ...
type SetEventMaskRP struct {
	Status uint8
}

func (c *SetEventMaskRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// Reset (0x03|0x0003)
type Reset struct{}

func (c *Reset) OpCode() int            { return Opcode(3, 0x0003) }
func (c *Reset) Len() int               { return 0 }
func (c *Reset) Marshal(b []byte) error { return marshal(c, b) }

// ResetRP ...
type ResetRP struct {
	Status uint8
}

func (c *ResetRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// ReadLocalVersionInformation (0x04|0x0001)
type ReadLocalVersionInformation struct{}

func (c *ReadLocalVersionInformation) OpCode() int            { return Opcode(4, 0x0001) }
func (c *ReadLocalVersionInformation) Len() int               { return 0 }
func (c *ReadLocalVersionInformation) Marshal(b []byte) error { return marshal(c, b) }

// ReadLocalVersionInformationRP ...
type ReadLocalVersionInformationRP struct {
	Status           uint8
	HCIVersion       uint8
	HCIRevision      uint16
	LMPVersion       uint8
	ManufacturerName uint16
	LMPSubversion    uint16
}

func (c *ReadLocalVersionInformationRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// ReadBDADDR (0x04|0x0009)
type ReadBDADDR struct{}

func (c *ReadBDADDR) OpCode() int            { return Opcode(4, 0x0009) }
func (c *ReadBDADDR) Len() int               { return 0 }
func (c *ReadBDADDR) Marshal(b []byte) error { return marshal(c, b) }

// ReadBDADDRRP ...
type ReadBDADDRRP struct {
	Status uint8
	BDADDR [6]byte
}

func (c *ReadBDADDRRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetEventMask (0x08|0x0001)
type LESetEventMask struct {
	LEEventMask uint64
}

func (c *LESetEventMask) OpCode() int            { return Opcode(8, 0x0001) }
func (c *LESetEventMask) Len() int               { return 8 }
func (c *LESetEventMask) Marshal(b []byte) error { return marshal(c, b) }

// LEReadBufferSize (0x08|0x0002)
type LEReadBufferSize struct{}

func (c *LEReadBufferSize) OpCode() int            { return Opcode(8, 0x0002) }
func (c *LEReadBufferSize) Len() int               { return 0 }
func (c *LEReadBufferSize) Marshal(b []byte) error { return marshal(c, b) }

// LEReadBufferSizeRP ...
type LEReadBufferSizeRP struct {
	Status                     uint8
	HCLEDataPacketLength       uint16
	HCTotalNumLEDataPackets    uint8
}

func (c *LEReadBufferSizeRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEReadLocalSupportedFeatures (0x08|0x0003)
type LEReadLocalSupportedFeatures struct{}

func (c *LEReadLocalSupportedFeatures) OpCode() int            { return Opcode(8, 0x0003) }
func (c *LEReadLocalSupportedFeatures) Len() int               { return 0 }
func (c *LEReadLocalSupportedFeatures) Marshal(b []byte) error { return marshal(c, b) }

// LEReadLocalSupportedFeaturesRP ...
type LEReadLocalSupportedFeaturesRP struct {
	Status     uint8
	LEFeatures uint64
}

func (c *LEReadLocalSupportedFeaturesRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetRandomAddress (0x08|0x0005)
type LESetRandomAddress struct {
	RandomAddress [6]byte
}

func (c *LESetRandomAddress) OpCode() int            { return Opcode(8, 0x0005) }
func (c *LESetRandomAddress) Len() int               { return 6 }
func (c *LESetRandomAddress) Marshal(b []byte) error { return marshal(c, b) }

// LESetAdvertisingParameters (0x08|0x0006)
type LESetAdvertisingParameters struct {
	AdvertisingIntervalMin  uint16
	AdvertisingIntervalMax  uint16
	AdvertisingType         uint8
	OwnAddressType          uint8
	DirectAddressType       uint8
	DirectAddress           [6]byte
	AdvertisingChannelMap   uint8
	AdvertisingFilterPolicy uint8
}

func (c *LESetAdvertisingParameters) OpCode() int            { return Opcode(8, 0x0006) }
func (c *LESetAdvertisingParameters) Len() int               { return 15 }
func (c *LESetAdvertisingParameters) Marshal(b []byte) error { return marshal(c, b) }

// LEReadAdvertisingChannelTxPower (0x08|0x0007)
type LEReadAdvertisingChannelTxPower struct{}

func (c *LEReadAdvertisingChannelTxPower) OpCode() int            { return Opcode(8, 0x0007) }
func (c *LEReadAdvertisingChannelTxPower) Len() int               { return 0 }
func (c *LEReadAdvertisingChannelTxPower) Marshal(b []byte) error { return marshal(c, b) }

// LEReadAdvertisingChannelTxPowerRP ...
type LEReadAdvertisingChannelTxPowerRP struct {
	Status             uint8
	TransmitPowerLevel int8
}

func (c *LEReadAdvertisingChannelTxPowerRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetAdvertisingData (0x08|0x0008)
type LESetAdvertisingData struct {
	AdvertisingDataLength uint8
	AdvertisingData       [31]byte
}

func (c *LESetAdvertisingData) OpCode() int            { return Opcode(8, 0x0008) }
func (c *LESetAdvertisingData) Len() int               { return 32 }
func (c *LESetAdvertisingData) Marshal(b []byte) error { return marshal(c, b) }

// LESetScanResponseData (0x08|0x0009)
type LESetScanResponseData struct {
	ScanResponseDataLength uint8
	ScanResponseData       [31]byte
}

func (c *LESetScanResponseData) OpCode() int            { return Opcode(8, 0x0009) }
func (c *LESetScanResponseData) Len() int               { return 32 }
func (c *LESetScanResponseData) Marshal(b []byte) error { return marshal(c, b) }

// LESetAdvertiseEnable (0x08|0x000A)
type LESetAdvertiseEnable struct {
	AdvertisingEnable uint8
}

func (c *LESetAdvertiseEnable) OpCode() int            { return Opcode(8, 0x000a) }
func (c *LESetAdvertiseEnable) Len() int               { return 1 }
func (c *LESetAdvertiseEnable) Marshal(b []byte) error { return marshal(c, b) }

// LESetScanParameters (0x08|0x000B)
type LESetScanParameters struct {
	LEScanType           uint8
	LEScanInterval       uint16
	LEScanWindow         uint16
	OwnAddressType       uint8
	ScanningFilterPolicy uint8
}

func (c *LESetScanParameters) OpCode() int            { return Opcode(8, 0x000b) }
func (c *LESetScanParameters) Len() int               { return 7 }
func (c *LESetScanParameters) Marshal(b []byte) error { return marshal(c, b) }

// LESetScanEnable (0x08|0x000C)
type LESetScanEnable struct {
	LEScanEnable     uint8
	FilterDuplicates uint8
}

func (c *LESetScanEnable) OpCode() int            { return Opcode(8, 0x000c) }
func (c *LESetScanEnable) Len() int               { return 2 }
func (c *LESetScanEnable) Marshal(b []byte) error { return marshal(c, b) }

// LECreateConnection (0x08|0x000D)
type LECreateConnection struct {
	LEScanInterval        uint16
	LEScanWindow          uint16
	InitiatorFilterPolicy uint8
	PeerAddressType       uint8
	PeerAddress           [6]byte
	OwnAddressType        uint8
	ConnIntervalMin       uint16
	ConnIntervalMax       uint16
	ConnLatency           uint16
	SupervisionTimeout    uint16
	MinimumCELength       uint16
	MaximumCELength       uint16
}

func (c *LECreateConnection) OpCode() int            { return Opcode(8, 0x000d) }
func (c *LECreateConnection) Len() int               { return 25 }
func (c *LECreateConnection) Marshal(b []byte) error { return marshal(c, b) }

// LECreateConnectionCancel (0x08|0x000E)
type LECreateConnectionCancel struct{}

func (c *LECreateConnectionCancel) OpCode() int            { return Opcode(8, 0x000e) }
func (c *LECreateConnectionCancel) Len() int               { return 0 }
func (c *LECreateConnectionCancel) Marshal(b []byte) error { return marshal(c, b) }

// LEReadWhiteListSize (0x08|0x000F)
type LEReadWhiteListSize struct{}

func (c *LEReadWhiteListSize) OpCode() int            { return Opcode(8, 0x000f) }
func (c *LEReadWhiteListSize) Len() int               { return 0 }
func (c *LEReadWhiteListSize) Marshal(b []byte) error { return marshal(c, b) }

// LEReadWhiteListSizeRP ...
type LEReadWhiteListSizeRP struct {
	Status            uint8
	WhiteListSize     uint8
}

func (c *LEReadWhiteListSizeRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEClearWhiteList (0x08|0x0010)
type LEClearWhiteList struct{}

func (c *LEClearWhiteList) OpCode() int            { return Opcode(8, 0x0010) }
func (c *LEClearWhiteList) Len() int               { return 0 }
func (c *LEClearWhiteList) Marshal(b []byte) error { return marshal(c, b) }

// LEAddDeviceToWhiteList (0x08|0x0011)
type LEAddDeviceToWhiteList struct {
	AddressType uint8
	Address     [6]byte
}

func (c *LEAddDeviceToWhiteList) OpCode() int            { return Opcode(8, 0x0011) }
func (c *LEAddDeviceToWhiteList) Len() int               { return 7 }
func (c *LEAddDeviceToWhiteList) Marshal(b []byte) error { return marshal(c, b) }

// LERemoveDeviceFromWhiteList (0x08|0x0012)
type LERemoveDeviceFromWhiteList struct {
	AddressType uint8
	Address     [6]byte
}

func (c *LERemoveDeviceFromWhiteList) OpCode() int            { return Opcode(8, 0x0012) }
func (c *LERemoveDeviceFromWhiteList) Len() int               { return 7 }
func (c *LERemoveDeviceFromWhiteList) Marshal(b []byte) error { return marshal(c, b) }

// LEConnectionUpdate (0x08|0x0013)
type LEConnectionUpdate struct {
	ConnectionHandle   uint16
	ConnIntervalMin    uint16
	ConnIntervalMax    uint16
	ConnLatency        uint16
	SupervisionTimeout uint16
	MinimumCELength    uint16
	MaximumCELength    uint16
}

func (c *LEConnectionUpdate) OpCode() int            { return Opcode(8, 0x0013) }
func (c *LEConnectionUpdate) Len() int               { return 14 }
func (c *LEConnectionUpdate) Marshal(b []byte) error { return marshal(c, b) }

// LESetHostChannelClassification (0x08|0x0014)
type LESetHostChannelClassification struct {
	ChannelMap [5]byte
}

func (c *LESetHostChannelClassification) OpCode() int            { return Opcode(8, 0x0014) }
func (c *LESetHostChannelClassification) Len() int               { return 5 }
func (c *LESetHostChannelClassification) Marshal(b []byte) error { return marshal(c, b) }

// LEReadChannelMap (0x08|0x0015)
type LEReadChannelMap struct {
	ConnectionHandle uint16
}

func (c *LEReadChannelMap) OpCode() int            { return Opcode(8, 0x0015) }
func (c *LEReadChannelMap) Len() int               { return 2 }
func (c *LEReadChannelMap) Marshal(b []byte) error { return marshal(c, b) }

// LEReadChannelMapRP ...
type LEReadChannelMapRP struct {
	Status           uint8
	ConnectionHandle uint16
	ChannelMap       [5]byte
}

func (c *LEReadChannelMapRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEReadRemoteUsedFeatures (0x08|0x0016)
type LEReadRemoteUsedFeatures struct {
	ConnectionHandle uint16
}

func (c *LEReadRemoteUsedFeatures) OpCode() int            { return Opcode(8, 0x0016) }
func (c *LEReadRemoteUsedFeatures) Len() int               { return 2 }
func (c *LEReadRemoteUsedFeatures) Marshal(b []byte) error { return marshal(c, b) }

// LEEncrypt (0x08|0x0017)
type LEEncrypt struct {
	Key           [16]byte
	PlaintextData [16]byte
}

func (c *LEEncrypt) OpCode() int            { return Opcode(8, 0x0017) }
func (c *LEEncrypt) Len() int               { return 32 }
func (c *LEEncrypt) Marshal(b []byte) error { return marshal(c, b) }

// LEEncryptRP ...
type LEEncryptRP struct {
	Status        uint8
	EncryptedData [16]byte
}

func (c *LEEncryptRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LERand (0x08|0x0018)
type LERand struct{}

func (c *LERand) OpCode() int            { return Opcode(8, 0x0018) }
func (c *LERand) Len() int               { return 0 }
func (c *LERand) Marshal(b []byte) error { return marshal(c, b) }

// LERandRP ...
type LERandRP struct {
	Status       uint8
	RandomNumber uint64
}

func (c *LERandRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEStartEncryption (0x08|0x0019)
type LEStartEncryption struct {
	ConnectionHandle     uint16
	RandomNumber         uint64
	EncryptedDiversifier uint16
	LongTermKey          [16]byte
}

func (c *LEStartEncryption) OpCode() int            { return Opcode(8, 0x0019) }
func (c *LEStartEncryption) Len() int               { return 28 }
func (c *LEStartEncryption) Marshal(b []byte) error { return marshal(c, b) }

// LELongTermKeyRequestReply (0x08|0x001A)
type LELongTermKeyRequestReply struct {
	ConnectionHandle uint16
	LongTermKey      [16]byte
}

func (c *LELongTermKeyRequestReply) OpCode() int            { return Opcode(8, 0x001a) }
func (c *LELongTermKeyRequestReply) Len() int               { return 18 }
func (c *LELongTermKeyRequestReply) Marshal(b []byte) error { return marshal(c, b) }

// LELongTermKeyRequestReplyRP ...
type LELongTermKeyRequestReplyRP struct {
	Status           uint8
	ConnectionHandle uint16
}

func (c *LELongTermKeyRequestReplyRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LELongTermKeyRequestNegativeReply (0x08|0x001B)
type LELongTermKeyRequestNegativeReply struct {
	ConnectionHandle uint16
}

func (c *LELongTermKeyRequestNegativeReply) OpCode() int            { return Opcode(8, 0x001b) }
func (c *LELongTermKeyRequestNegativeReply) Len() int               { return 2 }
func (c *LELongTermKeyRequestNegativeReply) Marshal(b []byte) error { return marshal(c, b) }

// LEReadSupportedStates (0x08|0x001C)
type LEReadSupportedStates struct{}

func (c *LEReadSupportedStates) OpCode() int            { return Opcode(8, 0x001c) }
func (c *LEReadSupportedStates) Len() int               { return 0 }
func (c *LEReadSupportedStates) Marshal(b []byte) error { return marshal(c, b) }

// LEReadSupportedStatesRP ...
type LEReadSupportedStatesRP struct {
	Status   uint8
	LEStates [8]byte
}

func (c *LEReadSupportedStatesRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LERemoteConnectionParameterRequestReply (0x08|0x0020)
type LERemoteConnectionParameterRequestReply struct {
	ConnectionHandle   uint16
	IntervalMin        uint16
	IntervalMax        uint16
	Latency            uint16
	Timeout            uint16
	MinimumCELength    uint16
	MaximumCELength    uint16
}

func (c *LERemoteConnectionParameterRequestReply) OpCode() int            { return Opcode(8, 0x0020) }
func (c *LERemoteConnectionParameterRequestReply) Len() int               { return 14 }
func (c *LERemoteConnectionParameterRequestReply) Marshal(b []byte) error { return marshal(c, b) }

// LERemoteConnectionParameterRequestNegativeReply (0x08|0x0021)
type LERemoteConnectionParameterRequestNegativeReply struct {
	ConnectionHandle uint16
	Reason           uint8
}

func (c *LERemoteConnectionParameterRequestNegativeReply) OpCode() int {
	return Opcode(8, 0x0021)
}
func (c *LERemoteConnectionParameterRequestNegativeReply) Len() int               { return 3 }
func (c *LERemoteConnectionParameterRequestNegativeReply) Marshal(b []byte) error { return marshal(c, b) }
