package ll

// Transition hints tell the PHY what follows the current operation so
// it can pre-ramp within the T_IFS budget.
type Transition uint8

const (
	TransitionNone Transition = iota
	TransitionTxToRx
	TransitionRxToTx
)

// RadioHandler receives completion callbacks from the radio driver.
// Both callbacks run in interrupt-equivalent context: they may drive
// the PHY and post task events, nothing else.
type RadioHandler interface {
	// TxDone is invoked when a transmission completes on air.
	TxDone(now Ticks)

	// RxPDU is invoked with a received advertising-channel or
	// data-channel PDU. The buffer is only valid for the duration of
	// the call.
	RxPDU(b []byte, rssi int8, now Ticks)
}

// Radio is the physical radio driver boundary. Implementations issue
// completion callbacks from their own (interrupt-equivalent) context.
type Radio interface {
	// SetChannel tunes to an advertising or data channel and programs
	// the access address and CRC initializer used on it.
	SetChannel(ch uint8, accessAddr uint32, crcInit uint32) error

	// Transmit sends one PDU. The hint tells the PHY whether to stay
	// up for a reply within T_IFS.
	Transmit(b []byte, hint Transition) error

	// Receive opens the receiver. The hint tells the PHY whether a
	// transmit reply may follow.
	Receive(hint Transition) error

	// Disable forces the radio to idle, cancelling any in-flight
	// operation. Safe to call at any time.
	Disable() error

	// SetHandler registers the completion callback sink.
	SetHandler(h RadioHandler)
}
