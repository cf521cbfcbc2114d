package llc

// Status is a Link Layer / HCI protocol status code [Vol 2, Part D, 2].
// It doubles as an error for task-context plumbing; the byte value is
// what goes on the wire in Command Complete / Command Status events.
type Status byte

const (
	StatusSuccess         Status = 0x00
	ErrUnknownCommand     Status = 0x01
	ErrUnknownConnID      Status = 0x02
	ErrHardware           Status = 0x03
	ErrAuthFailure        Status = 0x05
	ErrPinKeyMissing      Status = 0x06
	ErrMemCapacity        Status = 0x07
	ErrConnTimeout        Status = 0x08
	ErrConnLimit          Status = 0x09
	ErrCommandDisallowed  Status = 0x0c
	ErrUnsupportedFeature Status = 0x11
	ErrInvalidParams      Status = 0x12
	ErrRemoteTerminated   Status = 0x13
	ErrLocalTerminated    Status = 0x16
	ErrUnsupportedRemote  Status = 0x1a
	ErrUnspecified        Status = 0x1f
	ErrResponseTimeout    Status = 0x22
	ErrProcedureCollision Status = 0x23
	ErrInstantPassed      Status = 0x28
	ErrUnacceptableParams Status = 0x3b
	ErrDirectedAdvTimeout Status = 0x3c
	ErrMICFailure         Status = 0x3d
	ErrConnFailedToEstab  Status = 0x3e
)

func (s Status) Error() string {
	if n, ok := statusName[s]; ok {
		return n
	}
	return "unknown status"
}

// Ok reports a success status.
func (s Status) Ok() bool { return s == StatusSuccess }

var statusName = map[Status]string{
	StatusSuccess:         "success",
	ErrUnknownCommand:     "unknown HCI command",
	ErrUnknownConnID:      "unknown connection identifier",
	ErrHardware:           "hardware failure",
	ErrAuthFailure:        "authentication failure",
	ErrPinKeyMissing:      "PIN or key missing",
	ErrMemCapacity:        "memory capacity exceeded",
	ErrConnTimeout:        "connection timeout",
	ErrConnLimit:          "connection limit exceeded",
	ErrCommandDisallowed:  "command disallowed",
	ErrUnsupportedFeature: "unsupported feature or parameter value",
	ErrInvalidParams:      "invalid HCI command parameters",
	ErrRemoteTerminated:   "remote user terminated connection",
	ErrLocalTerminated:    "connection terminated by local host",
	ErrUnsupportedRemote:  "unsupported remote feature",
	ErrUnspecified:        "unspecified error",
	ErrResponseTimeout:    "LMP/LL response timeout",
	ErrProcedureCollision: "LL procedure collision",
	ErrInstantPassed:      "instant passed",
	ErrUnacceptableParams: "unacceptable connection parameters",
	ErrDirectedAdvTimeout: "directed advertising timeout",
	ErrMICFailure:         "connection terminated due to MIC failure",
	ErrConnFailedToEstab:  "connection failed to be established",
}
