package ble

// Event is a notification from the radio stack. The concrete types below
// are the only implementations.
type Event interface {
	isEvent()
}

// SyncEvent reports that the host and controller are in sync and the own
// address type is resolved. Err is set when resolution failed.
type SyncEvent struct {
	OwnAddrType AddrType
	Err         error
}

// DiscoveryEvent carries one received advertisement.
type DiscoveryEvent struct {
	Addr Addr
	RSSI int8
	Data []byte
}

// ScanCompleteEvent reports that a scan ended, by duration, cancellation
// or error.
type ScanCompleteEvent struct {
	Err error
}

// Connect status codes. Any non-zero status is a failure.
const (
	StatusOK     = 0
	StatusFailed = 1
)

// ConnectEvent reports the outcome of a connection attempt.
type ConnectEvent struct {
	Addr   Addr
	Status int
	Err    error
}

// OK reports whether the connection was established.
func (e ConnectEvent) OK() bool { return e.Status == StatusOK && e.Err == nil }

// Disconnect reason codes (HCI error codes).
const (
	ReasonUnknown              = 0x00
	ReasonConnectionTimeout    = 0x08
	ReasonRemoteUserTerminated = 0x13
	ReasonLocalHostTerminated  = 0x16
)

// DisconnectEvent reports that the active connection ended.
type DisconnectEvent struct {
	Addr   Addr
	Reason int
}

// scanRequest is posted by ScanStart so that scan state is only ever
// touched from the dispatch goroutine.
type scanRequest struct{}

func (SyncEvent) isEvent()         {}
func (DiscoveryEvent) isEvent()    {}
func (ScanCompleteEvent) isEvent() {}
func (ConnectEvent) isEvent()      {}
func (DisconnectEvent) isEvent()   {}
func (scanRequest) isEvent()       {}
