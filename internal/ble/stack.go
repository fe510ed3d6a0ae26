// Package ble is the BLE central-role discovery and connection manager of
// the handheld. It keeps scanning, tracks up to MaxDevices nearby devices,
// and auto-connects to the first device whose manufacturer data matches a
// company identifier. The radio itself sits behind the Stack interface.
package ble

import (
	"context"
	"errors"
	"time"
)

// Errors stacks return when they reject a request.
var (
	ErrNotEnabled  = errors.New("ble: stack not enabled")
	ErrScanBusy    = errors.New("ble: scan already in progress")
	ErrConnectBusy = errors.New("ble: connect already in progress")
)

// ScanParams configures a discovery request. Interval and Window are in
// units of 0.625 ms.
type ScanParams struct {
	Interval         uint16
	Window           uint16
	Passive          bool
	FilterDuplicates bool
}

// DefaultScanParams returns the duty-cycled discovery parameters: window
// 0x30 out of every 0x50, active scanning, duplicates filtered, no
// allow-list, no duration limit.
func DefaultScanParams() ScanParams {
	return ScanParams{
		Interval:         0x50,
		Window:           0x30,
		FilterDuplicates: true,
	}
}

// Stack abstracts the host radio stack. Requests return as soon as the
// stack has accepted or rejected them; outcomes arrive later as events
// through the callback given to Enable. Implementations must never call the
// callback from inside one of their own methods.
type Stack interface {
	// Enable starts the stack. Once the own address type is known it
	// delivers a SyncEvent.
	Enable(ctx context.Context, onEvent func(Event)) error
	// StartScan begins discovery. A ScanCompleteEvent follows when the scan
	// ends for any reason.
	StartScan(params ScanParams) error
	// CancelScan stops an active scan.
	CancelScan() error
	// Connect starts a connection attempt that the stack abandons after
	// timeout. A ConnectEvent reports the result.
	Connect(addr Addr, own AddrType, timeout time.Duration) error
}

// clampRSSI narrows a stack-reported RSSI to the signed 8-bit dBm range.
func clampRSSI(v int) int8 {
	if v < -128 {
		return -128
	}
	if v > 127 {
		return 127
	}
	return int8(v)
}
