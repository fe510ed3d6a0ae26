package ble

import (
	"errors"
	"log/slog"
)

// startScan issues a scan request unless one is already outstanding (caller
// must hold mu). A rejected request is logged and not retried; discovery
// resumes on the next scan-complete, disconnect or ScanStart. ErrScanBusy
// means the stack still has a scan running, which counts as outstanding.
func (m *Manager) startScan() {
	if m.scanning {
		return
	}
	if !m.synced {
		slog.Debug("[BLE] scan requested before stack sync, ignoring")
		return
	}
	if err := m.stack.StartScan(m.opts.Scan); err != nil {
		if errors.Is(err, ErrScanBusy) {
			slog.Debug("[BLE] stack scan still running")
			m.scanning = true
			return
		}
		// TODO: retry with backoff once the product decides whether a busy
		// radio should stall discovery until the next stack event.
		slog.Error("[BLE] scan request rejected", "error", err)
		return
	}
	m.scanning = true
	slog.Info("[BLE] scanning started")
}

// onScanComplete restarts discovery unless a connect attempt owns the radio
// (caller must hold mu).
func (m *Manager) onScanComplete(e ScanCompleteEvent) {
	if e.Err != nil {
		slog.Warn("[BLE] scan ended with error", "error", e.Err)
	} else {
		slog.Info("[BLE] scan complete")
	}
	m.scanning = false
	if !m.connecting {
		m.startScan()
	}
}
