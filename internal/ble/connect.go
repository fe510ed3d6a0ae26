package ble

import (
	"encoding/hex"
	"fmt"
	"log/slog"
)

// matches applies the auto-connect filter to a parsed advertisement.
func (m *Manager) matches(adv Advertisement) bool {
	return MatchesCompany(adv.ManufacturerData, m.opts.CompanyID)
}

// connect cancels discovery and asks the stack to connect to addr (caller
// must hold mu). On a synchronous rejection discovery resumes.
func (m *Manager) connect(addr Addr) {
	m.connecting = true
	m.peer = addr

	if err := m.stack.CancelScan(); err != nil {
		slog.Warn("[BLE] cancel scan failed", "error", err)
	} else {
		// A late scan-complete for the cancelled scan is harmless.
		m.scanning = false
	}

	if err := m.stack.Connect(addr, m.ownAddrType, m.opts.ConnectTimeout); err != nil {
		slog.Error("[BLE] connect request rejected", "addr", addr, "error", err)
		m.connecting = false
		m.startScan()
		return
	}
	slog.Info("[BLE] connecting", "addr", addr, "timeout", m.opts.ConnectTimeout)
}

// onConnect applies a connect result (caller must hold mu).
func (m *Manager) onConnect(e ConnectEvent) {
	m.scanning = false
	if e.OK() {
		m.connected = true
		slog.Info("[BLE] connected", "addr", m.peer)
		return
	}
	slog.Error("[BLE] connect failed", "addr", m.peer, "status", e.Status, "error", e.Err)
	m.connecting = false
	m.connected = false
	m.startScan()
}

// onDisconnect returns to discovery whatever the reason (caller must hold
// mu).
func (m *Manager) onDisconnect(e DisconnectEvent) {
	slog.Info("[BLE] disconnected", "addr", m.peer, "reason", fmt.Sprintf("0x%02X", e.Reason))
	m.connecting = false
	m.connected = false
	m.scanning = false
	m.startScan()
}

// logAdvertisement logs the manufacturer data and name of a matching
// advertisement.
func logAdvertisement(adv Advertisement) {
	if id, ok := adv.CompanyID(); ok {
		slog.Info("[BLE] manufacturer data",
			"company_id", fmt.Sprintf("0x%04X", id),
			"data", hex.EncodeToString(adv.ManufacturerData))
	}
	if adv.Name != "" {
		slog.Info("[BLE] local name", "name", adv.Name)
	}
}
