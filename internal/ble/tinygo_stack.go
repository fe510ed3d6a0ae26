//go:build linux

package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// scanStartGrace is how long StartScan waits for the adapter to fail
// synchronously before treating the scan as accepted.
const scanStartGrace = 20 * time.Millisecond

// TinyGoStack drives a local adapter through tinygo-org/bluetooth. Blocking
// adapter calls run on their own goroutines and report back as events.
type TinyGoStack struct {
	adapter *bluetooth.Adapter

	mu         sync.Mutex
	onEvent    func(Event)
	seen       map[Addr]bluetooth.Address // last address seen per device
	scanning   bool
	connecting bool
	device     *bluetooth.Device
	deviceAddr Addr
}

// NewTinyGoStack creates a stack for the named adapter (e.g. "hci0").
func NewTinyGoStack(adapterID string) *TinyGoStack {
	adapter := bluetooth.DefaultAdapter
	if adapterID != "" {
		adapter = bluetooth.NewAdapter(adapterID)
	}
	return &TinyGoStack{
		adapter: adapter,
		seen:    make(map[Addr]bluetooth.Address),
	}
}

// Compile-time check that TinyGoStack implements Stack.
var _ Stack = (*TinyGoStack)(nil)

func (s *TinyGoStack) Enable(_ context.Context, onEvent func(Event)) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	s.mu.Lock()
	s.onEvent = onEvent
	s.mu.Unlock()

	s.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		s.mu.Lock()
		if s.device == nil || device.Address.MAC != s.device.Address.MAC {
			s.mu.Unlock()
			return
		}
		addr := s.deviceAddr
		s.device = nil
		s.mu.Unlock()
		s.post(DisconnectEvent{Addr: addr, Reason: ReasonUnknown})
	})

	go func() {
		own, err := s.adapter.Address()
		if err != nil {
			s.post(SyncEvent{Err: fmt.Errorf("ble: read adapter address: %w", err)})
			return
		}
		typ := AddrTypePublic
		if own.IsRandom() {
			typ = AddrTypeRandom
		}
		s.post(SyncEvent{OwnAddrType: typ})
	}()
	return nil
}

// StartScan runs adapter.Scan on a goroutine. tinygo-org/bluetooth does not
// expose interval, window or duplicate filtering, so params only show up in
// the log.
func (s *TinyGoStack) StartScan(params ScanParams) error {
	s.mu.Lock()
	if s.onEvent == nil {
		s.mu.Unlock()
		return ErrNotEnabled
	}
	if s.scanning {
		s.mu.Unlock()
		return ErrScanBusy
	}
	s.scanning = true
	s.mu.Unlock()

	slog.Debug("[BLE] starting tinygo scan",
		"interval", params.Interval, "window", params.Window,
		"passive", params.Passive, "filter_duplicates", params.FilterDuplicates)

	errCh := make(chan error, 1)
	go func() {
		err := s.adapter.Scan(s.onScanResult)
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ble: scan: %w", err)
		}
		// Stopped before the grace period ended; still a completed scan.
		s.postAsync(ScanCompleteEvent{})
		return nil
	case <-time.After(scanStartGrace):
	}

	go func() {
		err := <-errCh
		if err != nil {
			err = fmt.Errorf("ble: scan: %w", err)
		}
		s.post(ScanCompleteEvent{Err: err})
	}()
	return nil
}

func (s *TinyGoStack) onScanResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	addr := Addr(result.Address.MAC)

	s.mu.Lock()
	s.seen[addr] = result.Address
	s.mu.Unlock()

	data := result.AdvertisementPayload.Bytes()
	if data == nil {
		var mfg []ManufacturerEntry
		for _, md := range result.ManufacturerData() {
			mfg = append(mfg, ManufacturerEntry{CompanyID: md.CompanyID, Data: md.Data})
		}
		data = EncodeAdvertisement(result.LocalName(), mfg)
	} else {
		data = append([]byte(nil), data...)
	}

	s.post(DiscoveryEvent{Addr: addr, RSSI: clampRSSI(int(result.RSSI)), Data: data})
}

func (s *TinyGoStack) CancelScan() error {
	s.mu.Lock()
	scanning := s.scanning
	s.mu.Unlock()
	if !scanning {
		return nil
	}
	if err := s.adapter.StopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	return nil
}

func (s *TinyGoStack) Connect(addr Addr, _ AddrType, timeout time.Duration) error {
	s.mu.Lock()
	if s.onEvent == nil {
		s.mu.Unlock()
		return ErrNotEnabled
	}
	if s.connecting || s.device != nil {
		s.mu.Unlock()
		return ErrConnectBusy
	}
	target, ok := s.seen[addr]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("ble: connect to %s: device not seen", addr)
	}
	s.connecting = true
	s.mu.Unlock()

	go func() {
		device, err := s.adapter.Connect(target, bluetooth.ConnectionParams{
			ConnectionTimeout: bluetooth.NewDuration(timeout),
		})

		s.mu.Lock()
		s.connecting = false
		if err == nil {
			s.device = &device
			s.deviceAddr = addr
		}
		s.mu.Unlock()

		if err != nil {
			s.post(ConnectEvent{Addr: addr, Status: StatusFailed, Err: fmt.Errorf("ble: connect to %s: %w", addr, err)})
			return
		}
		s.post(ConnectEvent{Addr: addr, Status: StatusOK})
	}()
	return nil
}

func (s *TinyGoStack) post(ev Event) {
	s.mu.Lock()
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// postAsync delivers ev from a fresh goroutine, for use inside Stack methods.
func (s *TinyGoStack) postAsync(ev Event) {
	go s.post(ev)
}
