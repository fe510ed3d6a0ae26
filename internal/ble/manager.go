package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AppleCompanyID is the Bluetooth SIG company identifier of Apple, Inc.
const AppleCompanyID = 0x004C

// DefaultConnectTimeout bounds a single connection attempt.
const DefaultConnectTimeout = 30 * time.Second

// Options configures the Manager.
type Options struct {
	CompanyID      uint16        // manufacturer data company id that triggers auto-connect
	ConnectTimeout time.Duration // handed to the stack with each connect request
	Scan           ScanParams
	QueueSize      int // event channel buffer
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		CompanyID:      AppleCompanyID,
		ConnectTimeout: DefaultConnectTimeout,
		Scan:           DefaultScanParams(),
		QueueSize:      64,
	}
}

// LinkState is the dispatcher state derived from the scan and connection
// flags.
type LinkState int

const (
	StateIdle LinkState = iota
	StateScanning
	StateConnecting
	StateConnected
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// Status is a point-in-time view of the manager for observers.
type Status struct {
	State      string   `json:"state"`
	Scanning   bool     `json:"scanning"`
	Connecting bool     `json:"connecting"`
	Peer       string   `json:"peer,omitempty"`
	Devices    []Device `json:"devices"`
}

// Manager owns the device registry, the scan controller and the connection
// manager. Stack events are queued by Post and applied one at a time by Run,
// so all state changes happen on a single goroutine. Accessors are safe for
// concurrent use and never wait on the stack.
type Manager struct {
	stack    Stack
	opts     Options
	registry *Registry
	events   chan Event
	done     chan struct{}
	doneOnce sync.Once

	ready     chan struct{}
	readyOnce sync.Once

	// mu serializes transitions and is held across stack calls.
	mu          sync.Mutex
	synced      bool
	ownAddrType AddrType
	scanning    bool
	connecting  bool
	connected   bool
	peer        Addr

	// viewMu guards view, the copy of the flags accessors read. It is
	// refreshed at the end of every transition.
	viewMu sync.RWMutex
	view   linkView
}

// linkView is the reader-facing copy of the link flags.
type linkView struct {
	scanning   bool
	connecting bool
	connected  bool
	peer       Addr
}

func (v linkView) state() LinkState {
	switch {
	case v.connected:
		return StateConnected
	case v.connecting:
		return StateConnecting
	case v.scanning:
		return StateScanning
	default:
		return StateIdle
	}
}

// NewManager creates a manager driving the given stack.
func NewManager(stack Stack, opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Scan == (ScanParams{}) {
		opts.Scan = DefaultScanParams()
	}
	return &Manager{
		stack:    stack,
		opts:     opts,
		registry: NewRegistry(),
		events:   make(chan Event, opts.QueueSize),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Init enables the radio stack and registers Post as its event callback.
// Scanning starts once the stack reports sync.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.stack.Enable(ctx, m.Post); err != nil {
		return fmt.Errorf("ble: enable stack: %w", err)
	}
	slog.Info("[BLE] stack enabled")
	return nil
}

// Run applies queued events until ctx is cancelled. Only one Run may be
// active per Manager.
func (m *Manager) Run(ctx context.Context) error {
	defer m.doneOnce.Do(func() { close(m.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			m.Handle(ev)
		}
	}
}

// Post queues an event for the dispatch goroutine. It drops the event if
// Run has already returned.
func (m *Manager) Post(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
		slog.Debug("[BLE] dispatcher stopped, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

// ScanStart asks the dispatcher to begin or resume discovery. It has no
// effect while a scan is already outstanding.
func (m *Manager) ScanStart() {
	m.Post(scanRequest{})
}

// Handle applies one event. It is the dispatcher's only transition
// function; Run calls it for every queued event.
func (m *Manager) Handle(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.publish()

	switch e := ev.(type) {
	case SyncEvent:
		m.onSync(e)
	case DiscoveryEvent:
		m.onDiscovery(e)
	case ScanCompleteEvent:
		m.onScanComplete(e)
	case ConnectEvent:
		m.onConnect(e)
	case DisconnectEvent:
		m.onDisconnect(e)
	case scanRequest:
		m.startScan()
	default:
		slog.Debug("[BLE] ignoring unknown event", "event", fmt.Sprintf("%T", ev))
	}
}

// onSync records the own address type and kicks off discovery (caller must
// hold mu).
func (m *Manager) onSync(e SyncEvent) {
	if e.Err != nil {
		slog.Error("[BLE] resolving own address type failed", "error", e.Err)
		return
	}
	m.ownAddrType = e.OwnAddrType
	m.synced = true
	slog.Info("[BLE] stack synced", "own_addr_type", e.OwnAddrType)
	m.readyOnce.Do(func() { close(m.ready) })
	m.startScan()
}

// onDiscovery records the sighting and runs the auto-connect filter (caller
// must hold mu).
func (m *Manager) onDiscovery(e DiscoveryEvent) {
	adv, err := ParseAdvertisement(e.Data)
	if err != nil {
		slog.Debug("[BLE] dropping advertisement", "addr", e.Addr, "error", err)
		return
	}

	name := adv.Name
	if name == "" {
		name = e.Addr.String()
	}
	m.registry.Upsert(e.Addr, name, e.RSSI)

	if !m.matches(adv) {
		return
	}
	slog.Info("[BLE] filter match", "addr", e.Addr, "rssi", e.RSSI)
	logAdvertisement(adv)

	if m.connecting {
		return
	}
	m.connect(e.Addr)
}

// publish copies the link flags into the view (caller must hold mu).
func (m *Manager) publish() {
	v := linkView{
		scanning:   m.scanning,
		connecting: m.connecting,
		connected:  m.connected,
		peer:       m.peer,
	}
	m.viewMu.Lock()
	m.view = v
	m.viewMu.Unlock()
}

func (m *Manager) loadView() linkView {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view
}

// Ready is closed once the stack has synced for the first time.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// TakeDirty reports whether the device list changed since the last call.
func (m *Manager) TakeDirty() bool {
	return m.registry.TakeDirty()
}

// DevicesText renders the device list into at most capacity bytes.
func (m *Manager) DevicesText(capacity int) string {
	return m.registry.Text(capacity)
}

// Registry exposes the device registry for read access.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// State returns the current dispatcher state.
func (m *Manager) State() LinkState {
	return m.loadView().state()
}

// Scanning reports whether a scan request is outstanding.
func (m *Manager) Scanning() bool {
	return m.loadView().scanning
}

// Connecting reports whether a connect attempt or connection is active.
func (m *Manager) Connecting() bool {
	return m.loadView().connecting
}

// Snapshot returns the status as of the last completed transition,
// including the device list.
func (m *Manager) Snapshot() Status {
	v := m.loadView()
	st := Status{
		State:      v.state().String(),
		Scanning:   v.scanning,
		Connecting: v.connecting,
		Devices:    m.registry.Devices(),
	}
	if v.connecting || v.connected {
		st.Peer = v.peer.String()
	}
	return st
}
