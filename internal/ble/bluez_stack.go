package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// BlueZ D-Bus names.
const (
	bluezBus            = "org.bluez"
	bluezAdapter1       = "org.bluez.Adapter1"
	bluezDevice1        = "org.bluez.Device1"
	dbusProperties      = "org.freedesktop.DBus.Properties"
	dbusObjectManager   = "org.freedesktop.DBus.ObjectManager"
	propertiesChanged   = dbusProperties + ".PropertiesChanged"
	interfacesAdded     = dbusObjectManager + ".InterfacesAdded"
	bluezSignalCapacity = 64

	// bluezCallTimeout bounds scan control calls, which run on the
	// manager's dispatch goroutine.
	bluezCallTimeout = 2 * time.Second
)

// BlueZStack talks to bluetoothd over the system D-Bus. Discovery results
// arrive as InterfacesAdded and PropertiesChanged signals; BlueZ never
// exposes raw advertising payloads, so they are rebuilt from the decoded
// Name and ManufacturerData properties.
type BlueZStack struct {
	adapterPath dbus.ObjectPath

	mu            sync.Mutex
	conn          *dbus.Conn
	onEvent       func(Event)
	devices       map[dbus.ObjectPath]*bluezDevice
	discovering   bool
	connecting    bool
	connectedPath dbus.ObjectPath
	signals       chan *dbus.Signal
	stopCh        chan struct{}
}

// bluezDevice caches the properties of one org.bluez.Device1 object.
type bluezDevice struct {
	addr    Addr
	hasAddr bool
	name    string
	rssi    int16
	hasRSSI bool
	mfg     map[uint16][]byte
}

// NewBlueZStack creates a stack for the named BlueZ adapter (e.g. "hci0").
func NewBlueZStack(adapterName string) *BlueZStack {
	if adapterName == "" {
		adapterName = "hci0"
	}
	return &BlueZStack{
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapterName),
		devices:     make(map[dbus.ObjectPath]*bluezDevice),
	}
}

// Compile-time check that BlueZStack implements Stack.
var _ Stack = (*BlueZStack)(nil)

func (s *BlueZStack) Enable(ctx context.Context, onEvent func(Event)) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("ble: connect to system bus: %w", err)
	}

	adapter := conn.Object(bluezBus, s.adapterPath)
	var powered dbus.Variant
	if err := adapter.CallWithContext(ctx, dbusProperties+".Get", 0, bluezAdapter1, "Powered").Store(&powered); err != nil {
		conn.Close()
		return fmt.Errorf("ble: read %s power state: %w", s.adapterPath, err)
	}
	if on, _ := powered.Value().(bool); !on {
		if err := adapter.CallWithContext(ctx, dbusProperties+".Set", 0, bluezAdapter1, "Powered", dbus.MakeVariant(true)).Err; err != nil {
			conn.Close()
			return fmt.Errorf("ble: power on %s: %w", s.adapterPath, err)
		}
	}

	for _, rule := range []string{
		"type='signal',interface='" + dbusObjectManager + "',member='InterfacesAdded'",
		"type='signal',interface='" + dbusProperties + "',member='PropertiesChanged',path_namespace='" + string(s.adapterPath) + "'",
	} {
		if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
			conn.Close()
			return fmt.Errorf("ble: add match rule: %w", err)
		}
	}

	signals := make(chan *dbus.Signal, bluezSignalCapacity)
	conn.Signal(signals)

	s.mu.Lock()
	s.conn = conn
	s.onEvent = onEvent
	s.signals = signals
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go s.watch(signals, stopCh)
	go s.sync(adapter)
	return nil
}

// sync resolves the adapter's own address type and reports it.
func (s *BlueZStack) sync(adapter dbus.BusObject) {
	var v dbus.Variant
	ctx, cancel := context.WithTimeout(context.Background(), bluezCallTimeout)
	defer cancel()
	if err := adapter.CallWithContext(ctx, dbusProperties+".Get", 0, bluezAdapter1, "AddressType").Store(&v); err != nil {
		s.post(SyncEvent{Err: fmt.Errorf("ble: read address type: %w", err)})
		return
	}
	typ := AddrTypePublic
	if t, _ := v.Value().(string); t == "random" {
		typ = AddrTypeRandom
	}
	s.post(SyncEvent{OwnAddrType: typ})
}

// Close stops signal processing and releases the bus connection.
func (s *BlueZStack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	close(s.stopCh)
	s.conn.RemoveSignal(s.signals)
	err := s.conn.Close()
	s.conn = nil
	s.onEvent = nil
	return err
}

// StartScan sets an LE discovery filter and starts discovery. The lock is
// released for the bus round trips so signal handling keeps running.
func (s *BlueZStack) StartScan(params ScanParams) error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNotEnabled
	}
	if s.discovering {
		s.mu.Unlock()
		return ErrScanBusy
	}
	s.discovering = true
	adapter := s.conn.Object(bluezBus, s.adapterPath)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), bluezCallTimeout)
	defer cancel()

	// BlueZ picks interval and window itself.
	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"DuplicateData": dbus.MakeVariant(!params.FilterDuplicates),
	}
	err := adapter.CallWithContext(ctx, bluezAdapter1+".SetDiscoveryFilter", 0, filter).Err
	if err != nil {
		err = fmt.Errorf("ble: set discovery filter: %w", err)
	} else if err = adapter.CallWithContext(ctx, bluezAdapter1+".StartDiscovery", 0).Err; err != nil {
		err = fmt.Errorf("ble: start discovery: %w", err)
	}
	if err != nil {
		s.mu.Lock()
		s.discovering = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// CancelScan stops discovery. The ScanCompleteEvent follows when BlueZ
// reports Discovering=false.
func (s *BlueZStack) CancelScan() error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNotEnabled
	}
	if !s.discovering {
		s.mu.Unlock()
		return nil
	}
	adapter := s.conn.Object(bluezBus, s.adapterPath)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), bluezCallTimeout)
	defer cancel()
	if err := adapter.CallWithContext(ctx, bluezAdapter1+".StopDiscovery", 0).Err; err != nil {
		return fmt.Errorf("ble: stop discovery: %w", err)
	}
	return nil
}

func (s *BlueZStack) Connect(addr Addr, _ AddrType, timeout time.Duration) error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNotEnabled
	}
	if s.connecting || s.connectedPath != "" {
		s.mu.Unlock()
		return ErrConnectBusy
	}
	path := s.devicePath(addr)
	if _, ok := s.devices[path]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("ble: connect to %s: device not seen", addr)
	}
	device := s.conn.Object(bluezBus, path)
	s.connecting = true
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := device.CallWithContext(ctx, bluezDevice1+".Connect", 0).Err

		s.mu.Lock()
		s.connecting = false
		if err == nil {
			s.connectedPath = path
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

// devicePath converts addr to its BlueZ object path, e.g.
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func (s *BlueZStack) devicePath(addr Addr) dbus.ObjectPath {
	return dbus.ObjectPath(string(s.adapterPath) + "/dev_" + strings.ReplaceAll(addr.String(), ":", "_"))
}

// watch turns bus signals into stack events until stopCh closes.
func (s *BlueZStack) watch(signals chan *dbus.Signal, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			for _, ev := range s.translate(sig) {
				s.post(ev)
			}
		}
	}
}

// translate updates the device cache from one signal and returns the
// events it implies.
func (s *BlueZStack) translate(sig *dbus.Signal) []Event {
	switch sig.Name {
	case interfacesAdded:
		if len(sig.Body) < 2 {
			return nil
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok || !strings.HasPrefix(string(path), string(s.adapterPath)+"/") {
			return nil
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return nil
		}
		props, ok := ifaces[bluezDevice1]
		if !ok {
			return nil
		}
		return s.deviceChanged(path, props)

	case propertiesChanged:
		if len(sig.Body) < 2 {
			return nil
		}
		iface, ok := sig.Body[0].(string)
		if !ok {
			return nil
		}
		changes, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return nil
		}
		switch iface {
		case bluezAdapter1:
			if sig.Path == s.adapterPath {
				return s.adapterChanged(changes)
			}
		case bluezDevice1:
			return s.deviceChanged(sig.Path, changes)
		}
	}
	return nil
}

func (s *BlueZStack) adapterChanged(changes map[string]dbus.Variant) []Event {
	v, ok := changes["Discovering"]
	if !ok {
		return nil
	}
	on, _ := v.Value().(bool)

	s.mu.Lock()
	defer s.mu.Unlock()
	if on || !s.discovering {
		return nil
	}
	s.discovering = false
	return []Event{ScanCompleteEvent{}}
}

func (s *BlueZStack) deviceChanged(path dbus.ObjectPath, props map[string]dbus.Variant) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[path]
	if !ok {
		d = &bluezDevice{mfg: make(map[uint16][]byte)}
		s.devices[path] = d
	}

	var events []Event
	seen := false
	for key, v := range props {
		switch key {
		case "Address":
			if str, ok := v.Value().(string); ok {
				if addr, err := ParseAddr(str); err == nil {
					d.addr = addr
					d.hasAddr = true
				}
			}
		case "Name":
			if str, ok := v.Value().(string); ok {
				d.name = str
			}
		case "RSSI":
			if rssi, ok := v.Value().(int16); ok {
				d.rssi = rssi
				d.hasRSSI = true
				seen = true
			}
		case "ManufacturerData":
			if m, ok := v.Value().(map[uint16]dbus.Variant); ok {
				for id, data := range m {
					if b, ok := data.Value().([]byte); ok {
						d.mfg[id] = b
					}
				}
				seen = true
			}
		case "Connected":
			if on, ok := v.Value().(bool); ok && !on && path == s.connectedPath {
				s.connectedPath = ""
				events = append(events, DisconnectEvent{Addr: d.addr, Reason: ReasonUnknown})
			}
		}
	}

	if !d.hasAddr {
		slog.Debug("[BLE] bluez device without address", "path", path)
		return events
	}
	if seen && d.hasRSSI && s.discovering {
		events = append(events, DiscoveryEvent{
			Addr: d.addr,
			RSSI: clampRSSI(int(d.rssi)),
			Data: EncodeAdvertisement(d.name, d.manufacturerEntries()),
		})
	}
	return events
}

// manufacturerEntries returns the cached manufacturer data ordered by
// company id.
func (d *bluezDevice) manufacturerEntries() []ManufacturerEntry {
	if len(d.mfg) == 0 {
		return nil
	}
	ids := make([]int, 0, len(d.mfg))
	for id := range d.mfg {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	out := make([]ManufacturerEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, ManufacturerEntry{CompanyID: uint16(id), Data: d.mfg[uint16(id)]})
	}
	return out
}

func (s *BlueZStack) post(ev Event) {
	s.mu.Lock()
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}
