package ble

import (
	"strconv"
	"strings"
	"sync"
)

// MaxDevices is the number of registry slots. Sightings of new addresses
// once every slot is taken are dropped; slots are never reclaimed.
const MaxDevices = 8

// ScanningText is what Text returns before any device has been seen.
const ScanningText = "Scanning..."

// Device is a snapshot of one registry slot.
type Device struct {
	Addr Addr   `json:"address"`
	Name string `json:"name"`
	RSSI int8   `json:"rssi"`
}

type slot struct {
	used bool
	dev  Device
}

// Registry is a fixed-capacity store of discovered devices keyed by address.
// Writes come from the event dispatcher; reads may come from any goroutine.
type Registry struct {
	mu    sync.Mutex
	slots [MaxDevices]slot
	count int
	dirty bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// find returns the slot index holding addr, or -1 (caller must hold mu).
func (r *Registry) find(addr Addr) int {
	for i := range r.slots {
		if r.slots[i].used && r.slots[i].dev.Addr == addr {
			return i
		}
	}
	return -1
}

// Upsert records a sighting. A known address gets its RSSI refreshed and its
// name replaced only by a non-empty, different name. An unknown address takes
// the first free slot; with no free slot the sighting is ignored. Returns
// true if anything changed.
func (r *Registry) Upsert(addr Addr, name string, rssi int8) bool {
	name = truncateName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.find(addr)
	if idx < 0 {
		for i := range r.slots {
			if !r.slots[i].used {
				r.slots[i] = slot{used: true, dev: Device{Addr: addr, Name: name, RSSI: rssi}}
				r.count++
				r.dirty = true
				return true
			}
		}
		return false
	}

	d := &r.slots[idx].dev
	changed := false
	if name != "" && name != d.Name {
		d.Name = name
		changed = true
	}
	if d.RSSI != rssi {
		d.RSSI = rssi
		changed = true
	}
	if changed {
		r.dirty = true
	}
	return changed
}

// TakeDirty reports whether the registry changed since the last call, and
// clears the flag.
func (r *Registry) TakeDirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	dirty := r.dirty
	r.dirty = false
	return dirty
}

// Len returns the number of occupied slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Devices returns a copy of every occupied slot in slot order.
func (r *Registry) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, 0, r.count)
	for _, s := range r.slots {
		if s.used {
			out = append(out, s.dev)
		}
	}
	return out
}

// Text renders the registry for a text display of at most capacity bytes:
// a "Found: N" header and one "<name> (<rssi>dBm)" line per device. Output
// that does not fit is cut on a rune boundary.
func (r *Registry) Text(capacity int) string {
	if capacity <= 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return truncateUTF8(ScanningText, capacity)
	}

	var b strings.Builder
	b.WriteString("Found: ")
	b.WriteString(strconv.Itoa(r.count))
	b.WriteByte('\n')
	for _, s := range r.slots {
		if b.Len() >= capacity {
			break
		}
		if !s.used {
			continue
		}
		name := s.dev.Name
		if name == "" {
			name = "Unknown"
		}
		b.WriteString(name)
		b.WriteString(" (")
		b.WriteString(strconv.Itoa(int(s.dev.RSSI)))
		b.WriteString("dBm)\n")
	}
	return truncateUTF8(b.String(), capacity)
}
