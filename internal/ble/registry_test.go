package ble

import (
	"strings"
	"sync"
	"testing"
)

func testAddr(n byte) Addr {
	return Addr{n, 0x00, 0x00, 0x00, 0x00, 0xC0}
}

func TestRegistryUpsertSameAddressUpdatesRSSI(t *testing.T) {
	r := NewRegistry()
	r.Upsert(testAddr(1), "Tag", -70)
	r.TakeDirty()

	if changed := r.Upsert(testAddr(1), "Tag", -55); !changed {
		t.Error("Upsert() with new RSSI should report a change")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	devs := r.Devices()
	if devs[0].RSSI != -55 {
		t.Errorf("RSSI = %d, want -55", devs[0].RSSI)
	}
	if !r.TakeDirty() {
		t.Error("TakeDirty() should be true after RSSI change")
	}
}

func TestRegistryUnchangedSightingIsNotDirty(t *testing.T) {
	r := NewRegistry()
	r.Upsert(testAddr(1), "Tag", -70)
	r.TakeDirty()

	if changed := r.Upsert(testAddr(1), "Tag", -70); changed {
		t.Error("Upsert() with identical values should not report a change")
	}
	if r.TakeDirty() {
		t.Error("TakeDirty() should be false when nothing changed")
	}
}

func TestRegistryTakeDirtyClears(t *testing.T) {
	r := NewRegistry()
	if r.TakeDirty() {
		t.Error("new registry should not be dirty")
	}
	r.Upsert(testAddr(1), "Tag", -70)
	if !r.TakeDirty() {
		t.Error("first TakeDirty() after insert = false, want true")
	}
	if r.TakeDirty() {
		t.Error("second TakeDirty() = true, want false")
	}
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxDevices; i++ {
		r.Upsert(testAddr(byte(i)), "", -50)
	}
	r.TakeDirty()

	if changed := r.Upsert(testAddr(0xEE), "Late", -40); changed {
		t.Error("Upsert() into a full registry should be ignored")
	}
	if r.Len() != MaxDevices {
		t.Errorf("Len() = %d, want %d", r.Len(), MaxDevices)
	}
	if r.TakeDirty() {
		t.Error("dropped sighting must not set dirty")
	}
	for _, d := range r.Devices() {
		if d.Addr == testAddr(0xEE) {
			t.Error("ninth device should not be stored")
		}
	}

	// Known devices still update when full.
	if changed := r.Upsert(testAddr(3), "", -30); !changed {
		t.Error("known device should still update in a full registry")
	}
}

func TestRegistryEmptyNameNeverBlanks(t *testing.T) {
	r := NewRegistry()
	r.Upsert(testAddr(1), "Watch", -60)
	r.TakeDirty()

	r.Upsert(testAddr(1), "", -60)
	if got := r.Devices()[0].Name; got != "Watch" {
		t.Errorf("Name = %q, want %q", got, "Watch")
	}
	if r.TakeDirty() {
		t.Error("empty name should not count as a change")
	}
}

func TestRegistryNameReplacesPlaceholder(t *testing.T) {
	r := NewRegistry()
	a := testAddr(1)
	r.Upsert(a, a.String(), -60)
	r.TakeDirty()

	r.Upsert(a, "Headphones", -60)
	if got := r.Devices()[0].Name; got != "Headphones" {
		t.Errorf("Name = %q, want %q", got, "Headphones")
	}
	if !r.TakeDirty() {
		t.Error("name change should set dirty")
	}
}

func TestRegistryNameFillsEmpty(t *testing.T) {
	r := NewRegistry()
	r.Upsert(testAddr(1), "", -60)
	r.Upsert(testAddr(1), "Tag", -60)
	if got := r.Devices()[0].Name; got != "Tag" {
		t.Errorf("Name = %q, want %q", got, "Tag")
	}
}

func TestRegistryTextEmpty(t *testing.T) {
	r := NewRegistry()
	if got := r.Text(128); got != ScanningText {
		t.Errorf("Text() = %q, want %q", got, ScanningText)
	}
}

func TestRegistryText(t *testing.T) {
	r := NewRegistry()
	r.Upsert(testAddr(1), "Watch", -61)
	r.Upsert(testAddr(2), "", -80)
	r.Upsert(testAddr(3), "Tag", -42)

	got := r.Text(256)
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	if lines[0] != "Found: 3" {
		t.Errorf("header = %q, want %q", lines[0], "Found: 3")
	}
	want := map[string]int{
		"Watch (-61dBm)":   0,
		"Unknown (-80dBm)": 0,
		"Tag (-42dBm)":     0,
	}
	for _, l := range lines[1:] {
		if _, ok := want[l]; !ok {
			t.Errorf("unexpected line %q", l)
			continue
		}
		want[l]++
	}
	for l, n := range want {
		if n != 1 {
			t.Errorf("line %q appears %d times, want 1", l, n)
		}
	}
}

func TestRegistryTextTruncates(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxDevices; i++ {
		r.Upsert(testAddr(byte(i)), strings.Repeat("n", 20), -50)
	}
	for _, capacity := range []int{1, 5, 16, 40, 100} {
		got := r.Text(capacity)
		if len(got) > capacity {
			t.Errorf("Text(%d) returned %d bytes", capacity, len(got))
		}
		const header = "Found: 8\n"
		if len(got) < len(header) {
			if !strings.HasPrefix(header, got) {
				t.Errorf("Text(%d) = %q, want a prefix of the header", capacity, got)
			}
		} else if !strings.HasPrefix(got, header) {
			t.Errorf("Text(%d) = %q does not start with the header", capacity, got)
		}
	}
	if got := r.Text(0); got != "" {
		t.Errorf("Text(0) = %q, want empty", got)
	}
}

func TestRegistryConcurrentReadersAndWriter(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Upsert(testAddr(byte(i%12)), "", int8(-(i % 90)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.TakeDirty()
			_ = r.Text(128)
		}
	}()
	wg.Wait()

	if r.Len() != MaxDevices {
		t.Errorf("Len() = %d, want %d", r.Len(), MaxDevices)
	}
}
