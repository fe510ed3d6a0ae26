package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/handheld-ble/internal/ble"
)

type fakeController struct {
	mu       sync.Mutex
	status   ble.Status
	text     string
	lastCap  int
	scanReqs int
}

func (f *fakeController) Snapshot() ble.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) DevicesText(capacity int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCap = capacity
	if len(f.text) > capacity {
		return f.text[:capacity]
	}
	return f.text
}

func (f *fakeController) ScanStart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanReqs++
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&fakeController{}, 0))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	addr, _ := ble.ParseAddr("AA:BB:CC:DD:EE:01")
	ctl := &fakeController{status: ble.Status{
		State:      "connecting",
		Connecting: true,
		Peer:       addr.String(),
		Devices:    []ble.Device{{Addr: addr, Name: "Tag", RSSI: -60}},
	}}
	srv := httptest.NewServer(NewRouter(ctl, 0))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ble/status")
	if err != nil {
		t.Fatalf("GET /ble/status: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got ble.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "connecting" || !got.Connecting || got.Peer != "AA:BB:CC:DD:EE:01" {
		t.Errorf("status = %+v", got)
	}
	if len(got.Devices) != 1 || got.Devices[0].Addr != addr || got.Devices[0].RSSI != -60 {
		t.Errorf("devices = %+v", got.Devices)
	}
}

func TestDevicesText(t *testing.T) {
	ctl := &fakeController{text: "Found: 1\nTag (-60dBm)\n"}
	srv := httptest.NewServer(NewRouter(ctl, 128))
	defer srv.Close()

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
		wantCap  int
	}{
		{"default capacity", "", http.StatusOK, "Found: 1\nTag (-60dBm)\n", 128},
		{"explicit capacity", "?capacity=8", http.StatusOK, "Found: 1", 8},
		{"zero capacity", "?capacity=0", http.StatusBadRequest, "", 0},
		{"not a number", "?capacity=lots", http.StatusBadRequest, "", 0},
		{"too large", "?capacity=100000", http.StatusBadRequest, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl.mu.Lock()
			ctl.lastCap = 0
			ctl.mu.Unlock()

			resp, err := http.Get(srv.URL + "/ble/devices/text" + tt.query)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if string(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
			if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
				t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
			}
			ctl.mu.Lock()
			gotCap := ctl.lastCap
			ctl.mu.Unlock()
			if gotCap != tt.wantCap {
				t.Errorf("capacity = %d, want %d", gotCap, tt.wantCap)
			}
		})
	}
}

func TestScan(t *testing.T) {
	ctl := &fakeController{}
	srv := httptest.NewServer(NewRouter(ctl, 0))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ble/scan", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /ble/scan: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	ctl.mu.Lock()
	reqs := ctl.scanReqs
	ctl.mu.Unlock()
	if reqs != 1 {
		t.Errorf("scan requests = %d, want 1", reqs)
	}

	resp, err = http.Get(srv.URL + "/ble/scan")
	if err != nil {
		t.Fatalf("GET /ble/scan: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp.StatusCode)
	}
}

func TestServerStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeController{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestServerListenError(t *testing.T) {
	s := NewServer("256.0.0.1:bad", &fakeController{}, 0)
	err := s.Serve(context.Background())
	if err == nil {
		t.Fatal("Serve() should fail on a bad address")
	}
	if errors.Is(err, http.ErrServerClosed) {
		t.Errorf("unexpected error %v", err)
	}
}
