package ble

import (
	"context"
	"sync"
	"time"
)

var _ Stack = (*mockStack)(nil)

// connectCall records one Connect request.
type connectCall struct {
	addr    Addr
	own     AddrType
	timeout time.Duration
}

// mockStack records requests and lets tests decide whether each is
// accepted. Events are injected by the test through Manager.Handle.
type mockStack struct {
	mu         sync.Mutex
	onEvent    func(Event)
	enableErr  error
	scanErr    error
	cancelErr  error
	connectErr error

	// scanEntered and scanRelease, when set, hold StartScan until the test
	// lets it return.
	scanEntered chan struct{}
	scanRelease chan struct{}

	scans    []ScanParams
	cancels  int
	connects []connectCall
}

func newMockStack() *mockStack {
	return &mockStack{}
}

func (s *mockStack) Enable(_ context.Context, onEvent func(Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enableErr != nil {
		return s.enableErr
	}
	s.onEvent = onEvent
	return nil
}

func (s *mockStack) StartScan(params ScanParams) error {
	if s.scanRelease != nil {
		s.scanEntered <- struct{}{}
		<-s.scanRelease
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanErr != nil {
		return s.scanErr
	}
	s.scans = append(s.scans, params)
	return nil
}

func (s *mockStack) CancelScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return s.cancelErr
}

func (s *mockStack) Connect(addr Addr, own AddrType, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connects = append(s.connects, connectCall{addr: addr, own: own, timeout: timeout})
	return nil
}

func (s *mockStack) setScanErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanErr = err
}

func (s *mockStack) setConnectErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

func (s *mockStack) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scans)
}

func (s *mockStack) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

func (s *mockStack) connectCalls() []connectCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]connectCall, len(s.connects))
	copy(out, s.connects)
	return out
}

// emit delivers an event through the callback registered by Enable, the
// way a real stack would from its own goroutine.
func (s *mockStack) emit(ev Event) {
	s.mu.Lock()
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}
