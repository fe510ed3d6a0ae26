//go:build !linux

package ble

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// TinyGoStack is only available on Linux, where adapters are addressed by
// MAC. On other platforms every call fails.
type TinyGoStack struct{}

// NewTinyGoStack returns a stack that reports the platform as unsupported.
func NewTinyGoStack(adapterID string) *TinyGoStack {
	return &TinyGoStack{}
}

var _ Stack = (*TinyGoStack)(nil)

func (s *TinyGoStack) Enable(context.Context, func(Event)) error {
	return fmt.Errorf("ble: tinygo stack not supported on %s", runtime.GOOS)
}

func (s *TinyGoStack) StartScan(ScanParams) error { return ErrNotEnabled }

func (s *TinyGoStack) CancelScan() error { return ErrNotEnabled }

func (s *TinyGoStack) Connect(Addr, AddrType, time.Duration) error { return ErrNotEnabled }
