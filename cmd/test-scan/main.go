// Command test-scan is a manual test for the BLE manager. It scans, prints
// the device list as it changes, and logs the auto-connect decisions.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-scan [--backend tinygo|bluez] [--adapter hci0] [--company 0x004C]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chaz8081/handheld-ble/internal/ble"
	"github.com/chaz8081/handheld-ble/internal/display"
)

func main() {
	backend := flag.String("backend", "tinygo", "radio backend: tinygo or bluez")
	adapter := flag.String("adapter", "hci0", "HCI adapter name")
	company := flag.String("company", "0x004C", "company id that triggers auto-connect")
	flag.Parse()

	id, err := strconv.ParseUint(*company, 0, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --company %q: %v\n", *company, err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))

	var stack ble.Stack
	if *backend == "bluez" {
		stack = ble.NewBlueZStack(*adapter)
	} else {
		stack = ble.NewTinyGoStack(*adapter)
	}
	if c, ok := stack.(io.Closer); ok {
		defer c.Close()
	}

	opts := ble.DefaultOptions()
	opts.CompanyID = uint16(id)
	mgr := ble.NewManager(stack, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go mgr.Run(ctx)
	if err := mgr.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		return
	}

	fmt.Printf("Scanning on %s via %s, auto-connect on company 0x%04X...\n", *adapter, *backend, id)
	fmt.Println("Press Ctrl+C to exit.")

	poller := display.NewPoller(mgr, display.NewTerminalScreen(os.Stdout, "Devices"), 250*time.Millisecond, 512)
	poller.Run(ctx)

	fmt.Printf("\nShutting down (state: %s)...\n", mgr.State())
	fmt.Println("Done.")
}
