package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/chaz8081/handheld-ble/internal/ble"
	"github.com/chaz8081/handheld-ble/internal/config"
	"github.com/chaz8081/handheld-ble/internal/display"
	"github.com/chaz8081/handheld-ble/internal/statusapi"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/handheld-ble/config.yaml)")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init-config: %v", err)
		}
		fmt.Println(path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	stack := newStack(cfg)
	if c, ok := stack.(io.Closer); ok {
		defer c.Close()
	}

	opts := ble.DefaultOptions()
	opts.CompanyID = cfg.BLE.CompanyID
	opts.ConnectTimeout = cfg.BLE.ConnectTimeout
	opts.Scan = ble.ScanParams{
		Interval:         cfg.BLE.Scan.Interval,
		Window:           cfg.BLE.Scan.Window,
		Passive:          cfg.BLE.Scan.Passive,
		FilterDuplicates: cfg.BLE.Scan.FilterDuplicates,
	}
	mgr := ble.NewManager(stack, opts)

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runDone := make(chan error, 1)
	go func() { runDone <- mgr.Run(ctx) }()

	if err := mgr.Init(ctx); err != nil {
		stop()
		<-runDone
		log.Fatalf("Failed to start BLE: %v\n\nCheck that adapter %s exists and is not blocked (rfkill list).", err, cfg.BLE.Adapter)
	}

	poller := display.NewPoller(mgr, display.NewTerminalScreen(os.Stdout, "Devices"), cfg.Display.Refresh, cfg.Display.Capacity)
	go poller.Run(ctx)

	if cfg.Status.Listen != "" {
		srv := statusapi.NewServer(cfg.Status.Listen, mgr, cfg.Display.Capacity)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Printf("ERROR: %v", err)
			}
		}()
	}

	select {
	case <-mgr.Ready():
		log.Println("Ready! Scanning for devices. Ctrl+C to quit.")
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			slog.Debug("sd_notify ready failed", "error", err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	log.Println("Shutting down...")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		slog.Debug("sd_notify stopping failed", "error", err)
	}
	<-runDone
	log.Println("Goodbye!")
}

// newStack picks the radio backend named in the config.
func newStack(cfg *config.Config) ble.Stack {
	switch cfg.BLE.Backend {
	case "bluez":
		return ble.NewBlueZStack(cfg.BLE.Adapter)
	default:
		return ble.NewTinyGoStack(cfg.BLE.Adapter)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	status := cfg.Status.Listen
	if status == "" {
		status = "disabled"
	}
	fmt.Println("=== handheld-ble ===")
	fmt.Printf("  Backend: %s (%s)\n", cfg.BLE.Backend, cfg.BLE.Adapter)
	fmt.Printf("  Filter:  company 0x%04X\n", cfg.BLE.CompanyID)
	fmt.Printf("  Scan:    interval 0x%04X, window 0x%04X\n", cfg.BLE.Scan.Interval, cfg.BLE.Scan.Window)
	fmt.Printf("  Status:  %s\n", status)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
