// Package statusapi serves a small local HTTP API for inspecting the BLE
// manager and nudging it to scan.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chaz8081/handheld-ble/internal/ble"
)

// Controller is the part of the BLE manager the API needs.
type Controller interface {
	Snapshot() ble.Status
	DevicesText(capacity int) string
	ScanStart()
}

// DefaultTextCapacity is used by /ble/devices/text when no capacity is given.
const DefaultTextCapacity = 256

// maxTextCapacity caps the capacity query parameter.
const maxTextCapacity = 4096

type handler struct {
	ctl             Controller
	defaultCapacity int
}

// NewRouter builds the API routes.
func NewRouter(ctl Controller, defaultCapacity int) http.Handler {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultTextCapacity
	}
	h := &handler{ctl: ctl, defaultCapacity: defaultCapacity}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/ble", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/devices/text", h.devicesText)
		r.Post("/scan", h.scan)
	})

	return r
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *handler) devicesText(w http.ResponseWriter, r *http.Request) {
	capacity := h.defaultCapacity
	if s := r.URL.Query().Get("capacity"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxTextCapacity {
			errorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("capacity must be an integer between 1 and %d", maxTextCapacity))
			return
		}
		capacity = n
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.ctl.DevicesText(capacity)))
}

func (h *handler) scan(w http.ResponseWriter, r *http.Request) {
	h.ctl.ScanStart()
	jsonResponse(w, http.StatusAccepted, map[string]string{
		"status":  "ok",
		"message": "scan requested",
	})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("status api: encode response", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]any{
		"error": message,
		"code":  status,
	})
}

// Server runs the API on a TCP address.
type Server struct {
	srv *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, ctl Controller, defaultCapacity int) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(ctl, defaultCapacity),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Serve listens and serves until ctx is cancelled, then shuts down with a
// short grace period.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("status api: listen %s: %w", s.srv.Addr, err)
	}
	slog.Info("status api listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status api: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status api: shutdown: %w", err)
	}
	return nil
}
