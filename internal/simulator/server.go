// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package simulator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simonvetter/modbus"
)

// Option is a functional option for configuring the server.
type Option func(*serverOptions)

type serverOptions struct {
	logger      *slog.Logger
	maxClients  uint
	idleTimeout time.Duration
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:      slog.Default(),
		maxClients:  10,
		idleTimeout: 30 * time.Second,
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serverOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxClients sets the maximum number of concurrent client connections.
func WithMaxClients(n uint) Option {
	return func(o *serverOptions) {
		o.maxClients = n
	}
}

// WithIdleTimeout sets how long an idle client connection is kept.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		o.idleTimeout = d
	}
}

// Server serves a Bank over Modbus TCP.
type Server struct {
	addr   string
	bank   *Bank
	srv    *modbus.ModbusServer
	logger *slog.Logger

	requests atomic.Int64

	mu      sync.Mutex
	running bool
}

// New creates a server for bank listening on addr (host:port). The server
// is not started.
func New(addr string, bank *Bank, opts ...Option) (*Server, error) {
	if addr == "" {
		return nil, errors.New("simulator: empty listen address")
	}
	if bank == nil {
		return nil, errors.New("simulator: nil bank")
	}

	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	s := &Server{
		addr:   addr,
		bank:   bank,
		logger: options.logger,
	}

	srv, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + addr,
		Timeout:    options.idleTimeout,
		MaxClients: options.maxClients,
	}, &loggingHandler{server: s})
	if err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}
	s.srv = srv
	return s, nil
}

// Start begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.srv.Start(); err != nil {
		return fmt.Errorf("simulator: start %s: %w", s.addr, err)
	}
	s.running = true
	s.logger.Info("simulator listening", slog.String("addr", s.addr))
	return nil
}

// Stop closes the listener and all client connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	err := s.srv.Stop()
	s.logger.Info("simulator stopped",
		slog.String("addr", s.addr),
		slog.Int64("requests", s.requests.Load()))
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Bank returns the served bank.
func (s *Server) Bank() *Bank {
	return s.bank
}

// Requests returns the number of requests handled.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// loggingHandler counts and logs requests before passing them to the bank.
type loggingHandler struct {
	server *Server
}

func (h *loggingHandler) log(table string, client string, unit uint8, addr, qty uint16, write bool, err error) {
	h.server.requests.Add(1)
	attrs := []any{
		slog.String("table", table),
		slog.String("client", client),
		slog.Int("unit_id", int(unit)),
		slog.Int("addr", int(addr)),
		slog.Int("qty", int(qty)),
		slog.Bool("write", write),
	}
	if err != nil {
		h.server.logger.Debug("request rejected", append(attrs, slog.Any("error", err))...)
		return
	}
	h.server.logger.Debug("request", attrs...)
}

func (h *loggingHandler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	res, err := h.server.bank.HandleCoils(req)
	h.log("coils", req.ClientAddr, req.UnitId, req.Addr, req.Quantity, req.IsWrite, err)
	return res, err
}

func (h *loggingHandler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	res, err := h.server.bank.HandleDiscreteInputs(req)
	h.log("discrete_inputs", req.ClientAddr, req.UnitId, req.Addr, req.Quantity, false, err)
	return res, err
}

func (h *loggingHandler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	res, err := h.server.bank.HandleHoldingRegisters(req)
	h.log("holding_registers", req.ClientAddr, req.UnitId, req.Addr, req.Quantity, req.IsWrite, err)
	return res, err
}

func (h *loggingHandler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	res, err := h.server.bank.HandleInputRegisters(req)
	h.log("input_registers", req.ClientAddr, req.UnitId, req.Addr, req.Quantity, false, err)
	return res, err
}
