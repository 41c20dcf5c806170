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

package modbusview

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goburrow/modbus"
)

// Transport is the subset of a Modbus client a RegisterView needs.
// Coil and discrete input reads return bits packed LSB first; holding
// register reads return two big-endian bytes per register.
// goburrow's modbus.Client satisfies it.
type Transport interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// Session is a Transport with an explicit connection lifecycle.
type Session interface {
	Transport
	Connect() error
	Close() error
}

// DialConfig carries everything a Dialer needs to create a Session.
type DialConfig struct {
	Address     string
	UnitID      UnitID
	Timeout     time.Duration
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Dialer creates an unconnected Session for an address.
type Dialer interface {
	Dial(cfg DialConfig) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(cfg DialConfig) (Session, error)

// Dial calls f(cfg).
func (f DialerFunc) Dial(cfg DialConfig) (Session, error) {
	return f(cfg)
}

// TCPDialer creates Sessions backed by goburrow's TCP client handler.
type TCPDialer struct{}

// Dial implements Dialer.
func (TCPDialer) Dial(cfg DialConfig) (Session, error) {
	if cfg.Address == "" {
		return nil, errors.New("empty address")
	}
	h := modbus.NewTCPClientHandler(cfg.Address)
	h.Timeout = cfg.Timeout
	h.IdleTimeout = cfg.IdleTimeout
	h.SlaveId = byte(cfg.UnitID)
	if cfg.Logger != nil && cfg.Logger.Enabled(context.Background(), slog.LevelDebug) {
		h.Logger = slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelDebug)
	}
	return &tcpSession{
		Client:  modbus.NewClient(h),
		handler: h,
	}, nil
}

type tcpSession struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

func (s *tcpSession) Connect() error {
	return s.handler.Connect()
}

func (s *tcpSession) Close() error {
	return s.handler.Close()
}
