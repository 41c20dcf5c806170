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
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/simonvetter/modbus"
)

// freeAddr returns a loopback address with a port nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func startServer(t *testing.T, bank *Bank) *Server {
	t.Helper()
	srv, err := New(freeAddr(t), bank, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", NewBank(0)); err == nil {
		t.Error("expected error for empty address")
	}
	if _, err := New("127.0.0.1:0", nil); err == nil {
		t.Error("expected error for nil bank")
	}
}

func TestServerRoundTrip(t *testing.T) {
	bank := NewBank(0)
	Seed(bank, 1)
	srv := startServer(t, bank)

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     "tcp://" + srv.Addr(),
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer client.Close()

	regs, err := client.ReadRegisters(DemoInt16Addr, 3, modbus.HOLDING_REGISTER)
	if err != nil {
		t.Fatalf("ReadRegisters failed: %v", err)
	}
	if regs[0] != 1234 || regs[1] != 5678 || regs[2] != 9012 {
		t.Errorf("registers: got %v", regs)
	}

	if err := client.WriteRegister(100, 4321); err != nil {
		t.Fatalf("WriteRegister failed: %v", err)
	}
	if got := bank.HoldingRegisters(1, 100, 1); got[0] != 4321 {
		t.Errorf("bank after write: expected 4321, got %d", got[0])
	}

	coils, err := client.ReadCoils(0, 3)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if !coils[0] || coils[1] || !coils[2] {
		t.Errorf("coils: got %v", coils)
	}

	if srv.Requests() < 3 {
		t.Errorf("Requests: expected at least 3, got %d", srv.Requests())
	}
}

func TestServerStartStopIdempotent(t *testing.T) {
	srv := startServer(t, NewBank(16))
	if err := srv.Start(); err != nil {
		t.Errorf("second Start: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
