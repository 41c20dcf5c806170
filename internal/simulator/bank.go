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

// Package simulator serves an in-memory register bank over Modbus TCP.
package simulator

import (
	"sync"

	"github.com/simonvetter/modbus"
)

// DefaultSize is the number of addresses in each table of a unit.
const DefaultSize = 65536

type unitTables struct {
	coils          []bool
	discreteInputs []bool
	holdingRegs    []uint16
	inputRegs      []uint16
}

// Bank is a thread-safe in-memory set of Modbus tables, one set per unit ID.
// Tables are allocated the first time a unit is touched. It implements
// modbus.RequestHandler.
type Bank struct {
	mu    sync.RWMutex
	size  int
	units map[uint8]*unitTables
}

// NewBank creates a bank whose tables hold size addresses each. A size
// outside 1..65536 selects DefaultSize.
func NewBank(size int) *Bank {
	if size <= 0 || size > DefaultSize {
		size = DefaultSize
	}
	return &Bank{
		size:  size,
		units: make(map[uint8]*unitTables),
	}
}

// Size returns the number of addresses in each table.
func (b *Bank) Size() int {
	return b.size
}

// unitLocked returns the tables of unitID, allocating them if needed.
// Must be called with the write lock held.
func (b *Bank) unitLocked(unitID uint8) *unitTables {
	u, ok := b.units[unitID]
	if !ok {
		u = &unitTables{
			coils:          make([]bool, b.size),
			discreteInputs: make([]bool, b.size),
			holdingRegs:    make([]uint16, b.size),
			inputRegs:      make([]uint16, b.size),
		}
		b.units[unitID] = u
	}
	return u
}

// unit returns the tables of unitID for reading, or nil if never touched.
func (b *Bank) unit(unitID uint8) *unitTables {
	b.mu.RLock()
	u := b.units[unitID]
	b.mu.RUnlock()
	if u != nil {
		return u
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unitLocked(unitID)
}

func (b *Bank) inRange(addr, qty uint16) bool {
	return int(addr)+int(qty) <= b.size
}

// HandleCoils implements modbus.RequestHandler.
func (b *Bank) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	u := b.unit(req.UnitId)

	if req.IsWrite {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.inRange(req.Addr, uint16(len(req.Args))) {
			return nil, modbus.ErrIllegalDataAddress
		}
		copy(u.coils[req.Addr:], req.Args)
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.inRange(req.Addr, req.Quantity) {
		return nil, modbus.ErrIllegalDataAddress
	}
	res := make([]bool, req.Quantity)
	copy(res, u.coils[req.Addr:])
	return res, nil
}

// HandleDiscreteInputs implements modbus.RequestHandler.
func (b *Bank) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	u := b.unit(req.UnitId)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.inRange(req.Addr, req.Quantity) {
		return nil, modbus.ErrIllegalDataAddress
	}
	res := make([]bool, req.Quantity)
	copy(res, u.discreteInputs[req.Addr:])
	return res, nil
}

// HandleHoldingRegisters implements modbus.RequestHandler.
func (b *Bank) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	u := b.unit(req.UnitId)

	if req.IsWrite {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.inRange(req.Addr, uint16(len(req.Args))) {
			return nil, modbus.ErrIllegalDataAddress
		}
		copy(u.holdingRegs[req.Addr:], req.Args)
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.inRange(req.Addr, req.Quantity) {
		return nil, modbus.ErrIllegalDataAddress
	}
	res := make([]uint16, req.Quantity)
	copy(res, u.holdingRegs[req.Addr:])
	return res, nil
}

// HandleInputRegisters implements modbus.RequestHandler.
func (b *Bank) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	u := b.unit(req.UnitId)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.inRange(req.Addr, req.Quantity) {
		return nil, modbus.ErrIllegalDataAddress
	}
	res := make([]uint16, req.Quantity)
	copy(res, u.inputRegs[req.Addr:])
	return res, nil
}

// SetCoil sets a coil value directly. Out-of-range addresses are ignored.
func (b *Bank) SetCoil(unitID uint8, addr uint16, value bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) < b.size {
		b.unitLocked(unitID).coils[addr] = value
	}
}

// SetCoils sets consecutive coils starting at addr.
func (b *Bank) SetCoils(unitID uint8, addr uint16, values ...bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) < b.size {
		copy(b.unitLocked(unitID).coils[addr:], values)
	}
}

// SetDiscreteInput sets a discrete input value directly.
func (b *Bank) SetDiscreteInput(unitID uint8, addr uint16, value bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) < b.size {
		b.unitLocked(unitID).discreteInputs[addr] = value
	}
}

// SetHoldingRegister sets a holding register value directly.
func (b *Bank) SetHoldingRegister(unitID uint8, addr, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) < b.size {
		b.unitLocked(unitID).holdingRegs[addr] = value
	}
}

// SetHoldingRegisters sets consecutive holding registers starting at addr.
// Values past the end of the table are dropped.
func (b *Bank) SetHoldingRegisters(unitID uint8, addr uint16, values ...uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) < b.size {
		copy(b.unitLocked(unitID).holdingRegs[addr:], values)
	}
}

// SetInputRegister sets an input register value directly.
func (b *Bank) SetInputRegister(unitID uint8, addr, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) < b.size {
		b.unitLocked(unitID).inputRegs[addr] = value
	}
}

// HoldingRegisters returns a copy of qty holding registers from addr.
func (b *Bank) HoldingRegisters(unitID uint8, addr, qty uint16) []uint16 {
	u := b.unit(unitID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.inRange(addr, qty) {
		return nil
	}
	out := make([]uint16, qty)
	copy(out, u.holdingRegs[addr:])
	return out
}
