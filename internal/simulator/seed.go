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
	"math"

	modbusview "github.com/edgeo-scada/modbus-view"
)

// Demo register layout loaded by Seed.
const (
	DemoInt16Addr          = 0  // 1234, 5678, 9012
	DemoInt32Addr          = 10 // 100000
	DemoFloat32Addr        = 20 // 3.14159
	DemoFloat32SwappedAddr = 30 // 3.14159, high register first
	DemoFloat64Addr        = 40 // math.Pi
)

// DemoFloat32 is the single-precision value stored at DemoFloat32Addr.
const DemoFloat32 float32 = 3.14159

// Seed loads demo values into unitID so every output encoding has
// something meaningful to show.
func Seed(b *Bank, unitID uint8) {
	b.SetCoils(unitID, 0, true, false, true)
	b.SetDiscreteInput(unitID, 0, true)
	b.SetDiscreteInput(unitID, 1, true)

	b.SetHoldingRegisters(unitID, DemoInt16Addr, 1234, 5678, 9012)
	b.SetHoldingRegisters(unitID, DemoInt32Addr, modbusview.EncodeInt32(100000)...)
	b.SetHoldingRegisters(unitID, DemoFloat32Addr, modbusview.EncodeFloat32(DemoFloat32)...)
	b.SetHoldingRegisters(unitID, DemoFloat32SwappedAddr, modbusview.EncodeFloat32Swapped(DemoFloat32)...)
	b.SetHoldingRegisters(unitID, DemoFloat64Addr, modbusview.EncodeFloat64(math.Pi)...)

	b.SetInputRegister(unitID, 0, 100)
	b.SetInputRegister(unitID, 1, 200)
}
