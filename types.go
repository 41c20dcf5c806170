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

// Package modbusview reads coils, discrete inputs and holding registers from
// a Modbus TCP server and exposes the result as an indexable list of decoded
// cells. Holding registers are reinterpreted lazily under a selectable
// output encoding.
package modbusview

import (
	"fmt"
	"strings"
	"time"
)

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus read function code.
type FunctionCode uint8

// Read function codes issued by a RegisterView.
const (
	FuncReadCoils            FunctionCode = 0x01
	FuncReadDiscreteInputs   FunctionCode = 0x02
	FuncReadHoldingRegisters FunctionCode = 0x03
)

// String returns a string representation of FunctionCode.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(fc))
	}
}

// Protocol constants.
const (
	// MaxReadBits is the maximum number of coils or discrete inputs in one
	// read. It also sizes the raw buffer of a RegisterView.
	MaxReadBits = 2000

	// MaxReadRegisters is the maximum number of registers in one read.
	MaxReadRegisters = 125

	// DefaultTimeout is the default connect and response timeout.
	DefaultTimeout = 5 * time.Second

	// DefaultIdleTimeout closes an unused TCP connection.
	DefaultIdleTimeout = 60 * time.Second

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502

	// DefaultReadCount is the number of units a new RegisterView requests.
	DefaultReadCount = 10
)

// RegisterCategory selects which Modbus data table a RegisterView reads.
type RegisterCategory int

const (
	Coil RegisterCategory = iota
	Input
	HoldingRegister
)

// String returns the string representation of the category.
func (c RegisterCategory) String() string {
	switch c {
	case Coil:
		return "coil"
	case Input:
		return "input"
	case HoldingRegister:
		return "holding"
	default:
		return "unknown"
	}
}

// Valid reports whether c is one of the declared categories.
func (c RegisterCategory) Valid() bool {
	return c >= Coil && c <= HoldingRegister
}

// IsBit reports whether the category holds single-bit values.
func (c RegisterCategory) IsBit() bool {
	return c == Coil || c == Input
}

// FunctionCode returns the read function code for the category.
func (c RegisterCategory) FunctionCode() FunctionCode {
	switch c {
	case Input:
		return FuncReadDiscreteInputs
	case HoldingRegister:
		return FuncReadHoldingRegisters
	default:
		return FuncReadCoils
	}
}

// MaxQuantity returns the largest count accepted for one read.
func (c RegisterCategory) MaxQuantity() int {
	if c.IsBit() {
		return MaxReadBits
	}
	return MaxReadRegisters
}

// ParseRegisterCategory parses the names accepted on the command line.
func ParseRegisterCategory(s string) (RegisterCategory, error) {
	switch strings.ToLower(s) {
	case "coil", "coils", "c":
		return Coil, nil
	case "input", "inputs", "discrete", "discrete-inputs", "di", "i":
		return Input, nil
	case "holding", "holding-registers", "register", "registers", "hr", "h":
		return HoldingRegister, nil
	default:
		return 0, fmt.Errorf("unknown register category %q", s)
	}
}

// OutputEncoding selects how holding registers are reinterpreted.
type OutputEncoding int

const (
	Int16 OutputEncoding = iota
	Int32
	Float32
	Float32Swapped
	Float64
)

// String returns the string representation of the encoding.
func (e OutputEncoding) String() string {
	switch e {
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float32Swapped:
		return "float32-swapped"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// Valid reports whether e is one of the declared encodings.
func (e OutputEncoding) Valid() bool {
	return e >= Int16 && e <= Float64
}

// RegistersPerValue returns how many 16-bit registers form one value.
func (e OutputEncoding) RegistersPerValue() int {
	switch e {
	case Int32, Float32, Float32Swapped:
		return 2
	case Float64:
		return 4
	default:
		return 1
	}
}

// ParseOutputEncoding parses the names accepted on the command line.
func ParseOutputEncoding(s string) (OutputEncoding, error) {
	switch strings.ToLower(s) {
	case "int16", "uint16", "i16":
		return Int16, nil
	case "int32", "uint32", "i32":
		return Int32, nil
	case "float32", "float", "f32":
		return Float32, nil
	case "float32-swapped", "float32swapped", "flipped-float", "f32s":
		return Float32Swapped, nil
	case "float64", "double", "f64":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unknown output encoding %q", s)
	}
}

// ConnectionState represents the state of a ConnectionManager.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
