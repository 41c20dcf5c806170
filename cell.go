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
	"math"
	"strconv"
)

// CellKind identifies the numeric type held by a Cell.
type CellKind uint8

const (
	KindInvalid CellKind = iota
	KindBool
	KindUint16
	KindUint32
	KindFloat32
	KindFloat64
)

// String returns the string representation of the kind.
func (k CellKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	default:
		return "invalid"
	}
}

// Cell is one decoded row value. The zero Cell is invalid.
type Cell struct {
	Kind CellKind
	bits uint64
}

// Bits returns the raw bit pattern of the value.
func (c Cell) Bits() uint64 { return c.bits }

// Bool returns the value of a bit cell.
func (c Cell) Bool() bool { return c.bits != 0 }

// Uint16 returns the low 16 bits of the value.
func (c Cell) Uint16() uint16 { return uint16(c.bits) }

// Uint32 returns the low 32 bits of the value.
func (c Cell) Uint32() uint32 { return uint32(c.bits) }

// Float32 reinterprets the low 32 bits as an IEEE-754 single.
func (c Cell) Float32() float32 { return math.Float32frombits(uint32(c.bits)) }

// Float64 returns the value as a float64, converting integer and
// single-precision cells.
func (c Cell) Float64() float64 {
	switch c.Kind {
	case KindFloat64:
		return math.Float64frombits(c.bits)
	case KindFloat32:
		return float64(c.Float32())
	default:
		return float64(c.bits)
	}
}

// Value returns the value with its natural Go type, or nil for an invalid cell.
func (c Cell) Value() any {
	switch c.Kind {
	case KindBool:
		return c.Bool()
	case KindUint16:
		return c.Uint16()
	case KindUint32:
		return c.Uint32()
	case KindFloat32:
		return c.Float32()
	case KindFloat64:
		return math.Float64frombits(c.bits)
	default:
		return nil
	}
}

// String formats the value. Bit cells print as 0 or 1.
func (c Cell) String() string {
	switch c.Kind {
	case KindBool, KindUint16, KindUint32:
		return strconv.FormatUint(c.bits, 10)
	case KindFloat32:
		return strconv.FormatFloat(float64(c.Float32()), 'g', -1, 32)
	case KindFloat64:
		return strconv.FormatFloat(math.Float64frombits(c.bits), 'g', -1, 64)
	default:
		return ""
	}
}
