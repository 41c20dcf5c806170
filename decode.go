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
	"encoding/binary"
	"math"
)

// The raw buffer holds one byte per bit for coils and discrete inputs, and
// one little-endian uint16 per holding register, in the order received.
// Wide values are therefore assembled low register first.

// unpackBits expands LSB-first packed bits into one 0/1 byte per bit and
// returns the number of bits stored.
func unpackBits(dst, packed []byte, count int) int {
	n := min(count, len(packed)*8, len(dst))
	for i := 0; i < n; i++ {
		dst[i] = (packed[i/8] >> (uint(i) % 8)) & 1
	}
	return n
}

// storeRegisters copies big-endian wire registers into dst and returns the
// number of registers stored.
func storeRegisters(dst, wire []byte, count int) int {
	n := min(count, len(wire)/2, len(dst)/2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], binary.BigEndian.Uint16(wire[2*i:]))
	}
	return n
}

// rowsFor returns the number of rows n raw units produce. Unknown
// categories and encodings produce none.
func rowsFor(category RegisterCategory, enc OutputEncoding, n int) int {
	if n <= 0 || !category.Valid() {
		return 0
	}
	if category.IsBit() {
		return n
	}
	if !enc.Valid() {
		return 0
	}
	return n / enc.RegistersPerValue()
}

// decodeBit returns row of a bit buffer holding n units.
func decodeBit(buf []byte, n, row int) (Cell, bool) {
	if row < 0 || row >= n || row >= len(buf) {
		return Cell{}, false
	}
	return Cell{Kind: KindBool, bits: uint64(buf[row] & 1)}, true
}

// decodeRegister returns row of a register buffer holding n units.
// It never reads past unit n or past the end of buf.
func decodeRegister(buf []byte, n int, enc OutputEncoding, row int) (Cell, bool) {
	width := enc.RegistersPerValue()
	first := row * width
	if row < 0 || first+width > n || 2*(first+width) > len(buf) {
		return Cell{}, false
	}
	b := buf[2*first:]

	switch enc {
	case Int16:
		return Cell{Kind: KindUint16, bits: uint64(binary.LittleEndian.Uint16(b))}, true
	case Int32:
		return Cell{Kind: KindUint32, bits: uint64(binary.LittleEndian.Uint32(b))}, true
	case Float32:
		return Cell{Kind: KindFloat32, bits: uint64(binary.LittleEndian.Uint32(b))}, true
	case Float32Swapped:
		hi := uint32(binary.LittleEndian.Uint16(b))
		lo := uint32(binary.LittleEndian.Uint16(b[2:]))
		return Cell{Kind: KindFloat32, bits: uint64(hi<<16 | lo)}, true
	case Float64:
		return Cell{Kind: KindFloat64, bits: binary.LittleEndian.Uint64(b)}, true
	default:
		return Cell{}, false
	}
}

// EncodeInt32 splits v into two registers, low register first.
func EncodeInt32(v uint32) []uint16 {
	return []uint16{uint16(v), uint16(v >> 16)}
}

// EncodeFloat32 splits f into two registers in the layout Float32 decodes.
func EncodeFloat32(f float32) []uint16 {
	return EncodeInt32(math.Float32bits(f))
}

// EncodeFloat32Swapped splits f into two registers in the layout
// Float32Swapped decodes, high register first.
func EncodeFloat32Swapped(f float32) []uint16 {
	bits := math.Float32bits(f)
	return []uint16{uint16(bits >> 16), uint16(bits)}
}

// EncodeFloat64 splits f into four registers in the layout Float64 decodes.
func EncodeFloat64(f float64) []uint16 {
	bits := math.Float64bits(f)
	return []uint16{uint16(bits), uint16(bits >> 16), uint16(bits >> 32), uint16(bits >> 48)}
}
