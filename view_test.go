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
	"sync"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/golang/mock/gomock"
)

func TestRegisterViewDefaults(t *testing.T) {
	v := NewRegisterView()

	if v.RegisterCategory() != Coil {
		t.Errorf("category: expected coil, got %s", v.RegisterCategory())
	}
	if v.OutputEncoding() != Int16 {
		t.Errorf("encoding: expected int16, got %s", v.OutputEncoding())
	}
	if v.StartAddress() != 0 {
		t.Errorf("address: expected 0, got %d", v.StartAddress())
	}
	if v.ReadCount() != 10 {
		t.Errorf("count: expected 10, got %d", v.ReadCount())
	}
	if v.RowCount() != 0 {
		t.Errorf("rows: expected 0, got %d", v.RowCount())
	}
	if _, err := v.ValueAt(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ValueAt on empty view: expected ErrOutOfRange, got %v", err)
	}
}

func TestRegisterViewReadHoldingInt32(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	sess.EXPECT().ReadHoldingRegisters(uint16(0), uint16(4)).
		Return(wireRegisters(0x0000, 0x4048, 0x0000, 0x4049), nil)

	v := NewRegisterView()
	v.SetRegisterCategory(HoldingRegister)
	v.SetOutputEncoding(Int32)
	v.SetStartAddress(0)
	v.SetReadCount(4)

	rows, err := v.Read(context.Background(), m)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rows != 2 || v.RowCount() != 2 {
		t.Fatalf("rows: expected 2, got %d / %d", rows, v.RowCount())
	}
	if v.ActualReadCount() != 4 {
		t.Errorf("ActualReadCount: expected 4, got %d", v.ActualReadCount())
	}

	c0, err := v.ValueAt(0)
	if err != nil {
		t.Fatalf("ValueAt(0): %v", err)
	}
	if c0.Kind != KindUint32 || c0.Uint32() != 0x40480000 {
		t.Errorf("row 0: expected uint32 0x40480000, got %s 0x%X", c0.Kind, c0.Uint32())
	}
	c1, err := v.ValueAt(1)
	if err != nil {
		t.Fatalf("ValueAt(1): %v", err)
	}
	if c1.Uint32() != 0x40490000 {
		t.Errorf("row 1: expected 0x40490000, got 0x%X", c1.Uint32())
	}

	// Decoding is lazy: switching encoding reinterprets the same data.
	v.SetOutputEncoding(Float32)
	c1, _ = v.ValueAt(1)
	if c1.Float32() != 3.140625 {
		t.Errorf("row 1 as float32: expected 3.140625, got %v", c1.Float32())
	}
	v.SetOutputEncoding(Int16)
	if v.RowCount() != 4 {
		t.Errorf("rows as int16: expected 4, got %d", v.RowCount())
	}
	v.SetOutputEncoding(Float64)
	if v.RowCount() != 1 {
		t.Errorf("rows as float64: expected 1, got %d", v.RowCount())
	}
}

func TestRegisterViewReadCoils(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	sess.EXPECT().ReadCoils(uint16(0), uint16(3)).Return([]byte{0x05}, nil)

	v := NewRegisterView()
	v.SetReadCount(3)

	rows, err := v.Read(context.Background(), m)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rows != 3 {
		t.Fatalf("rows: expected 3, got %d", rows)
	}
	for i, want := range []bool{true, false, true} {
		c, err := v.ValueAt(i)
		if err != nil {
			t.Fatalf("ValueAt(%d): %v", i, err)
		}
		if c.Kind != KindBool || c.Bool() != want {
			t.Errorf("row %d: expected %v, got %s", i, want, c)
		}
	}

	// Encoding does not shape bit rows.
	v.SetOutputEncoding(Float64)
	if v.RowCount() != 3 {
		t.Errorf("rows with float64 encoding: expected 3, got %d", v.RowCount())
	}
}

func TestRegisterViewReadDiscreteInputs(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	sess.EXPECT().ReadDiscreteInputs(uint16(100), uint16(10)).Return([]byte{0xFF, 0x02}, nil)

	v := NewRegisterView()
	v.SetRegisterCategory(Input)
	v.SetStartAddress(100)

	rows, err := v.Read(context.Background(), m)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rows != 10 {
		t.Fatalf("rows: expected 10, got %d", rows)
	}
	got := v.Rows()
	if got[8].Cell.Bool() || !got[9].Cell.Bool() {
		t.Errorf("rows 8,9: expected 0,1, got %s,%s", got[8].Cell, got[9].Cell)
	}
	if got[9].Address != 109 {
		t.Errorf("row 9 address: expected 109, got %d", got[9].Address)
	}
}

func TestRegisterViewShortResponse(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	sess.EXPECT().ReadHoldingRegisters(uint16(0), uint16(6)).Return(wireRegisters(1, 2, 3), nil)

	v := NewRegisterView()
	v.SetRegisterCategory(HoldingRegister)
	v.SetReadCount(6)

	rows, err := v.Read(context.Background(), m)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rows != 3 || v.ActualReadCount() != 3 {
		t.Errorf("expected 3 rows from a short response, got %d", rows)
	}
}

func TestRegisterViewReadNotConnected(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	sess.EXPECT().ReadCoils(uint16(0), uint16(10)).Return([]byte{0xFF, 0x03}, nil)

	v := NewRegisterView()
	if _, err := v.Read(context.Background(), m); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	notified := 0
	v.Subscribe(ObserverFuncs{Changed: func(*RegisterView) { notified++ }})

	_, err := v.Read(context.Background(), m)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if v.ActualReadCount() != 10 {
		t.Errorf("ActualReadCount: expected unchanged 10, got %d", v.ActualReadCount())
	}
	if notified != 0 {
		t.Errorf("expected no notifications, got %d", notified)
	}

	if _, err := v.Read(context.Background(), nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("nil manager: expected ErrNotConnected, got %v", err)
	}
}

func TestRegisterViewReadException(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	gomock.InOrder(
		sess.EXPECT().ReadHoldingRegisters(uint16(0), uint16(2)).Return(wireRegisters(7, 8), nil),
		sess.EXPECT().ReadHoldingRegisters(uint16(0), uint16(2)).
			Return(nil, &modbus.ModbusError{FunctionCode: 0x83, ExceptionCode: 0x02}),
	)

	v := NewRegisterView()
	v.SetRegisterCategory(HoldingRegister)
	v.SetReadCount(2)
	if _, err := v.Read(context.Background(), m); err != nil {
		t.Fatalf("first Read failed: %v", err)
	}

	var events []string
	v.Subscribe(ObserverFuncs{
		AboutToChange: func(*RegisterView) { events = append(events, "about") },
		Changed:       func(*RegisterView) { events = append(events, "changed") },
	})

	_, err := v.Read(context.Background(), m)
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ReadError, got %T", err)
	}
	if re.Code != ExceptionIllegalDataAddress {
		t.Errorf("Code: expected illegal data address, got %s", re.Code)
	}
	if !IsIllegalDataAddress(err) {
		t.Error("IsIllegalDataAddress: expected true")
	}
	if v.RowCount() != 0 {
		t.Errorf("rows after failure: expected 0, got %d", v.RowCount())
	}
	if len(events) != 2 || events[0] != "about" || events[1] != "changed" {
		t.Errorf("notifications: got %v", events)
	}
}

func TestRegisterViewReadInvalidRequest(t *testing.T) {
	tests := []struct {
		name     string
		category RegisterCategory
		address  uint16
		count    uint16
		want     error
	}{
		{"zero count", Coil, 0, 0, ErrInvalidQuantity},
		{"too many coils", Coil, 0, 2001, ErrInvalidQuantity},
		{"too many registers", HoldingRegister, 0, 126, ErrInvalidQuantity},
		{"past end of space", HoldingRegister, 65530, 10, ErrInvalidAddress},
		{"bits past end of space", Input, 65535, 2, ErrInvalidAddress},
		{"unknown category", RegisterCategory(7), 0, 2, ErrInvalidCategory},
		{"negative category", RegisterCategory(-1), 0, 2, ErrInvalidCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			m, _ := connectedManager(t, ctrl) // no reads expected

			v := NewRegisterView()
			v.SetRegisterCategory(tt.category)
			v.SetStartAddress(tt.address)
			v.SetReadCount(tt.count)

			if _, err := v.Read(context.Background(), m); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegisterViewUnknownEncoding(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	sess.EXPECT().ReadHoldingRegisters(uint16(0), uint16(2)).
		Return(wireRegisters(0x1234, 0x5678), nil)

	v := NewRegisterView()
	v.SetRegisterCategory(HoldingRegister)
	v.SetReadCount(2)
	if _, err := v.Read(context.Background(), m); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	v.SetOutputEncoding(OutputEncoding(9))
	if v.RowCount() != 0 {
		t.Errorf("RowCount: expected 0, got %d", v.RowCount())
	}
	if _, err := v.ValueAt(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ValueAt(0): expected ErrOutOfRange, got %v", err)
	}
	if rows := v.Rows(); len(rows) != 0 {
		t.Errorf("Rows: expected none, got %d", len(rows))
	}

	// The raw data is kept, so a valid encoding shows it again.
	v.SetOutputEncoding(Int16)
	if v.RowCount() != 2 {
		t.Errorf("RowCount after Int16: expected 2, got %d", v.RowCount())
	}
}

func TestRegisterViewMaxCoils(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	packed := make([]byte, MaxReadBits/8)
	packed[len(packed)-1] = 0x80
	sess.EXPECT().ReadCoils(uint16(0), uint16(MaxReadBits)).Return(packed, nil)

	v := NewRegisterView()
	v.SetReadCount(MaxReadBits)
	rows, err := v.Read(context.Background(), m)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rows != MaxReadBits {
		t.Fatalf("rows: expected %d, got %d", MaxReadBits, rows)
	}
	last, err := v.ValueAt(MaxReadBits - 1)
	if err != nil || !last.Bool() {
		t.Errorf("last row: expected 1, got %s (%v)", last, err)
	}
	if _, err := v.ValueAt(MaxReadBits); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("row %d: expected ErrOutOfRange, got %v", MaxReadBits, err)
	}
}

func TestRegisterViewValueAtOutOfRange(t *testing.T) {
	categories := []RegisterCategory{Coil, Input, HoldingRegister}
	encodings := []OutputEncoding{Int16, Int32, Float32, Float32Swapped, Float64}

	for _, category := range categories {
		for _, encoding := range encodings {
			t.Run(category.String()+"/"+encoding.String(), func(t *testing.T) {
				ctrl := gomock.NewController(t)
				m, sess := connectedManager(t, ctrl)
				switch category {
				case Coil:
					sess.EXPECT().ReadCoils(gomock.Any(), gomock.Any()).Return([]byte{0xAA}, nil)
				case Input:
					sess.EXPECT().ReadDiscreteInputs(gomock.Any(), gomock.Any()).Return([]byte{0xAA}, nil)
				default:
					sess.EXPECT().ReadHoldingRegisters(gomock.Any(), gomock.Any()).
						Return(wireRegisters(1, 2, 3, 4, 5, 6, 7, 8), nil)
				}

				v := NewRegisterView()
				v.SetRegisterCategory(category)
				v.SetOutputEncoding(encoding)
				v.SetReadCount(8)
				rows, err := v.Read(context.Background(), m)
				if err != nil {
					t.Fatalf("Read failed: %v", err)
				}

				for _, row := range []int{-1, rows, rows + 1} {
					_, err := v.ValueAt(row)
					if !errors.Is(err, ErrOutOfRange) {
						t.Errorf("row %d: expected ErrOutOfRange, got %v", row, err)
					}
					var ie *IndexError
					if errors.As(err, &ie) && ie.Rows != rows {
						t.Errorf("IndexError.Rows: expected %d, got %d", rows, ie.Rows)
					}
				}
				for row := 0; row < rows; row++ {
					if _, err := v.ValueAt(row); err != nil {
						t.Errorf("row %d: %v", row, err)
					}
				}
			})
		}
	}
}

func TestRegisterViewObserverOrdering(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	sess.EXPECT().ReadCoils(uint16(0), uint16(10)).Return([]byte{0x00, 0x00}, nil)

	v := NewRegisterView()

	var before, after []int
	unsubscribe := v.Subscribe(ObserverFuncs{
		// Observers may call back into the view.
		AboutToChange: func(v *RegisterView) { before = append(before, v.RowCount()) },
		Changed:       func(v *RegisterView) { after = append(after, v.RowCount()) },
	})

	if _, err := v.Read(context.Background(), m); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(before) != 1 || before[0] != 0 {
		t.Errorf("about-to-change must see old state, got %v", before)
	}
	if len(after) != 1 || after[0] != 10 {
		t.Errorf("changed must see new state, got %v", after)
	}

	unsubscribe()
	v.Clear()
	if len(after) != 1 {
		t.Errorf("unsubscribed observer was notified")
	}
	if v.RowCount() != 0 {
		t.Errorf("rows after Clear: expected 0, got %d", v.RowCount())
	}
}

func TestRegisterViewRowsAddresses(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	regs := append(EncodeFloat32(1.5), EncodeFloat32(-2)...)
	sess.EXPECT().ReadHoldingRegisters(uint16(40), uint16(4)).Return(wireRegisters(regs...), nil)

	v := NewRegisterView()
	v.SetRegisterCategory(HoldingRegister)
	v.SetOutputEncoding(Float32)
	v.SetStartAddress(40)
	v.SetReadCount(4)
	if _, err := v.Read(context.Background(), m); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	rows := v.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Address != 40 || rows[1].Address != 42 {
		t.Errorf("addresses: expected 40,42, got %d,%d", rows[0].Address, rows[1].Address)
	}
	if rows[0].Cell.Float32() != 1.5 || rows[1].Cell.Float32() != -2 {
		t.Errorf("values: expected 1.5,-2, got %s,%s", rows[0].Cell, rows[1].Cell)
	}
}

func TestRegisterViewRowShapeFollowsLastRead(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, sess := connectedManager(t, ctrl)
	sess.EXPECT().ReadCoils(uint16(0), uint16(4)).Return([]byte{0x0F}, nil)

	v := NewRegisterView()
	v.SetReadCount(4)
	if _, err := v.Read(context.Background(), m); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	v.SetRegisterCategory(HoldingRegister)
	v.SetOutputEncoding(Float64)
	if v.RowCount() != 4 {
		t.Errorf("rows: expected 4 coil rows until the next read, got %d", v.RowCount())
	}
	if v.ReadCategory() != Coil {
		t.Errorf("ReadCategory: expected coil, got %s", v.ReadCategory())
	}
}

func TestRegisterViewConcurrentAccess(t *testing.T) {
	sess := newFakeSession()
	m := NewConnectionManager(WithDialer(fakeDialer(sess)), WithLogger(discardLogger()))
	if err := m.Connect(context.Background(), "127.0.0.1", 502); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Close()

	v := NewRegisterView()
	v.SetRegisterCategory(HoldingRegister)
	v.SetReadCount(8)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := v.Read(context.Background(), m); err != nil {
				t.Errorf("Read failed: %v", err)
			}
		}()
		go func(enc OutputEncoding) {
			defer wg.Done()
			v.SetOutputEncoding(enc)
			for _, r := range v.Rows() {
				if r.Cell.Kind == KindInvalid {
					t.Error("invalid cell in snapshot")
				}
			}
		}(OutputEncoding(i))
	}
	wg.Wait()

	if sess.maxInFlight.Load() != 1 {
		t.Errorf("max concurrent reads: expected 1, got %d", sess.maxInFlight.Load())
	}
}

func TestParseRegisterCategory(t *testing.T) {
	tests := map[string]RegisterCategory{
		"coils":   Coil,
		"DI":      Input,
		"holding": HoldingRegister,
		"hr":      HoldingRegister,
	}
	for in, want := range tests {
		got, err := ParseRegisterCategory(in)
		if err != nil || got != want {
			t.Errorf("%q: expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseRegisterCategory("bogus"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestParseOutputEncoding(t *testing.T) {
	for _, e := range []OutputEncoding{Int16, Int32, Float32, Float32Swapped, Float64} {
		got, err := ParseOutputEncoding(e.String())
		if err != nil || got != e {
			t.Errorf("%s: round trip gave %s (%v)", e, got, err)
		}
	}
	if got, _ := ParseOutputEncoding("double"); got != Float64 {
		t.Errorf("double: expected float64, got %s", got)
	}
	if _, err := ParseOutputEncoding("int8"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
