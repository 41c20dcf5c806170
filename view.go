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
)

// Observer is notified around every change Read makes to a view's data.
// DataAboutToChange is called before the buffer is touched and DataChanged
// after it is complete; neither is called with the view locked, so both
// may call back into the view.
type Observer interface {
	DataAboutToChange(v *RegisterView)
	DataChanged(v *RegisterView)
}

// ObserverFuncs adapts a pair of functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	AboutToChange func(v *RegisterView)
	Changed       func(v *RegisterView)
}

// DataAboutToChange implements Observer.
func (o ObserverFuncs) DataAboutToChange(v *RegisterView) {
	if o.AboutToChange != nil {
		o.AboutToChange(v)
	}
}

// DataChanged implements Observer.
func (o ObserverFuncs) DataChanged(v *RegisterView) {
	if o.Changed != nil {
		o.Changed(v)
	}
}

// Row is one decoded value together with the address of its first register.
type Row struct {
	Index   int    `json:"index" yaml:"index"`
	Address uint16 `json:"address" yaml:"address"`
	Cell    Cell   `json:"-" yaml:"-"`
}

// RegisterView describes one read request and decodes its result.
//
// Coils and discrete inputs produce one row per bit. Holding registers are
// kept raw and decoded on access with the current OutputEncoding, so the
// encoding can be changed after a read without reading again.
type RegisterView struct {
	readMu sync.Mutex // serialises Read

	mu       sync.RWMutex
	category RegisterCategory
	encoding OutputEncoding
	address  uint16
	count    uint16

	// Result of the last read. readCategory and readAddress describe the
	// request that filled buf; n is the number of raw units in it.
	buf          [MaxReadBits]byte
	n            int
	readCategory RegisterCategory
	readAddress  uint16

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// NewRegisterView creates a view that reads DefaultReadCount coils from
// address 0 and decodes registers as Int16.
func NewRegisterView() *RegisterView {
	return &RegisterView{
		category: Coil,
		encoding: Int16,
		count:    DefaultReadCount,
	}
}

// SetRegisterCategory sets which table the next Read uses.
func (v *RegisterView) SetRegisterCategory(c RegisterCategory) {
	v.mu.Lock()
	v.category = c
	v.mu.Unlock()
}

// RegisterCategory returns the configured category.
func (v *RegisterView) RegisterCategory() RegisterCategory {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.category
}

// SetOutputEncoding sets how holding registers are decoded. It applies to
// data already read.
func (v *RegisterView) SetOutputEncoding(e OutputEncoding) {
	v.mu.Lock()
	v.encoding = e
	v.mu.Unlock()
}

// OutputEncoding returns the configured encoding.
func (v *RegisterView) OutputEncoding() OutputEncoding {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.encoding
}

// SetStartAddress sets the first address the next Read requests.
func (v *RegisterView) SetStartAddress(addr uint16) {
	v.mu.Lock()
	v.address = addr
	v.mu.Unlock()
}

// StartAddress returns the configured start address.
func (v *RegisterView) StartAddress() uint16 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.address
}

// SetReadCount sets how many units the next Read requests.
func (v *RegisterView) SetReadCount(n uint16) {
	v.mu.Lock()
	v.count = n
	v.mu.Unlock()
}

// ReadCount returns the configured read count.
func (v *RegisterView) ReadCount() uint16 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.count
}

// ActualReadCount returns the number of raw units held from the last read.
func (v *RegisterView) ActualReadCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.n
}

// ReadCategory returns the category of the data currently held.
func (v *RegisterView) ReadCategory() RegisterCategory {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.readCategory
}

// Subscribe registers o and returns a function that removes it.
func (v *RegisterView) Subscribe(o Observer) (unsubscribe func()) {
	v.obsMu.Lock()
	defer v.obsMu.Unlock()
	if v.observers == nil {
		v.observers = make(map[int]Observer)
	}
	id := v.nextObs
	v.nextObs++
	v.observers[id] = o
	return func() {
		v.obsMu.Lock()
		delete(v.observers, id)
		v.obsMu.Unlock()
	}
}

func (v *RegisterView) snapshotObservers() []Observer {
	v.obsMu.Lock()
	defer v.obsMu.Unlock()
	out := make([]Observer, 0, len(v.observers))
	for id := 0; id < v.nextObs; id++ {
		if o, ok := v.observers[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Read issues one read through conn using the current configuration and
// returns the new row count.
//
// Errors match ErrNotConnected when conn holds no session,
// ErrInvalidCategory, ErrInvalidQuantity or ErrInvalidAddress when the
// request is outside the declared categories or protocol limits, and
// ErrTransportFailure when the read itself fails. All but the last leave
// the view untouched; a transport failure empties it.
// Observers see a DataAboutToChange / DataChanged pair around every change.
func (v *RegisterView) Read(ctx context.Context, conn *ConnectionManager) (int, error) {
	v.readMu.Lock()
	defer v.readMu.Unlock()

	v.mu.RLock()
	category, address, count := v.category, v.address, v.count
	v.mu.RUnlock()

	fail := func(kind error, err error) *ReadError {
		return &ReadError{
			Kind:     kind,
			Category: category,
			Address:  address,
			Count:    count,
			Code:     exceptionCode(err),
			Err:      err,
		}
	}

	if conn == nil || !conn.IsConnected() {
		return 0, fail(ErrNotConnected, nil)
	}
	if !category.Valid() {
		return 0, fail(ErrInvalidCategory, nil)
	}
	if count == 0 || int(count) > category.MaxQuantity() {
		return 0, fail(ErrInvalidQuantity, nil)
	}
	if int(address)+int(count) > 65536 {
		return 0, fail(ErrInvalidAddress, nil)
	}

	fc := category.FunctionCode()
	data, err := conn.Do(ctx, fc, func(t Transport) ([]byte, error) {
		switch category {
		case Input:
			return t.ReadDiscreteInputs(address, count)
		case HoldingRegister:
			return t.ReadHoldingRegisters(address, count)
		default:
			return t.ReadCoils(address, count)
		}
	})
	switch {
	case errors.Is(err, ErrNotConnected):
		return 0, fail(ErrNotConnected, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Nothing was sent.
		return 0, fail(ErrTransportFailure, err)
	case err != nil:
		v.update(func() {
			v.n = 0
			v.readCategory = category
			v.readAddress = address
		})
		return 0, fail(ErrTransportFailure, err)
	}

	var rows int
	v.update(func() {
		if category.IsBit() {
			v.n = unpackBits(v.buf[:], data, int(count))
		} else {
			v.n = storeRegisters(v.buf[:], data, int(count))
		}
		v.readCategory = category
		v.readAddress = address
		rows = rowsFor(category, v.encoding, v.n)
	})
	return rows, nil
}

// update runs mutate under the write lock, bracketed by observer
// notifications.
func (v *RegisterView) update(mutate func()) {
	observers := v.snapshotObservers()
	for _, o := range observers {
		o.DataAboutToChange(v)
	}

	v.mu.Lock()
	mutate()
	v.mu.Unlock()

	for _, o := range observers {
		o.DataChanged(v)
	}
}

// Clear empties the view, notifying observers.
func (v *RegisterView) Clear() {
	v.readMu.Lock()
	defer v.readMu.Unlock()
	v.update(func() { v.n = 0 })
}

// RowCount returns the number of rows the held data produces under the
// current encoding.
func (v *RegisterView) RowCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return rowsFor(v.readCategory, v.encoding, v.n)
}

// ValueAt decodes one row. It fails with an error matching ErrOutOfRange
// when row is negative or not less than RowCount.
func (v *RegisterView) ValueAt(row int) (Cell, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.valueAtLocked(row)
}

func (v *RegisterView) valueAtLocked(row int) (Cell, error) {
	rows := rowsFor(v.readCategory, v.encoding, v.n)
	if row < 0 || row >= rows {
		return Cell{}, &IndexError{Row: row, Rows: rows}
	}

	var (
		c  Cell
		ok bool
	)
	if v.readCategory.IsBit() {
		c, ok = decodeBit(v.buf[:], v.n, row)
	} else {
		c, ok = decodeRegister(v.buf[:], v.n, v.encoding, row)
	}
	if !ok {
		return Cell{}, &IndexError{Row: row, Rows: rows}
	}
	return c, nil
}

// Rows decodes every row under a single lock.
func (v *RegisterView) Rows() []Row {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rows := rowsFor(v.readCategory, v.encoding, v.n)
	width := 1
	if !v.readCategory.IsBit() {
		width = v.encoding.RegistersPerValue()
	}

	out := make([]Row, 0, rows)
	for i := 0; i < rows; i++ {
		c, err := v.valueAtLocked(i)
		if err != nil {
			break
		}
		out = append(out, Row{
			Index:   i,
			Address: v.readAddress + uint16(i*width),
			Cell:    c,
		})
	}
	return out
}
