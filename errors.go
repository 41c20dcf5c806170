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
	"errors"
	"fmt"

	"github.com/goburrow/modbus"
)

// ExceptionCode represents a Modbus exception code.
type ExceptionCode uint8

// Modbus exception codes.
const (
	ExceptionIllegalFunction                    ExceptionCode = 0x01
	ExceptionIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionIllegalDataValue                   ExceptionCode = 0x03
	ExceptionServerDeviceFailure                ExceptionCode = 0x04
	ExceptionAcknowledge                        ExceptionCode = 0x05
	ExceptionServerDeviceBusy                   ExceptionCode = 0x06
	ExceptionMemoryParityError                  ExceptionCode = 0x08
	ExceptionGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

// String returns the string representation of the exception code.
func (e ExceptionCode) String() string {
	switch e {
	case 0:
		return "none"
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	case ExceptionMemoryParityError:
		return "memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("unknown exception (0x%02X)", uint8(e))
	}
}

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is.
var (
	// ErrCreationFailed indicates the transport for a host and port could
	// not be created.
	ErrCreationFailed = errors.New("modbusview: transport creation failed")

	// ErrHandshakeFailed indicates the TCP connection could not be established.
	ErrHandshakeFailed = errors.New("modbusview: handshake failed")

	// ErrNotConnected indicates an operation needed a live connection.
	ErrNotConnected = errors.New("modbusview: not connected")

	// ErrTransportFailure indicates a read failed on the wire or returned
	// a Modbus exception.
	ErrTransportFailure = errors.New("modbusview: transport failure")

	// ErrOutOfRange indicates a row index outside the current row count.
	ErrOutOfRange = errors.New("modbusview: row out of range")

	// ErrInvalidQuantity indicates an invalid read count was specified.
	ErrInvalidQuantity = errors.New("modbusview: invalid quantity")

	// ErrInvalidAddress indicates the read would run past address 65535.
	ErrInvalidAddress = errors.New("modbusview: invalid address")

	// ErrInvalidCategory indicates a register category outside the declared set.
	ErrInvalidCategory = errors.New("modbusview: invalid register category")
)

// ConnectError is returned by ConnectionManager.Connect.
type ConnectError struct {
	Kind    error // ErrCreationFailed or ErrHandshakeFailed
	Address string
	Err     error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	op := "connect"
	if e.Kind == ErrCreationFailed {
		op = "create transport"
	}
	if e.Err == nil {
		return fmt.Sprintf("modbusview: %s %s", op, e.Address)
	}
	return fmt.Sprintf("modbusview: %s %s: %v", op, e.Address, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ConnectError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ReadError is returned by RegisterView.Read.
type ReadError struct {
	Kind     error
	Category RegisterCategory
	Address  uint16
	Count    uint16
	Code     ExceptionCode // zero unless the server answered with an exception
	Err      error
}

// Error implements the error interface.
func (e *ReadError) Error() string {
	msg := fmt.Sprintf("modbusview: read %d %s from %d", e.Count, e.Category, e.Address)
	switch {
	case e.Code != 0:
		return fmt.Sprintf("%s: exception %s", msg, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ReadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IndexError is returned by RegisterView.ValueAt for a row outside the view.
type IndexError struct {
	Row  int
	Rows int
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("modbusview: row %d out of range [0,%d)", e.Row, e.Rows)
}

// Is matches ErrOutOfRange.
func (e *IndexError) Is(target error) bool {
	return target == ErrOutOfRange
}

// exceptionCode extracts the exception code from a transport error.
func exceptionCode(err error) ExceptionCode {
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return ExceptionCode(me.ExceptionCode)
	}
	return 0
}

// IsException checks if an error carries a specific Modbus exception.
func IsException(err error, code ExceptionCode) bool {
	var re *ReadError
	if errors.As(err, &re) && re.Code != 0 {
		return re.Code == code
	}
	return exceptionCode(err) == code && code != 0
}

// IsIllegalDataAddress checks if the error is an illegal data address exception.
func IsIllegalDataAddress(err error) bool {
	return IsException(err, ExceptionIllegalDataAddress)
}

// IsIllegalFunction checks if the error is an illegal function exception.
func IsIllegalFunction(err error) bool {
	return IsException(err, ExceptionIllegalFunction)
}
