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
	"log/slog"
	"time"
)

// Option is a functional option for configuring a ConnectionManager.
type Option func(*managerOptions)

type managerOptions struct {
	// Connection settings
	unitID      UnitID
	timeout     time.Duration
	idleTimeout time.Duration
	dialer      Dialer

	// Callbacks
	onConnect    func(addr string)
	onDisconnect func(addr string, err error)

	// Logging
	logger *slog.Logger
}

func defaultOptions() *managerOptions {
	return &managerOptions{
		unitID:      1,
		timeout:     DefaultTimeout,
		idleTimeout: DefaultIdleTimeout,
		dialer:      TCPDialer{},
		logger:      slog.Default(),
	}
}

// WithUnitID sets the unit ID sent with every request.
func WithUnitID(id UnitID) Option {
	return func(o *managerOptions) {
		o.unitID = id
	}
}

// WithTimeout sets the connect and response timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *managerOptions) {
		o.timeout = d
	}
}

// WithIdleTimeout sets how long an unused TCP connection stays open.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *managerOptions) {
		o.idleTimeout = d
	}
}

// WithDialer replaces the transport factory.
func WithDialer(d Dialer) Option {
	return func(o *managerOptions) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithOnConnect sets a callback to be called when the connection is established.
func WithOnConnect(fn func(addr string)) Option {
	return func(o *managerOptions) {
		o.onConnect = fn
	}
}

// WithOnDisconnect sets a callback to be called when the connection is torn
// down. err is the error returned by closing the transport, if any.
func WithOnDisconnect(fn func(addr string, err error)) Option {
	return func(o *managerOptions) {
		o.onDisconnect = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
