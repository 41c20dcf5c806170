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
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ConnectionManager owns at most one Modbus TCP session at a time.
//
// All operations on the session are serialised: Connect, Disconnect and Do
// share one operation lock, so a read never overlaps a teardown and the
// underlying client, which is not safe for concurrent use, sees one request
// at a time.
type ConnectionManager struct {
	opts    *managerOptions
	metrics *Metrics
	logger  *slog.Logger

	opMu sync.Mutex

	mu      sync.Mutex
	state   ConnectionState
	session Session
	addr    string
}

// NewConnectionManager creates a disconnected ConnectionManager.
func NewConnectionManager(opts ...Option) *ConnectionManager {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &ConnectionManager{
		opts:    options,
		metrics: NewMetrics(),
		logger:  options.logger,
		state:   StateDisconnected,
	}
}

// Connect establishes a session to host:port, replacing any existing one.
// A port of 0 selects DefaultPort.
//
// Errors match ErrCreationFailed when the transport cannot be built for the
// address and ErrHandshakeFailed when the TCP connection cannot be
// established. In both cases the manager is left disconnected.
func (m *ConnectionManager) Connect(ctx context.Context, host string, port int) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.IsConnected() {
		if err := m.disconnectLocked(); err != nil {
			m.logger.Warn("close previous connection", slog.String("addr", m.Address()), slog.Any("error", err))
		}
	}

	if port == 0 {
		port = DefaultPort
	}
	host = strings.TrimSpace(host)
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	m.mu.Lock()
	m.addr = addr
	m.mu.Unlock()

	if err := validateEndpoint(host, port); err != nil {
		m.metrics.ConnectErrors.Add(1)
		return &ConnectError{Kind: ErrCreationFailed, Address: addr, Err: err}
	}

	sess, err := m.opts.dialer.Dial(DialConfig{
		Address:     addr,
		UnitID:      m.opts.unitID,
		Timeout:     m.opts.timeout,
		IdleTimeout: m.opts.idleTimeout,
		Logger:      m.logger,
	})
	if err != nil {
		m.metrics.ConnectErrors.Add(1)
		return &ConnectError{Kind: ErrCreationFailed, Address: addr, Err: err}
	}
	if sess == nil {
		m.metrics.ConnectErrors.Add(1)
		return &ConnectError{Kind: ErrCreationFailed, Address: addr, Err: errors.New("dialer returned no session")}
	}

	m.setState(StateConnecting)
	m.logger.Debug("connecting", slog.String("addr", addr))

	if err := handshake(ctx, sess); err != nil {
		m.setState(StateDisconnected)
		m.metrics.ConnectErrors.Add(1)
		m.logger.Debug("connect failed", slog.String("addr", addr), slog.Any("error", err))
		return &ConnectError{Kind: ErrHandshakeFailed, Address: addr, Err: err}
	}

	m.mu.Lock()
	m.session = sess
	m.state = StateConnected
	m.mu.Unlock()

	m.metrics.Connects.Add(1)
	m.metrics.ActiveConns.Add(1)
	m.logger.Info("connected", slog.String("addr", addr), slog.Int("unit_id", int(m.opts.unitID)))

	if m.opts.onConnect != nil {
		m.opts.onConnect(addr)
	}
	return nil
}

func validateEndpoint(host string, port int) error {
	if host == "" {
		return errors.New("empty host")
	}
	if strings.ContainsAny(host, " \t/") {
		return fmt.Errorf("invalid host %q", host)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	return nil
}

// handshake connects sess, honouring ctx. sess is closed on every failure
// path, including a connect that completes after ctx is done.
func handshake(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		_ = sess.Close()
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Connect()
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = sess.Close()
		}
		return err
	case <-ctx.Done():
		go func() {
			<-done
			_ = sess.Close()
		}()
		return ctx.Err()
	}
}

// Disconnect closes the session, if any. It waits for an in-flight read to
// finish and is a no-op when already disconnected. The returned error is the
// one reported by closing the transport; the manager is disconnected either way.
func (m *ConnectionManager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.disconnectLocked()
}

// Close is Disconnect, for use with defer.
func (m *ConnectionManager) Close() error {
	return m.Disconnect()
}

func (m *ConnectionManager) disconnectLocked() error {
	m.mu.Lock()
	sess, addr := m.session, m.addr
	m.session = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if sess == nil {
		return nil
	}

	err := sess.Close()
	m.metrics.Disconnects.Add(1)
	m.metrics.ActiveConns.Add(-1)
	m.logger.Info("disconnected", slog.String("addr", addr))

	if m.opts.onDisconnect != nil {
		m.opts.onDisconnect(addr, err)
	}
	return err
}

// IsConnected reports whether a session is held.
func (m *ConnectionManager) IsConnected() bool {
	return m.State() == StateConnected
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Address returns host:port of the current or most recent target.
func (m *ConnectionManager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// UnitID returns the unit ID sent with every request.
func (m *ConnectionManager) UnitID() UnitID {
	return m.opts.unitID
}

// Metrics returns the manager metrics.
func (m *ConnectionManager) Metrics() *Metrics {
	return m.metrics
}

// Do lends the session's Transport to fn for the duration of the call.
// Calls are serialised. fn must not retain the Transport.
func (m *ConnectionManager) Do(ctx context.Context, fc FunctionCode, fn func(Transport) ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return nil, ErrNotConnected
	}

	start := time.Now()
	data, err := fn(sess)
	elapsed := time.Since(start)
	m.metrics.observe(fc, elapsed, err)

	if err != nil {
		m.logger.Debug("request failed",
			slog.String("func", fc.String()),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return nil, err
	}

	m.logger.Debug("request complete",
		slog.String("func", fc.String()),
		slog.Int("bytes", len(data)),
		slog.Duration("elapsed", elapsed))
	return data, nil
}

func (m *ConnectionManager) setState(s ConnectionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
