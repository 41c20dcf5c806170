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

// Package publish sends decoded register views to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	modbusview "github.com/edgeo-scada/modbus-view"
)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "modbusview/registers"

// API is the part of the paho client a Publisher uses.
type API interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// Config describes the broker connection and publish settings.
type Config struct {
	BrokerURL string
	ClientID  string // defaults to modbusview-<uuid>
	Username  string
	Password  string
	Topic     string
	QoS       byte
	Retain    bool
	Timeout   time.Duration // connect and publish acknowledgement timeout
}

func (c *Config) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = "modbusview-" + uuid.NewString()
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Value is one published row.
type Value struct {
	Index   int    `json:"index"`
	Address uint16 `json:"address"`
	Value   any    `json:"value"`
}

// Snapshot is the JSON payload of one publish.
type Snapshot struct {
	Timestamp time.Time `json:"ts"`
	Source    string    `json:"source"`
	UnitID    uint8     `json:"unit_id"`
	Category  string    `json:"category"`
	Encoding  string    `json:"encoding,omitempty"`
	Rows      []Value   `json:"rows"`
}

// SnapshotOf captures the current rows of v.
func SnapshotOf(source string, unitID modbusview.UnitID, v *modbusview.RegisterView, now time.Time) Snapshot {
	category := v.ReadCategory()
	s := Snapshot{
		Timestamp: now.UTC(),
		Source:    source,
		UnitID:    uint8(unitID),
		Category:  category.String(),
	}
	if !category.IsBit() {
		s.Encoding = v.OutputEncoding().String()
	}

	rows := v.Rows()
	s.Rows = make([]Value, len(rows))
	for i, r := range rows {
		val := r.Cell.Value()
		if b, ok := val.(bool); ok {
			// Bits publish as 0/1 like they display.
			val = 0
			if b {
				val = 1
			}
		}
		s.Rows[i] = Value{Index: r.Index, Address: r.Address, Value: val}
	}
	return s
}

// Publisher publishes Snapshots to one topic.
type Publisher struct {
	api    API
	cfg    Config
	logger *slog.Logger
}

// New wraps an existing client.
func New(api API, cfg Config, logger *slog.Logger) *Publisher {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{api: api, cfg: cfg, logger: logger}
}

// Dial connects to the broker and returns a Publisher.
func Dial(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("publish: missing broker URL")
	}
	cfg.setDefaults()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetConnectTimeout(cfg.Timeout).
		SetPingTimeout(3 * time.Second).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	t := client.Connect()
	if !t.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("publish: connect %s: timed out", cfg.BrokerURL)
	}
	if err := t.Error(); err != nil {
		return nil, fmt.Errorf("publish: connect %s: %w", cfg.BrokerURL, err)
	}

	p := New(client, cfg, logger)
	p.logger.Info("mqtt connected",
		slog.String("broker", cfg.BrokerURL),
		slog.String("client_id", cfg.ClientID),
		slog.String("topic", cfg.Topic))
	return p, nil
}

// Topic returns the publish topic.
func (p *Publisher) Topic() string {
	return p.cfg.Topic
}

// Publish sends s and waits for the broker acknowledgement, the configured
// timeout, or ctx, whichever comes first.
func (p *Publisher) Publish(ctx context.Context, s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("publish: encode: %w", err)
	}

	t := p.api.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retain, payload)

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-t.Done():
	case <-timer.C:
		return fmt.Errorf("publish: %s: timed out", p.cfg.Topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("publish: %s: %w", p.cfg.Topic, err)
	}

	p.logger.Debug("published",
		slog.String("topic", p.cfg.Topic),
		slog.Int("rows", len(s.Rows)),
		slog.Int("bytes", len(payload)))
	return nil
}

// Observer returns a view observer that publishes a snapshot after every
// change. Failures are logged.
func (p *Publisher) Observer(ctx context.Context, source string, unitID modbusview.UnitID) modbusview.Observer {
	return modbusview.ObserverFuncs{
		Changed: func(v *modbusview.RegisterView) {
			if err := p.Publish(ctx, SnapshotOf(source, unitID, v, time.Now())); err != nil {
				p.logger.Warn("mqtt publish failed", slog.Any("error", err))
			}
		},
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.api.IsConnectionOpen() {
		p.api.Disconnect(250)
	}
}
