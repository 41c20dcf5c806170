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

// Package telemetry exports ConnectionManager metrics to Prometheus.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	modbusview "github.com/edgeo-scada/modbus-view"
)

// Collector reads a Metrics value on every scrape.
type Collector struct {
	metrics *modbusview.Metrics

	requests      *prometheus.Desc
	requestErrors *prometheus.Desc
	connects      *prometheus.Desc
	connectErrors *prometheus.Desc
	disconnects   *prometheus.Desc
	active        *prometheus.Desc
	latency       *prometheus.Desc
}

// NewCollector creates a collector for m. namespace prefixes every metric
// name and may be empty.
func NewCollector(namespace string, m *modbusview.Metrics, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		metrics:       m,
		requests:      desc("requests_total", "Modbus read requests issued.", "function"),
		requestErrors: desc("request_errors_total", "Modbus read requests that failed.", "function"),
		connects:      desc("connects_total", "Successful connects."),
		connectErrors: desc("connect_errors_total", "Failed connects."),
		disconnects:   desc("disconnects_total", "Sessions torn down."),
		active:        desc("active_connections", "Sessions currently held."),
		latency:       desc("request_duration_seconds", "Modbus read request latency.", "function"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.requestErrors
	ch <- c.connects
	ch <- c.connectErrors
	ch <- c.disconnects
	ch <- c.active
	ch <- c.latency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.metrics

	ch <- prometheus.MustNewConstMetric(c.connects, prometheus.CounterValue, float64(m.Connects.Value()))
	ch <- prometheus.MustNewConstMetric(c.connectErrors, prometheus.CounterValue, float64(m.ConnectErrors.Value()))
	ch <- prometheus.MustNewConstMetric(c.disconnects, prometheus.CounterValue, float64(m.Disconnects.Value()))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(m.ActiveConns.Value()))

	for _, fc := range m.Functions() {
		fm := m.ForFunction(fc)
		name := fc.String()
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(fm.Requests.Value()), name)
		ch <- prometheus.MustNewConstMetric(c.requestErrors, prometheus.CounterValue, float64(fm.Errors.Value()), name)
		ch <- histogram(c.latency, fm.Latency.Stats(), name)
	}
}

// histogram converts millisecond latency stats to a cumulative histogram in
// seconds. The last bucket also holds everything above its bound, so it is
// only reported through +Inf.
func histogram(desc *prometheus.Desc, s modbusview.LatencyStats, labels ...string) prometheus.Metric {
	buckets := make(map[float64]uint64, len(modbusview.LatencyBounds)-1)
	var cumulative uint64
	for i, bound := range modbusview.LatencyBounds[:len(modbusview.LatencyBounds)-1] {
		cumulative += uint64(s.Counts[i])
		buckets[bound/1000] = cumulative
	}
	return prometheus.MustNewConstHistogram(desc, uint64(s.Count), s.Sum/1000, buckets, labels...)
}

// Serve exposes reg on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
