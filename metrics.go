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
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	value atomic.Int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	c.value.Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	c.value.Store(0)
}

// LatencyBounds are the upper bounds, in milliseconds, of the histogram
// buckets. The last bucket also counts everything above it.
var LatencyBounds = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

var latencyLabels = []string{"1ms", "5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "500ms", "1s", "5s+"}

// LatencyHistogram tracks latency distribution.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64
	sum     float64 // ms
	count   int64
	min     float64
	max     float64
}

// NewLatencyHistogram creates a new latency histogram with default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(LatencyBounds)),
		min:     -1,
		max:     -1,
	}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++

	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, bound := range LatencyBounds {
		if ms <= bound {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(h.buckets)-1]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Counts:  make([]int64, len(h.buckets)),
		Buckets: make(map[string]int64, len(h.buckets)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}
	copy(stats.Counts, h.buckets)
	for i, n := range h.buckets {
		stats.Buckets[latencyLabels[i]] = n
	}
	return stats
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics in milliseconds.
type LatencyStats struct {
	Count   int64            `json:"count" yaml:"count"`
	Sum     float64          `json:"sum_ms" yaml:"sum_ms"`
	Avg     float64          `json:"avg_ms" yaml:"avg_ms"`
	Min     float64          `json:"min_ms" yaml:"min_ms"`
	Max     float64          `json:"max_ms" yaml:"max_ms"`
	Counts  []int64          `json:"-" yaml:"-"` // per bucket, aligned with LatencyBounds
	Buckets map[string]int64 `json:"buckets" yaml:"buckets"`
}

// Metrics holds the counters of one ConnectionManager.
type Metrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	Connects        Counter
	ConnectErrors   Counter
	Disconnects     Counter
	ActiveConns     Counter
	Latency         *LatencyHistogram

	funcMetrics sync.Map // FunctionCode -> *FunctionMetrics
}

// FunctionMetrics holds metrics for a specific function code.
type FunctionMetrics struct {
	Requests Counter
	Errors   Counter
	Latency  *LatencyHistogram
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		Latency: NewLatencyHistogram(),
	}
}

// ForFunction returns metrics for a specific function code.
func (m *Metrics) ForFunction(fc FunctionCode) *FunctionMetrics {
	if val, ok := m.funcMetrics.Load(fc); ok {
		return val.(*FunctionMetrics)
	}

	fm := &FunctionMetrics{
		Latency: NewLatencyHistogram(),
	}
	actual, _ := m.funcMetrics.LoadOrStore(fc, fm)
	return actual.(*FunctionMetrics)
}

// Functions returns the function codes seen so far, in ascending order.
func (m *Metrics) Functions() []FunctionCode {
	var fcs []FunctionCode
	m.funcMetrics.Range(func(key, _ any) bool {
		fcs = append(fcs, key.(FunctionCode))
		return true
	})
	sort.Slice(fcs, func(i, j int) bool { return fcs[i] < fcs[j] })
	return fcs
}

// Collect returns all metrics as a map.
func (m *Metrics) Collect() map[string]any {
	result := map[string]any{
		"requests_total":   m.RequestsTotal.Value(),
		"requests_success": m.RequestsSuccess.Value(),
		"requests_errors":  m.RequestsErrors.Value(),
		"connects":         m.Connects.Value(),
		"connect_errors":   m.ConnectErrors.Value(),
		"disconnects":      m.Disconnects.Value(),
		"active_conns":     m.ActiveConns.Value(),
		"latency":          m.Latency.Stats(),
	}

	funcStats := make(map[string]any)
	for _, fc := range m.Functions() {
		fm := m.ForFunction(fc)
		funcStats[fc.String()] = map[string]any{
			"requests": fm.Requests.Value(),
			"errors":   fm.Errors.Value(),
			"latency":  fm.Latency.Stats(),
		}
	}
	if len(funcStats) > 0 {
		result["functions"] = funcStats
	}

	return result
}

// Reset resets all metrics except ActiveConns, which mirrors live state.
func (m *Metrics) Reset() {
	m.RequestsTotal.Reset()
	m.RequestsSuccess.Reset()
	m.RequestsErrors.Reset()
	m.Connects.Reset()
	m.ConnectErrors.Reset()
	m.Disconnects.Reset()
	m.Latency.Reset()

	m.funcMetrics.Range(func(_, value any) bool {
		fm := value.(*FunctionMetrics)
		fm.Requests.Reset()
		fm.Errors.Reset()
		fm.Latency.Reset()
		return true
	})
}

// observe records the outcome of one request.
func (m *Metrics) observe(fc FunctionCode, d time.Duration, err error) {
	fm := m.ForFunction(fc)
	m.RequestsTotal.Add(1)
	fm.Requests.Add(1)
	m.Latency.Observe(d)
	fm.Latency.Observe(d)
	if err != nil {
		m.RequestsErrors.Add(1)
		fm.Errors.Add(1)
		return
	}
	m.RequestsSuccess.Add(1)
}
